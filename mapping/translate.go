package mapping

import (
	"log/slog"
	"time"

	"github.com/c360/groundstream/errors"
	"github.com/c360/groundstream/packet"
	"github.com/c360/groundstream/telemetry"
)

// DroppedField records a wire field the profile had no mapping for. The
// rest of the bundle is still inserted; dropped fields are reported so the
// pipeline can count them.
type DroppedField struct {
	Kind   packet.Kind
	Device telemetry.DeviceID
	Code   uint8
}

// Translator turns decoded packets into telemetry bundles according to one
// profile.
type Translator struct {
	profile *Profile
	logger  *slog.Logger
}

// NewTranslator builds a translator for the profile.
func NewTranslator(profile *Profile, logger *slog.Logger) *Translator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Translator{
		profile: profile,
		logger:  logger.With("component", "translator", "profile", profile.Name()),
	}
}

// Profile returns the profile this translator resolves against.
func (t *Translator) Profile() *Profile {
	return t.profile
}

// Translate builds the bundle for one packet. Unmapped wire fields are
// dropped with a warning and reported; a packet whose every field is
// unmapped yields an empty-translation error and no bundle.
func (t *Translator) Translate(pkt packet.Packet) (telemetry.Bundle, []DroppedField, error) {
	bundle := telemetry.Bundle{Device: pkt.Device, At: time.Now()}
	var dropped []DroppedField

	switch payload := pkt.Payload.(type) {
	case *packet.BulkSensor:
		bundle.Fields = []telemetry.Field{
			{ID: telemetry.FieldMissionTime, Value: telemetry.Numeric(payload.MissionTime)},
			{ID: telemetry.FieldCalculatedAltitude, Value: telemetry.Numeric(payload.Altitude)},
			{ID: telemetry.FieldAccelerationX, Value: telemetry.Numeric(payload.AccelX)},
			{ID: telemetry.FieldAccelerationY, Value: telemetry.Numeric(payload.AccelY)},
			{ID: telemetry.FieldAccelerationZ, Value: telemetry.Numeric(payload.AccelZ)},
			{ID: telemetry.FieldOrientation1, Value: telemetry.Numeric(payload.Orient1)},
			{ID: telemetry.FieldOrientation2, Value: telemetry.Numeric(payload.Orient2)},
			{ID: telemetry.FieldOrientation3, Value: telemetry.Numeric(payload.Orient3)},
			{ID: telemetry.FieldLatitude, Value: telemetry.Numeric(payload.Latitude)},
			{ID: telemetry.FieldLongitude, Value: telemetry.Numeric(payload.Longitude)},
			{ID: telemetry.FieldState, Value: telemetry.Numeric(payload.State)},
		}

	case *packet.SingleSensor:
		field, ok := t.profile.Resolve(packet.KindSingleSensor, pkt.Device, payload.Code)
		if !ok {
			dropped = append(dropped, DroppedField{Kind: pkt.Kind, Device: pkt.Device, Code: payload.Code})
			t.logger.Warn("dropping unmapped wire field",
				"kind", pkt.Kind.String(), "device", pkt.Device, "code", payload.Code)
			break
		}
		bundle.Fields = []telemetry.Field{{ID: field, Value: telemetry.Numeric(payload.Value)}}

	case *packet.Message:
		t.logger.Info("device message", "device", pkt.Device, "text", payload.Text)
		bundle.Fields = []telemetry.Field{{ID: telemetry.FieldMessage, Value: telemetry.Text(payload.Text)}}

	case *packet.Config:
		typeName, known := t.profile.RocketTypeName(payload.RocketType)
		if !known {
			typeName = "unknown"
			t.logger.Warn("config reports unregistered rocket type",
				"device", pkt.Device, "rocket_type", payload.RocketType)
		}
		t.logger.Info("device configuration",
			"device", pkt.Device, "is_simulation", payload.IsSimulation,
			"rocket_type", payload.RocketType, "rocket_type_name", typeName)
		bundle.Fields = []telemetry.Field{
			{ID: telemetry.FieldIsSimulation, Value: telemetry.Bool(payload.IsSimulation)},
			{ID: telemetry.FieldRocketType, Value: telemetry.Numeric(float64(payload.RocketType))},
		}

	case *packet.StatusPing:
		status := payload.Status
		// The bitmask is authoritative for severity: a critical overall
		// status with every bit healthy is stored as non-critical.
		if status == packet.StatusCriticalFailure && payload.HealthyBits() {
			status = packet.StatusNonCriticalFailure
		}
		bundle.Fields = append(bundle.Fields, telemetry.Field{
			ID:    telemetry.FieldOverallStatus,
			Value: telemetry.Numeric(float64(status)),
		})
		appendBits(&bundle, payload.SensorHealth, telemetry.SensorHealthFields)
		appendBits(&bundle, payload.OtherStatus, telemetry.OtherStatusFields)

	default:
		return telemetry.Bundle{}, nil, errors.WrapInvalid(
			errors.ErrInvalidData, "Translator", "Translate", "map packet kind "+pkt.Kind.String())
	}

	if bundle.Empty() {
		return telemetry.Bundle{}, dropped, errors.WrapInvalid(
			errors.ErrEmptyBundle, "Translator", "Translate", "map packet fields")
	}
	return bundle, dropped, nil
}

// appendBits expands a bitmask pair into one boolean field per covered bit.
// Bit zero of the expansion order is the most significant bit of the first
// byte.
func appendBits(bundle *telemetry.Bundle, mask [2]byte, fields []telemetry.FieldID) {
	for i, id := range fields {
		set := mask[i/8]&(1<<(7-i%8)) != 0
		bundle.Fields = append(bundle.Fields, telemetry.Field{ID: id, Value: telemetry.Bool(set)})
	}
}
