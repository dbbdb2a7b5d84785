package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/groundstream/errors"
	"github.com/c360/groundstream/packet"
	"github.com/c360/groundstream/telemetry"
)

func numericField(t *testing.T, b telemetry.Bundle, id telemetry.FieldID) float64 {
	t.Helper()
	for _, f := range b.Fields {
		if f.ID == id {
			v, ok := f.Value.Numeric()
			require.True(t, ok, "field %s is not numeric", id)
			return v
		}
	}
	t.Fatalf("field %s not in bundle", id)
	return 0
}

func boolField(t *testing.T, b telemetry.Bundle, id telemetry.FieldID) bool {
	t.Helper()
	for _, f := range b.Fields {
		if f.ID == id {
			v, ok := f.Value.Bool()
			require.True(t, ok, "field %s is not boolean", id)
			return v
		}
	}
	t.Fatalf("field %s not in bundle", id)
	return false
}

func TestTranslateBulkSensor(t *testing.T) {
	tr := NewTranslator(Default(), nil)

	bundle, dropped, err := tr.Translate(packet.Packet{
		Kind:   packet.KindBulkSensor,
		Device: 1,
		Payload: &packet.BulkSensor{
			MissionTime: 1, Altitude: 2,
			AccelX: 3, AccelY: 4, AccelZ: 5,
			Orient1: 6, Orient2: 7, Orient3: 8,
			Latitude: 9, Longitude: 10, State: 11,
		},
	})
	require.NoError(t, err)
	assert.Empty(t, dropped)
	require.Len(t, bundle.Fields, 11)

	want := []telemetry.FieldID{
		telemetry.FieldMissionTime,
		telemetry.FieldCalculatedAltitude,
		telemetry.FieldAccelerationX,
		telemetry.FieldAccelerationY,
		telemetry.FieldAccelerationZ,
		telemetry.FieldOrientation1,
		telemetry.FieldOrientation2,
		telemetry.FieldOrientation3,
		telemetry.FieldLatitude,
		telemetry.FieldLongitude,
		telemetry.FieldState,
	}
	for i, id := range want {
		assert.Equal(t, id, bundle.Fields[i].ID)
		v, ok := bundle.Fields[i].Value.Numeric()
		require.True(t, ok)
		assert.Equal(t, float64(i+1), v)
	}
	assert.Equal(t, telemetry.DeviceID(1), bundle.Device)
	assert.False(t, bundle.At.IsZero())
}

func TestTranslateSingleSensor(t *testing.T) {
	tr := NewTranslator(Default(), nil)

	bundle, dropped, err := tr.Translate(packet.Packet{
		Kind:    packet.KindSingleSensor,
		Device:  1,
		Payload: &packet.SingleSensor{Code: 0x1C, Value: 1250.5},
	})
	require.NoError(t, err)
	assert.Empty(t, dropped)
	require.Len(t, bundle.Fields, 1)
	assert.Equal(t, telemetry.FieldCalculatedAltitude, bundle.Fields[0].ID)
	assert.Equal(t, 1250.5, numericField(t, bundle, telemetry.FieldCalculatedAltitude))
}

func TestTranslateUnmappedFieldDropped(t *testing.T) {
	tr := NewTranslator(Default(), nil)

	_, dropped, err := tr.Translate(packet.Packet{
		Kind:    packet.KindSingleSensor,
		Device:  1,
		Payload: &packet.SingleSensor{Code: 0xEE, Value: 1},
	})
	require.ErrorIs(t, err, errors.ErrEmptyBundle)
	assert.True(t, errors.IsInvalid(err))
	require.Len(t, dropped, 1)
	assert.Equal(t, uint8(0xEE), dropped[0].Code)
	assert.Equal(t, packet.KindSingleSensor, dropped[0].Kind)
}

func TestTranslateMessage(t *testing.T) {
	tr := NewTranslator(Default(), nil)

	bundle, _, err := tr.Translate(packet.Packet{
		Kind:    packet.KindMessage,
		Device:  2,
		Payload: &packet.Message{Text: "test_message"},
	})
	require.NoError(t, err)
	require.Len(t, bundle.Fields, 1)
	assert.Equal(t, telemetry.FieldMessage, bundle.Fields[0].ID)
	text, ok := bundle.Fields[0].Value.Text()
	require.True(t, ok)
	assert.Equal(t, "test_message", text)
}

func TestTranslateConfig(t *testing.T) {
	tr := NewTranslator(Default(), nil)

	bundle, _, err := tr.Translate(packet.Packet{
		Kind:    packet.KindConfig,
		Device:  0,
		Payload: &packet.Config{IsSimulation: true, RocketType: 2},
	})
	require.NoError(t, err)
	assert.True(t, boolField(t, bundle, telemetry.FieldIsSimulation))
	assert.Equal(t, 2.0, numericField(t, bundle, telemetry.FieldRocketType))
}

func TestTranslateConfigUnknownRocketType(t *testing.T) {
	tr := NewTranslator(Default(), nil)

	bundle, _, err := tr.Translate(packet.Packet{
		Kind:    packet.KindConfig,
		Device:  0,
		Payload: &packet.Config{IsSimulation: false, RocketType: 99},
	})
	require.NoError(t, err)
	assert.Equal(t, 99.0, numericField(t, bundle, telemetry.FieldRocketType))
}

func TestTranslateStatusPingAllHealthy(t *testing.T) {
	tr := NewTranslator(Default(), nil)

	bundle, _, err := tr.Translate(packet.Packet{
		Kind:   packet.KindStatusPing,
		Device: 0,
		Payload: &packet.StatusPing{
			Status:       packet.StatusNominal,
			SensorHealth: [2]byte{0xFF, 0xFF},
			OtherStatus:  [2]byte{0xFF, 0xFF},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, float64(packet.StatusNominal), numericField(t, bundle, telemetry.FieldOverallStatus))
	for _, id := range telemetry.SensorHealthFields {
		assert.True(t, boolField(t, bundle, id), "sensor field %s", id)
	}
	for _, id := range telemetry.OtherStatusFields {
		assert.True(t, boolField(t, bundle, id), "status field %s", id)
	}

	// 1 overall status + 5 sensor bits + 3 other bits.
	assert.Len(t, bundle.Fields, 9)
}

func TestTranslateStatusPingCriticalDowngrade(t *testing.T) {
	tr := NewTranslator(Default(), nil)

	// Critical overall status with every bit healthy downgrades.
	bundle, _, err := tr.Translate(packet.Packet{
		Kind:   packet.KindStatusPing,
		Device: 0,
		Payload: &packet.StatusPing{
			Status:       packet.StatusCriticalFailure,
			SensorHealth: [2]byte{0xFF, 0xFF},
			OtherStatus:  [2]byte{0xFF, 0xFF},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, float64(packet.StatusNonCriticalFailure),
		numericField(t, bundle, telemetry.FieldOverallStatus))
}

func TestTranslateStatusPingCriticalKeptWithUnhealthyBit(t *testing.T) {
	tr := NewTranslator(Default(), nil)

	bundle, _, err := tr.Translate(packet.Packet{
		Kind:   packet.KindStatusPing,
		Device: 0,
		Payload: &packet.StatusPing{
			Status:       packet.StatusCriticalFailure,
			SensorHealth: [2]byte{0x7F, 0xFF},
			OtherStatus:  [2]byte{0xFF, 0xFF},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, float64(packet.StatusCriticalFailure),
		numericField(t, bundle, telemetry.FieldOverallStatus))
	assert.False(t, boolField(t, bundle, telemetry.FieldBarometerHealth))
}

func TestTranslateStatusPingBitOrder(t *testing.T) {
	tr := NewTranslator(Default(), nil)

	// Only the most significant bit of each first byte is set: that is
	// expansion bit zero, i.e. the first field of each group.
	bundle, _, err := tr.Translate(packet.Packet{
		Kind:   packet.KindStatusPing,
		Device: 0,
		Payload: &packet.StatusPing{
			Status:       packet.StatusNominal,
			SensorHealth: [2]byte{0x80, 0x00},
			OtherStatus:  [2]byte{0x80, 0x00},
		},
	})
	require.NoError(t, err)

	assert.True(t, boolField(t, bundle, telemetry.FieldBarometerHealth))
	for _, id := range telemetry.SensorHealthFields[1:] {
		assert.False(t, boolField(t, bundle, id), "sensor field %s", id)
	}
	assert.True(t, boolField(t, bundle, telemetry.FieldDrogueContinuity))
	for _, id := range telemetry.OtherStatusFields[1:] {
		assert.False(t, boolField(t, bundle, id), "status field %s", id)
	}
}

func TestTranslateRejectsCommandPackets(t *testing.T) {
	tr := NewTranslator(Default(), nil)

	_, _, err := tr.Translate(packet.Packet{Kind: packet.KindCommand, Device: 0})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestTranslateDeviceOverride(t *testing.T) {
	profile, err := NewProfile(Document{
		Name: "override-test",
		Fields: []FieldMapping{
			{Kind: "single_sensor", Code: 0x10, Field: "acceleration_x"},
		},
		Overrides: []DeviceOverride{
			{Device: 9, Kind: "single_sensor", Code: 0x10, Field: "pressure"},
		},
		Commands: map[string]uint8{"arm": 0x41},
	})
	require.NoError(t, err)
	tr := NewTranslator(profile, nil)

	// Device 9 resolves through its override, everyone else via the base
	// table.
	bundle, _, err := tr.Translate(packet.Packet{
		Kind:    packet.KindSingleSensor,
		Device:  9,
		Payload: &packet.SingleSensor{Code: 0x10, Value: 5},
	})
	require.NoError(t, err)
	assert.Equal(t, telemetry.FieldPressure, bundle.Fields[0].ID)

	bundle, _, err = tr.Translate(packet.Packet{
		Kind:    packet.KindSingleSensor,
		Device:  1,
		Payload: &packet.SingleSensor{Code: 0x10, Value: 5},
	})
	require.NoError(t, err)
	assert.Equal(t, telemetry.FieldAccelerationX, bundle.Fields[0].ID)
}
