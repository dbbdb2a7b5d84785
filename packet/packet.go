// Package packet implements the binary wire codec for ground station
// telemetry frames. Every frame carries a two byte header, kind tag then
// device identifier, followed by a kind-specific payload in big-endian
// order. Sensor kinds are decode-only; the command kind is encode-only.
package packet

import (
	"fmt"

	"github.com/c360/groundstream/telemetry"
)

// Kind tags the wire layout of a frame.
type Kind byte

const (
	// KindStatusPing carries an overall status code and four bitmask
	// bytes covering sensor health and other status flags.
	KindStatusPing Kind = 0x00
	// KindMessage carries a length-prefixed UTF-8 text blob.
	KindMessage Kind = 0x01
	// KindConfig carries the simulation flag and the rocket type code.
	KindConfig Kind = 0x03
	// KindSingleSensor carries one (wire field code, float64 value) pair.
	KindSingleSensor Kind = 0x04
	// KindBulkSensor carries eleven ordered float64 readings.
	KindBulkSensor Kind = 0x30
	// KindCommand is the outbound command frame.
	KindCommand Kind = 0x40
)

// String returns the lowercase name used in logs and event counters.
func (k Kind) String() string {
	switch k {
	case KindStatusPing:
		return "status_ping"
	case KindMessage:
		return "message"
	case KindConfig:
		return "config"
	case KindSingleSensor:
		return "single_sensor"
	case KindBulkSensor:
		return "bulk_sensor"
	case KindCommand:
		return "command"
	default:
		return fmt.Sprintf("kind_0x%02x", byte(k))
	}
}

// Inbound reports whether frames of this kind arrive from a device, as
// opposed to the encode-only command kind.
func (k Kind) Inbound() bool {
	switch k {
	case KindStatusPing, KindMessage, KindConfig, KindSingleSensor, KindBulkSensor:
		return true
	default:
		return false
	}
}

// ParseKind resolves the lowercase kind name used in profile documents.
func ParseKind(name string) (Kind, bool) {
	switch name {
	case "status_ping":
		return KindStatusPing, true
	case "message":
		return KindMessage, true
	case "config":
		return KindConfig, true
	case "single_sensor":
		return KindSingleSensor, true
	case "bulk_sensor":
		return KindBulkSensor, true
	case "command":
		return KindCommand, true
	default:
		return 0, false
	}
}

// StatusCode is the overall device status reported by a status ping.
type StatusCode uint8

const (
	StatusNominal            StatusCode = 0x00
	StatusNonCriticalFailure StatusCode = 0x01
	StatusCriticalFailure    StatusCode = 0x02
)

// String returns the log name of the status code.
func (s StatusCode) String() string {
	switch s {
	case StatusNominal:
		return "nominal"
	case StatusNonCriticalFailure:
		return "noncritical_failure"
	case StatusCriticalFailure:
		return "critical_failure"
	default:
		return fmt.Sprintf("status_0x%02x", uint8(s))
	}
}

// Payload is the decoded kind-specific body of a frame.
type Payload interface {
	payloadKind() Kind
}

// StatusPing reports overall device health. The first bitmask pair covers
// sensor health flags, the second covers other status flags. Within each
// pair, bit zero of the expansion order is the most significant bit of the
// first byte.
type StatusPing struct {
	Status       StatusCode
	SensorHealth [2]byte
	OtherStatus  [2]byte
}

func (*StatusPing) payloadKind() Kind { return KindStatusPing }

// HealthyBits reports whether every bit of both bitmask pairs is set.
func (p *StatusPing) HealthyBits() bool {
	return p.SensorHealth[0] == 0xFF && p.SensorHealth[1] == 0xFF &&
		p.OtherStatus[0] == 0xFF && p.OtherStatus[1] == 0xFF
}

// Message is free-form text from the device.
type Message struct {
	Text string
}

func (*Message) payloadKind() Kind { return KindMessage }

// Config announces the device's build configuration.
type Config struct {
	IsSimulation bool
	RocketType   uint8
}

func (*Config) payloadKind() Kind { return KindConfig }

// SingleSensor is one reading for one wire field code.
type SingleSensor struct {
	Code  uint8
	Value float64
}

func (*SingleSensor) payloadKind() Kind { return KindSingleSensor }

// BulkSensor is the periodic full-state reading. Field order matches the
// wire order exactly.
type BulkSensor struct {
	MissionTime float64
	Altitude    float64
	AccelX      float64
	AccelY      float64
	AccelZ      float64
	Orient1     float64
	Orient2     float64
	Orient3     float64
	Latitude    float64
	Longitude   float64
	State       float64
}

func (*BulkSensor) payloadKind() Kind { return KindBulkSensor }

// Packet is one decoded inbound frame. Immutable once decoded; the mapping
// layer consumes and discards it.
type Packet struct {
	Kind    Kind
	Device  telemetry.DeviceID
	Payload Payload
}

// Command is an outbound instruction serialized by EncodeCommand. The codec
// treats the code as opaque; the mapping profile defines which codes exist.
type Command struct {
	Device telemetry.DeviceID
	Code   uint8
}
