package packet

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/c360/groundstream/telemetry"
)

// EncodeCommand serializes an outbound command frame. The codec never
// validates command semantics; the mapping profile decides which codes are
// legal before a command reaches this point.
func EncodeCommand(cmd Command) []byte {
	return []byte{byte(KindCommand), byte(cmd.Device), cmd.Code}
}

// Encode builds a complete inbound-style frame for the given payload.
// Production devices produce these frames themselves; Encode exists for
// simulated transports and tests.
func Encode(device telemetry.DeviceID, p Payload) ([]byte, error) {
	header := []byte{byte(p.payloadKind()), byte(device)}

	switch v := p.(type) {
	case *StatusPing:
		frame := append(header, byte(v.Status))
		frame = append(frame, v.SensorHealth[:]...)
		return append(frame, v.OtherStatus[:]...), nil

	case *Message:
		if len(v.Text) > math.MaxUint16 {
			return nil, fmt.Errorf("encode message: text length %d exceeds %d", len(v.Text), math.MaxUint16)
		}
		frame := append(header, 0, 0)
		binary.BigEndian.PutUint16(frame[headerSize:], uint16(len(v.Text)))
		return append(frame, v.Text...), nil

	case *Config:
		sim := byte(0)
		if v.IsSimulation {
			sim = 1
		}
		return append(header, sim, v.RocketType), nil

	case *SingleSensor:
		frame := append(header, v.Code)
		return binary.BigEndian.AppendUint64(frame, math.Float64bits(v.Value)), nil

	case *BulkSensor:
		frame := header
		for _, val := range []float64{
			v.MissionTime, v.Altitude,
			v.AccelX, v.AccelY, v.AccelZ,
			v.Orient1, v.Orient2, v.Orient3,
			v.Latitude, v.Longitude, v.State,
		} {
			frame = binary.BigEndian.AppendUint64(frame, math.Float64bits(val))
		}
		return frame, nil

	default:
		return nil, fmt.Errorf("encode: unsupported payload type %T", p)
	}
}
