package packet

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/c360/groundstream/errors"
	"github.com/c360/groundstream/telemetry"
)

// headerSize covers the kind tag and the device identifier.
const headerSize = 2

const reasonShortHeader = "frame shorter than header"

// DecodeError reports a malformed frame. Decode never returns a partial
// Packet alongside one; a bad frame is rejected whole so the next frame
// decodes from a clean boundary.
type DecodeError struct {
	Kind   Kind
	Offset int
	Reason string
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	if e.Reason == reasonShortHeader {
		return fmt.Sprintf("decode frame: %s", e.Reason)
	}
	return fmt.Sprintf("decode %s frame: %s (offset %d)", e.Kind, e.Reason, e.Offset)
}

// Unwrap ties decode failures into the invalid-data error class.
func (e *DecodeError) Unwrap() error {
	return errors.ErrInvalidData
}

func truncated(k Kind, offset int) *DecodeError {
	return &DecodeError{Kind: k, Offset: offset, Reason: "truncated payload"}
}

func trailing(k Kind, offset int) *DecodeError {
	return &DecodeError{Kind: k, Offset: offset, Reason: "trailing bytes"}
}

// Decode parses one complete frame into a Packet. Failures are always a
// *DecodeError. Decoding is deterministic: the same bytes always yield the
// same Packet.
func Decode(frame []byte) (Packet, error) {
	if len(frame) < headerSize {
		return Packet{}, &DecodeError{Reason: reasonShortHeader}
	}

	kind := Kind(frame[0])
	device := telemetry.DeviceID(frame[1])
	body := frame[headerSize:]

	var (
		payload Payload
		err     *DecodeError
	)
	switch kind {
	case KindStatusPing:
		payload, err = decodeStatusPing(body)
	case KindMessage:
		payload, err = decodeMessage(body)
	case KindConfig:
		payload, err = decodeConfig(body)
	case KindSingleSensor:
		payload, err = decodeSingleSensor(body)
	case KindBulkSensor:
		payload, err = decodeBulkSensor(body)
	default:
		err = &DecodeError{Kind: kind, Offset: 0, Reason: "unknown kind tag"}
	}
	if err != nil {
		return Packet{}, err
	}

	return Packet{Kind: kind, Device: device, Payload: payload}, nil
}

func decodeStatusPing(body []byte) (Payload, *DecodeError) {
	const want = 5
	if len(body) < want {
		return nil, truncated(KindStatusPing, headerSize+len(body))
	}
	if len(body) > want {
		return nil, trailing(KindStatusPing, headerSize+want)
	}

	p := &StatusPing{Status: StatusCode(body[0])}
	copy(p.SensorHealth[:], body[1:3])
	copy(p.OtherStatus[:], body[3:5])
	return p, nil
}

func decodeMessage(body []byte) (Payload, *DecodeError) {
	if len(body) < 2 {
		return nil, truncated(KindMessage, headerSize+len(body))
	}

	declared := int(binary.BigEndian.Uint16(body[:2]))
	text := body[2:]
	if len(text) < declared {
		return nil, truncated(KindMessage, headerSize+len(body))
	}
	if len(text) > declared {
		return nil, trailing(KindMessage, headerSize+2+declared)
	}
	if !utf8.Valid(text) {
		return nil, &DecodeError{Kind: KindMessage, Offset: headerSize + 2, Reason: "invalid UTF-8 text"}
	}

	return &Message{Text: string(text)}, nil
}

func decodeConfig(body []byte) (Payload, *DecodeError) {
	const want = 2
	if len(body) < want {
		return nil, truncated(KindConfig, headerSize+len(body))
	}
	if len(body) > want {
		return nil, trailing(KindConfig, headerSize+want)
	}

	return &Config{
		IsSimulation: body[0] != 0,
		RocketType:   body[1],
	}, nil
}

func decodeSingleSensor(body []byte) (Payload, *DecodeError) {
	const want = 9
	if len(body) < want {
		return nil, truncated(KindSingleSensor, headerSize+len(body))
	}
	if len(body) > want {
		return nil, trailing(KindSingleSensor, headerSize+want)
	}

	return &SingleSensor{
		Code:  body[0],
		Value: math.Float64frombits(binary.BigEndian.Uint64(body[1:9])),
	}, nil
}

func decodeBulkSensor(body []byte) (Payload, *DecodeError) {
	const want = 11 * 8
	if len(body) < want {
		return nil, truncated(KindBulkSensor, headerSize+len(body))
	}
	if len(body) > want {
		return nil, trailing(KindBulkSensor, headerSize+want)
	}

	f := func(i int) float64 {
		return math.Float64frombits(binary.BigEndian.Uint64(body[i*8 : i*8+8]))
	}
	return &BulkSensor{
		MissionTime: f(0),
		Altitude:    f(1),
		AccelX:      f(2),
		AccelY:      f(3),
		AccelZ:      f(4),
		Orient1:     f(5),
		Orient2:     f(6),
		Orient3:     f(7),
		Latitude:    f(8),
		Longitude:   f(9),
		State:       f(10),
	}, nil
}
