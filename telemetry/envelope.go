package telemetry

import (
	"time"

	"github.com/google/uuid"
)

// Envelope is the JSON representation of one inserted bundle, shared by the
// relay and the live feed. Field values are keyed by canonical field name.
type Envelope struct {
	ID     string           `json:"id"`
	Device DeviceID         `json:"device"`
	Seq    uint64           `json:"seq"`
	At     time.Time        `json:"at"`
	Fields map[string]Value `json:"fields"`
}

// NewEnvelope assigns a fresh envelope ID and flattens the bundle's fields
// by name.
func NewEnvelope(b Bundle, seq uint64) Envelope {
	fields := make(map[string]Value, len(b.Fields))
	for _, f := range b.Fields {
		fields[f.ID.String()] = f.Value
	}
	return Envelope{
		ID:     uuid.New().String(),
		Device: b.Device,
		Seq:    seq,
		At:     b.At,
		Fields: fields,
	}
}
