package telemetry

import "time"

// SnapshotRecord is the persisted form of a latest-values snapshot: when it
// was taken, the store sequence it reflects, and the values keyed by
// canonical field name.
type SnapshotRecord struct {
	SavedAt time.Time        `json:"saved_at"`
	Seq     uint64           `json:"seq"`
	Fields  map[string]Value `json:"fields"`
}

// NewSnapshotRecord converts a latest-values map into its persisted form.
func NewSnapshotRecord(savedAt time.Time, seq uint64, latest map[FieldID]Value) SnapshotRecord {
	fields := make(map[string]Value, len(latest))
	for id, v := range latest {
		fields[id.String()] = v
	}
	return SnapshotRecord{SavedAt: savedAt, Seq: seq, Fields: fields}
}
