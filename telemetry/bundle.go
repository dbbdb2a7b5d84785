package telemetry

import "time"

// Field is one (FieldID, Value) pair of a Bundle. Order within a Bundle
// is meaningful and preserved end to end.
type Field struct {
	ID    FieldID
	Value Value
}

// Bundle is a non-empty ordered set of field updates decoded from a
// single packet. The store inserts bundles atomically: all fields
// become visible to readers together or not at all.
type Bundle struct {
	Device DeviceID
	At     time.Time
	Fields []Field
}

// Empty reports whether the bundle carries no fields. Empty bundles are
// rejected by the store.
func (b Bundle) Empty() bool {
	return len(b.Fields) == 0
}

// Entry is one element of a field's history: the store-wide sequence
// number assigned to the owning bundle, the arrival time, and the value.
type Entry struct {
	Seq   uint64
	At    time.Time
	Value Value
}
