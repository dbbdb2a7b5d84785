package testutil

import (
	"context"
	"sync"

	"github.com/c360/groundstream/telemetry"
)

// MemorySink records snapshot records in memory. It satisfies the store
// autosaver's Sink interface without touching the filesystem, and supports
// error injection for failure-path tests.
type MemorySink struct {
	mu      sync.Mutex
	records []telemetry.SnapshotRecord
	err     error
	calls   int
}

// NewMemorySink creates an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// SetError makes subsequent Persist calls fail with err. A nil err restores
// normal recording.
func (m *MemorySink) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Persist records rec, or returns the injected error.
func (m *MemorySink) Persist(_ context.Context, rec telemetry.SnapshotRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, rec)
	return nil
}

// Count returns the number of successfully recorded snapshots.
func (m *MemorySink) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// Calls returns the total number of Persist invocations, including failed
// ones.
func (m *MemorySink) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Last returns the most recently recorded snapshot.
func (m *MemorySink) Last() (telemetry.SnapshotRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.records) == 0 {
		return telemetry.SnapshotRecord{}, false
	}
	return m.records[len(m.records)-1], true
}

// Records returns a copy of every recorded snapshot in order.
func (m *MemorySink) Records() []telemetry.SnapshotRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]telemetry.SnapshotRecord(nil), m.records...)
}
