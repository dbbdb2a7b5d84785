// Package store holds decoded telemetry as per-field time series. A single
// lock guards the field map and every series append, so bundle insertion is
// atomic: readers either see all of a bundle's fields updated or none.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/c360/groundstream/errors"
	"github.com/c360/groundstream/telemetry"
)

type series struct {
	entries []telemetry.Entry
}

// Store is the in-memory time-series store shared by the pipeline workers
// and any number of reader goroutines.
type Store struct {
	mu     sync.RWMutex
	series map[telemetry.FieldID]*series
	order  []telemetry.FieldID
	seq    uint64
}

// New creates an empty store.
func New() *Store {
	return &Store{series: make(map[telemetry.FieldID]*series)}
}

// InsertBundle appends every field of the bundle under one newly assigned
// store-wide sequence number and returns that number. Insertion is
// all-or-nothing: no reader observes a subset of the bundle's fields.
// Empty bundles are rejected.
func (s *Store) InsertBundle(b telemetry.Bundle) (uint64, error) {
	if b.Empty() {
		return 0, errors.ErrEmptyBundle
	}

	at := b.At
	if at.IsZero() {
		at = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	for _, f := range b.Fields {
		ser, ok := s.series[f.ID]
		if !ok {
			ser = &series{}
			s.series[f.ID] = ser
			s.order = append(s.order, f.ID)
		}
		ser.entries = append(ser.entries, telemetry.Entry{
			Seq:   s.seq,
			At:    at,
			Value: f.Value,
		})
	}
	return s.seq, nil
}

// Latest returns the most recent value recorded for the field.
func (s *Store) Latest(id telemetry.FieldID) (telemetry.Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ser, ok := s.series[id]
	if !ok || len(ser.entries) == 0 {
		return telemetry.Value{}, false
	}
	return ser.entries[len(ser.entries)-1].Value, true
}

// HistorySince returns a copy of the field's entries with sequence numbers
// strictly greater than seq, in ascending order.
func (s *Store) HistorySince(id telemetry.FieldID, seq uint64) []telemetry.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ser, ok := s.series[id]
	if !ok {
		return nil
	}

	idx := sort.Search(len(ser.entries), func(i int) bool {
		return ser.entries[i].Seq > seq
	})
	if idx == len(ser.entries) {
		return nil
	}

	out := make([]telemetry.Entry, len(ser.entries)-idx)
	copy(out, ser.entries[idx:])
	return out
}

// SnapshotLatest copies every field's latest value under the read lock and
// releases it before returning, so callers may do I/O on the result without
// blocking producers. The returned sequence is the one the snapshot
// reflects.
func (s *Store) SnapshotLatest() (map[telemetry.FieldID]telemetry.Value, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := make(map[telemetry.FieldID]telemetry.Value, len(s.series))
	for id, ser := range s.series {
		if len(ser.entries) == 0 {
			continue
		}
		snap[id] = ser.entries[len(ser.entries)-1].Value
	}
	return snap, s.seq
}

// Fields lists every field that has ever been recorded, in first-touch
// order. Fields are never removed.
func (s *Store) Fields() []telemetry.FieldID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]telemetry.FieldID, len(s.order))
	copy(out, s.order)
	return out
}

// Seq returns the sequence number of the most recently inserted bundle,
// zero when nothing has been inserted.
func (s *Store) Seq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq
}
