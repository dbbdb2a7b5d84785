// Package persist writes telemetry snapshots to durable storage. The store's
// autosaver is the producer; each save hands over one SnapshotRecord.
package persist

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/c360/groundstream/errors"
	"github.com/c360/groundstream/telemetry"
)

// FileSink persists snapshots to a single JSON document, atomically
// replacing the previous one on every save.
type FileSink struct {
	path string
	dir  string
}

// NewFileSink prepares a sink writing to path, creating the parent
// directory if needed.
func NewFileSink(path string) (*FileSink, error) {
	if path == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "FileSink", "NewFileSink", "path is required")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "FileSink", "NewFileSink", "create snapshot directory")
	}
	return &FileSink{path: path, dir: dir}, nil
}

// Path returns the configured snapshot path.
func (f *FileSink) Path() string {
	return f.path
}

// Persist writes rec as indented JSON. The document lands in a temp file in
// the same directory first, then renames over the target, so a crash mid
// write never leaves a torn snapshot.
func (f *FileSink) Persist(ctx context.Context, rec telemetry.SnapshotRecord) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "FileSink", "Persist", "write snapshot")
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return errors.WrapInvalid(err, "FileSink", "Persist", "marshal snapshot")
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(f.dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return errors.WrapTransient(err, "FileSink", "Persist", "create temp file")
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.WrapTransient(err, "FileSink", "Persist", "write temp file")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errors.WrapTransient(err, "FileSink", "Persist", "sync temp file")
	}
	if err := tmp.Close(); err != nil {
		return errors.WrapTransient(err, "FileSink", "Persist", "close temp file")
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return errors.WrapTransient(err, "FileSink", "Persist", "replace snapshot")
	}
	return nil
}
