package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/groundstream/errors"
	"github.com/c360/groundstream/eventbus"
	"github.com/c360/groundstream/telemetry"
)

// Sink receives latest-value snapshots from the autosaver. Implementations
// bound their own I/O; the autosaver never holds the store lock while a sink
// runs.
type Sink interface {
	Persist(ctx context.Context, rec telemetry.SnapshotRecord) error
}

// Autosaver periodically snapshots the store and hands the result to a sink.
// Sink failures are logged and counted, never fatal; the next interval tries
// again. A final save runs on shutdown.
type Autosaver struct {
	store    *Store
	sink     Sink
	interval time.Duration
	events   *eventbus.Registry
	logger   *slog.Logger

	mu      sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
}

// NewAutosaver wires an autosaver to a store and sink. Interval must be
// positive.
func NewAutosaver(st *Store, sink Sink, interval time.Duration, events *eventbus.Registry, logger *slog.Logger) (*Autosaver, error) {
	if st == nil || sink == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Autosaver", "NewAutosaver", "store and sink are required")
	}
	if interval <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Autosaver", "NewAutosaver", "interval must be positive")
	}
	if events == nil {
		events = eventbus.New()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Autosaver{
		store:    st,
		sink:     sink,
		interval: interval,
		events:   events,
		logger:   logger.With("component", "autosaver"),
	}, nil
}

// Start launches the autosave goroutine.
func (a *Autosaver) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return errors.ErrAlreadyStarted
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "Autosaver", "Start", "context done")
	}
	a.started = true
	a.stopCh = make(chan struct{})
	a.doneCh = make(chan struct{})

	go a.run()
	return nil
}

// Stop signals the goroutine and joins it. The context bounds how long Stop
// waits for the final save to complete.
func (a *Autosaver) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return nil
	}
	a.started = false
	close(a.stopCh)
	done := a.doneCh
	a.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "Autosaver", "Stop", "wait for final save")
	}
}

func (a *Autosaver) run() {
	defer close(a.doneCh)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.save(context.Background())
		case <-a.stopCh:
			a.save(context.Background())
			return
		}
	}
}

func (a *Autosaver) save(ctx context.Context) {
	snapshot, seq := a.store.SnapshotLatest()
	rec := telemetry.NewSnapshotRecord(time.Now().UTC(), seq, snapshot)

	if err := a.sink.Persist(ctx, rec); err != nil {
		a.events.Increment(eventbus.EventAutosaveError)
		a.logger.Error("autosave failed", "error", err, "seq", seq, "fields", len(rec.Fields))
		return
	}

	a.events.Increment(eventbus.EventAutosaveOK)
	a.logger.Debug("autosave complete", "seq", seq, "fields", len(rec.Fields))
}
