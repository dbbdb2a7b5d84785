// Package eventbus provides named monotonic counters with blocking
// wait-for-count semantics. Producers increment a counter once per logical
// occurrence; consumers capture a Snapshot and wait until a counter has
// advanced by an expected amount past that baseline.
//
// A Registry is an explicitly constructed value shared by reference.
// Independent pipelines own independent registries and never interfere.
package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/groundstream/errors"
	"github.com/c360/groundstream/metric"
)

// Snapshot is an immutable capture of every counter's value at a point in
// time. Counters created after the capture have an implicit baseline of zero.
type Snapshot map[string]uint64

// Counter is a named, monotonically increasing occurrence counter. Each
// counter carries its own lock and condition so waits on different names
// never contend.
type Counter struct {
	mu     sync.Mutex
	cond   *sync.Cond
	value  uint64
	mirror prometheus.Counter
}

// Increment records one occurrence and wakes any waiters on this counter.
func (c *Counter) Increment() {
	c.mu.Lock()
	c.value++
	c.cond.Broadcast()
	c.mu.Unlock()

	if c.mirror != nil {
		c.mirror.Inc()
	}
}

// Value returns the current count.
func (c *Counter) Value() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Registry owns a set of named counters. The zero value is not usable;
// construct with New.
type Registry struct {
	mu       sync.RWMutex
	counters map[string]*Counter
	mirror   *prometheus.CounterVec
}

// Option configures a Registry.
type Option func(*Registry)

// WithMetrics mirrors every counter increment into a Prometheus counter
// vector labeled by event name. A nil metrics registry disables mirroring.
func WithMetrics(metrics *metric.Registry) Option {
	return func(r *Registry) {
		if metrics == nil {
			return
		}
		vec := prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "groundstream_events_total",
			Help: "Logical pipeline events by name.",
		}, []string{"event"})
		if err := metrics.Register("eventbus", "events_total", vec); err != nil {
			return
		}
		r.mirror = vec
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{counters: make(map[string]*Counter)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Counter returns the counter for name, creating it on first use. Counters
// are never removed.
func (r *Registry) Counter(name string) *Counter {
	r.mu.RLock()
	c, ok := r.counters[name]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok = r.counters[name]; ok {
		return c
	}

	c = &Counter{}
	c.cond = sync.NewCond(&c.mu)
	if r.mirror != nil {
		c.mirror = r.mirror.WithLabelValues(name)
	}
	r.counters[name] = c
	return c
}

// Increment is shorthand for Counter(name).Increment().
func (r *Registry) Increment(name string) {
	r.Counter(name).Increment()
}

// Snapshot captures the current value of every counter.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := make(Snapshot, len(r.counters))
	for name, c := range r.counters {
		snap[name] = c.Value()
	}
	return snap
}

// Wait blocks until counter name has advanced at least expected occurrences
// past its value in snap, or until timeout elapses. It returns the observed
// delta; on timeout the delta observed so far accompanies
// errors.ErrWaitTimeout. An expected count below one is satisfied
// immediately.
//
// Wait blocks only the calling goroutine. Producers incrementing other
// counters are never delayed by a wait.
func (r *Registry) Wait(snap Snapshot, name string, expected int, timeout time.Duration) (uint64, error) {
	c := r.Counter(name)
	deadline := time.Now().Add(timeout)

	c.mu.Lock()
	defer c.mu.Unlock()

	// The timer broadcast wakes this waiter so the deadline check below
	// runs even when no increments arrive.
	timer := time.AfterFunc(timeout, func() {
		c.mu.Lock()
		c.cond.Broadcast()
		c.mu.Unlock()
	})
	defer timer.Stop()

	for {
		delta := c.value - snap[name]
		if expected < 1 || delta >= uint64(expected) {
			return delta, nil
		}
		if !time.Now().Before(deadline) {
			return delta, errors.ErrWaitTimeout
		}
		c.cond.Wait()
	}
}

// WaitContext is Wait bounded by a context instead of a timeout. On
// cancellation it returns the delta observed so far along with ctx.Err().
func (r *Registry) WaitContext(ctx context.Context, snap Snapshot, name string, expected int) (uint64, error) {
	c := r.Counter(name)

	c.mu.Lock()
	defer c.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		c.mu.Lock()
		c.cond.Broadcast()
		c.mu.Unlock()
	})
	defer stop()

	for {
		delta := c.value - snap[name]
		if expected < 1 || delta >= uint64(expected) {
			return delta, nil
		}
		if err := ctx.Err(); err != nil {
			return delta, err
		}
		c.cond.Wait()
	}
}
