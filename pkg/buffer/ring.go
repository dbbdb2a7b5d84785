// Package buffer provides a generic, thread-safe bounded FIFO ring with
// configurable overflow policies. It is the queue primitive between the
// pipeline workers: the read-to-map queue uses the Block policy for
// backpressure, the command queue and the egress buffers use DropOldest.
package buffer

import (
	"context"
	"sync"

	"github.com/c360/groundstream/errors"
)

// OverflowPolicy defines how the ring behaves when it reaches capacity.
type OverflowPolicy int

const (
	// DropOldest removes the oldest item to make room for new items.
	DropOldest OverflowPolicy = iota

	// DropNewest drops the incoming item when the ring is full.
	DropNewest

	// Block causes writes to wait until space is available.
	Block
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	case Block:
		return "Block"
	default:
		return "Unknown"
	}
}

// DropCallback is invoked with each item dropped by an overflow policy.
// It runs after the ring's lock is released and must not call back into
// the ring.
type DropCallback[T any] func(item T)

// Option configures a Ring.
type Option[T any] func(*Ring[T])

// WithPolicy sets the overflow policy. The default is DropOldest.
func WithPolicy[T any](p OverflowPolicy) Option[T] {
	return func(r *Ring[T]) {
		r.policy = p
	}
}

// WithDropCallback registers a callback invoked for every dropped item.
func WithDropCallback[T any](cb DropCallback[T]) Option[T] {
	return func(r *Ring[T]) {
		r.onDrop = cb
	}
}

// Stats is a point-in-time snapshot of ring counters.
type Stats struct {
	Writes    uint64
	Reads     uint64
	Drops     uint64
	Overflows uint64
	Size      int
	HighWater int
}

// Ring is a fixed-capacity FIFO queue safe for concurrent use. The zero
// value is not usable; construct with New.
type Ring[T any] struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	items []T
	head  int // next write position
	tail  int // next read position
	size  int

	policy OverflowPolicy
	onDrop DropCallback[T]
	closed bool

	writes    uint64
	reads     uint64
	drops     uint64
	overflows uint64
	highWater int
}

// New creates a ring with the given capacity.
func New[T any](capacity int, opts ...Option[T]) (*Ring[T], error) {
	if capacity <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Ring", "New", "capacity must be positive")
	}

	r := &Ring[T]{
		items:  make([]T, capacity),
		policy: DropOldest,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.notEmpty = sync.NewCond(&r.mu)
	r.notFull = sync.NewCond(&r.mu)
	return r, nil
}

// Write adds an item according to the overflow policy. With the Block
// policy it waits indefinitely for space; prefer WriteContext in worker
// loops so shutdown can interrupt the wait.
func (r *Ring[T]) Write(item T) error {
	return r.write(nil, item)
}

// WriteContext adds an item, waiting for space under the Block policy
// until ctx is cancelled.
func (r *Ring[T]) WriteContext(ctx context.Context, item T) error {
	return r.write(ctx, item)
}

func (r *Ring[T]) write(ctx context.Context, item T) error {
	var dropped *T

	r.mu.Lock()

	if r.closed {
		r.mu.Unlock()
		return errors.ErrBufferClosed
	}

	if r.size == len(r.items) {
		switch r.policy {
		case DropOldest:
			old := r.items[r.tail]
			r.tail = (r.tail + 1) % len(r.items)
			r.size--
			r.overflows++
			r.drops++
			dropped = &old

		case DropNewest:
			r.overflows++
			r.drops++
			r.mu.Unlock()
			if r.onDrop != nil {
				r.onDrop(item)
			}
			return nil

		case Block:
			if err := r.waitNotFull(ctx); err != nil {
				r.mu.Unlock()
				return err
			}
		}
	}

	r.items[r.head] = item
	r.head = (r.head + 1) % len(r.items)
	r.size++
	r.writes++
	if r.size > r.highWater {
		r.highWater = r.size
	}

	r.notEmpty.Signal()
	r.mu.Unlock()

	if dropped != nil && r.onDrop != nil {
		r.onDrop(*dropped)
	}
	return nil
}

// waitNotFull blocks until space is available, the ring closes, or ctx
// is cancelled. Called with r.mu held; returns with r.mu held.
func (r *Ring[T]) waitNotFull(ctx context.Context) error {
	stop := r.watchContext(ctx, r.notFull)
	defer stop()

	for r.size == len(r.items) && !r.closed {
		if ctx != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		r.notFull.Wait()
	}
	if r.closed {
		return errors.ErrBufferClosed
	}
	if ctx != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

// Read removes and returns the oldest item without blocking. ok is
// false when the ring is empty.
func (r *Ring[T]) Read() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.size == 0 {
		return zero, false
	}
	return r.pop(), true
}

// ReadContext removes and returns the oldest item, waiting until one is
// available, ctx is cancelled, or the ring is closed and drained.
// Items written before Close remain readable.
func (r *Ring[T]) ReadContext(ctx context.Context) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T

	stop := r.watchContext(ctx, r.notEmpty)
	defer stop()

	for r.size == 0 && !r.closed {
		if ctx != nil && ctx.Err() != nil {
			return zero, ctx.Err()
		}
		r.notEmpty.Wait()
	}
	if ctx != nil && ctx.Err() != nil {
		return zero, ctx.Err()
	}
	if r.size == 0 {
		return zero, errors.ErrBufferClosed
	}
	return r.pop(), nil
}

// pop removes the tail item. Called with r.mu held and size > 0.
func (r *Ring[T]) pop() T {
	var zero T
	item := r.items[r.tail]
	r.items[r.tail] = zero // release for GC
	r.tail = (r.tail + 1) % len(r.items)
	r.size--
	r.reads++
	r.notFull.Signal()
	return item
}

// watchContext wakes waiters on cond when ctx is cancelled, so blocked
// Read/Write calls can observe the cancellation. Broadcast without the
// mutex is safe for sync.Cond. The returned stop func must be called
// before the caller returns.
func (r *Ring[T]) watchContext(ctx context.Context, cond *sync.Cond) func() {
	if ctx == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			cond.Broadcast()
		case <-done:
		}
	}()
	return func() { close(done) }
}

// Len returns the current number of items.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int {
	return len(r.items)
}

// Stats returns a snapshot of the ring counters.
func (r *Ring[T]) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		Writes:    r.writes,
		Reads:     r.reads,
		Drops:     r.drops,
		Overflows: r.overflows,
		Size:      r.size,
		HighWater: r.highWater,
	}
}

// Close marks the ring closed and wakes all waiters. Subsequent writes
// fail with ErrBufferClosed; reads drain the remaining items. Close is
// idempotent.
func (r *Ring[T]) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	r.notEmpty.Broadcast()
	r.notFull.Broadcast()
	return nil
}
