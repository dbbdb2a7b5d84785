package pipeline

import (
	"sync"
	"sync/atomic"
)

// WorkerState describes where a pipeline worker is in its lifecycle.
type WorkerState int32

const (
	// WorkerStarting is the state before Start has launched the worker.
	WorkerStarting WorkerState = iota
	// WorkerRunning means the worker loop is processing.
	WorkerRunning
	// WorkerStopping means shutdown has been requested.
	WorkerStopping
	// WorkerStopped means the worker goroutine has exited.
	WorkerStopped
)

// String returns a human-readable state name.
func (s WorkerState) String() string {
	switch s {
	case WorkerStarting:
		return "starting"
	case WorkerRunning:
		return "running"
	case WorkerStopping:
		return "stopping"
	case WorkerStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// workerStatus tracks one worker's state and terminal error. State reads
// never block; loops update their own status as they run.
type workerStatus struct {
	name  string
	state atomic.Int32

	mu  sync.Mutex
	err error
}

func (w *workerStatus) setState(s WorkerState) {
	w.state.Store(int32(s))
}

// requestStop moves a live worker to Stopping. A worker that already
// exited stays Stopped.
func (w *workerStatus) requestStop() {
	w.state.CompareAndSwap(int32(WorkerStarting), int32(WorkerStopping))
	w.state.CompareAndSwap(int32(WorkerRunning), int32(WorkerStopping))
}

// State returns the current worker state without blocking.
func (w *workerStatus) State() WorkerState {
	return WorkerState(w.state.Load())
}

// fail records the first terminal error. Later errors are ignored.
func (w *workerStatus) fail(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err == nil {
		w.err = err
	}
}

// Err returns the terminal error, if any.
func (w *workerStatus) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}
