// Package service sequences component lifecycles: start in registration
// order, stop in reverse.
package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/c360/groundstream/errors"
)

// Component is anything the manager can run. Start must return once the
// component is serving; Stop must be safe to call with a deadline context
// and should release everything Start acquired.
type Component interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type entry struct {
	name      string
	component Component
}

// Manager owns an ordered set of components. StartAll walks them in Add
// order and fails fast; StopAll walks the started prefix in reverse so
// consumers outlive their producers during shutdown.
type Manager struct {
	logger *slog.Logger

	mu      sync.Mutex
	entries []entry
	started int
	running bool
}

// NewManager returns an empty manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger.With("component", "manager")}
}

// Add registers a component under a name used in logs and errors.
// Components added after StartAll join the next StartAll.
func (m *Manager) Add(name string, c Component) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry{name: name, component: c})
}

// Names lists registered components in start order.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, len(m.entries))
	for i, e := range m.entries {
		names[i] = e.name
	}
	return names
}

// StartAll starts every component in Add order. On the first failure it
// returns immediately; components that already started stay up so the
// caller can StopAll them.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.ErrAlreadyStarted
	}
	m.running = true
	entries := m.entries
	m.mu.Unlock()

	for i, e := range entries {
		m.logger.Debug("starting component", "name", e.name)
		if err := e.component.Start(ctx); err != nil {
			m.logger.Error("component failed to start", "name", e.name, "error", err)
			return errors.Wrap(err, "Manager", "StartAll", "start "+e.name)
		}

		m.mu.Lock()
		m.started = i + 1
		m.mu.Unlock()
	}

	m.logger.Info("all components started", "count", len(entries))
	return nil
}

// StopAll stops the components StartAll managed to start, in reverse
// order. Every component gets its Stop call even when earlier ones fail;
// the errors come back joined. StopAll is a no-op when nothing started.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	started := m.started
	entries := m.entries
	m.started = 0
	m.running = false
	m.mu.Unlock()

	var errs []error
	for i := started - 1; i >= 0; i-- {
		e := entries[i]
		m.logger.Debug("stopping component", "name", e.name)
		if err := e.component.Stop(ctx); err != nil {
			m.logger.Error("component failed to stop", "name", e.name, "error", err)
			errs = append(errs, errors.Wrap(err, "Manager", "StopAll", "stop "+e.name))
		}
	}

	if started > 0 {
		m.logger.Info("all components stopped", "count", started, "errors", len(errs))
	}
	return errors.Join(errs...)
}
