// Package health tracks per-component operational state and aggregates it
// into the process-level report served at /healthz. Components register a
// pull-style check; the checker runs them at request time so the report is
// never stale.
package health

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"
)

// State classifies a component's operational condition.
type State int

const (
	// Healthy means the component is fully operational.
	Healthy State = iota
	// Degraded means the component works but below normal capability,
	// typically while starting or stopping.
	Degraded
	// Unhealthy means the component cannot do its job.
	Unhealthy
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case Unhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// MarshalJSON emits the state name.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON restores a state from its name.
func (s *State) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "healthy":
		*s = Healthy
	case "degraded":
		*s = Degraded
	case "unhealthy":
		*s = Unhealthy
	default:
		return fmt.Errorf("health: unknown state %q", name)
	}
	return nil
}

// ComponentHealth is one component's health at a point in time.
type ComponentHealth struct {
	Component string    `json:"component"`
	State     State     `json:"state"`
	Message   string    `json:"message,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// NewHealthy builds a healthy status.
func NewHealthy(component, message string) ComponentHealth {
	return ComponentHealth{Component: component, State: Healthy, Message: message, CheckedAt: time.Now().UTC()}
}

// NewDegraded builds a degraded status.
func NewDegraded(component, message string) ComponentHealth {
	return ComponentHealth{Component: component, State: Degraded, Message: message, CheckedAt: time.Now().UTC()}
}

// NewUnhealthy builds an unhealthy status.
func NewUnhealthy(component, message string) ComponentHealth {
	return ComponentHealth{Component: component, State: Unhealthy, Message: message, CheckedAt: time.Now().UTC()}
}

// Report is the aggregated process health.
type Report struct {
	State      State             `json:"state"`
	CheckedAt  time.Time         `json:"checked_at"`
	Components []ComponentHealth `json:"components,omitempty"`
}

// Aggregate folds component statuses into one state: any unhealthy wins,
// then any degraded, otherwise healthy. No components means healthy.
func Aggregate(components []ComponentHealth) Report {
	state := Healthy
	for _, c := range components {
		switch {
		case c.State == Unhealthy:
			state = Unhealthy
		case c.State == Degraded && state == Healthy:
			state = Degraded
		}
	}
	return Report{State: state, CheckedAt: time.Now().UTC(), Components: components}
}

// Check reports one component's current health. Checks must be safe for
// concurrent use and should return quickly; they run on the request path.
type Check func() ComponentHealth

// Checker aggregates named component checks.
type Checker struct {
	mu     sync.RWMutex
	checks map[string]Check
}

// NewChecker creates an empty checker.
func NewChecker() *Checker {
	return &Checker{checks: make(map[string]Check)}
}

// Register adds or replaces the check for a component.
func (c *Checker) Register(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// Deregister removes a component's check.
func (c *Checker) Deregister(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.checks, name)
}

// Component runs a single component's check.
func (c *Checker) Component(name string) (ComponentHealth, bool) {
	c.mu.RLock()
	check, ok := c.checks[name]
	c.mu.RUnlock()
	if !ok {
		return ComponentHealth{}, false
	}
	return check(), true
}

// Report runs every registered check and aggregates the results, sorted by
// component name for stable output.
func (c *Checker) Report() Report {
	c.mu.RLock()
	checks := make(map[string]Check, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	c.mu.RUnlock()

	components := make([]ComponentHealth, 0, len(checks))
	for name, check := range checks {
		status := check()
		if status.Component == "" {
			status.Component = name
		}
		components = append(components, status)
	}
	sort.Slice(components, func(i, j int) bool {
		return components[i].Component < components[j].Component
	})
	return Aggregate(components)
}

// Handler serves the aggregated report as JSON. Unhealthy reports get a 503
// so load balancers and probes fail over; degraded stays 200 with the detail
// in the body.
func (c *Checker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		report := c.Report()
		w.Header().Set("Content-Type", "application/json")
		if report.State == Unhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(report)
	})
}
