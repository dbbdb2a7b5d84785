// Package metric wraps a Prometheus registry with duplicate tracking so
// pipeline components can register collectors under a stable
// "component.metric" key and expose them over HTTP.
package metric

import (
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry tracks collectors by owning component so a component restart can
// re-register its metrics without tripping Prometheus duplicate errors.
type Registry struct {
	mu         sync.RWMutex
	prometheus *prometheus.Registry
	registered map[string]prometheus.Collector
}

// NewRegistry creates a registry pre-loaded with the standard Go runtime and
// process collectors.
func NewRegistry() *Registry {
	r := &Registry{
		prometheus: prometheus.NewRegistry(),
		registered: make(map[string]prometheus.Collector),
	}

	r.prometheus.MustRegister(collectors.NewGoCollector())
	r.prometheus.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return r
}

// Register adds a collector under component.name. Registering the same key
// twice is an error; registering an identical collector that Prometheus
// already knows about is not.
func (r *Registry) Register(component, name string, c prometheus.Collector) error {
	if component == "" || name == "" {
		return fmt.Errorf("metric registration requires component and name")
	}

	key := component + "." + name

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.registered[key]; exists {
		return fmt.Errorf("metric %s already registered", key)
	}

	if err := r.prometheus.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			r.registered[key] = are.ExistingCollector
			return nil
		}
		return fmt.Errorf("register metric %s: %w", key, err)
	}

	r.registered[key] = c
	return nil
}

// MustRegister is Register but panics on failure. Intended for package-level
// metric setup where a registration error is a programming bug.
func (r *Registry) MustRegister(component, name string, c prometheus.Collector) {
	if err := r.Register(component, name, c); err != nil {
		panic(err)
	}
}

// Unregister removes the collector registered under component.name.
func (r *Registry) Unregister(component, name string) bool {
	key := component + "." + name

	r.mu.Lock()
	defer r.mu.Unlock()

	c, exists := r.registered[key]
	if !exists {
		return false
	}

	delete(r.registered, key)
	return r.prometheus.Unregister(c)
}

// Prometheus exposes the underlying registry for code that needs the raw
// prometheus.Registerer, such as the event bus mirror.
func (r *Registry) Prometheus() *prometheus.Registry {
	return r.prometheus
}

// Handler returns the scrape handler for this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.prometheus, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
