package metric

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/c360/groundstream/errors"
)

// Server exposes the metrics registry and a health endpoint on a single
// listener, typically bound to a loopback or operations network.
type Server struct {
	addr     string
	path     string
	registry *Registry
	health   http.Handler
	logger   *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

// ServerConfig carries the observability listener settings.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":9090". An empty addr disables the
	// server.
	Addr string `json:"addr" yaml:"addr"`
	// Path is the scrape path, defaulting to /metrics.
	Path string `json:"path" yaml:"path"`
}

// NewServer builds a server for the given registry. The health handler is
// optional; when nil a plain 200 responder is mounted at /healthz.
func NewServer(cfg ServerConfig, registry *Registry, health http.Handler, logger *slog.Logger) *Server {
	if cfg.Path == "" {
		cfg.Path = "/metrics"
	}
	if logger == nil {
		logger = slog.Default()
	}
	if health == nil {
		health = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"status":"ok"}`)
		})
	}

	return &Server{
		addr:     cfg.Addr,
		path:     cfg.Path,
		registry: registry,
		health:   health,
		logger:   logger.With("component", "metric-server"),
	}
}

// Start binds the listener and begins serving. It returns once the listener
// is bound so callers can read Address immediately.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return errors.ErrAlreadyStarted
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "MetricServer", "Start", "context done")
	}

	mux := http.NewServeMux()
	mux.Handle(s.path, s.registry.Handler())
	mux.Handle("/healthz", s.health)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, "<html><body><h1>groundstream</h1><ul><li><a href=%q>%s</a></li><li><a href=\"/healthz\">/healthz</a></li></ul></body></html>", s.path, s.path)
	})

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.Wrap(err, "MetricServer", "Start", "bind listener")
	}

	s.listener = listener
	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if serveErr := s.server.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			s.logger.Error("metrics server stopped", "error", serveErr)
		}
	}()

	s.logger.Info("metrics server listening", "addr", listener.Addr().String(), "path", s.path)
	return nil
}

// Stop shuts the listener down, waiting for in-flight scrapes up to the
// context deadline.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()

	if server == nil {
		return nil
	}
	if err := server.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "MetricServer", "Stop", "shutdown listener")
	}
	return nil
}

// Address reports the bound listen address, empty before Start.
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
