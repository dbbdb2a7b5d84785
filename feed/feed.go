// Package feed serves the live WebSocket dashboard stream. Every committed
// bundle is broadcast to all connected clients as the same JSON envelope the
// relay publishes, wrapped in a typed frame; each client additionally gets a
// full latest-values snapshot on connect. The feed is a lossy surface: slow
// or dead clients are disconnected rather than allowed to stall the
// broadcast, and the pipeline never waits on it.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/groundstream/errors"
	"github.com/c360/groundstream/eventbus"
	"github.com/c360/groundstream/metric"
	"github.com/c360/groundstream/pkg/buffer"
	"github.com/c360/groundstream/telemetry"
)

// Event names the feed increments.
const (
	EventConnected    = "feed_client_connected"
	EventDisconnected = "feed_client_disconnected"
	EventBroadcast    = "feed_broadcast"
	EventSendError    = "feed_send_error"
	EventDropped      = "feed_dropped"
)

// Frame types carried by Message.
const (
	MessageTypeSnapshot = "snapshot"
	MessageTypeBundle   = "bundle"
)

const (
	defaultPath         = "/feed"
	defaultBufferSize   = 256
	defaultWriteTimeout = 10 * time.Second
	defaultPingInterval = 30 * time.Second

	clientReadLimit = 512
)

// Message is one frame sent to a feed client. Type discriminates which
// payload field is set: a latest-values snapshot on connect, then one bundle
// envelope per committed bundle.
type Message struct {
	Type     string                    `json:"type"`
	Bundle   *telemetry.Envelope       `json:"bundle,omitempty"`
	Snapshot *telemetry.SnapshotRecord `json:"snapshot,omitempty"`
}

// SnapshotSource provides the latest-values snapshot sent to connecting
// clients. *store.Store satisfies it.
type SnapshotSource interface {
	SnapshotLatest() (map[telemetry.FieldID]telemetry.Value, uint64)
}

// Config carries the feed server settings.
type Config struct {
	// Addr is the HTTP listen address, e.g. ":8081".
	Addr string
	// Path is the WebSocket endpoint path. Defaults to "/feed".
	Path string
	// BufferSize bounds envelopes waiting for the broadcast goroutine.
	BufferSize int
	// WriteTimeout bounds each client write; a client that cannot keep up
	// within it is disconnected.
	WriteTimeout time.Duration
	// PingInterval is the keepalive cadence. Clients silent for two
	// intervals are considered dead.
	PingInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Path == "" {
		c.Path = defaultPath
	}
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
	return c
}

// Option configures optional feed collaborators.
type Option func(*options)

type options struct {
	events  *eventbus.Registry
	metrics *metric.Registry
	logger  *slog.Logger
}

// WithEvents supplies the event registry the feed increments.
func WithEvents(events *eventbus.Registry) Option {
	return func(o *options) { o.events = events }
}

// WithMetrics exports the feed counters through the given registry.
func WithMetrics(metrics *metric.Registry) Option {
	return func(o *options) { o.metrics = metrics }
}

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

type client struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
}

// writeLocked writes one text frame. Callers hold writeMu; gorilla
// connections do not tolerate concurrent writers.
func (c *client) writeLocked(data []byte, timeout time.Duration) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *client) send(data []byte, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.writeLocked(data, timeout)
}

func (c *client) ping(timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

// Server is a pipeline BundleObserver that broadcasts envelopes over
// WebSocket. Construct with New, register on the pipeline, then Start. A
// stopped server cannot be restarted.
type Server struct {
	cfg     Config
	source  SnapshotSource
	events  *eventbus.Registry
	metrics *feedMetrics
	logger  *slog.Logger

	upgrader websocket.Upgrader
	buf      *buffer.Ring[telemetry.Envelope]

	clientsMu sync.Mutex
	clients   map[*websocket.Conn]*client
	closing   bool
	connWG    sync.WaitGroup

	mu            sync.Mutex
	started       bool
	stopped       bool
	listener      net.Listener
	server        *http.Server
	cancel        context.CancelFunc
	broadcastDone chan struct{}
	wg            sync.WaitGroup
}

// New builds a feed server from configuration.
func New(cfg Config, source SnapshotSource, opts ...Option) (*Server, error) {
	if cfg.Addr == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Server", "New", "listen address is required")
	}
	if source == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Server", "New", "snapshot source is required")
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.events == nil {
		o.events = eventbus.New()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	s := &Server{
		cfg:    cfg.withDefaults(),
		source: source,
		events: o.events,
		logger: o.logger.With("component", "feed"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]*client),
	}

	buf, err := buffer.New[telemetry.Envelope](s.cfg.BufferSize,
		buffer.WithPolicy[telemetry.Envelope](buffer.DropOldest),
		buffer.WithDropCallback[telemetry.Envelope](s.envelopeDropped))
	if err != nil {
		return nil, err
	}
	s.buf = buf

	metrics, err := newMetrics(o.metrics, func() float64 { return float64(buf.Len()) })
	if err != nil {
		return nil, errors.Wrap(err, "Server", "New", "register metrics")
	}
	s.metrics = metrics
	return s, nil
}

// Start binds the listener and spawns the broadcast and keepalive loops. It
// returns once the listener is bound so callers can read Address
// immediately.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return errors.ErrAlreadyStarted
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "Server", "Start", "context already canceled")
	}

	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.handleFeed)

	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return errors.Wrap(err, "Server", "Start", "bind listener")
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.broadcastDone = make(chan struct{})
	s.started = true

	s.wg.Add(3)
	go s.serve()
	go s.broadcastLoop(workerCtx)
	go s.maintainClients(workerCtx)

	s.logger.Info("feed listening", "addr", listener.Addr().String(), "path", s.cfg.Path)
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

// ObserveBundle implements pipeline.BundleObserver. It never blocks; when
// the buffer is full the oldest waiting envelope is discarded.
func (s *Server) ObserveBundle(b telemetry.Bundle, seq uint64) {
	env := telemetry.NewEnvelope(b, seq)
	if err := s.buf.Write(env); err != nil {
		s.logger.Debug("bundle observed after shutdown", "seq", seq)
	}
}

func (s *Server) envelopeDropped(env telemetry.Envelope) {
	s.metrics.dropped.Inc()
	s.events.Increment(EventDropped)
	s.logger.Warn("envelope dropped, broadcast buffer full", "seq", env.Seq)
}

func (s *Server) serve() {
	defer s.wg.Done()
	if err := s.server.Serve(s.listener); err != nil && err != http.ErrServerClosed {
		s.logger.Error("feed server stopped", "error", err)
	}
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	cl := &client{conn: conn}

	// Holding writeMu across registration guarantees the snapshot is the
	// first frame: a concurrent broadcast that already sees this client
	// queues behind it.
	cl.writeMu.Lock()
	if !s.addClient(conn, cl) {
		cl.writeMu.Unlock()
		_ = conn.Close()
		return
	}
	s.metrics.connections.Inc()
	s.events.Increment(EventConnected)
	s.logger.Info("feed client connected", "remote", conn.RemoteAddr().String())

	go s.readLoop(conn, cl)

	frame, err := s.snapshotFrame()
	if err == nil {
		if err = cl.writeLocked(frame, s.cfg.WriteTimeout); err == nil {
			s.metrics.sent.Inc()
		}
	}
	cl.writeMu.Unlock()
	if err != nil {
		s.metrics.sendErrors.Inc()
		s.events.Increment(EventSendError)
		s.logger.Warn("snapshot send failed", "remote", conn.RemoteAddr().String(), "error", err)
		s.removeClient(conn, cl)
	}
}

// addClient registers the connection unless shutdown has begun. The reader
// is accounted on connWG under the same lock that orders it against
// closeClients.
func (s *Server) addClient(conn *websocket.Conn, cl *client) bool {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	if s.closing {
		return false
	}
	s.clients[conn] = cl
	s.connWG.Add(1)
	s.metrics.clients.Set(float64(len(s.clients)))
	return true
}

func (s *Server) removeClient(conn *websocket.Conn, cl *client) {
	cl.closeOnce.Do(func() {
		cl.closed.Store(true)
		s.clientsMu.Lock()
		delete(s.clients, conn)
		count := len(s.clients)
		s.clientsMu.Unlock()
		s.metrics.clients.Set(float64(count))
		s.events.Increment(EventDisconnected)
		_ = conn.Close()
		s.logger.Info("feed client disconnected", "remote", conn.RemoteAddr().String(), "clients", count)
	})
}

// readLoop consumes client frames so pong and close control messages are
// processed. Feed clients send no application data; anything read is
// discarded.
func (s *Server) readLoop(conn *websocket.Conn, cl *client) {
	defer s.connWG.Done()
	defer s.removeClient(conn, cl)

	limit := 2 * s.cfg.PingInterval
	conn.SetReadLimit(clientReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(limit))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(limit))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) broadcastLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.broadcastDone)

	for {
		env, err := s.buf.ReadContext(ctx)
		if err != nil {
			return
		}
		s.broadcast(env)
	}
}

func (s *Server) broadcast(env telemetry.Envelope) {
	frame, err := json.Marshal(Message{Type: MessageTypeBundle, Bundle: &env})
	if err != nil {
		s.metrics.sendErrors.Inc()
		s.events.Increment(EventSendError)
		s.logger.Error("envelope marshal failed", "seq", env.Seq, "error", err)
		return
	}

	var wg sync.WaitGroup
	for conn, cl := range s.clientSnapshot() {
		wg.Add(1)
		go func(conn *websocket.Conn, cl *client) {
			defer wg.Done()
			if err := cl.send(frame, s.cfg.WriteTimeout); err != nil {
				s.metrics.sendErrors.Inc()
				s.events.Increment(EventSendError)
				s.logger.Warn("feed send failed", "remote", conn.RemoteAddr().String(), "seq", env.Seq, "error", err)
				s.removeClient(conn, cl)
				return
			}
			s.metrics.sent.Inc()
		}(conn, cl)
	}
	wg.Wait()
	s.events.Increment(EventBroadcast)
}

func (s *Server) clientSnapshot() map[*websocket.Conn]*client {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	snapshot := make(map[*websocket.Conn]*client, len(s.clients))
	for conn, cl := range s.clients {
		if !cl.closed.Load() {
			snapshot[conn] = cl
		}
	}
	return snapshot
}

func (s *Server) snapshotFrame() ([]byte, error) {
	latest, seq := s.source.SnapshotLatest()
	rec := telemetry.NewSnapshotRecord(time.Now().UTC(), seq, latest)
	return json.Marshal(Message{Type: MessageTypeSnapshot, Snapshot: &rec})
}

func (s *Server) maintainClients(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for conn, cl := range s.clientSnapshot() {
				if err := cl.ping(s.cfg.WriteTimeout); err != nil {
					s.logger.Warn("keepalive failed", "remote", conn.RemoteAddr().String(), "error", err)
					s.removeClient(conn, cl)
				}
			}
		}
	}
}

// Stop closes the listener, drains buffered envelopes to the remaining
// clients (bounded by ctx), disconnects them, and joins all goroutines.
// Stop is idempotent.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.stopped = true
	server := s.server
	cancel := s.cancel
	broadcastDone := s.broadcastDone
	s.mu.Unlock()

	if err := server.Shutdown(ctx); err != nil {
		s.logger.Warn("http shutdown failed", "error", err)
	}

	_ = s.buf.Close()
	select {
	case <-broadcastDone:
	case <-ctx.Done():
	}
	cancel()

	s.closeClients()

	done := make(chan struct{})
	go func() {
		s.connWG.Wait()
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "Server", "Stop", "join feed goroutines")
	}

	s.logger.Info("feed stopped")
	return nil
}

func (s *Server) closeClients() {
	s.clientsMu.Lock()
	s.closing = true
	conns := make(map[*websocket.Conn]*client, len(s.clients))
	for conn, cl := range s.clients {
		conns[conn] = cl
	}
	s.clientsMu.Unlock()

	deadline := time.Now().Add(time.Second)
	for conn, cl := range conns {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), deadline)
		s.removeClient(conn, cl)
	}
}
