// Package relay republishes committed telemetry bundles to NATS. Each bundle
// becomes a JSON envelope on `<prefix>.<device>` so consumers can subscribe
// per device or with a wildcard. The relay observes the pipeline through a
// bounded drop-oldest buffer; the map worker never waits on the broker.
package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/groundstream/errors"
	"github.com/c360/groundstream/eventbus"
	"github.com/c360/groundstream/metric"
	"github.com/c360/groundstream/pkg/buffer"
	"github.com/c360/groundstream/pkg/retry"
	"github.com/c360/groundstream/telemetry"
)

// Event names the relay increments.
const (
	EventPublished    = "relay_published"
	EventPublishError = "relay_publish_error"
	EventDropped      = "relay_dropped"
)

const (
	defaultSubjectPrefix  = "telemetry.bundles"
	defaultBufferSize     = 256
	defaultStreamName     = "TELEMETRY"
	defaultClientName     = "groundstream-relay"
	defaultConnectTimeout = 5 * time.Second
	defaultReconnectWait  = 2 * time.Second
)

// Config carries the relay settings.
type Config struct {
	// URL is the NATS server address.
	URL string
	// SubjectPrefix is prepended to the device ID to form the publish
	// subject. Defaults to "telemetry.bundles".
	SubjectPrefix string
	// BufferSize bounds envelopes waiting for the publisher goroutine.
	BufferSize int
	// ClientName identifies this connection to the server.
	ClientName string
	// ConnectTimeout bounds each dial attempt.
	ConnectTimeout time.Duration
	// ReconnectWait is the client's delay between automatic reconnects.
	// Reconnects are unlimited; the radio link outlives broker restarts.
	ReconnectWait time.Duration
	// JetStream publishes through JetStream and ensures a stream covering
	// the subject prefix at start.
	JetStream bool
	// StreamName names the ensured stream. Defaults to "TELEMETRY".
	StreamName string
}

func (c Config) withDefaults() Config {
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = defaultSubjectPrefix
	}
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.ClientName == "" {
		c.ClientName = defaultClientName
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.ReconnectWait <= 0 {
		c.ReconnectWait = defaultReconnectWait
	}
	if c.StreamName == "" {
		c.StreamName = defaultStreamName
	}
	return c
}

// Publisher abstracts the broker write so tests can observe traffic without
// a server.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

type corePublisher struct {
	conn *nats.Conn
}

func (p corePublisher) Publish(_ context.Context, subject string, data []byte) error {
	return p.conn.Publish(subject, data)
}

type jetStreamPublisher struct {
	js jetstream.JetStream
}

func (p jetStreamPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	_, err := p.js.Publish(ctx, subject, data)
	return err
}

// Option configures optional relay collaborators.
type Option func(*options)

type options struct {
	events    *eventbus.Registry
	metrics   *metric.Registry
	logger    *slog.Logger
	publisher Publisher
}

// WithEvents supplies the event registry the relay increments.
func WithEvents(events *eventbus.Registry) Option {
	return func(o *options) { o.events = events }
}

// WithMetrics exports the relay counters through the given registry.
func WithMetrics(metrics *metric.Registry) Option {
	return func(o *options) { o.metrics = metrics }
}

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithPublisher bypasses the NATS connection and publishes through p. Start
// does not dial when a publisher is injected.
func WithPublisher(p Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// Relay is a pipeline BundleObserver that forwards envelopes to NATS.
// Construct with New, register on the pipeline, then Start. A stopped relay
// cannot be restarted.
type Relay struct {
	cfg     Config
	events  *eventbus.Registry
	metrics *relayMetrics
	logger  *slog.Logger

	buf *buffer.Ring[telemetry.Envelope]

	mu        sync.Mutex
	started   bool
	stopped   bool
	conn      *nats.Conn
	publisher Publisher
	cancel    context.CancelFunc
	doneCh    chan struct{}
}

// New builds a relay from configuration. A URL is required unless a
// publisher is injected.
func New(cfg Config, opts ...Option) (*Relay, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if cfg.URL == "" && o.publisher == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Relay", "New", "url is required")
	}
	if o.events == nil {
		o.events = eventbus.New()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	r := &Relay{
		cfg:       cfg.withDefaults(),
		events:    o.events,
		logger:    o.logger.With("component", "relay"),
		publisher: o.publisher,
	}

	buf, err := buffer.New[telemetry.Envelope](r.cfg.BufferSize,
		buffer.WithPolicy[telemetry.Envelope](buffer.DropOldest),
		buffer.WithDropCallback[telemetry.Envelope](r.envelopeDropped))
	if err != nil {
		return nil, err
	}
	r.buf = buf

	metrics, err := newMetrics(o.metrics, func() float64 { return float64(buf.Len()) })
	if err != nil {
		return nil, errors.Wrap(err, "Relay", "New", "register metrics")
	}
	r.metrics = metrics
	return r, nil
}

// Start connects to the broker (unless a publisher was injected) and spawns
// the publisher goroutine.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.stopped {
		return errors.ErrAlreadyStarted
	}

	if r.publisher == nil {
		if err := r.connect(ctx); err != nil {
			return err
		}
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.doneCh = make(chan struct{})
	r.started = true

	go r.run(workerCtx)
	r.logger.Info("relay started", "subject_prefix", r.cfg.SubjectPrefix, "jetstream", r.cfg.JetStream)
	return nil
}

// connect dials NATS with backoff and selects the publish path. Called with
// r.mu held.
func (r *Relay) connect(ctx context.Context) error {
	natsOpts := []nats.Option{
		nats.Name(r.cfg.ClientName),
		nats.Timeout(r.cfg.ConnectTimeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(r.cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			r.logger.Warn("broker disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			r.logger.Info("broker reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			r.logger.Info("broker connection closed")
		}),
	}

	conn, err := retry.DoWithResult(ctx, retry.Persistent(), func() (*nats.Conn, error) {
		return nats.Connect(r.cfg.URL, natsOpts...)
	})
	if err != nil {
		return errors.WrapTransient(err, "Relay", "connect", "dial broker")
	}
	r.conn = conn
	r.publisher = corePublisher{conn: conn}

	if !r.cfg.JetStream {
		return nil
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		r.conn = nil
		r.publisher = nil
		return errors.WrapTransient(err, "Relay", "connect", "initialize jetstream")
	}
	if err := r.ensureStream(ctx, js); err != nil {
		conn.Close()
		r.conn = nil
		r.publisher = nil
		return err
	}
	r.publisher = jetStreamPublisher{js: js}
	return nil
}

func (r *Relay) ensureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:     r.cfg.StreamName,
		Subjects: []string{r.cfg.SubjectPrefix + ".>"},
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, jetstream.ErrStreamNameAlreadyInUse) {
		// An operator-managed stream with other settings still covers
		// the subjects; publishing proceeds against it.
		r.logger.Warn("stream already exists with different configuration", "stream", r.cfg.StreamName)
		return nil
	}
	return errors.WrapTransient(err, "Relay", "ensureStream", "create stream")
}

// ObserveBundle implements pipeline.BundleObserver. It never blocks; when
// the buffer is full the oldest waiting envelope is discarded.
func (r *Relay) ObserveBundle(b telemetry.Bundle, seq uint64) {
	env := telemetry.NewEnvelope(b, seq)
	if err := r.buf.Write(env); err != nil {
		r.logger.Debug("bundle observed after shutdown", "seq", seq)
	}
}

func (r *Relay) envelopeDropped(env telemetry.Envelope) {
	r.metrics.dropped.Inc()
	r.events.Increment(EventDropped)
	r.logger.Warn("envelope dropped, relay buffer full", "seq", env.Seq)
}

func (r *Relay) run(ctx context.Context) {
	defer close(r.doneCh)

	for {
		env, err := r.buf.ReadContext(ctx)
		if err != nil {
			return
		}
		r.publishOne(ctx, env)
	}
}

func (r *Relay) publishOne(ctx context.Context, env telemetry.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		r.metrics.publishErrors.Inc()
		r.events.Increment(EventPublishError)
		r.logger.Error("envelope marshal failed", "seq", env.Seq, "error", err)
		return
	}

	subject := r.cfg.SubjectPrefix + "." + strconv.Itoa(int(env.Device))
	if err := r.publisher.Publish(ctx, subject, data); err != nil {
		r.metrics.publishErrors.Inc()
		r.events.Increment(EventPublishError)
		r.logger.Error("publish failed", "subject", subject, "seq", env.Seq, "error", err)
		return
	}
	r.metrics.published.Inc()
	r.events.Increment(EventPublished)
}

// Stop drains the remaining envelopes (bounded by ctx), joins the publisher
// goroutine, and closes the connection. Stop is idempotent.
func (r *Relay) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = false
	r.stopped = true
	conn := r.conn
	r.mu.Unlock()

	_ = r.buf.Close()

	select {
	case <-r.doneCh:
	case <-ctx.Done():
		r.cancel()
		<-r.doneCh
	}
	r.cancel()

	if conn != nil {
		if err := conn.FlushTimeout(time.Second); err != nil {
			r.logger.Warn("flush before close failed", "error", err)
		}
		conn.Close()
	}
	r.logger.Info("relay stopped")
	return nil
}
