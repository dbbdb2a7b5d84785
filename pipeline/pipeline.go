// Package pipeline connects a transport to the telemetry store. Three
// workers share the work: the read worker receives and decodes frames, the
// map worker translates packets into bundles and inserts them, and the send
// worker writes queued commands back to the device. Queues between the
// workers bound memory; the read side applies backpressure while the command
// side drops the oldest entry when full.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/c360/groundstream/errors"
	"github.com/c360/groundstream/eventbus"
	"github.com/c360/groundstream/health"
	"github.com/c360/groundstream/mapping"
	"github.com/c360/groundstream/metric"
	"github.com/c360/groundstream/packet"
	"github.com/c360/groundstream/pkg/buffer"
	"github.com/c360/groundstream/store"
	"github.com/c360/groundstream/telemetry"
	"github.com/c360/groundstream/transport"
)

const (
	defaultReadQueue = 64
	defaultSendQueue = 32
)

// BundleObserver is notified after each bundle commit with the assigned
// store sequence. Observers run on the map worker goroutine and must not
// block; buffer internally and return.
type BundleObserver interface {
	ObserveBundle(b telemetry.Bundle, seq uint64)
}

// Config carries the pipeline queue sizes and command addressing.
type Config struct {
	// ReadQueueSize bounds packets between the read and map workers.
	// Zero selects the default.
	ReadQueueSize int
	// SendQueueSize bounds commands waiting for the send worker. Zero
	// selects the default.
	SendQueueSize int
	// CommandDevice is the device identifier stamped on outbound
	// commands.
	CommandDevice telemetry.DeviceID
}

func (c Config) withDefaults() Config {
	if c.ReadQueueSize <= 0 {
		c.ReadQueueSize = defaultReadQueue
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = defaultSendQueue
	}
	return c
}

// Option configures optional pipeline collaborators.
type Option func(*options)

type options struct {
	events  *eventbus.Registry
	metrics *metric.Registry
	logger  *slog.Logger
}

// WithEvents supplies the event registry the pipeline increments.
func WithEvents(events *eventbus.Registry) Option {
	return func(o *options) { o.events = events }
}

// WithMetrics exports the pipeline counters through the given registry.
func WithMetrics(metrics *metric.Registry) Option {
	return func(o *options) { o.metrics = metrics }
}

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// queuedCommand is one resolved command waiting for the send worker.
type queuedCommand struct {
	name    string
	id      string
	command packet.Command
}

// Pipeline owns the worker goroutines and their queues. Construct with New,
// register observers, then Start. A stopped pipeline cannot be restarted.
type Pipeline struct {
	cfg        Config
	transport  transport.Transport
	translator *mapping.Translator
	store      *store.Store
	events     *eventbus.Registry
	metrics    *pipelineMetrics
	logger     *slog.Logger

	readQueue *buffer.Ring[packet.Packet]
	sendQueue *buffer.Ring[queuedCommand]

	observers []BundleObserver

	read workerStatus
	mapw workerStatus
	send workerStatus

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New wires a pipeline to its transport, translator, and store.
func New(cfg Config, tr transport.Transport, translator *mapping.Translator, st *store.Store, opts ...Option) (*Pipeline, error) {
	if tr == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Pipeline", "New", "transport is required")
	}
	if translator == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Pipeline", "New", "translator is required")
	}
	if st == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Pipeline", "New", "store is required")
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

	p := &Pipeline{
		cfg:        cfg.withDefaults(),
		transport:  tr,
		translator: translator,
		store:      st,
		events:     o.events,
		logger:     o.logger.With("component", "pipeline"),
		read:       workerStatus{name: "read"},
		mapw:       workerStatus{name: "map"},
		send:       workerStatus{name: "send"},
	}

	readQueue, err := buffer.New[packet.Packet](p.cfg.ReadQueueSize,
		buffer.WithPolicy[packet.Packet](buffer.Block))
	if err != nil {
		return nil, err
	}
	sendQueue, err := buffer.New[queuedCommand](p.cfg.SendQueueSize,
		buffer.WithPolicy[queuedCommand](buffer.DropOldest),
		buffer.WithDropCallback[queuedCommand](p.commandDropped))
	if err != nil {
		return nil, err
	}
	p.readQueue = readQueue
	p.sendQueue = sendQueue

	metrics, err := newMetrics(o.metrics,
		func() float64 { return float64(readQueue.Len()) },
		func() float64 { return float64(sendQueue.Len()) })
	if err != nil {
		return nil, errors.Wrap(err, "Pipeline", "New", "register metrics")
	}
	p.metrics = metrics
	return p, nil
}

// RegisterObserver adds a bundle observer. Observers must be registered
// before Start.
func (p *Pipeline) RegisterObserver(obs BundleObserver) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Pipeline", "RegisterObserver", "register observer")
	}
	p.observers = append(p.observers, obs)
	return nil
}

// Start launches the transport and the three workers.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return errors.ErrAlreadyStarted
	}

	if err := p.transport.Start(ctx); err != nil {
		return errors.Wrap(err, "Pipeline", "Start", "start transport")
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.started = true

	p.wg.Add(3)
	go p.runWorker(workerCtx, &p.read, p.readLoop)
	go p.runWorker(workerCtx, &p.mapw, p.mapLoop)
	go p.runWorker(workerCtx, &p.send, p.sendLoop)

	p.logger.Info("pipeline started", "transport", p.transport.Name())
	return nil
}

// Stop shuts the pipeline down: workers move to Stopping, the worker
// context is cancelled, the transport is stopped to unblock Receive, and
// all worker goroutines are joined. After Stop returns no counter
// increments and no store mutations occur. Stop is idempotent; ctx bounds
// how long it waits for the workers.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = false
	p.stopped = true
	p.mu.Unlock()

	p.read.requestStop()
	p.mapw.requestStop()
	p.send.requestStop()
	p.cancel()

	if err := p.transport.Stop(ctx); err != nil {
		p.logger.Warn("transport stop failed", "error", err)
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "Pipeline", "Stop", "join workers")
	}

	_ = p.readQueue.Close()
	_ = p.sendQueue.Close()
	p.logger.Info("pipeline stopped")
	return nil
}

// SendCommand resolves a command name against the profile, assigns a
// correlation ID, and enqueues it for the send worker. When the queue is
// full the oldest queued command is dropped to make room. The correlation
// ID is returned for log matching.
func (p *Pipeline) SendCommand(name string) (string, error) {
	code, ok := p.translator.Profile().CommandCode(name)
	if !ok {
		return "", errors.WrapInvalid(errors.ErrUnknownCommand, "Pipeline", "SendCommand", fmt.Sprintf("resolve command %q", name))
	}
	id := uuid.New().String()

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return "", errors.WrapInvalid(errors.ErrNotStarted, "Pipeline", "SendCommand", "enqueue command")
	}
	qc := queuedCommand{
		name:    name,
		id:      id,
		command: packet.Command{Device: p.cfg.CommandDevice, Code: code},
	}
	if err := p.sendQueue.Write(qc); err != nil {
		return "", errors.Wrap(err, "Pipeline", "SendCommand", "enqueue command")
	}
	p.logger.Debug("command enqueued", "command", name, "correlation_id", id)
	return id, nil
}

// WorkerStates reports each worker's state without blocking.
func (p *Pipeline) WorkerStates() map[string]WorkerState {
	return map[string]WorkerState{
		p.read.name: p.read.State(),
		p.mapw.name: p.mapw.State(),
		p.send.name: p.send.State(),
	}
}

// Err returns the first terminal worker error, or nil when no worker has
// failed.
func (p *Pipeline) Err() error {
	for _, ws := range []*workerStatus{&p.read, &p.mapw, &p.send} {
		if err := ws.Err(); err != nil {
			return err
		}
	}
	return nil
}

// Health reports pipeline health for the /healthz checker: healthy when all
// workers run, degraded while starting or stopping, unhealthy when a worker
// died while the pipeline was supposed to run.
func (p *Pipeline) Health() health.ComponentHealth {
	p.mu.Lock()
	started, stopped := p.started, p.stopped
	p.mu.Unlock()

	if stopped {
		return health.NewDegraded("pipeline", "stopped")
	}
	if !started {
		return health.NewDegraded("pipeline", "not started")
	}
	if err := p.Err(); err != nil {
		return health.NewUnhealthy("pipeline", err.Error())
	}
	for name, state := range p.WorkerStates() {
		switch state {
		case WorkerRunning:
		case WorkerStarting, WorkerStopping:
			return health.NewDegraded("pipeline", name+" worker "+state.String())
		default:
			return health.NewUnhealthy("pipeline", name+" worker stopped unexpectedly")
		}
	}
	return health.NewHealthy("pipeline", "all workers running")
}

func (p *Pipeline) runWorker(ctx context.Context, ws *workerStatus, loop func(context.Context) error) {
	defer p.wg.Done()
	defer ws.setState(WorkerStopped)

	ws.state.CompareAndSwap(int32(WorkerStarting), int32(WorkerRunning))
	if err := loop(ctx); err != nil {
		ws.fail(err)
		p.logger.Error("worker exited", "worker", ws.name, "error", err)
	}
}

// readLoop receives frames, decodes them, and hands packets to the map
// worker. Malformed frames are counted and skipped; a dead transport ends
// the loop.
func (p *Pipeline) readLoop(ctx context.Context) error {
	for {
		frame, err := p.transport.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "Pipeline", "readLoop", "receive frame")
		}
		p.metrics.frames.Inc()

		pkt, err := packet.Decode(frame)
		if err != nil {
			p.metrics.decodeErrors.Inc()
			p.events.Increment(eventbus.EventDecodeError)
			p.logger.Warn("frame rejected", "error", err)
			continue
		}

		if err := p.readQueue.WriteContext(ctx, pkt); err != nil {
			return nil
		}
		p.events.Increment(pkt.Kind.String())
	}
}

// mapLoop translates packets in arrival order and commits the resulting
// bundles.
func (p *Pipeline) mapLoop(ctx context.Context) error {
	for {
		pkt, err := p.readQueue.ReadContext(ctx)
		if err != nil {
			return nil
		}

		bundle, dropped, err := p.translator.Translate(pkt)
		for range dropped {
			p.metrics.fieldsDropped.Inc()
		}
		if err != nil {
			if !errors.Is(err, errors.ErrEmptyBundle) {
				p.logger.Warn("translation failed", "kind", pkt.Kind.String(), "error", err)
			}
			continue
		}

		seq, err := p.store.InsertBundle(bundle)
		if err != nil {
			p.logger.Error("bundle insert failed", "error", err)
			continue
		}
		p.metrics.bundles.Inc()
		p.events.Increment(eventbus.EventBundleAdded)

		for _, obs := range p.observers {
			obs.ObserveBundle(bundle, seq)
		}
	}
}

// sendLoop encodes queued commands and writes them to the transport.
// Failed writes are logged and discarded; a closed transport ends the
// loop.
func (p *Pipeline) sendLoop(ctx context.Context) error {
	for {
		qc, err := p.sendQueue.ReadContext(ctx)
		if err != nil {
			return nil
		}

		frame := packet.EncodeCommand(qc.command)
		if err := p.transport.Send(ctx, frame); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.metrics.sendErrors.Inc()
			p.events.Increment(eventbus.EventSendError)
			p.logger.Error("command send failed",
				"command", qc.name, "correlation_id", qc.id, "error", err)
			if errors.Is(err, errors.ErrTransportClosed) {
				return errors.Wrap(err, "Pipeline", "sendLoop", "write command")
			}
			continue
		}
		p.metrics.commandsSent.Inc()
		p.events.Increment(eventbus.EventCommandSent)
		p.logger.Info("command sent", "command", qc.name, "correlation_id", qc.id)
	}
}

func (p *Pipeline) commandDropped(qc queuedCommand) {
	p.metrics.commandsDropped.Inc()
	p.events.Increment(eventbus.EventCommandDropped)
	p.logger.Warn("command dropped, send queue full",
		"command", qc.name, "correlation_id", qc.id)
}
