// Package loopback is an in-process transport for tests and debugging.
// Frames are injected programmatically or, with the generator enabled,
// produced synthetically at a fixed interval. Outbound command frames are
// handed to an OnCommand hook instead of leaving the process.
package loopback

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/c360/groundstream/errors"
	"github.com/c360/groundstream/eventbus"
	"github.com/c360/groundstream/packet"
	"github.com/c360/groundstream/pkg/buffer"
	"github.com/c360/groundstream/telemetry"
	"github.com/c360/groundstream/transport"
)

// Acknowledgment events emitted when the matching command frame is sent.
const (
	EventArmed    = "armed"
	EventDisarmed = "disarmed"
)

const (
	defaultReceiveBuffer    = 256
	defaultGenerateInterval = time.Second
)

// CommandHook observes every outbound command the loopback accepts.
type CommandHook func(cmd packet.Command)

// Transport is the loopback implementation of transport.Transport.
type Transport struct {
	cfg    transport.Config
	events *eventbus.Registry
	logger *slog.Logger

	recv *buffer.Ring[[]byte]

	hookMu    sync.Mutex
	onCommand CommandHook

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	genMu       sync.Mutex
	missionTime float64
}

// New builds a loopback transport. The event registry may be nil when
// acknowledgment events are not needed.
func New(cfg transport.Config, events *eventbus.Registry, logger *slog.Logger) *Transport {
	if cfg.ReceiveBuffer <= 0 {
		cfg.ReceiveBuffer = defaultReceiveBuffer
	}
	if cfg.GenerateInterval <= 0 {
		cfg.GenerateInterval = defaultGenerateInterval
	}
	if events == nil {
		events = eventbus.New()
	}
	if logger == nil {
		logger = slog.Default()
	}

	recv, _ := buffer.New[[]byte](cfg.ReceiveBuffer)
	return &Transport{
		cfg:    cfg,
		events: events,
		logger: logger.With("component", "transport", "transport", "loopback"),
		recv:   recv,
	}
}

// Factory adapts New to the transport registry.
func Factory(events *eventbus.Registry, logger *slog.Logger) transport.Factory {
	return func(cfg transport.Config) (transport.Transport, error) {
		return New(cfg, events, logger), nil
	}
}

// Name implements transport.Transport.
func (t *Transport) Name() string {
	return "loopback"
}

// Capabilities implements transport.Transport.
func (t *Transport) Capabilities() transport.Capabilities {
	return transport.Capabilities{
		RequiresAddress:    false,
		SupportsInjection:  true,
		SupportsSimulation: true,
		Reliable:           true,
	}
}

// OnCommand installs the hook invoked for every outbound command frame.
func (t *Transport) OnCommand(hook CommandHook) {
	t.hookMu.Lock()
	t.onCommand = hook
	t.hookMu.Unlock()
}

// Start launches the generator when configured.
func (t *Transport) Start(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started {
		return errors.ErrAlreadyStarted
	}
	t.started = true
	t.stopCh = make(chan struct{})

	if t.cfg.Generate {
		t.wg.Add(1)
		go t.generate()
	}

	t.logger.Info("loopback transport started", "generate", t.cfg.Generate)
	return nil
}

// Stop closes the receive side and joins the generator. Injection and
// Receive return errors.ErrTransportClosed afterwards; a stopped transport
// cannot be restarted.
func (t *Transport) Stop(ctx context.Context) error {
	t.mu.Lock()
	if !t.started {
		t.mu.Unlock()
		return nil
	}
	t.started = false
	close(t.stopCh)
	t.mu.Unlock()

	_ = t.recv.Close()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "Loopback", "Stop", "join generator")
	}
}

// InjectFrame feeds one frame to the receive side, as if it had arrived
// from a device.
func (t *Transport) InjectFrame(frame []byte) error {
	copied := make([]byte, len(frame))
	copy(copied, frame)

	if err := t.recv.Write(copied); err != nil {
		return errors.ErrTransportClosed
	}
	return nil
}

// Receive implements transport.Transport.
func (t *Transport) Receive(ctx context.Context) ([]byte, error) {
	frame, err := t.recv.ReadContext(ctx)
	if err != nil {
		if errors.Is(err, errors.ErrBufferClosed) {
			return nil, errors.ErrTransportClosed
		}
		return nil, err
	}
	return frame, nil
}

// Send accepts an outbound command frame. Arm and disarm commands are
// acknowledged by incrementing their event counters.
func (t *Transport) Send(_ context.Context, frame []byte) error {
	t.mu.Lock()
	started := t.started
	t.mu.Unlock()
	if !started {
		return errors.ErrTransportClosed
	}

	pkt, err := parseCommand(frame)
	if err != nil {
		return err
	}

	switch pkt.Code {
	case t.cfg.ArmCode:
		t.events.Increment(EventArmed)
	case t.cfg.DisarmCode:
		t.events.Increment(EventDisarmed)
	}
	t.logger.Debug("loopback command", "device", pkt.Device, "code", pkt.Code)

	t.hookMu.Lock()
	hook := t.onCommand
	t.hookMu.Unlock()
	if hook != nil {
		hook(pkt)
	}
	return nil
}

func parseCommand(frame []byte) (packet.Command, error) {
	if len(frame) != 3 || packet.Kind(frame[0]) != packet.KindCommand {
		return packet.Command{}, errors.WrapInvalid(
			errors.ErrInvalidData, "Loopback", "Send", "parse outbound frame")
	}
	return packet.Command{Device: telemetry.DeviceID(frame[1]), Code: frame[2]}, nil
}

// generate emits a synthetic bulk-sensor frame per interval, roughly the
// shape of real flight data.
func (t *Transport) generate() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.cfg.GenerateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			frame, err := packet.Encode(telemetry.DeviceID(t.cfg.Device), t.nextBulk())
			if err != nil {
				t.logger.Error("generate bulk frame", "error", err)
				continue
			}
			if err := t.InjectFrame(frame); err != nil {
				return
			}
		}
	}
}

func (t *Transport) nextBulk() *packet.BulkSensor {
	t.genMu.Lock()
	t.missionTime += t.cfg.GenerateInterval.Seconds()
	mt := t.missionTime
	t.genMu.Unlock()

	return &packet.BulkSensor{
		MissionTime: mt,
		Altitude:    rand.Float64() * 10000,
		AccelX:      rand.Float64() * 4,
		AccelY:      rand.Float64() * 4,
		AccelZ:      9.8 + rand.Float64(),
		Orient1:     rand.Float64() * 360,
		Orient2:     rand.Float64() * 360,
		Orient3:     rand.Float64() * 360,
		Latitude:    49.0 + rand.Float64(),
		Longitude:   -123.0 - rand.Float64(),
		State:       float64(rand.IntN(7)),
	}
}
