// Package udp is the datagram transport: one datagram carries one frame.
// A reader goroutine with a short read deadline polls for shutdown and
// pushes datagrams into a bounded drop-oldest buffer; the radio link is
// already lossy, so latest data wins over backpressure.
package udp

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/c360/groundstream/errors"
	"github.com/c360/groundstream/pkg/buffer"
	"github.com/c360/groundstream/transport"
)

const (
	defaultReceiveBuffer = 1024
	readDeadline         = 250 * time.Millisecond
	maxDatagram          = 2048
)

// Transport is the UDP implementation of transport.Transport.
type Transport struct {
	cfg    transport.Config
	logger *slog.Logger

	recv *buffer.Ring[[]byte]

	mu      sync.Mutex
	started bool
	conn    *net.UDPConn
	remote  *net.UDPAddr
	stopCh  chan struct{}
	wg      sync.WaitGroup

	peerMu sync.Mutex
	peer   *net.UDPAddr
}

// New builds a UDP transport from configuration. The listen address is
// validated at Start.
func New(cfg transport.Config, logger *slog.Logger) (*Transport, error) {
	if cfg.Address == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "UDP", "New", "resolve listen address")
	}
	if cfg.ReceiveBuffer <= 0 {
		cfg.ReceiveBuffer = defaultReceiveBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}

	recv, _ := buffer.New[[]byte](cfg.ReceiveBuffer)
	return &Transport{
		cfg:    cfg,
		logger: logger.With("component", "transport", "transport", "udp"),
		recv:   recv,
	}, nil
}

// Factory adapts New to the transport registry.
func Factory(logger *slog.Logger) transport.Factory {
	return func(cfg transport.Config) (transport.Transport, error) {
		return New(cfg, logger)
	}
}

// Name implements transport.Transport.
func (t *Transport) Name() string {
	return "udp"
}

// Capabilities implements transport.Transport.
func (t *Transport) Capabilities() transport.Capabilities {
	return transport.Capabilities{
		RequiresAddress:    true,
		SupportsInjection:  false,
		SupportsSimulation: false,
		Reliable:           false,
	}
}

// Start binds the listen socket and spawns the reader.
func (t *Transport) Start(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started {
		return errors.ErrAlreadyStarted
	}

	listenAddr, err := net.ResolveUDPAddr("udp", t.cfg.Address)
	if err != nil {
		return errors.WrapInvalid(err, "UDP", "Start", "resolve listen address")
	}

	if t.cfg.Remote != "" {
		remote, err := net.ResolveUDPAddr("udp", t.cfg.Remote)
		if err != nil {
			return errors.WrapInvalid(err, "UDP", "Start", "resolve remote address")
		}
		t.remote = remote
	}

	conn, err := net.ListenUDP("udp", listenAddr)
	if err != nil {
		return errors.Wrap(err, "UDP", "Start", "bind listen socket")
	}

	t.started = true
	t.conn = conn
	t.stopCh = make(chan struct{})
	t.wg.Add(1)
	go t.readLoop()

	t.logger.Info("udp transport listening",
		"addr", conn.LocalAddr().String(), "remote", t.cfg.Remote)
	return nil
}

// Stop closes the socket, joins the reader and closes the receive buffer.
// A stopped transport cannot be restarted; construct a new one.
func (t *Transport) Stop(ctx context.Context) error {
	t.mu.Lock()
	if !t.started {
		t.mu.Unlock()
		return nil
	}
	t.started = false
	close(t.stopCh)
	conn := t.conn
	t.mu.Unlock()

	_ = conn.Close()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "UDP", "Stop", "join reader")
	}

	_ = t.recv.Close()
	return nil
}

// LocalAddr reports the bound socket address, nil before Start.
func (t *Transport) LocalAddr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	return t.conn.LocalAddr()
}

func (t *Transport) readLoop() {
	defer t.wg.Done()

	buf := make([]byte, maxDatagram)
	for {
		select {
		case <-t.stopCh:
			return
		default:
		}

		// The deadline keeps the loop responsive to shutdown without
		// busy-waiting.
		_ = t.conn.SetReadDeadline(time.Now().Add(readDeadline))
		n, sender, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}
			select {
			case <-t.stopCh:
			default:
				t.logger.Error("udp read failed", "error", err)
			}
			return
		}

		t.peerMu.Lock()
		t.peer = sender
		t.peerMu.Unlock()

		frame := make([]byte, n)
		copy(frame, buf[:n])
		if err := t.recv.Write(frame); err != nil {
			return
		}
	}
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

// Send writes a command frame to the configured remote, falling back to
// the most recently seen peer.
func (t *Transport) Send(_ context.Context, frame []byte) error {
	t.mu.Lock()
	started := t.started
	conn := t.conn
	remote := t.remote
	t.mu.Unlock()

	if !started {
		return errors.ErrTransportClosed
	}

	dest := remote
	if dest == nil {
		t.peerMu.Lock()
		dest = t.peer
		t.peerMu.Unlock()
	}
	if dest == nil {
		return errors.ErrNoPeer
	}

	if _, err := conn.WriteToUDP(frame, dest); err != nil {
		return errors.WrapTransient(err, "UDP", "Send", "write datagram")
	}
	return nil
}

// Stats exposes receive buffer counters for diagnostics.
func (t *Transport) Stats() buffer.Stats {
	return t.recv.Stats()
}
