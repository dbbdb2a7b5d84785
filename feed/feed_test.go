package feed

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/groundstream/errors"
	"github.com/c360/groundstream/eventbus"
	"github.com/c360/groundstream/metric"
	"github.com/c360/groundstream/store"
	"github.com/c360/groundstream/telemetry"
)

const waitTimeout = 2 * time.Second

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testBundle(device telemetry.DeviceID) telemetry.Bundle {
	return telemetry.Bundle{
		Device: device,
		At:     time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		Fields: []telemetry.Field{
			{ID: telemetry.FieldCalculatedAltitude, Value: telemetry.Numeric(42.5)},
			{ID: telemetry.FieldState, Value: telemetry.Numeric(4)},
		},
	}
}

func startFeed(t *testing.T, cfg Config, source SnapshotSource, opts ...Option) (*Server, *eventbus.Registry) {
	t.Helper()

	events := eventbus.New()
	opts = append([]Option{WithEvents(events), WithLogger(discardLogger())}, opts...)
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:0"
	}
	s, err := New(cfg, source, opts...)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s, events
}

func dialFeed(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()

	url := "ws://" + s.Address() + s.cfg.Path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitTimeout)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestFeedSnapshotOnConnect(t *testing.T) {
	st := store.New()
	seq, err := st.InsertBundle(testBundle(3))
	require.NoError(t, err)

	s, _ := startFeed(t, Config{}, st)
	conn := dialFeed(t, s)

	msg := readFrame(t, conn)
	assert.Equal(t, MessageTypeSnapshot, msg.Type)
	require.NotNil(t, msg.Snapshot)
	assert.Equal(t, seq, msg.Snapshot.Seq)
	assert.False(t, msg.Snapshot.SavedAt.IsZero())

	alt, ok := msg.Snapshot.Fields["calculated_altitude"].Numeric()
	require.True(t, ok)
	assert.Equal(t, 42.5, alt)
	state, ok := msg.Snapshot.Fields["state"].Numeric()
	require.True(t, ok)
	assert.Equal(t, 4.0, state)
}

func TestFeedBroadcastsBundle(t *testing.T) {
	st := store.New()
	s, events := startFeed(t, Config{}, st)

	snap := events.Snapshot()
	conn := dialFeed(t, s)
	_, err := events.Wait(snap, EventConnected, 1, waitTimeout)
	require.NoError(t, err)
	readFrame(t, conn)

	s.ObserveBundle(testBundle(3), 7)
	_, err = events.Wait(snap, EventBroadcast, 1, waitTimeout)
	require.NoError(t, err)

	msg := readFrame(t, conn)
	assert.Equal(t, MessageTypeBundle, msg.Type)
	require.NotNil(t, msg.Bundle)
	assert.Equal(t, telemetry.DeviceID(3), msg.Bundle.Device)
	assert.Equal(t, uint64(7), msg.Bundle.Seq)
	_, err = uuid.Parse(msg.Bundle.ID)
	assert.NoError(t, err)

	alt, ok := msg.Bundle.Fields["calculated_altitude"].Numeric()
	require.True(t, ok)
	assert.Equal(t, 42.5, alt)
}

func TestFeedMultipleClients(t *testing.T) {
	st := store.New()
	s, events := startFeed(t, Config{}, st)

	snap := events.Snapshot()
	first := dialFeed(t, s)
	second := dialFeed(t, s)
	_, err := events.Wait(snap, EventConnected, 2, waitTimeout)
	require.NoError(t, err)
	readFrame(t, first)
	readFrame(t, second)

	s.ObserveBundle(testBundle(3), 1)
	_, err = events.Wait(snap, EventBroadcast, 1, waitTimeout)
	require.NoError(t, err)

	for _, conn := range []*websocket.Conn{first, second} {
		msg := readFrame(t, conn)
		assert.Equal(t, MessageTypeBundle, msg.Type)
		require.NotNil(t, msg.Bundle)
		assert.Equal(t, uint64(1), msg.Bundle.Seq)
	}
}

func TestFeedClientDisconnectDetected(t *testing.T) {
	st := store.New()
	s, events := startFeed(t, Config{}, st)

	snap := events.Snapshot()
	conn := dialFeed(t, s)
	_, err := events.Wait(snap, EventConnected, 1, waitTimeout)
	require.NoError(t, err)
	readFrame(t, conn)

	require.NoError(t, conn.Close())
	_, err = events.Wait(snap, EventDisconnected, 1, waitTimeout)
	require.NoError(t, err)

	// Broadcasting with no clients still drains the buffer.
	s.ObserveBundle(testBundle(3), 1)
	_, err = events.Wait(snap, EventBroadcast, 1, waitTimeout)
	require.NoError(t, err)
	assert.Zero(t, events.Counter(EventSendError).Value())
}

func TestFeedStopClosesClients(t *testing.T) {
	st := store.New()
	s, events := startFeed(t, Config{}, st)

	snap := events.Snapshot()
	conn := dialFeed(t, s)
	_, err := events.Wait(snap, EventConnected, 1, waitTimeout)
	require.NoError(t, err)
	readFrame(t, conn)

	addr := s.Address()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitTimeout)))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway) || !websocket.IsUnexpectedCloseError(err))

	// The listener is gone and late observes are ignored.
	_, _, err = websocket.DefaultDialer.Dial("ws://"+addr+s.cfg.Path, nil)
	require.Error(t, err)
	s.ObserveBundle(testBundle(3), 2)
	assert.NoError(t, s.Stop(ctx))
}

func TestFeedDropsOldestWhenFull(t *testing.T) {
	st := store.New()
	events := eventbus.New()
	s, err := New(Config{Addr: "127.0.0.1:0", BufferSize: 1}, st,
		WithEvents(events), WithLogger(discardLogger()))
	require.NoError(t, err)

	s.ObserveBundle(testBundle(3), 1)
	s.ObserveBundle(testBundle(3), 2)
	assert.EqualValues(t, 1, events.Counter(EventDropped).Value())

	snap := events.Snapshot()
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		_ = s.Stop(ctx)
	})

	// Only the surviving envelope is broadcast.
	_, err = events.Wait(snap, EventBroadcast, 1, waitTimeout)
	require.NoError(t, err)
	assert.EqualValues(t, 1, events.Counter(EventBroadcast).Value())
}

func TestFeedLifecycle(t *testing.T) {
	st := store.New()
	s, _ := startFeed(t, Config{}, st)

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrAlreadyStarted))
}

func TestNewFeedValidation(t *testing.T) {
	_, err := New(Config{}, store.New())
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	_, err = New(Config{Addr: ":0"}, nil)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestFeedMetricsExported(t *testing.T) {
	registry := metric.NewRegistry()
	st := store.New()
	s, events := startFeed(t, Config{}, st, WithMetrics(registry))

	snap := events.Snapshot()
	conn := dialFeed(t, s)
	_, err := events.Wait(snap, EventConnected, 1, waitTimeout)
	require.NoError(t, err)
	readFrame(t, conn)

	s.ObserveBundle(testBundle(3), 1)
	_, err = events.Wait(snap, EventBroadcast, 1, waitTimeout)
	require.NoError(t, err)
	readFrame(t, conn)

	expected := `
# HELP groundstream_feed_clients Currently connected feed clients.
# TYPE groundstream_feed_clients gauge
groundstream_feed_clients 1
# HELP groundstream_feed_connections_total WebSocket connections accepted since start.
# TYPE groundstream_feed_connections_total counter
groundstream_feed_connections_total 1
# HELP groundstream_feed_messages_sent_total Frames delivered to feed clients.
# TYPE groundstream_feed_messages_sent_total counter
groundstream_feed_messages_sent_total 2
`
	require.NoError(t, promtestutil.GatherAndCompare(registry.Prometheus(), strings.NewReader(expected),
		"groundstream_feed_clients",
		"groundstream_feed_connections_total",
		"groundstream_feed_messages_sent_total"))
}
