package relay

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/groundstream/errors"
	"github.com/c360/groundstream/eventbus"
	"github.com/c360/groundstream/metric"
	"github.com/c360/groundstream/telemetry"
	"github.com/c360/groundstream/testutil"
)

const waitTimeout = 2 * time.Second

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startRelay(t *testing.T, cfg Config, opts ...Option) (*Relay, *eventbus.Registry) {
	t.Helper()

	events := eventbus.New()
	opts = append([]Option{WithEvents(events), WithLogger(discardLogger())}, opts...)
	r, err := New(cfg, opts...)
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = r.Stop(ctx)
	})
	return r, events
}

func testBundle(device telemetry.DeviceID) telemetry.Bundle {
	return telemetry.Bundle{
		Device: device,
		At:     time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		Fields: []telemetry.Field{
			{ID: telemetry.FieldCalculatedAltitude, Value: telemetry.Numeric(120.5)},
			{ID: telemetry.FieldMainContinuity, Value: telemetry.Bool(true)},
			{ID: telemetry.FieldMessage, Value: telemetry.Text("nominal")},
		},
	}
}

func TestRelayPublishesEnvelope(t *testing.T) {
	pub := testutil.NewMockPublisher()
	r, events := startRelay(t, Config{}, WithPublisher(pub))

	snap := events.Snapshot()
	r.ObserveBundle(testBundle(3), 7)
	_, err := events.Wait(snap, EventPublished, 1, waitTimeout)
	require.NoError(t, err)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "telemetry.bundles.3", msgs[0].Subject)

	var env telemetry.Envelope
	require.NoError(t, json.Unmarshal(msgs[0].Data, &env))
	_, err = uuid.Parse(env.ID)
	assert.NoError(t, err)
	assert.Equal(t, telemetry.DeviceID(3), env.Device)
	assert.Equal(t, uint64(7), env.Seq)
	assert.True(t, env.At.Equal(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)))

	alt, ok := env.Fields["calculated_altitude"].Numeric()
	require.True(t, ok)
	assert.Equal(t, 120.5, alt)
	cont, ok := env.Fields["main_continuity"].Bool()
	require.True(t, ok)
	assert.True(t, cont)
	msg, ok := env.Fields["message"].Text()
	require.True(t, ok)
	assert.Equal(t, "nominal", msg)
}

func TestRelaySubjectPerDevice(t *testing.T) {
	pub := testutil.NewMockPublisher()
	r, events := startRelay(t, Config{SubjectPrefix: "gs.telemetry"}, WithPublisher(pub))

	snap := events.Snapshot()
	r.ObserveBundle(testBundle(1), 1)
	r.ObserveBundle(testBundle(2), 2)
	_, err := events.Wait(snap, EventPublished, 2, waitTimeout)
	require.NoError(t, err)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "gs.telemetry.1", msgs[0].Subject)
	assert.Equal(t, "gs.telemetry.2", msgs[1].Subject)
}

func TestRelayPublishErrorContinues(t *testing.T) {
	pub := testutil.NewMockPublisher()
	pub.SetError(assert.AnError)
	r, events := startRelay(t, Config{}, WithPublisher(pub))

	snap := events.Snapshot()
	r.ObserveBundle(testBundle(3), 1)
	_, err := events.Wait(snap, EventPublishError, 1, waitTimeout)
	require.NoError(t, err)

	pub.SetError(nil)
	r.ObserveBundle(testBundle(3), 2)
	_, err = events.Wait(snap, EventPublished, 1, waitTimeout)
	require.NoError(t, err)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	var env telemetry.Envelope
	require.NoError(t, json.Unmarshal(msgs[0].Data, &env))
	assert.Equal(t, uint64(2), env.Seq)
}

// gatedPublisher blocks inside Publish until gate closes, signalling entry
// on entered so tests can fill the buffer while the worker is busy.
type gatedPublisher struct {
	gate    chan struct{}
	entered chan struct{}

	mu   sync.Mutex
	seqs []uint64
}

func newGatedPublisher() *gatedPublisher {
	return &gatedPublisher{
		gate:    make(chan struct{}),
		entered: make(chan struct{}, 8),
	}
}

func (g *gatedPublisher) Publish(_ context.Context, _ string, data []byte) error {
	g.entered <- struct{}{}
	<-g.gate
	var env telemetry.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	g.mu.Lock()
	g.seqs = append(g.seqs, env.Seq)
	g.mu.Unlock()
	return nil
}

func (g *gatedPublisher) published() []uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]uint64(nil), g.seqs...)
}

func TestRelayDropsOldestWhenFull(t *testing.T) {
	pub := newGatedPublisher()
	r, events := startRelay(t, Config{BufferSize: 1}, WithPublisher(pub))

	snap := events.Snapshot()
	r.ObserveBundle(testBundle(3), 1)
	select {
	case <-pub.entered:
	case <-time.After(waitTimeout):
		t.Fatal("publisher never entered")
	}

	r.ObserveBundle(testBundle(3), 2)
	r.ObserveBundle(testBundle(3), 3)
	_, err := events.Wait(snap, EventDropped, 1, waitTimeout)
	require.NoError(t, err)

	close(pub.gate)
	_, err = events.Wait(snap, EventPublished, 2, waitTimeout)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 3}, pub.published())
}

func TestRelayStopDrains(t *testing.T) {
	pub := testutil.NewMockPublisher()
	r, _ := startRelay(t, Config{}, WithPublisher(pub))

	r.ObserveBundle(testBundle(3), 1)
	r.ObserveBundle(testBundle(3), 2)
	r.ObserveBundle(testBundle(3), 3)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, r.Stop(ctx))
	assert.Equal(t, 3, pub.Count())

	r.ObserveBundle(testBundle(3), 4)
	assert.Equal(t, 3, pub.Count())
	assert.NoError(t, r.Stop(ctx))
}

func TestRelayObserveBeforeStartBuffers(t *testing.T) {
	pub := testutil.NewMockPublisher()
	events := eventbus.New()
	r, err := New(Config{}, WithPublisher(pub), WithEvents(events), WithLogger(discardLogger()))
	require.NoError(t, err)

	r.ObserveBundle(testBundle(3), 1)
	assert.Zero(t, pub.Count())

	snap := events.Snapshot()
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = r.Stop(ctx)
	})

	_, err = events.Wait(snap, EventPublished, 1, waitTimeout)
	require.NoError(t, err)
	assert.Equal(t, 1, pub.Count())
}

func TestRelayLifecycle(t *testing.T) {
	r, _ := startRelay(t, Config{}, WithPublisher(testutil.NewMockPublisher()))

	err := r.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrAlreadyStarted))
}

func TestNewRelayValidation(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.True(t, errors.Is(err, errors.ErrMissingConfig))
}

func TestRelayMetricsExported(t *testing.T) {
	registry := metric.NewRegistry()
	pub := testutil.NewMockPublisher()
	pub.SetError(assert.AnError)
	r, events := startRelay(t, Config{BufferSize: 1}, WithPublisher(pub), WithMetrics(registry))

	snap := events.Snapshot()
	r.ObserveBundle(testBundle(3), 1)
	_, err := events.Wait(snap, EventPublishError, 1, waitTimeout)
	require.NoError(t, err)

	pub.SetError(nil)
	r.ObserveBundle(testBundle(3), 2)
	_, err = events.Wait(snap, EventPublished, 1, waitTimeout)
	require.NoError(t, err)

	expected := `
# HELP groundstream_relay_publish_errors_total Publishes the broker rejected.
# TYPE groundstream_relay_publish_errors_total counter
groundstream_relay_publish_errors_total 1
# HELP groundstream_relay_published_total Envelopes published to the broker.
# TYPE groundstream_relay_published_total counter
groundstream_relay_published_total 1
`
	require.NoError(t, promtestutil.GatherAndCompare(registry.Prometheus(), strings.NewReader(expected),
		"groundstream_relay_published_total",
		"groundstream_relay_publish_errors_total"))
}
