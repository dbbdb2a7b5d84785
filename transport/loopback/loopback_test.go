package loopback

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/groundstream/errors"
	"github.com/c360/groundstream/eventbus"
	"github.com/c360/groundstream/packet"
	"github.com/c360/groundstream/transport"
)

func startLoopback(t *testing.T, cfg transport.Config, events *eventbus.Registry) *Transport {
	t.Helper()

	lb := New(cfg, events, nil)
	require.NoError(t, lb.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = lb.Stop(ctx)
	})
	return lb
}

func TestInjectAndReceive(t *testing.T) {
	lb := startLoopback(t, transport.Config{}, nil)

	frame, err := packet.Encode(1, &packet.Message{Text: "hello"})
	require.NoError(t, err)
	require.NoError(t, lb.InjectFrame(frame))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := lb.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, frame, got)
}

func TestInjectCopiesFrame(t *testing.T) {
	lb := startLoopback(t, transport.Config{}, nil)

	frame, err := packet.Encode(1, &packet.Config{IsSimulation: true, RocketType: 2})
	require.NoError(t, err)
	require.NoError(t, lb.InjectFrame(frame))

	// Mutating the caller's slice must not corrupt the queued frame.
	frame[0] = 0xEE

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := lb.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, byte(packet.KindConfig), got[0])
}

func TestReceiveBlocksUntilInject(t *testing.T) {
	lb := startLoopback(t, transport.Config{}, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(20 * time.Millisecond)
		frame, _ := packet.Encode(1, &packet.Message{Text: "late"})
		_ = lb.InjectFrame(frame)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := lb.Receive(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, got)
	wg.Wait()
}

func TestStopClosesReceiveAndInjection(t *testing.T) {
	lb := New(transport.Config{}, nil, nil)
	require.NoError(t, lb.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, lb.Stop(ctx))

	_, err := lb.Receive(ctx)
	assert.ErrorIs(t, err, errors.ErrTransportClosed)

	frame, _ := packet.Encode(1, &packet.Message{Text: "dead"})
	assert.ErrorIs(t, lb.InjectFrame(frame), errors.ErrTransportClosed)

	assert.ErrorIs(t, lb.Send(ctx, packet.EncodeCommand(packet.Command{Code: 0x41})), errors.ErrTransportClosed)
}

func TestSendAcknowledgesArmDisarm(t *testing.T) {
	events := eventbus.New()
	lb := startLoopback(t, transport.Config{ArmCode: 0x41, DisarmCode: 0x44}, events)

	snap := events.Snapshot()

	require.NoError(t, lb.Send(context.Background(), packet.EncodeCommand(packet.Command{Code: 0x41})))
	delta, err := events.Wait(snap, EventArmed, 1, time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), delta)

	require.NoError(t, lb.Send(context.Background(), packet.EncodeCommand(packet.Command{Code: 0x44})))
	delta, err = events.Wait(snap, EventDisarmed, 1, time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), delta)
}

func TestSendInvokesHook(t *testing.T) {
	lb := startLoopback(t, transport.Config{}, nil)

	var mu sync.Mutex
	var got []packet.Command
	lb.OnCommand(func(cmd packet.Command) {
		mu.Lock()
		got = append(got, cmd)
		mu.Unlock()
	})

	require.NoError(t, lb.Send(context.Background(), packet.EncodeCommand(packet.Command{Device: 2, Code: 0x53})))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, uint8(0x53), got[0].Code)
}

func TestSendRejectsNonCommandFrames(t *testing.T) {
	lb := startLoopback(t, transport.Config{}, nil)

	frame, err := packet.Encode(1, &packet.Message{Text: "not a command"})
	require.NoError(t, err)

	err = lb.Send(context.Background(), frame)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestGeneratorEmitsBulkFrames(t *testing.T) {
	lb := startLoopback(t, transport.Config{
		Generate:         true,
		GenerateInterval: 10 * time.Millisecond,
		Device:           3,
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	frame, err := lb.Receive(ctx)
	require.NoError(t, err)

	pkt, err := packet.Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, packet.KindBulkSensor, pkt.Kind)
	assert.Equal(t, uint8(3), uint8(pkt.Device))

	// Mission time advances between generated frames.
	first := pkt.Payload.(*packet.BulkSensor).MissionTime
	frame, err = lb.Receive(ctx)
	require.NoError(t, err)
	pkt, err = packet.Decode(frame)
	require.NoError(t, err)
	assert.Greater(t, pkt.Payload.(*packet.BulkSensor).MissionTime, first)
}

func TestLifecycle(t *testing.T) {
	lb := New(transport.Config{}, nil, nil)

	require.NoError(t, lb.Start(context.Background()))
	assert.ErrorIs(t, lb.Start(context.Background()), errors.ErrAlreadyStarted)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, lb.Stop(ctx))
	require.NoError(t, lb.Stop(ctx))
}

func TestCapabilities(t *testing.T) {
	lb := New(transport.Config{}, nil, nil)

	caps := lb.Capabilities()
	assert.True(t, caps.SupportsInjection)
	assert.True(t, caps.SupportsSimulation)
	assert.True(t, caps.Reliable)
	assert.False(t, caps.RequiresAddress)
	assert.Equal(t, "loopback", lb.Name())
}
