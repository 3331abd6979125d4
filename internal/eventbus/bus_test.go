package eventbus

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orpar-labs/orpar-core/internal/core"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	reg := NewSchemaRegistry()
	require.NoError(t, RegisterDefaults(reg))
	return New(WithSchemaRegistry(reg))
}

func TestBusEmitFanOutSync(t *testing.T) {
	bus := newTestBus(t)
	ctx := context.Background()

	var count int32
	sub := bus.Subscribe(Topic(core.EventStarted), func(ctx context.Context, payload any) error {
		atomic.AddInt32(&count, 1)
		return nil
	})
	defer sub.Close()

	payload := core.StartedData{LoopID: "loop-1", Status: "running"}
	require.NoError(t, bus.Emit(ctx, core.EventStarted, Topic(core.EventStarted), payload))
	require.NoError(t, bus.Emit(ctx, core.EventStarted, Topic(core.EventStarted), payload))
	require.EqualValues(t, 2, atomic.LoadInt32(&count))
}

func TestBusSubscriptionCloseStopsDelivery(t *testing.T) {
	bus := newTestBus(t)
	ctx := context.Background()

	var count int32
	sub := bus.Subscribe(Topic(core.EventStarted), func(ctx context.Context, payload any) error {
		atomic.AddInt32(&count, 1)
		return nil
	})

	payload := core.StartedData{LoopID: "loop-1", Status: "running"}
	require.NoError(t, bus.Emit(ctx, core.EventStarted, Topic(core.EventStarted), payload))
	sub.Close()
	require.NoError(t, bus.Emit(ctx, core.EventStarted, Topic(core.EventStarted), payload))
	require.EqualValues(t, 1, atomic.LoadInt32(&count))
}

func TestBusRetainSharesSubscription(t *testing.T) {
	bus := newTestBus(t)
	ctx := context.Background()

	var count int32
	sub := bus.Subscribe(Topic(core.EventStarted), func(ctx context.Context, payload any) error {
		atomic.AddInt32(&count, 1)
		return nil
	})
	sub.Retain()

	payload := core.StartedData{LoopID: "loop-1", Status: "running"}
	sub.Close() // refcount 1, handler still registered
	require.NoError(t, bus.Emit(ctx, core.EventStarted, Topic(core.EventStarted), payload))
	require.EqualValues(t, 1, atomic.LoadInt32(&count))

	sub.Close() // refcount 0, now unregistered
	require.NoError(t, bus.Emit(ctx, core.EventStarted, Topic(core.EventStarted), payload))
	require.EqualValues(t, 1, atomic.LoadInt32(&count))
}

func TestBusEmitRejectsSchemaViolation(t *testing.T) {
	bus := newTestBus(t)
	ctx := context.Background()

	err := bus.Emit(ctx, core.EventStarted, Topic(core.EventStarted), core.StartedData{})
	require.ErrorIs(t, err, core.ErrSchemaViolation)
}

func TestBusEmitUnregisteredEventIsSchemaViolation(t *testing.T) {
	bus := New(WithSchemaRegistry(NewSchemaRegistry()))
	err := bus.Emit(context.Background(), core.EventName("ORPAR.Unknown"), Topic("unknown"), map[string]any{})
	require.ErrorIs(t, err, core.ErrSchemaViolation)
}

func TestBusAsyncCriticalTopicNeverDrops(t *testing.T) {
	bus := newTestBus(t)
	bus.Configure(Topic(core.EventReflection), TopicConfig{Async: true, Critical: true})
	bus.Start(2)
	defer bus.Stop()

	var count int32
	done := make(chan struct{})
	sub := bus.Subscribe(Topic(core.EventReflection), func(ctx context.Context, payload any) error {
		if atomic.AddInt32(&count, 1) == 5 {
			close(done)
		}
		return nil
	})
	defer sub.Close()

	ctx := context.Background()
	payload := core.ReflectionData{
		LoopID: "loop-1",
		Context: core.ReflectionCtx{
			Reflection: core.Reflection{ReflectionID: "r1", PlanID: "p1", Success: true},
		},
	}
	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Emit(ctx, core.EventReflection, Topic(core.EventReflection), payload))
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected 5 deliveries, got %d", atomic.LoadInt32(&count))
	}
}

func TestBusAsyncNonCriticalDropsOnFullQueue(t *testing.T) {
	reg := NewSchemaRegistry()
	require.NoError(t, RegisterDefaults(reg))
	bus := New(WithSchemaRegistry(reg))
	bus.queue = make(chan queueItem, 1) // force immediate backpressure
	bus.Configure(Topic(core.EventAction), TopicConfig{Async: true})

	// No workers started: the one queue slot fills, the next Emit must drop.
	payload := core.ActionData{
		LoopID: "loop-1",
		Action: core.Action{ID: "a1", Tool: "search"},
		Status: core.ActionPending,
	}
	ctx := context.Background()
	require.NoError(t, bus.Emit(ctx, core.EventAction, Topic(core.EventAction), payload))
	err := bus.Emit(ctx, core.EventAction, Topic(core.EventAction), payload)
	require.Error(t, err)
	require.EqualValues(t, 1, bus.Dropped())
}
