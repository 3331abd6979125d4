package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orpar-labs/orpar-core/internal/core"
	"github.com/orpar-labs/orpar-core/internal/eventbus"
	"github.com/orpar-labs/orpar-core/internal/memory"
	"github.com/orpar-labs/orpar-core/internal/registry"
	"github.com/orpar-labs/orpar-core/internal/strata"
	"github.com/orpar-labs/orpar-core/internal/validation"
)

type fakeReasoner struct{}

func (fakeReasoner) Reason(_ context.Context, loop *core.Loop) (*core.Reasoning, error) {
	return &core.Reasoning{ReasoningID: "r1", LoopID: loop.LoopID, Content: "reasoned", CreatedAt: time.Now()}, nil
}

type fakePlanner struct{ actionTool string }

func (f fakePlanner) Plan(_ context.Context, loop *core.Loop, reasoning *core.Reasoning) (*core.Plan, error) {
	return &core.Plan{
		PlanID:      "p1",
		ReasoningID: reasoning.ReasoningID,
		Goal:        "do the thing",
		Actions: []*core.Action{
			{ID: "a1", Tool: f.actionTool, Status: core.ActionPending},
		},
		CreatedAt: time.Now(),
	}, nil
}

type fakeExecutor struct{}

func (fakeExecutor) Execute(_ context.Context, _ *core.Loop, action *core.Action) (any, error) {
	return map[string]any{"ok": true, "tool": action.Tool}, nil
}

type failingExecutor struct{}

func (failingExecutor) Execute(_ context.Context, _ *core.Loop, _ *core.Action) (any, error) {
	return nil, fmt.Errorf("boom")
}

type fakeReflector struct {
	mu     sync.Mutex
	called int
}

func (f *fakeReflector) Reflect(_ context.Context, loop *core.Loop, plan *core.Plan) (*core.Reflection, error) {
	f.mu.Lock()
	f.called++
	f.mu.Unlock()
	return &core.Reflection{
		ReflectionID:    "refl1",
		PlanID:          plan.PlanID,
		Success:         true,
		LearningSignals: core.LearningSignals{Reward: 1.0},
	}, nil
}

func newTestEngine(t *testing.T, exec ToolExecutor, reflector Reflector) (*Engine, *registry.Registry) {
	t.Helper()
	schemas := eventbus.NewSchemaRegistry()
	require.NoError(t, eventbus.RegisterDefaults(schemas))
	bus := eventbus.New(eventbus.WithSchemaRegistry(schemas))
	reg := registry.New()
	require.NoError(t, reg.Register(&core.ToolDescriptor{
		Name:         "search",
		Source:       core.ToolInternal,
		RiskLevel:    core.RiskAsync,
		PhaseAllowed: map[core.Phase]struct{}{core.PhaseAct: {}},
	}))
	val := validation.New()
	mem := memory.New()
	router := strata.New()

	eng := New(bus, reg, val, mem, router,
		WithReasoner(fakeReasoner{}),
		WithPlanner(fakePlanner{actionTool: "search"}),
		WithToolExecutor(exec),
		WithReflector(reflector),
	)
	return eng, reg
}

// waitForPhase polls (the engine exposes no blocking "wait" primitive by
// design; phase advancement happens off a background goroutine per the
// actor's async Reason/Plan calls) until loop reaches phase or the timeout
// fires.
func waitForPhase(t *testing.T, eng *Engine, loopID string, phase core.Phase, timeout time.Duration) *core.Loop {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		loop, ok := eng.Loop(loopID)
		require.True(t, ok)
		if loop.Phase == phase {
			return loop
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("loop never reached phase %s", phase)
	return nil
}

func TestHappyPathFullCycle(t *testing.T) {
	reflector := &fakeReflector{}
	eng, _ := newTestEngine(t, fakeExecutor{}, reflector)
	ctx := context.Background()

	loop, err := eng.StartLoop(ctx, "agent1", "chan1", 5)
	require.NoError(t, err)
	require.Equal(t, core.PhaseObserve, loop.Phase)

	require.NoError(t, eng.SubmitObservation(ctx, loop.LoopID, core.Observation{Content: "hello"}))

	waitForPhase(t, eng, loop.LoopID, core.PhaseAct, time.Second)

	result, err := eng.AdmitToolCall(ctx, loop.LoopID, "a1", "search", map[string]any{})
	require.NoError(t, err)
	require.NotNil(t, result)

	final := waitForPhase(t, eng, loop.LoopID, core.PhaseObserve, time.Second)
	require.Nil(t, final.CurrentPlan)
	require.Equal(t, 1, reflector.called)
}

func TestObservationBufferEviction(t *testing.T) {
	eng, _ := newTestEngine(t, fakeExecutor{}, &fakeReflector{})
	ctx := context.Background()

	loop, err := eng.StartLoop(ctx, "agent1", "chan1", 3)
	require.NoError(t, err)

	// Submit 5 observations one at a time; only the first triggers the
	// Observe -> Reason transition, the rest queue in the buffer.
	for i := 0; i < 5; i++ {
		require.NoError(t, eng.SubmitObservation(ctx, loop.LoopID, core.Observation{Content: i}))
	}

	deadline := time.Now().Add(time.Second)
	var snap *core.Loop
	for time.Now().Before(deadline) {
		snap, _ = eng.Loop(loop.LoopID)
		if len(snap.Observations) <= 3 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	require.LessOrEqual(t, len(snap.Observations), 3)
}

func TestPhaseGatedAdmissionRejected(t *testing.T) {
	eng, _ := newTestEngine(t, fakeExecutor{}, &fakeReflector{})
	ctx := context.Background()

	loop, err := eng.StartLoop(ctx, "agent1", "chan1", 5)
	require.NoError(t, err)
	require.Equal(t, core.PhaseObserve, loop.Phase)

	_, err = eng.AdmitToolCall(ctx, loop.LoopID, "a1", "search", map[string]any{})
	require.ErrorIs(t, err, core.ErrPhaseViolation)
}

func TestAdmitToolCallUnknownTool(t *testing.T) {
	eng, _ := newTestEngine(t, fakeExecutor{}, &fakeReflector{})
	ctx := context.Background()

	loop, err := eng.StartLoop(ctx, "agent1", "chan1", 5)
	require.NoError(t, err)
	require.NoError(t, eng.SubmitObservation(ctx, loop.LoopID, core.Observation{Content: "hi"}))
	waitForPhase(t, eng, loop.LoopID, core.PhaseAct, time.Second)

	_, err = eng.AdmitToolCall(ctx, loop.LoopID, "a1", "does_not_exist", map[string]any{})
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestFailedActionStillReachesReflection(t *testing.T) {
	reflector := &fakeReflector{}
	eng, _ := newTestEngine(t, failingExecutor{}, reflector)
	ctx := context.Background()

	loop, err := eng.StartLoop(ctx, "agent1", "chan1", 5)
	require.NoError(t, err)
	require.NoError(t, eng.SubmitObservation(ctx, loop.LoopID, core.Observation{Content: "hi"}))
	waitForPhase(t, eng, loop.LoopID, core.PhaseAct, time.Second)

	_, err = eng.AdmitToolCall(ctx, loop.LoopID, "a1", "search", map[string]any{})
	require.Error(t, err)

	waitForPhase(t, eng, loop.LoopID, core.PhaseObserve, time.Second)
	require.Equal(t, 1, reflector.called)
}

func TestStopLoopTerminatesActor(t *testing.T) {
	eng, _ := newTestEngine(t, fakeExecutor{}, &fakeReflector{})
	ctx := context.Background()

	loop, err := eng.StartLoop(ctx, "agent1", "chan1", 5)
	require.NoError(t, err)

	require.NoError(t, eng.StopLoop(ctx, loop.LoopID, "test done"))

	_, ok := eng.Loop(loop.LoopID)
	require.False(t, ok)

	err = eng.SubmitObservation(ctx, loop.LoopID, core.Observation{Content: "late"})
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestLoopIsolationAcrossConcurrentLoops(t *testing.T) {
	eng, _ := newTestEngine(t, fakeExecutor{}, &fakeReflector{})
	ctx := context.Background()

	const n = 8
	loopIDs := make([]string, n)
	for i := 0; i < n; i++ {
		loop, err := eng.StartLoop(ctx, fmt.Sprintf("agent%d", i), "chan1", 5)
		require.NoError(t, err)
		loopIDs[i] = loop.LoopID
	}

	var wg sync.WaitGroup
	for _, id := range loopIDs {
		wg.Add(1)
		go func(loopID string) {
			defer wg.Done()
			_ = eng.SubmitObservation(ctx, loopID, core.Observation{Content: "x"})
		}(id)
	}
	wg.Wait()

	for _, id := range loopIDs {
		waitForPhase(t, eng, id, core.PhaseAct, time.Second)
	}
	// Every loop reached Act independently; none interfered with another's
	// CurrentPlan.
	for _, id := range loopIDs {
		loop, ok := eng.Loop(id)
		require.True(t, ok)
		require.Equal(t, "p1", loop.CurrentPlan.PlanID)
	}
}
