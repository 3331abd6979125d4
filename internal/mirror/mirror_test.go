package mirror

import (
	"context"
	"testing"
	"time"

	"github.com/orpar-labs/orpar-core/internal/core"
	"github.com/orpar-labs/orpar-core/internal/eventbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) *eventbus.Bus {
	t.Helper()
	schemas := eventbus.NewSchemaRegistry()
	require.NoError(t, eventbus.RegisterDefaults(schemas))
	return eventbus.New(eventbus.WithSchemaRegistry(schemas))
}

func TestMirror_TracksPhaseFromCanonicalEvents(t *testing.T) {
	bus := newTestBus(t)
	m := New(bus, "loop-1")
	defer m.Close()

	assert.Equal(t, core.PhaseNone, m.CurrentPhase())

	err := bus.Emit(context.Background(), core.EventObservation, eventbus.Topic(core.EventObservation), core.ObservationData{
		LoopID: "loop-1",
	})
	require.NoError(t, err)
	assert.Equal(t, core.PhaseObserve, m.CurrentPhase())

	err = bus.Emit(context.Background(), core.EventReasoning, eventbus.Topic(core.EventReasoning), core.ReasoningData{
		LoopID: "loop-1",
	})
	require.NoError(t, err)
	assert.Equal(t, core.PhaseReason, m.CurrentPhase())
}

func TestMirror_IgnoresOtherLoops(t *testing.T) {
	bus := newTestBus(t)
	m := New(bus, "loop-1")
	defer m.Close()

	err := bus.Emit(context.Background(), core.EventPlan, eventbus.Topic(core.EventPlan), core.PlanData{
		LoopID: "loop-2",
	})
	require.NoError(t, err)
	assert.Equal(t, core.PhaseNone, m.CurrentPhase(), "events for a different loop must not move the mirror")
}

func TestMirror_PhaseViolationCarriesExplicitPhase(t *testing.T) {
	bus := newTestBus(t)
	m := New(bus, "loop-1")
	defer m.Close()

	err := bus.Emit(context.Background(), core.EventPhaseViolation, eventbus.Topic(core.EventPhaseViolation), core.PhaseViolationData{
		LoopID: "loop-1",
		Tool:   "some-tool",
		Phase:  core.PhaseAct,
		Reason: "tool not allowed outside Act",
	})
	require.NoError(t, err)
	assert.Equal(t, core.PhaseAct, m.CurrentPhase())
}

func TestMirror_Substitute(t *testing.T) {
	bus := newTestBus(t)
	m := New(bus, "loop-1")
	defer m.Close()

	prompt := "Current phase: {{CURRENT_ORPAR_PHASE}}. Guidance: {{CURRENT_ORPAR_PHASE_GUIDANCE}}"
	assert.Equal(t, "Current phase: (Not in active cycle). Guidance: No cycle is currently active.", m.Substitute(prompt))

	require.NoError(t, bus.Emit(context.Background(), core.EventPlan, eventbus.Topic(core.EventPlan), core.PlanData{LoopID: "loop-1"}))
	substituted := m.Substitute(prompt)
	assert.Contains(t, substituted, "Current phase: Plan")
	assert.Contains(t, substituted, "Decompose the reasoning artifact")
}

func TestMirror_Close_StopsTracking(t *testing.T) {
	bus := newTestBus(t)
	m := New(bus, "loop-1")
	m.Close()

	err := bus.Emit(context.Background(), core.EventPlan, eventbus.Topic(core.EventPlan), core.PlanData{LoopID: "loop-1"})
	require.NoError(t, err)
	// give the synchronous emit a moment in case any delivery were in flight
	time.Sleep(time.Millisecond)
	assert.Equal(t, core.PhaseNone, m.CurrentPhase())
}
