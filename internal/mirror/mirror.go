// Package mirror implements the Agent Client Mirror (spec §4.I): a
// client-side, read-only view of a single Loop's phase, subscribed to the
// same Event Bus as the server. It is grounded on the teacher's event
// subscriber shape (runtime/agent/stream/subscriber.go): a small struct
// holding a sink-equivalent (here, just its own state) and a HandleEvent-style
// switch that translates bus events of interest and ignores the rest.
//
// The Mirror never writes server state; it exists so prompt assembly on the
// agent side can substitute {{CURRENT_ORPAR_PHASE}} and
// {{CURRENT_ORPAR_PHASE_GUIDANCE}} without a round trip to the server.
package mirror

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/orpar-labs/orpar-core/internal/core"
	"github.com/orpar-labs/orpar-core/internal/eventbus"
)

// phaseGuidance is the behavioral guidance string substituted for
// {{CURRENT_ORPAR_PHASE_GUIDANCE}}. Indexed by core.Phase; unrecognized or
// PhaseNone phases fall back to noCycleGuidance.
var phaseGuidance = map[core.Phase]string{
	core.PhaseObserve: "Gather and record observations. Do not propose actions yet.",
	core.PhaseReason:  "Synthesize the current observation buffer into a reasoning artifact.",
	core.PhasePlan:    "Decompose the reasoning artifact into a concrete, ordered set of actions.",
	core.PhaseAct:     "Execute the plan's actions. Only tools allowed in this phase may be called.",
	core.PhaseReflect: "Evaluate the completed plan's outcomes and surface learning signals.",
}

const (
	noCyclePhaseName = "(Not in active cycle)"
	noCycleGuidance  = "No cycle is currently active."

	tokenCurrentPhase         = "{{CURRENT_ORPAR_PHASE}}"
	tokenCurrentPhaseGuidance = "{{CURRENT_ORPAR_PHASE_GUIDANCE}}"
)

// Mirror tracks the phase of one Loop as observed through the Event Bus. It
// is safe for concurrent use.
type Mirror struct {
	mu           sync.RWMutex
	activeLoopID string
	currentPhase core.Phase

	subs []interface{ Close() }
}

// New constructs a Mirror that tracks activeLoopID and subscribes itself to
// bus. Call Close to unsubscribe from every topic.
func New(bus *eventbus.Bus, activeLoopID string) *Mirror {
	m := &Mirror{activeLoopID: activeLoopID}
	for _, name := range []core.EventName{
		core.EventObservation,
		core.EventReasoning,
		core.EventPlan,
		core.EventAction,
		core.EventExecution,
		core.EventReflection,
		core.EventPhaseViolation,
	} {
		m.subs = append(m.subs, bus.Subscribe(eventbus.Topic(name), m.handler(name)))
	}
	return m
}

// Close unsubscribes the mirror from every topic it tracks. Safe to call once.
func (m *Mirror) Close() {
	m.mu.Lock()
	subs := m.subs
	m.subs = nil
	m.mu.Unlock()
	for _, s := range subs {
		s.Close()
	}
}

// CurrentPhase returns the phase last observed for the active loop, or
// core.PhaseNone if no cycle event has been observed yet.
func (m *Mirror) CurrentPhase() core.Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentPhase
}

// Substitute replaces {{CURRENT_ORPAR_PHASE}} and
// {{CURRENT_ORPAR_PHASE_GUIDANCE}} tokens in prompt with the mirror's current
// view. Unrecognized tokens are left untouched.
func (m *Mirror) Substitute(prompt string) string {
	phase := m.CurrentPhase()
	r := strings.NewReplacer(
		tokenCurrentPhase, phaseDisplayName(phase),
		tokenCurrentPhaseGuidance, phaseDisplayGuidance(phase),
	)
	return r.Replace(prompt)
}

func phaseDisplayName(p core.Phase) string {
	if p == core.PhaseNone {
		return noCyclePhaseName
	}
	return string(p)
}

func phaseDisplayGuidance(p core.Phase) string {
	if g, ok := phaseGuidance[p]; ok {
		return g
	}
	return noCycleGuidance
}

// loopScoped is satisfied by every event payload that carries a loopId, used
// to filter events to the mirror's activeLoopID (spec §4.I "Only processes
// events whose loopId equals its activeLoopId").
type loopScoped struct {
	LoopID string `json:"loopId"`
}

// handler builds the bus Handler for a single core.EventName. Event payloads
// that fail to decode or belong to a different loop are silently ignored,
// matching the teacher subscriber's "all other event types are ignored"
// default case.
func (m *Mirror) handler(name core.EventName) eventbus.Handler {
	return func(_ context.Context, payload any) error {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil
		}

		var scope loopScoped
		if err := json.Unmarshal(raw, &scope); err != nil {
			return nil
		}
		m.mu.RLock()
		active := m.activeLoopID
		m.mu.RUnlock()
		if scope.LoopID != active {
			return nil
		}

		phase, ok := phaseForEvent(name, raw)
		if !ok {
			return nil
		}
		m.mu.Lock()
		m.currentPhase = phase
		m.mu.Unlock()
		return nil
	}
}

// phaseForEvent maps a canonical phase event to the Phase it announces. For
// EventPhaseViolation, which can fire from any phase, the announced phase is
// read from the payload itself rather than inferred from the event name.
func phaseForEvent(name core.EventName, raw []byte) (core.Phase, bool) {
	switch name {
	case core.EventObservation:
		return core.PhaseObserve, true
	case core.EventReasoning:
		return core.PhaseReason, true
	case core.EventPlan:
		return core.PhasePlan, true
	case core.EventAction, core.EventExecution:
		return core.PhaseAct, true
	case core.EventReflection:
		return core.PhaseReflect, true
	case core.EventPhaseViolation:
		var data core.PhaseViolationData
		if err := json.Unmarshal(raw, &data); err != nil || !data.Phase.Valid() {
			return core.PhaseNone, false
		}
		return data.Phase, true
	default:
		return core.PhaseNone, false
	}
}
