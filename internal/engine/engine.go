// Package engine implements the ORPAR Loop Engine: a per-agent
// finite state machine driving the Observe -> Reason -> Plan -> Act ->
// Reflect cycle, phase-gated tool admission, the observation buffer, and the
// reflection trigger that closes the loop back into MULS.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orpar-labs/orpar-core/internal/core"
	"github.com/orpar-labs/orpar-core/internal/eventbus"
	"github.com/orpar-labs/orpar-core/internal/memory"
	"github.com/orpar-labs/orpar-core/internal/registry"
	"github.com/orpar-labs/orpar-core/internal/strata"
	"github.com/orpar-labs/orpar-core/internal/telemetry"
	"github.com/orpar-labs/orpar-core/internal/validation"
)

// Reasoner produces a Reasoning artifact for the Reason phase.
type Reasoner interface {
	Reason(ctx context.Context, loop *core.Loop) (*core.Reasoning, error)
}

// Planner produces a Plan once reasoning completes.
type Planner interface {
	Plan(ctx context.Context, loop *core.Loop, reasoning *core.Reasoning) (*core.Plan, error)
}

// ToolExecutor executes one admitted action and returns its result.
type ToolExecutor interface {
	Execute(ctx context.Context, loop *core.Loop, action *core.Action) (any, error)
}

// Reflector produces a Reflection once every action in the current plan is
// terminal.
type Reflector interface {
	Reflect(ctx context.Context, loop *core.Loop, plan *core.Plan) (*core.Reflection, error)
}

// Engine owns every Loop, Plan, and Observation buffer in the process. Each
// loop is driven by its own actor goroutine draining a buffered mailbox
// channel; work across loops is parallel.
type Engine struct {
	mu    sync.RWMutex
	loops map[string]*loopActor

	bus       *eventbus.Bus
	registry  *registry.Registry
	validator *validation.Pipeline
	memStore  *memory.Store
	router    *strata.Router
	reasoner  Reasoner
	planner   Planner
	executor  ToolExecutor
	reflector Reflector

	logger  telemetry.Logger
	metrics telemetry.Metrics
}

// Option configures an Engine at construction.
type Option func(*Engine)

func WithReasoner(r Reasoner) Option         { return func(e *Engine) { e.reasoner = r } }
func WithPlanner(p Planner) Option           { return func(e *Engine) { e.planner = p } }
func WithToolExecutor(t ToolExecutor) Option { return func(e *Engine) { e.executor = t } }
func WithReflector(r Reflector) Option       { return func(e *Engine) { e.reflector = r } }
func WithLogger(l telemetry.Logger) Option   { return func(e *Engine) { e.logger = l } }
func WithMetrics(m telemetry.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// New builds an Engine wired to its collaborators. bus, reg, validator,
// mem, and router are required; Reasoner/Planner/ToolExecutor/Reflector
// default to failing stand-ins that report core.ErrFatal (set them via
// options for a functioning deployment).
func New(bus *eventbus.Bus, reg *registry.Registry, validator *validation.Pipeline, mem *memory.Store, router *strata.Router, opts ...Option) *Engine {
	e := &Engine{
		loops:     make(map[string]*loopActor),
		bus:       bus,
		registry:  reg,
		validator: validator,
		memStore:  mem,
		router:    router,
		logger:    telemetry.NewNoopLogger(),
		metrics:   telemetry.NewNoopMetrics(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// command is a message sent into a loop's mailbox. Exactly one command is
// processed at a time per loop, giving within-loop serial ordering.
type command struct {
	kind    commandKind
	payload any
	done    chan error
}

type commandKind int

const (
	cmdStart commandKind = iota
	cmdObservation
	cmdReasoningReady
	cmdPlanReady
	cmdActionUpdate
	cmdReflectionReady
	cmdStop
)

type reasoningResult struct {
	reasoning *core.Reasoning
	err       error
}

type planResult struct {
	plan *core.Plan
	err  error
}

type reflectionResult struct {
	reflection *core.Reflection
	err        error
}

// loopActor is the per-loop actor: a goroutine draining mailbox, holding the
// authoritative core.Loop state, and publishing phase events onto the bus.
// mu guards loop and the bookkeeping fields below it. The actor goroutine
// (inside handle) writes loop; RecordMemoryUsage appends to touchedByPhase
// from the caller's goroutine; both take mu, so readers calling snapshot
// concurrently from other goroutines never race either writer.
type loopActor struct {
	eng *Engine

	mu   sync.RWMutex
	loop *core.Loop

	mailbox chan command
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	touchedByPhase map[core.Phase][]string
	reflectionDone bool
}

// StartLoop creates and starts a new Loop for an agent (Initializing ->
// Running(Observe) on `start`).
func (e *Engine) StartLoop(ctx context.Context, ownerAgentID, channelID string, maxObservations int) (*core.Loop, error) {
	if maxObservations <= 0 {
		maxObservations = core.DefaultMaxObservations
	}
	loop := &core.Loop{
		LoopID:          uuid.NewString(),
		OwnerAgentID:    ownerAgentID,
		ChannelID:       channelID,
		Phase:           core.PhaseNone,
		Status:          core.LoopInitializing,
		StartedAt:       time.Now(),
		MaxObservations: maxObservations,
	}

	actorCtx, cancel := context.WithCancel(context.Background())
	actor := &loopActor{
		eng:            e,
		loop:           loop,
		mailbox:        make(chan command, 64),
		ctx:            actorCtx,
		cancel:         cancel,
		done:           make(chan struct{}),
		touchedByPhase: make(map[core.Phase][]string),
	}

	e.mu.Lock()
	e.loops[loop.LoopID] = actor
	e.mu.Unlock()

	go actor.run()

	e.emit(ctx, core.EventInitialize, loop, core.InitializeData{
		LoopID: loop.LoopID,
		Config: map[string]any{"maxObservations": maxObservations},
		Status: string(core.LoopInitializing),
	})

	if err := actor.send(ctx, cmdStart, nil); err != nil {
		return nil, err
	}
	return actor.snapshot(), nil
}

// StopLoop requests a graceful stop (any state -> Stopping -> Stopped, spec
// §4.G). It cancels in-flight work via the loop's cancellation token (spec
// §5).
func (e *Engine) StopLoop(ctx context.Context, loopID, reason string) error {
	actor, ok := e.actor(loopID)
	if !ok {
		return fmt.Errorf("engine: %w: loop %s", core.ErrNotFound, loopID)
	}
	if err := actor.send(ctx, cmdStop, reason); err != nil {
		return err
	}
	e.mu.Lock()
	delete(e.loops, loopID)
	e.mu.Unlock()
	return nil
}

// SubmitObservation appends an externally submitted observation to the
// loop's buffer.
func (e *Engine) SubmitObservation(ctx context.Context, loopID string, obs core.Observation) error {
	actor, ok := e.actor(loopID)
	if !ok {
		return fmt.Errorf("engine: %w: loop %s", core.ErrNotFound, loopID)
	}
	return actor.send(ctx, cmdObservation, obs)
}

// ReportActionUpdate is called by the tool execution path once an action's
// status changes (including after AdmitToolCall executes it). Per-action
// status events for a given actionId are ordered.
func (e *Engine) ReportActionUpdate(ctx context.Context, loopID string, action *core.Action) error {
	actor, ok := e.actor(loopID)
	if !ok {
		return fmt.Errorf("engine: %w: loop %s", core.ErrNotFound, loopID)
	}
	return actor.send(ctx, cmdActionUpdate, action)
}

// RecordMemoryUsage attributes memory items consulted while servicing a
// given phase so Reflect-phase attribution can weight them
// correctly when the loop closes back through MULS.
func (e *Engine) RecordMemoryUsage(ctx context.Context, loopID string, phase core.Phase, memoryIDs []string) error {
	actor, ok := e.actor(loopID)
	if !ok {
		return fmt.Errorf("engine: %w: loop %s", core.ErrNotFound, loopID)
	}
	actor.mu.Lock()
	actor.touchedByPhase[phase] = append(actor.touchedByPhase[phase], memoryIDs...)
	actor.mu.Unlock()
	return nil
}

// Loop returns a snapshot of the loop's current state (read-only; mutation
// is only by message).
func (e *Engine) Loop(loopID string) (*core.Loop, bool) {
	actor, ok := e.actor(loopID)
	if !ok {
		return nil, false
	}
	return actor.snapshot(), true
}

func (e *Engine) actor(loopID string) (*loopActor, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	a, ok := e.loops[loopID]
	return a, ok
}

func (e *Engine) emit(ctx context.Context, name core.EventName, loop *core.Loop, data any) {
	if e.bus == nil {
		return
	}
	if err := e.bus.Emit(ctx, name, eventbus.Topic(name), data); err != nil {
		e.logger.Error(ctx, "event emit failed", "event", string(name), "loopId", loop.LoopID, "error", err)
	}
}

// AdmitToolCall performs phase-gated admission:
// looks up the descriptor, rejects with core.ErrPhaseViolation if the loop's
// current phase is not in phaseAllowed, otherwise runs it through the
// validation pipeline and circuit breaker before executing. actionID must
// name an action already present in the loop's current Plan; its status is
// updated in place as execution progresses, and a synthesized Observation is
// appended once it reaches a terminal state.
func (e *Engine) AdmitToolCall(ctx context.Context, loopID, actionID, toolName string, params map[string]any) (any, error) {
	actor, ok := e.actor(loopID)
	if !ok {
		return nil, fmt.Errorf("engine: %w: loop %s", core.ErrNotFound, loopID)
	}
	loop := actor.snapshot()

	desc, ok := e.registry.Lookup(loop.ChannelID, toolName)
	if !ok {
		return nil, fmt.Errorf("engine: %w: tool %s", core.ErrNotFound, toolName)
	}
	if !desc.Allows(loop.Phase) {
		e.emit(ctx, core.EventPhaseViolation, loop, core.PhaseViolationData{
			LoopID: loopID, Tool: toolName, Phase: loop.Phase, Reason: "tool not allowed in current phase",
		})
		return nil, fmt.Errorf("engine: %w: %s not allowed in phase %s", core.ErrPhaseViolation, toolName, loop.Phase)
	}
	if loop.Phase == core.PhaseAct && loop.CurrentPlan == nil {
		return nil, fmt.Errorf("engine: %w: act-phase tool admission requires a bound plan", core.ErrPhaseViolation)
	}

	res := e.validator.Validate(ctx, loop.ChannelID, toolName, desc.RiskLevel, params)
	if res.Exhausted {
		return nil, fmt.Errorf("engine: %w: %s", core.ErrCorrectionExhausted, toolName)
	}

	if err := e.ReportActionUpdate(ctx, loopID, &core.Action{
		ID: actionID, Tool: toolName, Parameters: res.Params, Status: core.ActionInProgress,
	}); err != nil {
		return nil, err
	}

	result, execErr := e.registry.Execute(ctx, toolName, loop.ChannelID, func(execCtx context.Context) (any, error) {
		if e.executor == nil {
			return nil, fmt.Errorf("engine: %w: no tool executor configured", core.ErrFatal)
		}
		return e.executor.Execute(execCtx, loop, &core.Action{ID: actionID, Tool: toolName, Parameters: res.Params})
	})

	final := &core.Action{ID: actionID, Tool: toolName, Parameters: res.Params}
	if execErr != nil {
		final.Status = core.ActionFailed
		final.Error = execErr.Error()
	} else {
		final.Status = core.ActionCompleted
		final.Result = result
	}
	if err := e.ReportActionUpdate(ctx, loopID, final); err != nil {
		return nil, err
	}
	return result, execErr
}

// send enqueues a command and blocks until it has been processed (or ctx is
// cancelled, or the loop has already stopped).
func (a *loopActor) send(ctx context.Context, kind commandKind, payload any) error {
	cmd := command{kind: kind, payload: payload, done: make(chan error, 1)}
	select {
	case a.mailbox <- cmd:
	case <-a.done:
		return fmt.Errorf("engine: %w: loop already stopped", core.ErrNotFound)
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.done:
		return err
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// snapshot returns a safe-to-read copy of the loop's current state.
func (a *loopActor) snapshot() *core.Loop {
	a.mu.RLock()
	defer a.mu.RUnlock()
	cp := *a.loop
	cp.Observations = append([]core.Observation(nil), a.loop.Observations...)
	return &cp
}

// run is the actor's mailbox loop: exactly one command is in flight at a
// time, so every mutation below is free of data races without an explicit
// lock around the whole handler. mu is
// still taken around individual field writes so concurrent snapshot/
// RecordMemoryUsage calls from outside never observe a torn loop.
func (a *loopActor) run() {
	defer close(a.done)
	for {
		select {
		case cmd := <-a.mailbox:
			err := a.handle(cmd)
			if cmd.done != nil {
				cmd.done <- err
			}
			if cmd.kind == cmdStop {
				return
			}
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *loopActor) handle(cmd command) error {
	e := a.eng
	ctx := a.ctx

	switch cmd.kind {
	case cmdStart:
		a.mu.Lock()
		a.loop.Status = core.LoopRunning
		a.loop.Phase = core.PhaseObserve
		loop := *a.loop
		a.mu.Unlock()
		e.emit(ctx, core.EventStarted, &loop, core.StartedData{LoopID: loop.LoopID, Status: string(loop.Status)})
		return nil

	case cmdObservation:
		obs, _ := cmd.payload.(core.Observation)
		if obs.ID == "" {
			obs.ID = uuid.NewString()
		}
		if obs.Timestamp.IsZero() {
			obs.Timestamp = time.Now()
		}
		loop := a.appendObservation(obs)
		e.emit(ctx, core.EventObservation, loop, core.ObservationData{LoopID: loop.LoopID, Observation: obs})

		a.mu.Lock()
		shouldReason := a.loop.Phase == core.PhaseObserve
		if shouldReason {
			a.loop.Phase = core.PhaseReason
		}
		snap := *a.loop
		a.mu.Unlock()
		if shouldReason {
			go a.runReasoning(&snap)
		}
		return nil

	case cmdReasoningReady:
		res, _ := cmd.payload.(reasoningResult)
		if res.err != nil {
			e.logger.Error(ctx, "reasoning failed", "loopId", a.loop.LoopID, "error", res.err)
			a.mu.Lock()
			a.loop.Phase = core.PhaseObserve
			a.mu.Unlock()
			return nil
		}
		a.mu.Lock()
		a.loop.CurrentReasoning = res.reasoning
		a.loop.Phase = core.PhasePlan
		loop := *a.loop
		a.mu.Unlock()
		e.emit(ctx, core.EventReasoning, &loop, core.ReasoningData{LoopID: loop.LoopID, Reasoning: *res.reasoning})
		go a.runPlanning(&loop, res.reasoning)
		return nil

	case cmdPlanReady:
		res, _ := cmd.payload.(planResult)
		if res.err != nil {
			e.logger.Error(ctx, "planning failed", "loopId", a.loop.LoopID, "error", res.err)
			a.mu.Lock()
			a.loop.Phase = core.PhaseReason
			a.mu.Unlock()
			return nil
		}
		a.mu.Lock()
		a.loop.CurrentPlan = res.plan
		a.loop.Phase = core.PhaseAct
		loop := *a.loop
		a.mu.Unlock()
		e.emit(ctx, core.EventPlan, &loop, core.PlanData{LoopID: loop.LoopID, Plan: *res.plan})
		return nil

	case cmdActionUpdate:
		action, _ := cmd.payload.(*core.Action)
		if action == nil {
			return fmt.Errorf("engine: action update requires a non-nil action")
		}
		loop, updated := a.applyActionUpdate(action)
		if !updated {
			return fmt.Errorf("engine: %w: action %s not in current plan", core.ErrNotFound, action.ID)
		}
		e.emit(ctx, core.EventAction, loop, core.ActionData{LoopID: loop.LoopID, Action: *action, Status: action.Status})

		if !action.Status.Terminal() {
			return nil
		}
		obs := core.Observation{
			ID:        uuid.NewString(),
			AgentID:   loop.OwnerAgentID,
			Source:    "action:" + action.ID,
			Content:   actionObservationContent(action),
			Timestamp: time.Now(),
		}
		loop = a.appendObservation(obs)
		e.emit(ctx, core.EventObservation, loop, core.ObservationData{LoopID: loop.LoopID, Observation: obs})

		a.mu.Lock()
		ready := a.loop.CurrentPlan.AllTerminal() && !a.reflectionDone
		if ready {
			a.reflectionDone = true
			a.loop.Phase = core.PhaseReflect
		}
		snap := *a.loop
		a.mu.Unlock()
		if ready {
			go a.runReflection(&snap)
		}
		return nil

	case cmdReflectionReady:
		res, _ := cmd.payload.(reflectionResult)
		if res.err != nil {
			e.logger.Error(ctx, "reflection failed", "loopId", a.loop.LoopID, "error", res.err)
			a.mu.Lock()
			a.reflectionDone = false
			a.mu.Unlock()
			return nil
		}
		a.mu.Lock()
		touched := a.touchedByPhase
		a.touchedByPhase = make(map[core.Phase][]string)
		a.loop.Phase = core.PhaseObserve
		a.loop.CurrentReasoning = nil
		a.loop.CurrentPlan = nil
		a.reflectionDone = false
		loop := *a.loop
		a.mu.Unlock()

		e.emit(ctx, core.EventReflection, &loop, core.ReflectionData{
			LoopID:  loop.LoopID,
			Context: core.ReflectionCtx{Reflection: *res.reflection},
		})
		if e.memStore != nil {
			e.memStore.ApplyReflection(ctx, res.reflection.LearningSignals, touched)
		}
		return nil

	case cmdStop:
		reason, _ := cmd.payload.(string)
		a.mu.Lock()
		a.loop.Status = core.LoopStopping
		a.mu.Unlock()
		a.cancel()
		a.mu.Lock()
		a.loop.Status = core.LoopStopped
		loop := *a.loop
		a.mu.Unlock()
		e.emit(context.Background(), core.EventStopped, &loop, core.StoppedData{
			LoopID: loop.LoopID, Status: string(loop.Status), Context: core.StoppedContext{Reason: reason},
		})
		return nil

	default:
		return fmt.Errorf("engine: unknown command kind %d", cmd.kind)
	}
}

// appendObservation appends obs to the loop's buffer, evicting the oldest
// entries once MaxObservations is exceeded, and
// returns a snapshot taken under the lock.
func (a *loopActor) appendObservation(obs core.Observation) *core.Loop {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.loop.Observations = append(a.loop.Observations, obs)
	if max := a.loop.MaxObservations; max > 0 && len(a.loop.Observations) > max {
		a.loop.Observations = a.loop.Observations[len(a.loop.Observations)-max:]
	}
	cp := *a.loop
	cp.Observations = append([]core.Observation(nil), a.loop.Observations...)
	return &cp
}

// applyActionUpdate finds the matching action in the current plan and
// updates its mutable fields in place, returning a loop snapshot and whether
// a match was found.
func (a *loopActor) applyActionUpdate(update *core.Action) (*core.Loop, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.loop.CurrentPlan == nil {
		return nil, false
	}
	for _, act := range a.loop.CurrentPlan.Actions {
		if act.ID == update.ID {
			act.Status = update.Status
			act.Result = update.Result
			act.Error = update.Error
			if update.Tool != "" {
				act.Tool = update.Tool
			}
			if update.Parameters != nil {
				act.Parameters = update.Parameters
			}
			update.Description = act.Description
			update.Priority = act.Priority
			cp := *a.loop
			cp.Observations = append([]core.Observation(nil), a.loop.Observations...)
			return &cp, true
		}
	}
	return nil, false
}

func actionObservationContent(action *core.Action) any {
	if action.Status == core.ActionFailed {
		return map[string]any{"error": action.Error}
	}
	return action.Result
}

func (a *loopActor) runReasoning(loop *core.Loop) {
	if a.eng.reasoner == nil {
		_ = a.send(a.ctx, cmdReasoningReady, reasoningResult{err: fmt.Errorf("engine: %w: no reasoner configured", core.ErrFatal)})
		return
	}
	reasoning, err := a.eng.reasoner.Reason(a.ctx, loop)
	_ = a.send(a.ctx, cmdReasoningReady, reasoningResult{reasoning: reasoning, err: err})
}

func (a *loopActor) runPlanning(loop *core.Loop, reasoning *core.Reasoning) {
	if a.eng.planner == nil {
		_ = a.send(a.ctx, cmdPlanReady, planResult{err: fmt.Errorf("engine: %w: no planner configured", core.ErrFatal)})
		return
	}
	plan, err := a.eng.planner.Plan(a.ctx, loop, reasoning)
	_ = a.send(a.ctx, cmdPlanReady, planResult{plan: plan, err: err})
}

func (a *loopActor) runReflection(loop *core.Loop) {
	if a.eng.reflector == nil {
		_ = a.send(a.ctx, cmdReflectionReady, reflectionResult{err: fmt.Errorf("engine: %w: no reflector configured", core.ErrFatal)})
		return
	}
	reflection, err := a.eng.reflector.Reflect(a.ctx, loop, loop.CurrentPlan)
	_ = a.send(a.ctx, cmdReflectionReady, reflectionResult{reflection: reflection, err: err})
}
