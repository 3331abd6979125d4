package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/orpar-labs/orpar-core/internal/core"
	"github.com/orpar-labs/orpar-core/internal/memory"
	"github.com/orpar-labs/orpar-core/internal/registry"
	"github.com/orpar-labs/orpar-core/internal/strata"
)

// PhaseClient drives the engine's Reason and Plan phases from a Completer,
// retrieving phase-appropriate memory via the Phase-Strata Router before
// every call. It implements the engine package's Reasoner
// and Planner interfaces structurally (no import of internal/engine needed).
type PhaseClient struct {
	completer Completer
	router    *strata.Router
	memStore  *memory.Store
	registry  *registry.Registry

	model        string
	maxTokens    int
	temperature  float64
	topK         int
	systemPrompt string
}

// Option configures a PhaseClient at construction.
type Option func(*PhaseClient)

func WithModel(model string) Option       { return func(c *PhaseClient) { c.model = model } }
func WithMaxTokens(n int) Option          { return func(c *PhaseClient) { c.maxTokens = n } }
func WithTemperature(t float64) Option    { return func(c *PhaseClient) { c.temperature = t } }
func WithTopK(n int) Option               { return func(c *PhaseClient) { c.topK = n } }
func WithSystemPrompt(prompt string) Option { return func(c *PhaseClient) { c.systemPrompt = prompt } }

// WithRegistry wires the Tool Registry so the Plan phase can offer the
// model the set of tools admissible in the Act phase.
func WithRegistry(reg *registry.Registry) Option { return func(c *PhaseClient) { c.registry = reg } }

// NewPhaseClient builds a PhaseClient. completer, router, and mem are
// required.
func NewPhaseClient(completer Completer, router *strata.Router, mem *memory.Store, opts ...Option) *PhaseClient {
	c := &PhaseClient{
		completer: completer,
		router:    router,
		memStore:  mem,
		maxTokens: 1024,
		topK:      5,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Reason implements the engine's Reasoner contract: it retrieves the
// Reason-phase memory strata, folds the loop's observation buffer and the
// retrieved memories into a transcript, and asks the model to produce a
// reasoning narrative.
func (c *PhaseClient) Reason(ctx context.Context, loop *core.Loop) (*core.Reasoning, error) {
	route := c.router.Route(core.PhaseReason)
	scored, err := c.retrieve(ctx, loop.ChannelID, route)
	if err != nil {
		return nil, fmt.Errorf("llm: reason-phase retrieval: %w", err)
	}

	messages := []Message{
		{Role: RoleSystem, Text: c.systemOrDefault("Reason about the current situation and decide what should happen next.")},
		{Role: RoleUser, Text: c.buildReasonPrompt(loop, scored)},
	}
	resp, err := c.completer.Complete(ctx, &Request{
		Model: c.model, Messages: messages, MaxTokens: c.maxTokens, Temperature: c.temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrLLMFailure, err)
	}
	return &core.Reasoning{
		ReasoningID: uuid.NewString(),
		LoopID:      loop.LoopID,
		Content:     resp.Text,
		CreatedAt:   time.Now(),
	}, nil
}

// Plan implements the engine's Planner contract: it offers the model the
// Act-phase tool catalog and turns the requested tool calls into a Plan's
// Actions.
func (c *PhaseClient) Plan(ctx context.Context, loop *core.Loop, reasoning *core.Reasoning) (*core.Plan, error) {
	route := c.router.Route(core.PhasePlan)
	scored, err := c.retrieve(ctx, loop.ChannelID, route)
	if err != nil {
		return nil, fmt.Errorf("llm: plan-phase retrieval: %w", err)
	}

	messages := []Message{
		{Role: RoleSystem, Text: c.systemOrDefault("Turn the reasoning into a concrete plan of tool calls.")},
		{Role: RoleUser, Text: c.buildPlanPrompt(loop, reasoning, scored)},
	}
	resp, err := c.completer.Complete(ctx, &Request{
		Model: c.model, Messages: messages, Tools: c.toolCatalog(loop.ChannelID),
		MaxTokens: c.maxTokens, Temperature: c.temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrLLMFailure, err)
	}
	if len(resp.ToolCalls) == 0 {
		return nil, fmt.Errorf("llm: %w: model returned no tool calls for plan", core.ErrLLMFailure)
	}

	actions := make([]*core.Action, 0, len(resp.ToolCalls))
	for i, tc := range resp.ToolCalls {
		params := map[string]any{}
		if len(tc.Payload) > 0 {
			if err := json.Unmarshal(tc.Payload, &params); err != nil {
				return nil, fmt.Errorf("llm: decode tool call %q arguments: %w", tc.Name, err)
			}
		}
		actions = append(actions, &core.Action{
			ID: uuid.NewString(), Tool: tc.Name, Parameters: params,
			Priority: i, Status: core.ActionPending,
		})
	}

	return &core.Plan{
		PlanID:      uuid.NewString(),
		ReasoningID: reasoning.ReasoningID,
		Goal:        resp.Text,
		Actions:     actions,
		CreatedAt:   time.Now(),
	}, nil
}

func (c *PhaseClient) retrieve(ctx context.Context, channelID string, route strata.Route) ([]memory.Scored, error) {
	if c.memStore == nil {
		return nil, nil
	}
	scored, err := c.memStore.Retrieve(ctx, channelID, route.Strata, nil, route.Lambda, c.topK)
	if errors.Is(err, core.ErrBackendUnavailable) {
		// An unavailable retrieval backend leaves the prompt without
		// retrieved memory instead of failing the phase.
		return nil, nil
	}
	return scored, err
}

func (c *PhaseClient) toolCatalog(channelID string) []ToolDefinition {
	if c.registry == nil {
		return nil
	}
	available := c.registry.ListAvailable(channelID, core.PhaseAct)
	defs := make([]ToolDefinition, 0, len(available))
	for _, d := range available {
		defs = append(defs, ToolDefinition{Name: d.Name, InputSchema: json.RawMessage(d.InputSchema)})
	}
	return defs
}

func (c *PhaseClient) systemOrDefault(fallback string) string {
	if c.systemPrompt != "" {
		return c.systemPrompt
	}
	return fallback
}

func (c *PhaseClient) buildReasonPrompt(loop *core.Loop, scored []memory.Scored) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Loop %s is in the Observe/Reason phase with %d buffered observations.\n", loop.LoopID, len(loop.Observations))
	for _, obs := range loop.Observations {
		fmt.Fprintf(&b, "- observation[%s]: %v\n", obs.Source, obs.Content)
	}
	writeRetrieved(&b, scored)
	return b.String()
}

func (c *PhaseClient) buildPlanPrompt(loop *core.Loop, reasoning *core.Reasoning, scored []memory.Scored) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Reasoning for loop %s: %s\n", loop.LoopID, reasoning.Content)
	writeRetrieved(&b, scored)
	return b.String()
}

func writeRetrieved(b *strings.Builder, scored []memory.Scored) {
	if len(scored) == 0 {
		return
	}
	b.WriteString("Relevant memory:\n")
	for _, s := range scored {
		fmt.Fprintf(b, "- (score %.3f) %s = %v\n", s.Score, s.Item.Key, s.Item.Value)
	}
}
