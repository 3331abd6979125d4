// Package core defines the entities, enumerations, and error taxonomy shared
// by every component of the cognitive-cycle coordination core. Components own
// their own entities exclusively (spec §3 "Ownership"); this package only
// holds the shapes, not the mutation logic.
package core

import "time"

// Tunable defaults. Overridable via configuration at assembly time; these are
// the values used when configuration is absent.
const (
	// QValueDefault is the initial Q-value assigned to a new MemoryItem.
	QValueDefault = 0.5
	// QValueLearningRate (alpha) controls the EMA update rate for Q-values.
	QValueLearningRate = 0.1
	// DefaultMaxObservations bounds the per-loop observation FIFO buffer.
	DefaultMaxObservations = 10
	// DefaultCorrectionConfidenceThreshold is the minimum confidence required
	// before an auto-correction is applied.
	DefaultCorrectionConfidenceThreshold = 0.7
	// DefaultMaxCorrectionRetries bounds correction attempts per execution.
	DefaultMaxCorrectionRetries = 3
	// DefaultCircuitFailureThreshold is the consecutive-failure count that
	// opens a tool circuit.
	DefaultCircuitFailureThreshold = 10
)

// PhaseWeight attributes a Reflection's reward across the phase in which a
// memory item was touched (spec §4.E). Index by Phase via PhaseWeights.
var PhaseWeights = map[Phase]float64{
	PhaseObserve: 0.15,
	PhaseReason:  0.20,
	PhasePlan:    0.30,
	PhaseAct:     0.25,
	PhaseReflect: 0.10,
}

type (
	// AgentStatus is the lifecycle state of an Agent.
	AgentStatus string

	// LoopStatus is the lifecycle state of a Loop.
	LoopStatus string

	// ActionStatus is the terminal/non-terminal state of a Plan action.
	ActionStatus string

	// MemoryScope is the ownership scope of a MemoryItem.
	MemoryScope string

	// Stratum is a memory tier with its own retention and consolidation policy.
	Stratum string

	// ToolSource distinguishes internally registered tools from externally
	// managed tool servers.
	ToolSource string

	// RiskLevel selects the validation level applied to a tool call (spec §4.D).
	RiskLevel string

	// CircuitStatus is the state of a per-(tool,channel) circuit breaker.
	CircuitStatus string
)

const (
	AgentRegistered   AgentStatus = "registered"
	AgentConnected    AgentStatus = "connected"
	AgentPaused       AgentStatus = "paused"
	AgentActive       AgentStatus = "active"
	AgentDisconnected AgentStatus = "disconnected"

	LoopInitializing LoopStatus = "initializing"
	LoopStarting     LoopStatus = "starting"
	LoopRunning      LoopStatus = "running"
	LoopStopping     LoopStatus = "stopping"
	LoopStopped      LoopStatus = "stopped"

	ActionPending    ActionStatus = "pending"
	ActionInProgress ActionStatus = "in_progress"
	ActionCompleted  ActionStatus = "completed"
	ActionFailed     ActionStatus = "failed"
	ActionSkipped    ActionStatus = "skipped"

	ScopeAgent        MemoryScope = "Agent"
	ScopeChannel      MemoryScope = "Channel"
	ScopeRelationship MemoryScope = "Relationship"

	StratumWorking    Stratum = "Working"
	StratumShortTerm  Stratum = "ShortTerm"
	StratumEpisodic   Stratum = "Episodic"
	StratumSemantic   Stratum = "Semantic"
	StratumLongTerm   Stratum = "LongTerm"

	ToolInternal ToolSource = "internal"
	ToolExternal ToolSource = "external"

	RiskAsync    RiskLevel = "async"
	RiskBlocking RiskLevel = "blocking"
	RiskStrict   RiskLevel = "strict"

	CircuitClosed   CircuitStatus = "closed"
	CircuitHalfOpen CircuitStatus = "half_open"
	CircuitOpen     CircuitStatus = "open"
)

// Terminal reports whether a status is one of the three terminal states
// (spec §3 Plan invariant, §8 property 3).
func (s ActionStatus) Terminal() bool {
	switch s {
	case ActionCompleted, ActionFailed, ActionSkipped:
		return true
	default:
		return false
	}
}

type (
	// Agent identity and capability record (spec §3).
	Agent struct {
		AgentID      string
		ChannelID    string
		Capabilities []string
		LLMConfig    LLMConfig
		Status       AgentStatus
	}

	// LLMConfig parameterizes the default completion backend for an agent.
	LLMConfig struct {
		Provider    string
		Model       string
		Temperature float64
		MaxTokens   int
	}

	// Channel is the scope boundary for events, memory, and tools.
	Channel struct {
		ChannelID string
		Name      string
	}

	// Observation is an immutable record appended to a Loop's observation
	// buffer, either externally submitted or synthesized from an action result.
	Observation struct {
		ID        string    `json:"id"`
		AgentID   string    `json:"agentId"`
		Source    string    `json:"source"`
		Content   any       `json:"content"`
		Timestamp time.Time `json:"timestamp"`
	}

	// Action is one step of a Plan.
	Action struct {
		ID          string         `json:"id"`
		Description string         `json:"description,omitempty"`
		Tool        string         `json:"tool"`
		Parameters  map[string]any `json:"parameters,omitempty"`
		Priority    int            `json:"priority,omitempty"`
		Status      ActionStatus   `json:"status"`
		Result      any            `json:"result,omitempty"`
		Error       string         `json:"error,omitempty"`
	}

	// Plan groups the actions derived from a Reasoning artifact.
	Plan struct {
		PlanID      string    `json:"planId"`
		ReasoningID string    `json:"reasoningId"`
		Goal        string    `json:"goal"`
		Actions     []*Action `json:"actions"`
		CreatedAt   time.Time `json:"createdAt"`
	}

	// Reasoning is the artifact produced during the Reason phase.
	Reasoning struct {
		ReasoningID string    `json:"reasoningId"`
		LoopID      string    `json:"loopId"`
		Content     string    `json:"content"`
		Enhanced    bool      `json:"enhanced"`
		CreatedAt   time.Time `json:"createdAt"`
	}

	// Reflection is the outcome of the Reflect phase.
	Reflection struct {
		ReflectionID    string            `json:"reflectionId"`
		PlanID          string            `json:"planId"`
		Success         bool              `json:"success"`
		Metrics         ReflectionMetrics `json:"metrics"`
		Insights        []string          `json:"insights,omitempty"`
		Improvements    []string          `json:"improvements,omitempty"`
		LearningSignals LearningSignals   `json:"learningSignals"`
	}

	// ReflectionMetrics captures the per-plan execution statistics used for
	// consolidation decisions and telemetry.
	ReflectionMetrics struct {
		SuccessRate    float64       `json:"successRate"`
		CompletionRate float64       `json:"completionRate"`
		ErrorRate      float64       `json:"errorRate"`
		Duration       time.Duration `json:"duration"`
	}

	// LearningSignals carries the reward used to drive MULS Q-value updates.
	LearningSignals struct {
		// Reward is in [-1, +1].
		Reward float64 `json:"reward"`
		// PerItemConfidence optionally attributes finer-grained confidence to
		// specific memory IDs touched during the phase (spec §9 Open Question:
		// "uniform within a phase unless a per-item confidence is supplied").
		PerItemConfidence map[string]float64 `json:"perItemConfidence,omitempty"`
	}

	// Loop is a single in-flight ORPAR cycle owned by one agent.
	Loop struct {
		LoopID          string
		OwnerAgentID    string
		ChannelID       string
		Phase           Phase
		Observations    []Observation
		CurrentReasoning *Reasoning
		CurrentPlan     *Plan
		StartedAt       time.Time
		Status          LoopStatus
		MaxObservations int
	}

	// MemoryItem is a single entry in the Memory Store, scored by MULS.
	MemoryItem struct {
		MemoryID       string
		Scope          MemoryScope
		Stratum        Stratum
		Key            string
		Value          any
		Embedding      []float32
		QValue         float64
		AccessCount    int
		LastAccessedAt time.Time
		CreatedAt      time.Time
		TTL            *time.Duration
		SuccessCount   int
		FailureCount   int
		ChannelID      string
		AgentID        string
	}

	// ToolDescriptor is the registry's record for a single tool.
	ToolDescriptor struct {
		Name         string
		Source       ToolSource
		ChannelScope string
		InputSchema  []byte
		OutputSchema []byte
		RiskLevel    RiskLevel
		PhaseAllowed map[Phase]struct{}
	}

	// CircuitState is the per-(toolName, channelID) circuit breaker record.
	CircuitState struct {
		ToolName      string
		ChannelID     string
		State         CircuitStatus
		FailureCount  int
		OpenedAt      time.Time
		NextRetryAt   time.Time
	}
)

// AllTerminal reports whether every action in the plan has reached a terminal
// status.
func (p *Plan) AllTerminal() bool {
	if p == nil {
		return false
	}
	for _, a := range p.Actions {
		if !a.Status.Terminal() {
			return false
		}
	}
	return len(p.Actions) > 0
}

// Allows reports whether phase p is permitted for this tool.
func (d *ToolDescriptor) Allows(p Phase) bool {
	if d == nil {
		return false
	}
	_, ok := d.PhaseAllowed[p]
	return ok
}
