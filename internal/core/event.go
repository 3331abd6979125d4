package core

import (
	"encoding/json"
	"time"
)

// EventName is a namespaced symbol drawn from a closed enumeration (spec §3,
// §6). Unlike the teacher's free-form hooks.EventType, event data for each
// name is a concrete discriminated-union payload validated against a
// registered JSON schema (see internal/eventbus).
type EventName string

const (
	EventObservation EventName = "ORPAR.Observation"
	EventReasoning   EventName = "ORPAR.Reasoning"
	EventPlan        EventName = "ORPAR.Plan"
	EventAction      EventName = "ORPAR.Action"
	EventExecution   EventName = "ORPAR.Execution"
	EventReflection  EventName = "ORPAR.Reflection"
	EventInitialize  EventName = "ORPAR.Initialize"
	EventStarted     EventName = "ORPAR.Started"
	EventStopped     EventName = "ORPAR.Stopped"

	// EventPhaseViolation is emitted when a tool call is rejected for being
	// outside the loop's current phase (spec §7 PhaseViolation).
	EventPhaseViolation EventName = "ORPAR.PhaseViolation"
)

// MetadataMap is a small closed set of recognized context keys (spec §9).
// Unknown keys are preserved but never interpreted by the core.
type MetadataMap map[string]any

const (
	MetaReason       = "reason"
	MetaLoopOwnerID  = "loopOwnerId"
	MetaReflection   = "reflection"
	MetaOrparPhase   = "orparPhase"
)

// Event is the wire envelope validated at emit and receive (spec §3, §6).
type Event struct {
	EventName     EventName       `json:"eventName"`
	AgentID       string          `json:"agentId"`
	ChannelID     string          `json:"channelId"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Data          json.RawMessage `json:"data"`
}

type (
	// ObservationData is the payload for EventObservation.
	ObservationData struct {
		LoopID      string      `json:"loopId"`
		Observation Observation `json:"observation"`
	}

	// ReasoningData is the payload for EventReasoning.
	ReasoningData struct {
		LoopID    string    `json:"loopId"`
		Reasoning Reasoning `json:"reasoning"`
	}

	// PlanData is the payload for EventPlan.
	PlanData struct {
		LoopID string `json:"loopId"`
		Plan   Plan   `json:"plan"`
	}

	// ActionData is the payload for EventAction.
	ActionData struct {
		LoopID string       `json:"loopId"`
		Action Action       `json:"action"`
		Status ActionStatus `json:"status"`
	}

	// ExecutionData is the payload for EventExecution.
	ExecutionData struct {
		LoopID string `json:"loopId"`
		Action Action `json:"action"`
	}

	// ReflectionData is the payload for EventReflection.
	ReflectionData struct {
		LoopID  string          `json:"loopId"`
		Context ReflectionCtx   `json:"context"`
	}

	// ReflectionCtx wraps a Reflection inside the Context envelope key used by
	// spec §6.
	ReflectionCtx struct {
		Reflection Reflection `json:"reflection"`
	}

	// InitializeData is the payload for EventInitialize.
	InitializeData struct {
		LoopID string         `json:"loopId"`
		Config map[string]any `json:"config"`
		Status string         `json:"status"`
	}

	// StartedData is the payload for EventStarted.
	StartedData struct {
		LoopID string `json:"loopId"`
		Status string `json:"status"`
	}

	// StoppedData is the payload for EventStopped.
	StoppedData struct {
		LoopID  string          `json:"loopId"`
		Status  string          `json:"status"`
		Context StoppedContext  `json:"context"`
	}

	// StoppedContext carries the stop reason (spec §6).
	StoppedContext struct {
		Reason string `json:"reason"`
	}

	// PhaseViolationData is the payload for EventPhaseViolation.
	PhaseViolationData struct {
		LoopID   string `json:"loopId"`
		Tool     string `json:"tool"`
		Phase    Phase  `json:"phase"`
		Reason   string `json:"reason"`
	}
)
