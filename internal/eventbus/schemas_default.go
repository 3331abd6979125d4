package eventbus

import "github.com/orpar-labs/orpar-core/internal/core"

// defaultSchemas binds every closed-enumeration event name (spec §6) to its
// JSON Schema literal. RegisterDefaults is called once during assembly; the
// schemas never change at runtime, mirroring the teacher's toolregistry
// pattern of compiling tool input/output schemas ahead of any call.
var defaultSchemas = map[core.EventName]string{
	core.EventObservation: `{
		"type": "object",
		"required": ["loopId", "observation"],
		"properties": {
			"loopId": {"type": "string", "minLength": 1},
			"observation": {
				"type": "object",
				"required": ["id", "agentId", "source", "timestamp"],
				"properties": {
					"id": {"type": "string"},
					"agentId": {"type": "string"},
					"source": {"type": "string"},
					"timestamp": {"type": "string"}
				}
			}
		}
	}`,
	core.EventReasoning: `{
		"type": "object",
		"required": ["loopId", "reasoning"],
		"properties": {
			"loopId": {"type": "string", "minLength": 1},
			"reasoning": {
				"type": "object",
				"required": ["reasoningId", "loopId", "content"],
				"properties": {
					"reasoningId": {"type": "string"},
					"loopId": {"type": "string"},
					"content": {"type": "string"},
					"enhanced": {"type": "boolean"}
				}
			}
		}
	}`,
	core.EventPlan: `{
		"type": "object",
		"required": ["loopId", "plan"],
		"properties": {
			"loopId": {"type": "string", "minLength": 1},
			"plan": {
				"type": "object",
				"required": ["planId", "reasoningId", "goal"],
				"properties": {
					"planId": {"type": "string"},
					"reasoningId": {"type": "string"},
					"goal": {"type": "string"}
				}
			}
		}
	}`,
	core.EventAction: `{
		"type": "object",
		"required": ["loopId", "action", "status"],
		"properties": {
			"loopId": {"type": "string", "minLength": 1},
			"action": {
				"type": "object",
				"required": ["id", "tool"],
				"properties": {
					"id": {"type": "string"},
					"tool": {"type": "string"}
				}
			},
			"status": {
				"type": "string",
				"enum": ["pending", "in_progress", "completed", "failed", "skipped"]
			}
		}
	}`,
	core.EventExecution: `{
		"type": "object",
		"required": ["loopId", "action"],
		"properties": {
			"loopId": {"type": "string", "minLength": 1},
			"action": {
				"type": "object",
				"required": ["id", "tool"],
				"properties": {
					"id": {"type": "string"},
					"tool": {"type": "string"}
				}
			}
		}
	}`,
	core.EventReflection: `{
		"type": "object",
		"required": ["loopId", "context"],
		"properties": {
			"loopId": {"type": "string", "minLength": 1},
			"context": {
				"type": "object",
				"required": ["reflection"],
				"properties": {
					"reflection": {
						"type": "object",
						"required": ["reflectionId", "planId", "success"],
						"properties": {
							"reflectionId": {"type": "string"},
							"planId": {"type": "string"},
							"success": {"type": "boolean"}
						}
					}
				}
			}
		}
	}`,
	core.EventInitialize: `{
		"type": "object",
		"required": ["loopId", "status"],
		"properties": {
			"loopId": {"type": "string", "minLength": 1},
			"config": {"type": "object"},
			"status": {"type": "string"}
		}
	}`,
	core.EventStarted: `{
		"type": "object",
		"required": ["loopId", "status"],
		"properties": {
			"loopId": {"type": "string", "minLength": 1},
			"status": {"type": "string"}
		}
	}`,
	core.EventStopped: `{
		"type": "object",
		"required": ["loopId", "status", "context"],
		"properties": {
			"loopId": {"type": "string", "minLength": 1},
			"status": {"type": "string"},
			"context": {
				"type": "object",
				"properties": {
					"reason": {"type": "string"}
				}
			}
		}
	}`,
	core.EventPhaseViolation: `{
		"type": "object",
		"required": ["loopId", "tool", "phase", "reason"],
		"properties": {
			"loopId": {"type": "string", "minLength": 1},
			"tool": {"type": "string"},
			"phase": {"type": "string", "enum": ["Observe", "Reason", "Plan", "Act", "Reflect"]},
			"reason": {"type": "string"}
		}
	}`,
}

// RegisterDefaults registers every closed-enumeration event schema. Call once
// at assembly time before any Bus.Emit.
func RegisterDefaults(r *SchemaRegistry) error {
	for name, schemaJSON := range defaultSchemas {
		if err := r.Register(name, schemaJSON); err != nil {
			return err
		}
	}
	return nil
}
