package eventbus

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orpar-labs/orpar-core/internal/core"
)

func TestSchemaRegistryValidatesRequiredFields(t *testing.T) {
	reg := NewSchemaRegistry()
	require.NoError(t, RegisterDefaults(reg))

	err := reg.Validate(core.EventPlan, core.PlanData{})
	require.ErrorIs(t, err, core.ErrSchemaViolation)

	err = reg.Validate(core.EventPlan, core.PlanData{
		LoopID: "loop-1",
		Plan: core.Plan{
			PlanID:      "plan-1",
			ReasoningID: "reasoning-1",
			Goal:        "book a table",
		},
	})
	require.NoError(t, err)
}

func TestSchemaRegistryUnregisteredNameIsViolation(t *testing.T) {
	reg := NewSchemaRegistry()
	err := reg.Validate(core.EventPlan, core.PlanData{})
	require.ErrorIs(t, err, core.ErrSchemaViolation)
}

func TestSchemaRegistryPhaseViolationEnum(t *testing.T) {
	reg := NewSchemaRegistry()
	require.NoError(t, RegisterDefaults(reg))

	err := reg.Validate(core.EventPhaseViolation, core.PhaseViolationData{
		LoopID: "loop-1",
		Tool:   "search",
		Phase:  core.Phase("NotAPhase"),
		Reason: "tool not allowed in phase",
	})
	require.Error(t, err)

	err = reg.Validate(core.EventPhaseViolation, core.PhaseViolationData{
		LoopID: "loop-1",
		Tool:   "search",
		Phase:  core.PhaseAct,
		Reason: "tool not allowed in phase",
	})
	require.NoError(t, err)
}
