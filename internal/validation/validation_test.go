package validation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orpar-labs/orpar-core/internal/core"
)

const writeFileSchema = `{
  "type": "object",
  "properties": {
    "path": {"type": "string"},
    "content": {"type": "string"}
  },
  "required": ["path", "content"]
}`

func TestValidatePassesCleanPayload(t *testing.T) {
	p := New()
	require.NoError(t, p.RegisterSchema("write_file", []byte(writeFileSchema)))

	res := p.Validate(context.Background(), "chanA", "write_file", core.RiskBlocking, map[string]any{
		"path": "/tmp/x", "content": "hello",
	})
	require.False(t, res.Corrected)
	require.False(t, res.Exhausted)
	require.Empty(t, res.Issues)
}

func TestValidateCorrectsTypeCoercion(t *testing.T) {
	p := New()
	require.NoError(t, p.RegisterSchema("write_file", []byte(writeFileSchema)))

	res := p.Validate(context.Background(), "chanA", "write_file", core.RiskBlocking, map[string]any{
		"path": "/tmp/x", "content": float64(12345),
	})
	require.True(t, res.Corrected)
	require.Equal(t, "12345", res.Params["content"])
}

func TestValidateAsyncNeverBlocks(t *testing.T) {
	p := New()
	require.NoError(t, p.RegisterSchema("write_file", []byte(writeFileSchema)))

	res := p.Validate(context.Background(), "chanA", "write_file", core.RiskAsync, map[string]any{
		"path": "/tmp/x",
	})
	require.False(t, res.Exhausted)
	require.NotEmpty(t, res.Issues)
}

func TestValidateExhaustsWhenUncorrectable(t *testing.T) {
	p := New()
	require.NoError(t, p.RegisterSchema("write_file", []byte(writeFileSchema)))

	res := p.Validate(context.Background(), "chanA", "write_file", core.RiskStrict, map[string]any{
		"path": "/tmp/x",
	})
	require.True(t, res.Exhausted)
}

func TestPatternStoreInfersMissingRequired(t *testing.T) {
	store := NewPatternStore()
	for i := 0; i < 5; i++ {
		store.RecordSuccess("chanA", "write_file", map[string]any{"path": "/tmp/x", "mode": "0644"})
	}

	out, conf, ok := store.InferMissing("chanA", "write_file", map[string]any{"path": "/tmp/y"}, []Issue{
		{Field: "mode", Constraint: "missing_field"},
	})
	require.True(t, ok)
	require.Equal(t, "0644", out["mode"])
	require.Greater(t, conf, 0.0)
}

func TestSemanticRuleRuns(t *testing.T) {
	p := New()
	p.RegisterSemanticRule("write_file", func(params map[string]any) []Issue {
		if params["path"] == "/etc/passwd" {
			return []Issue{{Field: "path", Constraint: "invalid_format"}}
		}
		return nil
	})

	res := p.Validate(context.Background(), "chanA", "write_file", core.RiskStrict, map[string]any{
		"path": "/etc/passwd",
	})
	require.True(t, res.Exhausted)
}

func TestFilterUnknownProperty(t *testing.T) {
	p := New()
	p.RegisterSemanticRule("write_file", func(params map[string]any) []Issue {
		var issues []Issue
		for k := range params {
			if k != "path" && k != "content" {
				issues = append(issues, Issue{Field: k, Constraint: "unknown_property"})
			}
		}
		return issues
	})

	res := p.Validate(context.Background(), "chanA", "write_file", core.RiskStrict, map[string]any{
		"path": "/tmp/x", "content": "hi", "extra": "drop-me",
	})
	require.True(t, res.Corrected)
	_, present := res.Params["extra"]
	require.False(t, present)
}
