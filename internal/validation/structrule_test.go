package validation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orpar-labs/orpar-core/internal/core"
)

type fileWriteParams struct {
	Path    string `json:"path" validate:"required"`
	Content string `json:"content" validate:"required"`
}

func TestStructRule_FlagsMissingRequiredFields(t *testing.T) {
	p := New()
	p.RegisterSemanticRule("fs.write", StructRule[fileWriteParams](nil))

	result := p.Validate(context.Background(), "chan-1", "fs.write", core.RiskBlocking, map[string]any{
		"path": "/tmp/x",
	})
	require.NotEmpty(t, result.Issues)
}

func TestStructRule_PassesValidParams(t *testing.T) {
	p := New()
	p.RegisterSemanticRule("fs.write", StructRule[fileWriteParams](nil))

	result := p.Validate(context.Background(), "chan-1", "fs.write", core.RiskBlocking, map[string]any{
		"path":    "/tmp/x",
		"content": "hello",
	})
	require.Empty(t, result.Issues)
}
