package llm

import (
	"context"
	"errors"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/require"
)

var errRateLimited = errors.New("rate limited")

type stubMessagesClient struct {
	lastParams sdk.MessageNewParams
	resp       *sdk.Message
	err        error
}

func (s *stubMessagesClient) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	s.lastParams = body
	return s.resp, s.err
}

func TestAnthropicCompleteTextOnly(t *testing.T) {
	stub := &stubMessagesClient{
		resp: &sdk.Message{
			Content: []sdk.ContentBlockUnion{
				{Type: "text", Text: "world"},
			},
			StopReason: sdk.StopReasonEndTurn,
			Usage:      sdk.Usage{InputTokens: 10, OutputTokens: 5},
		},
	}
	c, err := NewAnthropicCompleter(stub, "claude-3.5-sonnet", 128)
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), &Request{
		Messages: []Message{{Role: RoleUser, Text: "hello"}},
	})
	require.NoError(t, err)
	require.Equal(t, "world", resp.Text)
	require.Equal(t, string(sdk.StopReasonEndTurn), resp.StopReason)
	require.Equal(t, 10, resp.Usage.InputTokens)
	require.Equal(t, 5, resp.Usage.OutputTokens)
	require.Equal(t, 15, resp.Usage.TotalTokens)
	require.Equal(t, "claude-3.5-sonnet", string(stub.lastParams.Model))
}

func TestAnthropicCompleteToolUse(t *testing.T) {
	stub := &stubMessagesClient{
		resp: &sdk.Message{
			Content: []sdk.ContentBlockUnion{
				{Type: "tool_use", Name: "test.tool", ID: "tool-1", Input: []byte(`{"x":1}`)},
			},
			StopReason: sdk.StopReasonToolUse,
		},
	}
	c, err := NewAnthropicCompleter(stub, "claude-3.5-sonnet", 128)
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), &Request{
		Messages: []Message{{Role: RoleUser, Text: "call tool"}},
		Tools:    []ToolDefinition{{Name: "test.tool", Description: "test tool", InputSchema: []byte(`{"type":"object"}`)}},
	})
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	require.Equal(t, "test.tool", resp.ToolCalls[0].Name)
	require.Equal(t, "tool-1", resp.ToolCalls[0].ID)
	require.JSONEq(t, `{"x":1}`, string(resp.ToolCalls[0].Payload))
	require.Len(t, stub.lastParams.Tools, 1)
}

func TestAnthropicCompleteRequiresMessages(t *testing.T) {
	c, err := NewAnthropicCompleter(&stubMessagesClient{}, "claude-3.5-sonnet", 128)
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), &Request{})
	require.Error(t, err)
}

func TestAnthropicCompleteRequiresMaxTokens(t *testing.T) {
	c, err := NewAnthropicCompleter(&stubMessagesClient{}, "claude-3.5-sonnet", 0)
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), &Request{Messages: []Message{{Role: RoleUser, Text: "hi"}}})
	require.Error(t, err)
}

func TestAnthropicCompletePropagatesClientError(t *testing.T) {
	stub := &stubMessagesClient{err: errRateLimited}
	c, err := NewAnthropicCompleter(stub, "claude-3.5-sonnet", 64)
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), &Request{Messages: []Message{{Role: RoleUser, Text: "hi"}}})
	require.ErrorIs(t, err, errRateLimited)
}
