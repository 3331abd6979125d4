package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// MessagesClient captures the subset of the Anthropic SDK used by
// AnthropicCompleter, letting tests substitute a fake in place of
// *sdk.MessageService.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// AnthropicCompleter implements Completer against the Anthropic Messages
// API.
type AnthropicCompleter struct {
	msg          MessagesClient
	defaultModel string
	maxTokens    int
}

// NewAnthropicCompleter wires a Completer against msg, defaulting to
// defaultModel and maxTokens when a Request does not specify its own.
func NewAnthropicCompleter(msg MessagesClient, defaultModel string, maxTokens int) (*AnthropicCompleter, error) {
	if msg == nil {
		return nil, errors.New("llm: anthropic messages client is required")
	}
	if defaultModel == "" {
		return nil, errors.New("llm: anthropic default model is required")
	}
	return &AnthropicCompleter{msg: msg, defaultModel: defaultModel, maxTokens: maxTokens}, nil
}

// NewAnthropicCompleterFromAPIKey constructs a Completer using the default
// Anthropic HTTP client, authenticated via apiKey.
func NewAnthropicCompleterFromAPIKey(apiKey, defaultModel string, maxTokens int) (*AnthropicCompleter, error) {
	if apiKey == "" {
		return nil, errors.New("llm: anthropic api key is required")
	}
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return NewAnthropicCompleter(&client.Messages, defaultModel, maxTokens)
}

// Complete implements Completer.
func (c *AnthropicCompleter) Complete(ctx context.Context, req *Request) (*Response, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("llm: anthropic request requires at least one message")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	if maxTokens <= 0 {
		return nil, errors.New("llm: anthropic max_tokens must be positive")
	}

	var system []sdk.TextBlockParam
	var conversation []sdk.MessageParam
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, sdk.TextBlockParam{Text: m.Text})
		case RoleAssistant:
			conversation = append(conversation, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Text)))
		default:
			conversation = append(conversation, sdk.NewUserMessage(sdk.NewTextBlock(m.Text)))
		}
	}

	tools, err := encodeAnthropicTools(req.Tools)
	if err != nil {
		return nil, err
	}

	params := sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Messages:  conversation,
		Model:     sdk.Model(modelID),
	}
	if len(system) > 0 {
		params.System = system
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}

	msg, err := c.msg.New(ctx, params)
	if err != nil {
		var aerr *sdk.Error
		if errors.As(err, &aerr) && aerr.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("llm: anthropic messages.new: %w: %w", ErrRateLimited, err)
		}
		return nil, fmt.Errorf("llm: anthropic messages.new: %w", err)
	}
	return translateAnthropicResponse(msg), nil
}

func encodeAnthropicTools(defs []ToolDefinition) ([]sdk.ToolUnionParam, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	out := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		schema := sdk.ToolInputSchemaParam{}
		if len(def.InputSchema) > 0 {
			var fields map[string]any
			if err := json.Unmarshal(def.InputSchema, &fields); err != nil {
				return nil, fmt.Errorf("llm: anthropic tool %q schema: %w", def.Name, err)
			}
			schema.ExtraFields = fields
		}
		u := sdk.ToolUnionParamOfTool(schema, def.Name)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(def.Description)
		}
		out = append(out, u)
	}
	return out, nil
}

func translateAnthropicResponse(msg *sdk.Message) *Response {
	resp := &Response{}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			resp.Text += block.Text
		case "tool_use":
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{
				Name:    block.Name,
				ID:      block.ID,
				Payload: json.RawMessage(block.Input),
			})
		}
	}
	resp.Usage = TokenUsage{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
		TotalTokens:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
	}
	resp.StopReason = string(msg.StopReason)
	return resp
}
