package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// ChatCompletionsClient mirrors the subset of the OpenAI SDK's
// Chat.Completions service used by OpenAICompleter, letting tests
// substitute a fake in place of the real client.
type ChatCompletionsClient interface {
	New(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) (*sdk.ChatCompletion, error)
}

// OpenAICompleter implements Completer against the OpenAI Chat Completions
// API, exercised as a third LLM provider alongside AnthropicCompleter and
// BedrockCompleter.
type OpenAICompleter struct {
	chat         ChatCompletionsClient
	defaultModel string
}

// NewOpenAICompleter wires a Completer against chat, defaulting to
// defaultModel when a Request does not specify its own.
func NewOpenAICompleter(chat ChatCompletionsClient, defaultModel string) (*OpenAICompleter, error) {
	if chat == nil {
		return nil, errors.New("llm: openai chat client is required")
	}
	if defaultModel == "" {
		return nil, errors.New("llm: openai default model is required")
	}
	return &OpenAICompleter{chat: chat, defaultModel: defaultModel}, nil
}

// NewOpenAICompleterFromAPIKey constructs a Completer using the default
// OpenAI HTTP client, authenticated via apiKey.
func NewOpenAICompleterFromAPIKey(apiKey, defaultModel string) (*OpenAICompleter, error) {
	if apiKey == "" {
		return nil, errors.New("llm: openai api key is required")
	}
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return NewOpenAICompleter(&client.Chat.Completions, defaultModel)
}

// Complete implements Completer.
func (c *OpenAICompleter) Complete(ctx context.Context, req *Request) (*Response, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("llm: openai request requires at least one message")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}

	messages := make([]sdk.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			messages = append(messages, sdk.SystemMessage(m.Text))
		case RoleAssistant:
			messages = append(messages, sdk.AssistantMessage(m.Text))
		default:
			messages = append(messages, sdk.UserMessage(m.Text))
		}
	}

	tools, err := encodeOpenAITools(req.Tools)
	if err != nil {
		return nil, err
	}

	params := sdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(modelID),
		Messages: messages,
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = sdk.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}

	resp, err := c.chat.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("llm: openai chat.completions.new: %w", err)
	}
	return translateOpenAIResponse(resp), nil
}

func encodeOpenAITools(defs []ToolDefinition) ([]sdk.ChatCompletionToolParam, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	out := make([]sdk.ChatCompletionToolParam, 0, len(defs))
	for _, def := range defs {
		var params map[string]any
		if len(def.InputSchema) > 0 {
			if err := json.Unmarshal(def.InputSchema, &params); err != nil {
				return nil, fmt.Errorf("llm: openai tool %q schema: %w", def.Name, err)
			}
		}
		out = append(out, sdk.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        def.Name,
				Description: sdk.String(def.Description),
				Parameters:  params,
			},
		})
	}
	return out, nil
}

func translateOpenAIResponse(resp *sdk.ChatCompletion) *Response {
	out := &Response{}
	if len(resp.Choices) == 0 {
		return out
	}
	choice := resp.Choices[0]
	out.Text = choice.Message.Content
	out.StopReason = string(choice.FinishReason)
	for _, call := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			Name:    call.Function.Name,
			ID:      call.ID,
			Payload: json.RawMessage(call.Function.Arguments),
		})
	}
	out.Usage = TokenUsage{
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:  int(resp.Usage.TotalTokens),
	}
	return out
}
