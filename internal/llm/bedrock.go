package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// RuntimeClient mirrors the subset of *bedrockruntime.Client the adapter
// uses, letting tests substitute a fake Converse implementation.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockCompleter implements Completer against the AWS Bedrock Converse
// API, exercised as a second LLM provider alongside AnthropicCompleter.
type BedrockCompleter struct {
	runtime      RuntimeClient
	defaultModel string
}

// NewBedrockCompleter wires a Completer against runtime, defaulting to
// defaultModel when a Request does not specify its own.
func NewBedrockCompleter(runtime RuntimeClient, defaultModel string) (*BedrockCompleter, error) {
	if runtime == nil {
		return nil, errors.New("llm: bedrock runtime client is required")
	}
	if defaultModel == "" {
		return nil, errors.New("llm: bedrock default model is required")
	}
	return &BedrockCompleter{runtime: runtime, defaultModel: defaultModel}, nil
}

// Complete implements Completer.
func (c *BedrockCompleter) Complete(ctx context.Context, req *Request) (*Response, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("llm: bedrock request requires at least one message")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}

	var system []brtypes.SystemContentBlock
	var conversation []brtypes.Message
	for _, m := range req.Messages {
		if m.Role == RoleSystem {
			system = append(system, &brtypes.SystemContentBlockMemberText{Value: m.Text})
			continue
		}
		role := brtypes.ConversationRoleUser
		if m.Role == RoleAssistant {
			role = brtypes.ConversationRoleAssistant
		}
		conversation = append(conversation, brtypes.Message{
			Role:    role,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Text}},
		})
	}

	toolConfig, err := encodeBedrockTools(req.Tools)
	if err != nil {
		return nil, err
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(modelID),
		Messages: conversation,
	}
	if len(system) > 0 {
		input.System = system
	}
	if toolConfig != nil {
		input.ToolConfig = toolConfig
	}
	if req.MaxTokens > 0 || req.Temperature > 0 {
		cfg := &brtypes.InferenceConfiguration{}
		if req.MaxTokens > 0 {
			maxTokens := int32(req.MaxTokens)
			cfg.MaxTokens = &maxTokens
		}
		if req.Temperature > 0 {
			temp := float32(req.Temperature)
			cfg.Temperature = &temp
		}
		input.InferenceConfig = cfg
	}

	output, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("llm: bedrock converse: %w", err)
	}
	return translateBedrockResponse(output)
}

func encodeBedrockTools(defs []ToolDefinition) (*brtypes.ToolConfiguration, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	tools := make([]brtypes.Tool, 0, len(defs))
	for _, def := range defs {
		var fields map[string]any
		if len(def.InputSchema) > 0 {
			if err := json.Unmarshal(def.InputSchema, &fields); err != nil {
				return nil, fmt.Errorf("llm: bedrock tool %q schema: %w", def.Name, err)
			}
		}
		tools = append(tools, &brtypes.ToolMemberToolSpec{
			Value: brtypes.ToolSpecification{
				Name:        aws.String(def.Name),
				Description: aws.String(def.Description),
				InputSchema: &brtypes.ToolInputSchemaMemberJson{
					Value: document.NewLazyDocument(&fields),
				},
			},
		})
	}
	return &brtypes.ToolConfiguration{Tools: tools}, nil
}

func translateBedrockResponse(output *bedrockruntime.ConverseOutput) (*Response, error) {
	if output == nil {
		return nil, errors.New("llm: bedrock response is nil")
	}
	resp := &Response{}
	if msg, ok := output.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			switch v := block.(type) {
			case *brtypes.ContentBlockMemberText:
				resp.Text += v.Value
			case *brtypes.ContentBlockMemberToolUse:
				payload := decodeBedrockDocument(v.Value.Input)
				name := ""
				if v.Value.Name != nil {
					name = *v.Value.Name
				}
				var id string
				if v.Value.ToolUseId != nil {
					id = *v.Value.ToolUseId
				}
				resp.ToolCalls = append(resp.ToolCalls, ToolCall{Name: name, ID: id, Payload: payload})
			}
		}
	}
	if usage := output.Usage; usage != nil {
		resp.Usage = TokenUsage{
			InputTokens:  int(intPtr(usage.InputTokens)),
			OutputTokens: int(intPtr(usage.OutputTokens)),
			TotalTokens:  int(intPtr(usage.TotalTokens)),
		}
	}
	resp.StopReason = string(output.StopReason)
	return resp, nil
}

func decodeBedrockDocument(doc document.Interface) json.RawMessage {
	if doc == nil {
		return nil
	}
	data, err := doc.MarshalSmithyDocument()
	if err != nil || len(data) == 0 {
		return nil
	}
	return json.RawMessage(data)
}

func intPtr(p *int32) int32 {
	if p == nil {
		return 0
	}
	return *p
}
