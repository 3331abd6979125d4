package main

import (
	"context"
	"fmt"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"gopkg.in/yaml.v3"

	"github.com/orpar-labs/orpar-core/internal/llm"
	"github.com/orpar-labs/orpar-core/internal/memory"
	"github.com/orpar-labs/orpar-core/internal/registry"
	"github.com/orpar-labs/orpar-core/internal/strata"
)

// ServeConfig is the optional YAML configuration file for `orparctl serve`,
// supplementing the flag/env-var surface with static credential and LLM
// provider settings. Grounded on the teacher's integration test fixture
// loader (integration_tests/framework/runner.go), which reads scenario
// config the same way: os.ReadFile followed by yaml.Unmarshal into a plain
// struct, no schema validation layer.
type ServeConfig struct {
	AgentKeys   []CredentialEntry `yaml:"agentKeys"`
	UserTokens  []CredentialEntry `yaml:"userTokens"`
	LLM         LLMConfig         `yaml:"llm"`
}

// CredentialEntry binds one credential to the principal and channel it
// authenticates into, mirroring the "cred:principalID:channelID" shape
// parseCredentialList accepts from the environment.
type CredentialEntry struct {
	Credential string `yaml:"credential"`
	PrincipalID string `yaml:"principalId"`
	ChannelID   string `yaml:"channelId"`
}

// LLMConfig selects and parameterizes the LLM Phase Client's provider
// adapter (spec §4.H).
type LLMConfig struct {
	Provider     string  `yaml:"provider"` // "anthropic", "openai", "bedrock", or "" to disable
	Model        string  `yaml:"model"`
	MaxTokens    int     `yaml:"maxTokens"`
	InitialRPS   float64 `yaml:"initialRPS"`
	MaxRPS       float64 `yaml:"maxRPS"`
	SystemPrompt string  `yaml:"systemPrompt"`
}

// LoadServeConfig reads and parses a YAML config file. A missing path is not
// an error: callers fall back to the env-var/flag-only surface.
func LoadServeConfig(path string) (*ServeConfig, error) {
	if path == "" {
		return &ServeConfig{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("orparctl: read config %q: %w", path, err)
	}
	var cfg ServeConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("orparctl: parse config %q: %w", path, err)
	}
	return &cfg, nil
}

func (c *ServeConfig) toKeyStore() envKeyStore {
	out := make(envKeyStore, len(c.AgentKeys))
	for _, e := range c.AgentKeys {
		out[e.Credential] = [2]string{e.PrincipalID, e.ChannelID}
	}
	return out
}

func (c *ServeConfig) toTokenStore() envTokenStore {
	out := make(envTokenStore, len(c.UserTokens))
	for _, e := range c.UserTokens {
		out[e.Credential] = [2]string{e.PrincipalID, e.ChannelID}
	}
	return out
}

func mergeKeyStores(a, b envKeyStore) envKeyStore {
	out := make(envKeyStore, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

func mergeTokenStores(a, b envTokenStore) envTokenStore {
	out := make(envTokenStore, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

// buildPhaseClient constructs the LLM Phase Client (spec §4.H) from the
// config's provider selection, wrapping the chosen Completer with an
// AdaptiveRateLimiter throttling queue. Returns (nil, nil) when no provider
// is configured; the engine then runs without a Reasoner and Planner, and
// its Reason phase reports core.ErrFatal and returns the loop to Observe.
func buildPhaseClient(cfg LLMConfig, router *strata.Router, mem *memory.Store, reg *registry.Registry) (*llm.PhaseClient, error) {
	if cfg.Provider == "" {
		return nil, nil
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	initialRPS, maxRPS := cfg.InitialRPS, cfg.MaxRPS
	if initialRPS <= 0 {
		initialRPS = 1
	}

	var completer llm.Completer
	switch cfg.Provider {
	case "anthropic":
		apiKey := os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("orparctl: llm.provider=anthropic requires ANTHROPIC_API_KEY")
		}
		c, err := llm.NewAnthropicCompleterFromAPIKey(apiKey, cfg.Model, maxTokens)
		if err != nil {
			return nil, fmt.Errorf("orparctl: build anthropic completer: %w", err)
		}
		completer = c
	case "openai":
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("orparctl: llm.provider=openai requires OPENAI_API_KEY")
		}
		c, err := llm.NewOpenAICompleterFromAPIKey(apiKey, cfg.Model)
		if err != nil {
			return nil, fmt.Errorf("orparctl: build openai completer: %w", err)
		}
		completer = c
	case "bedrock":
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
		if err != nil {
			return nil, fmt.Errorf("orparctl: load AWS config for bedrock: %w", err)
		}
		c, err := llm.NewBedrockCompleter(bedrockruntime.NewFromConfig(awsCfg), cfg.Model)
		if err != nil {
			return nil, fmt.Errorf("orparctl: build bedrock completer: %w", err)
		}
		completer = c
	default:
		return nil, fmt.Errorf("orparctl: unknown llm.provider %q (want anthropic, openai, or bedrock)", cfg.Provider)
	}

	limiter := llm.NewAdaptiveRateLimiter(initialRPS, maxRPS)
	phaseOpts := []llm.Option{llm.WithModel(cfg.Model), llm.WithMaxTokens(maxTokens), llm.WithRegistry(reg)}
	if cfg.SystemPrompt != "" {
		phaseOpts = append(phaseOpts, llm.WithSystemPrompt(cfg.SystemPrompt))
	}
	return llm.NewPhaseClient(limiter.Wrap(completer), router, mem, phaseOpts...), nil
}
