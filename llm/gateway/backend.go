package gateway

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/netopctl/topology-agent/llm"
	"github.com/netopctl/topology-agent/llm/factory"
)

// BackendKind names one of the five LLM backend shapes the gateway can
// route to. Values match Config.LLM.Backend/FallbackBackend exactly.
type BackendKind string

const (
	BackendRemoteOpenAICompatible BackendKind = "remote_openai_compatible"
	BackendBedrock                BackendKind = "bedrock"
	BackendVertex                 BackendKind = "vertex"
	BackendVLLMOpenAICompatible   BackendKind = "vllm_openai_compatible"
	BackendOllamaLocal            BackendKind = "ollama_local"
)

// BackendConfig holds the connection details for one backend kind.
type BackendConfig struct {
	Kind    BackendKind
	APIKey  string
	BaseURL string
	Model   string
}

// BuildProvider translates a backend kind into the factory's existing
// provider constructors: remote_openai_compatible maps onto the factory's
// "openai" entry, bedrock onto "anthropic" with a bedrock auth_type hint,
// vertex onto the factory's "gemini-vertex" alias (which auto-selects
// OAuth), and the two self-hosted kinds fall through to the factory's
// generic OpenAI-compatible constructor, which is how the factory already
// handles vLLM/Ollama-style deployments.
func BuildProvider(cfg BackendConfig, logger *zap.Logger) (llm.Provider, error) {
	switch cfg.Kind {
	case BackendRemoteOpenAICompatible:
		return factory.NewProviderFromConfig("openai", factory.ProviderConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
		}, logger)

	case BackendBedrock:
		return factory.NewProviderFromConfig("anthropic", factory.ProviderConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Extra:   map[string]any{"auth_type": "bedrock"},
		}, logger)

	case BackendVertex:
		return factory.NewProviderFromConfig("gemini-vertex", factory.ProviderConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
		}, logger)

	case BackendVLLMOpenAICompatible:
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("vllm_openai_compatible backend requires base_url")
		}
		return factory.NewProviderFromConfig("vllm", factory.ProviderConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
		}, logger)

	case BackendOllamaLocal:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434/v1"
		}
		return factory.NewProviderFromConfig("ollama", factory.ProviderConfig{
			BaseURL: baseURL,
			Model:   cfg.Model,
		}, logger)

	default:
		return nil, fmt.Errorf("unknown backend kind %q", cfg.Kind)
	}
}
