package llm

import (
	"context"
	"fmt"
)

// Client is an abstraction over LLM providers
type Client interface {
	// GenerateContent generates text content using the specified model tier
	GenerateContent(ctx context.Context, prompt string, tier ModelTier) (string, error)
	// GenerateJSON generates JSON content using the specified model tier
	GenerateJSON(ctx context.Context, prompt string, tier ModelTier) (string, error)
	// GetModel returns the underlying provider model for a tier
	GetModel(tier ModelTier) string
	// Close releases any resources held by the client
	Close() error
}

// Credentials carries the secrets each provider may need
type Credentials struct {
	GeminiAPIKey     string
	OpenRouterAPIKey string
	AnthropicAPIKey  string
}

// NewClient creates a new LLM client based on configuration
func NewClient(ctx context.Context, config *Config, creds Credentials) (Client, error) {
	if config == nil {
		config = DefaultConfig()
	}

	switch config.Provider {
	case ProviderGemini, "":
		return NewGeminiClient(ctx, config, creds.GeminiAPIKey)
	case ProviderBedrock:
		return NewBedrockClient(ctx, config)
	case ProviderOpenRouter:
		return NewLangChainClient(config, creds.OpenRouterAPIKey)
	case ProviderAnthropic:
		return NewLangChainClient(config, creds.AnthropicAPIKey)
	case ProviderOllama:
		return NewLangChainClient(config, "")
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", config.Provider)
	}
}

// jsonInstruction is appended for providers without a native JSON mode
const jsonInstruction = "\n\nRespond with ONLY valid JSON. Do not include markdown, code fences or commentary."
