// Package llm provides text generation and embedding capabilities behind
// provider-neutral interfaces, so the research pipeline can switch between
// Gemini, Bedrock, OpenRouter, Anthropic and Ollama without code changes.
package llm

import "fmt"

// ModelTier represents the complexity/capability level of a model
type ModelTier string

const (
	// TierLite is for cheap judgments: evidence scoring, query generation
	TierLite ModelTier = "lite"
	// TierStandard is for structured output: planning, hypotheses, critique
	TierStandard ModelTier = "standard"
	// TierAdvanced is for long-form synthesis: enrichment, report writing
	TierAdvanced ModelTier = "advanced"
)

// Provider represents an LLM provider
type Provider string

// Provider constants define supported LLM providers
const (
	ProviderGemini     Provider = "gemini"
	ProviderBedrock    Provider = "bedrock"
	ProviderOpenRouter Provider = "openrouter"
	ProviderAnthropic  Provider = "anthropic"
	ProviderOllama     Provider = "ollama"
)

// DefaultMaxOutputTokens bounds every generation call
const DefaultMaxOutputTokens = 2000

// Config holds the model configuration for the application
type Config struct {
	Provider        Provider
	Models          map[ModelTier]string
	MaxOutputTokens int
	Temperature     float32
	// BaseURL overrides the provider endpoint (OpenRouter, Ollama)
	BaseURL string
	// Region is the AWS region for Bedrock
	Region string
}

// DefaultConfig returns the default configuration (currently Gemini)
func DefaultConfig() *Config {
	return DefaultGeminiConfig()
}

// DefaultGeminiConfig returns the default Gemini configuration
func DefaultGeminiConfig() *Config {
	return &Config{
		Provider: ProviderGemini,
		Models: map[ModelTier]string{
			TierLite:     "gemini-2.5-flash-lite",
			TierStandard: "gemini-2.5-flash",
			TierAdvanced: "gemini-2.5-pro",
		},
		MaxOutputTokens: DefaultMaxOutputTokens,
		Temperature:     0.1,
	}
}

// DefaultBedrockConfig uses Claude on Bedrock for every tier
func DefaultBedrockConfig() *Config {
	return &Config{
		Provider: ProviderBedrock,
		Models: map[ModelTier]string{
			TierLite:     "anthropic.claude-3-haiku-20240307-v1:0",
			TierStandard: "anthropic.claude-3-sonnet-20240229-v1:0",
			TierAdvanced: "anthropic.claude-3-sonnet-20240229-v1:0",
		},
		MaxOutputTokens: DefaultMaxOutputTokens,
		Temperature:     0.1,
		Region:          "us-east-1",
	}
}

// DefaultOpenRouterConfig routes through the OpenAI-compatible OpenRouter API
func DefaultOpenRouterConfig() *Config {
	return &Config{
		Provider: ProviderOpenRouter,
		Models: map[ModelTier]string{
			TierLite:     "anthropic/claude-3-haiku",
			TierStandard: "anthropic/claude-3-sonnet",
			TierAdvanced: "anthropic/claude-3-sonnet",
		},
		MaxOutputTokens: DefaultMaxOutputTokens,
		Temperature:     0.1,
		BaseURL:         "https://openrouter.ai/api/v1",
	}
}

// DefaultAnthropicConfig talks to the Anthropic API directly
func DefaultAnthropicConfig() *Config {
	return &Config{
		Provider: ProviderAnthropic,
		Models: map[ModelTier]string{
			TierLite:     "claude-3-5-haiku-latest",
			TierStandard: "claude-sonnet-4-0",
			TierAdvanced: "claude-sonnet-4-0",
		},
		MaxOutputTokens: DefaultMaxOutputTokens,
		Temperature:     0.1,
	}
}

// DefaultOllamaConfig targets a local Ollama server
func DefaultOllamaConfig() *Config {
	return &Config{
		Provider: ProviderOllama,
		Models: map[ModelTier]string{
			TierStandard: "llama3.1",
		},
		MaxOutputTokens: DefaultMaxOutputTokens,
		Temperature:     0.1,
		BaseURL:         "http://localhost:11434",
	}
}

// ConfigFor returns the default configuration for a provider
func ConfigFor(p Provider) (*Config, error) {
	switch p {
	case ProviderGemini, "":
		return DefaultGeminiConfig(), nil
	case ProviderBedrock:
		return DefaultBedrockConfig(), nil
	case ProviderOpenRouter:
		return DefaultOpenRouterConfig(), nil
	case ProviderAnthropic:
		return DefaultAnthropicConfig(), nil
	case ProviderOllama:
		return DefaultOllamaConfig(), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", p)
	}
}

// GetModel returns the model name for a given tier
func (c *Config) GetModel(tier ModelTier) string {
	if model, ok := c.Models[tier]; ok {
		return model
	}
	// Fallback chain: try standard, then lite
	if model, ok := c.Models[TierStandard]; ok {
		return model
	}
	if model, ok := c.Models[TierLite]; ok {
		return model
	}
	return "" // No model configured
}

// WithModel returns a new Config with a specific model for a tier
func (c *Config) WithModel(tier ModelTier, model string) *Config {
	newConfig := *c
	newConfig.Models = make(map[ModelTier]string, len(c.Models)+1)
	for k, v := range c.Models {
		newConfig.Models[k] = v
	}
	newConfig.Models[tier] = model
	return &newConfig
}

// maxTokens returns the configured output bound or the default
func (c *Config) maxTokens() int {
	if c.MaxOutputTokens > 0 {
		return c.MaxOutputTokens
	}
	return DefaultMaxOutputTokens
}
