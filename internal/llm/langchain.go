package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangChainClient implements Client for OpenRouter, Anthropic and Ollama
// through langchaingo.
type LangChainClient struct {
	model  llms.Model
	config *Config
}

// NewLangChainClient builds the langchaingo model for config.Provider
func NewLangChainClient(config *Config, apiKey string) (*LangChainClient, error) {
	model, err := newLangChainModel(config, apiKey)
	if err != nil {
		return nil, err
	}
	return &LangChainClient{model: model, config: config}, nil
}

func newLangChainModel(config *Config, apiKey string) (llms.Model, error) {
	defaultModel := config.GetModel(TierStandard)

	switch config.Provider {
	case ProviderOpenRouter:
		if apiKey == "" {
			return nil, fmt.Errorf("OpenRouter API key required")
		}
		model, err := openai.New(
			openai.WithToken(apiKey),
			openai.WithModel(defaultModel),
			openai.WithBaseURL(config.BaseURL),
		)
		if err != nil {
			return nil, fmt.Errorf("create openrouter model: %w", err)
		}
		return model, nil

	case ProviderAnthropic:
		if apiKey == "" {
			return nil, fmt.Errorf("Anthropic API key required")
		}
		model, err := anthropic.New(
			anthropic.WithToken(apiKey),
			anthropic.WithModel(defaultModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}
		return model, nil

	case ProviderOllama:
		model, err := ollama.New(
			ollama.WithModel(defaultModel),
			ollama.WithServerURL(config.BaseURL),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}
		return model, nil

	default:
		return nil, fmt.Errorf("unsupported langchain provider: %s", config.Provider)
	}
}

// GenerateContent generates text content using the specified model tier
func (c *LangChainClient) GenerateContent(ctx context.Context, prompt string, tier ModelTier) (string, error) {
	modelName := c.config.GetModel(tier)
	if modelName == "" {
		return "", fmt.Errorf("no model configured for tier %s", tier)
	}

	resp, err := llms.GenerateFromSinglePrompt(ctx, c.model, prompt,
		llms.WithModel(modelName),
		llms.WithMaxTokens(c.config.maxTokens()),
		llms.WithTemperature(float64(c.config.Temperature)),
	)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	return resp, nil
}

// GenerateJSON generates JSON content using the specified model tier
func (c *LangChainClient) GenerateJSON(ctx context.Context, prompt string, tier ModelTier) (string, error) {
	text, err := c.GenerateContent(ctx, prompt+jsonInstruction, tier)
	if err != nil {
		return "", err
	}
	return CleanJSONBlock(text), nil
}

// GetModel returns the model name for a tier
func (c *LangChainClient) GetModel(tier ModelTier) string {
	return c.config.GetModel(tier)
}

// Close is a no-op for HTTP-backed models
func (c *LangChainClient) Close() error {
	return nil
}
