package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/google/generative-ai-go/genai"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"google.golang.org/api/option"
)

// Embedder turns text into fixed-dimension vectors
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// EmbedderConfig selects an embedding backend
type EmbedderConfig struct {
	Provider  Provider
	Model     string
	Dimension int
	BaseURL   string
	Region    string
}

// Default embedding models per provider
const (
	DefaultTitanEmbedModel  = "amazon.titan-embed-text-v2:0"
	DefaultGeminiEmbedModel = "text-embedding-004"
	DefaultOllamaEmbedModel = "nomic-embed-text"
	DefaultOpenAIEmbedModel = "text-embedding-3-small"
)

// NewEmbedder creates an embedder for cfg.Provider. Anthropic has no
// embedding endpoint, so it is rejected here.
func NewEmbedder(ctx context.Context, cfg EmbedderConfig, creds Credentials) (Embedder, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", cfg.Dimension)
	}

	switch cfg.Provider {
	case ProviderBedrock:
		api, err := newBedrockRuntime(ctx, cfg.Region)
		if err != nil {
			return nil, err
		}
		return &TitanEmbedder{api: api, model: orDefault(cfg.Model, DefaultTitanEmbedModel), dimension: cfg.Dimension}, nil

	case ProviderGemini, "":
		if creds.GeminiAPIKey == "" {
			return nil, fmt.Errorf("API key is required")
		}
		client, err := genai.NewClient(ctx, option.WithAPIKey(creds.GeminiAPIKey))
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini client: %w", err)
		}
		model := orDefault(cfg.Model, DefaultGeminiEmbedModel)
		return &GeminiEmbedder{client: client, model: client.EmbeddingModel(model), modelName: model, dimension: cfg.Dimension}, nil

	case ProviderOllama:
		llm, err := ollama.New(
			ollama.WithModel(orDefault(cfg.Model, DefaultOllamaEmbedModel)),
			ollama.WithServerURL(cfg.BaseURL),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama client: %w", err)
		}
		return newLangChainEmbedder(llm, cfg)

	case ProviderOpenRouter:
		if creds.OpenRouterAPIKey == "" {
			return nil, fmt.Errorf("OpenRouter API key required")
		}
		llm, err := openai.New(
			openai.WithToken(creds.OpenRouterAPIKey),
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithEmbeddingModel(orDefault(cfg.Model, DefaultOpenAIEmbedModel)),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai client: %w", err)
		}
		return newLangChainEmbedder(llm, cfg)

	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func checkDimensions(vectors [][]float32, want, count int) error {
	if len(vectors) != count {
		return fmt.Errorf("count mismatch: got %d, want %d", len(vectors), count)
	}
	for i, v := range vectors {
		if len(v) != want {
			return fmt.Errorf("embedding %d dimension mismatch: got %d, want %d", i, len(v), want)
		}
	}
	return nil
}

// TitanEmbedder calls Amazon Titan text embeddings on Bedrock
type TitanEmbedder struct {
	api       bedrockAPI
	model     string
	dimension int
}

type titanRequest struct {
	InputText  string `json:"inputText"`
	Dimensions int    `json:"dimensions"`
	Normalize  bool   `json:"normalize"`
}

type titanResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed embeds each text with one InvokeModel call; Titan has no batch API
func (e *TitanEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for _, text := range texts {
		body, err := json.Marshal(titanRequest{InputText: text, Dimensions: e.dimension, Normalize: true})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal titan request: %w", err)
		}
		out, err := e.api.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
			ModelId:     aws.String(e.model),
			Body:        body,
			ContentType: aws.String("application/json"),
			Accept:      aws.String("application/json"),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to invoke titan: %w", err)
		}
		var resp titanResponse
		if err := json.Unmarshal(out.Body, &resp); err != nil {
			return nil, fmt.Errorf("failed to parse titan response: %w", err)
		}
		vectors = append(vectors, resp.Embedding)
	}
	if err := checkDimensions(vectors, e.dimension, len(texts)); err != nil {
		return nil, err
	}
	return vectors, nil
}

// Dimension returns the configured vector size
func (e *TitanEmbedder) Dimension() int { return e.dimension }

// GeminiEmbedder batches texts through the Gemini embedding model
type GeminiEmbedder struct {
	client    *genai.Client
	model     *genai.EmbeddingModel
	modelName string
	dimension int
}

// Embed embeds all texts in a single batch request
func (e *GeminiEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	batch := e.model.NewBatch()
	for _, text := range texts {
		batch.AddContent(genai.Text(text))
	}
	resp, err := e.model.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("failed to embed with %s: %w", e.modelName, err)
	}
	vectors := make([][]float32, 0, len(resp.Embeddings))
	for _, emb := range resp.Embeddings {
		if emb == nil {
			vectors = append(vectors, nil)
			continue
		}
		vectors = append(vectors, emb.Values)
	}
	if err := checkDimensions(vectors, e.dimension, len(texts)); err != nil {
		return nil, err
	}
	return vectors, nil
}

// Dimension returns the configured vector size
func (e *GeminiEmbedder) Dimension() int { return e.dimension }

// Close releases the underlying Gemini client
func (e *GeminiEmbedder) Close() error { return e.client.Close() }

// LangChainEmbedder wraps a langchaingo embedder with dimension validation
type LangChainEmbedder struct {
	model     embeddings.Embedder
	modelName string
	dimension int
}

func newLangChainEmbedder(client embeddings.EmbedderClient, cfg EmbedderConfig) (*LangChainEmbedder, error) {
	model, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	return &LangChainEmbedder{model: model, modelName: cfg.Model, dimension: cfg.Dimension}, nil
}

// Embed generates embeddings for multiple texts
func (e *LangChainEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	start := time.Now()
	vectors, err := e.model.EmbedDocuments(ctx, texts)
	if err != nil {
		slog.Warn("embedding failed", "model", e.modelName, "texts", len(texts), "duration_ms", time.Since(start).Milliseconds(), "error", err)
		return nil, fmt.Errorf("embed batch: %w", err)
	}
	if err := checkDimensions(vectors, e.dimension, len(texts)); err != nil {
		return nil, err
	}
	slog.Debug("embedding complete", "model", e.modelName, "texts", len(texts), "duration_ms", time.Since(start).Milliseconds())
	return vectors, nil
}

// Dimension returns the expected embedding dimension
func (e *LangChainEmbedder) Dimension() int { return e.dimension }
