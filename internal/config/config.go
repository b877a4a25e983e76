// Package config provides configuration loading and validation for the
// research agent. Values come from a JSON or YAML file, then the
// environment, then CLI flags.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jonathan/research-orchestrator/internal/db"
	"github.com/jonathan/research-orchestrator/internal/llm"
	"github.com/jonathan/research-orchestrator/internal/orchestrator"
	"github.com/jonathan/research-orchestrator/internal/retry"
	"github.com/jonathan/research-orchestrator/internal/search"
	"github.com/jonathan/research-orchestrator/internal/taskloop"
)

// Config represents the agent configuration. All fields are optional;
// zero values are filled from Defaults.
type Config struct {
	// Storage and server
	DatabaseURL string `json:"database_url,omitempty" yaml:"database_url,omitempty"`
	Port        int    `json:"port,omitempty" yaml:"port,omitempty"`

	// Logging
	LogLevel string `json:"log_level,omitempty" yaml:"log_level,omitempty"`
	LogFile  string `json:"log_file,omitempty" yaml:"log_file,omitempty"`

	// Text generation
	LLMProvider     string            `json:"llm_provider,omitempty" yaml:"llm_provider,omitempty"`
	LLMBaseURL      string            `json:"llm_base_url,omitempty" yaml:"llm_base_url,omitempty"`
	AWSRegion       string            `json:"aws_region,omitempty" yaml:"aws_region,omitempty"`
	Models          map[string]string `json:"models,omitempty" yaml:"models,omitempty"` // tier -> model name
	MaxOutputTokens int               `json:"max_output_tokens,omitempty" yaml:"max_output_tokens,omitempty"`

	// Embeddings
	EmbeddingProvider  string `json:"embedding_provider,omitempty" yaml:"embedding_provider,omitempty"`
	EmbeddingModel     string `json:"embedding_model,omitempty" yaml:"embedding_model,omitempty"`
	EmbeddingDimension int    `json:"embedding_dimension,omitempty" yaml:"embedding_dimension,omitempty"`

	// Secrets, normally supplied through the environment
	GeminiAPIKey     string `json:"gemini_api_key,omitempty" yaml:"gemini_api_key,omitempty"`
	OpenRouterAPIKey string `json:"openrouter_api_key,omitempty" yaml:"openrouter_api_key,omitempty"`
	AnthropicAPIKey  string `json:"anthropic_api_key,omitempty" yaml:"anthropic_api_key,omitempty"`
	SearchAPIKey     string `json:"search_api_key,omitempty" yaml:"search_api_key,omitempty"`
	SearchCX         string `json:"search_cx,omitempty" yaml:"search_cx,omitempty"`

	// Search
	SearchDepth     string `json:"search_depth,omitempty" yaml:"search_depth,omitempty"` // basic or advanced
	ResultsPerQuery int    `json:"results_per_query,omitempty" yaml:"results_per_query,omitempty"`
	UseBrowser      bool   `json:"use_browser,omitempty" yaml:"use_browser,omitempty"` // headless fetch for advanced depth

	// Pipeline
	MinTasks              int     `json:"min_tasks,omitempty" yaml:"min_tasks,omitempty"`
	MaxTasks              int     `json:"max_tasks,omitempty" yaml:"max_tasks,omitempty"`
	MaxTaskAttempts       int     `json:"max_task_attempts,omitempty" yaml:"max_task_attempts,omitempty"`
	MaxReportAttempts     int     `json:"max_report_attempts,omitempty" yaml:"max_report_attempts,omitempty"`
	MaxKeyFindings        int     `json:"max_key_findings,omitempty" yaml:"max_key_findings,omitempty"`
	MaxParallelTasks      int     `json:"max_parallel_tasks,omitempty" yaml:"max_parallel_tasks,omitempty"`
	MaxGlobalTasks        int     `json:"max_global_tasks,omitempty" yaml:"max_global_tasks,omitempty"`
	MaxConcurrentJobs     int     `json:"max_concurrent_jobs,omitempty" yaml:"max_concurrent_jobs,omitempty"`
	MaxQueries            int     `json:"max_queries,omitempty" yaml:"max_queries,omitempty"`
	RelevanceFloor        float64 `json:"relevance_floor,omitempty" yaml:"relevance_floor,omitempty"`
	SimilarityFloor       float64 `json:"similarity_floor,omitempty" yaml:"similarity_floor,omitempty"`
	KnowledgeTopK         int     `json:"knowledge_top_k,omitempty" yaml:"knowledge_top_k,omitempty"`
	ProviderRetries       int     `json:"provider_retries,omitempty" yaml:"provider_retries,omitempty"`
	ReportExhaustedPolicy string  `json:"report_exhausted_policy,omitempty" yaml:"report_exhausted_policy,omitempty"`
	IncrementalIngestion  *bool   `json:"incremental_ingestion,omitempty" yaml:"incremental_ingestion,omitempty"`
}

// Defaults returns the built-in configuration
func Defaults() Config {
	incremental := true
	return Config{
		Port:                  8080,
		LogLevel:              "info",
		LLMProvider:           string(llm.ProviderGemini),
		EmbeddingDimension:    db.DefaultEmbeddingDimension,
		SearchDepth:           string(search.DepthBasic),
		ResultsPerQuery:       3,
		MinTasks:              2,
		MaxTasks:              10,
		MaxTaskAttempts:       3,
		MaxReportAttempts:     2,
		MaxKeyFindings:        10,
		MaxParallelTasks:      3,
		MaxGlobalTasks:        8,
		MaxConcurrentJobs:     4,
		MaxQueries:            3,
		RelevanceFloor:        5,
		SimilarityFloor:       0.75,
		KnowledgeTopK:         5,
		ProviderRetries:       3,
		ReportExhaustedPolicy: string(orchestrator.ReportPolicyComplete),
		IncrementalIngestion:  &incremental,
	}
}

// LoadConfig loads configuration from a JSON or YAML file, chosen by
// extension. Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	// Resolve path relative to current directory if not absolute
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	}

	return &cfg, nil
}

// Validate checks that the configuration has valid values.
// Zero values are allowed; they mean "use the default".
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config error: 'port' must be between 0 and 65535")
	}

	if c.LogLevel != "" {
		if _, err := ParseLevel(c.LogLevel); err != nil {
			return fmt.Errorf("config error: %w", err)
		}
	}
	if c.LLMProvider != "" {
		if _, err := llm.ConfigFor(llm.Provider(c.LLMProvider)); err != nil {
			return fmt.Errorf("config error: %w", err)
		}
	}
	if c.EmbeddingProvider == string(llm.ProviderAnthropic) {
		return fmt.Errorf("config error: anthropic has no embedding endpoint")
	}
	if _, err := search.ParseDepth(c.SearchDepth); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if _, err := orchestrator.ParseReportPolicy(c.ReportExhaustedPolicy); err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	nonNegative := map[string]int{
		"max_output_tokens":   c.MaxOutputTokens,
		"embedding_dimension": c.EmbeddingDimension,
		"results_per_query":   c.ResultsPerQuery,
		"min_tasks":           c.MinTasks,
		"max_tasks":           c.MaxTasks,
		"max_task_attempts":   c.MaxTaskAttempts,
		"max_report_attempts": c.MaxReportAttempts,
		"max_key_findings":    c.MaxKeyFindings,
		"max_parallel_tasks":  c.MaxParallelTasks,
		"max_global_tasks":    c.MaxGlobalTasks,
		"max_concurrent_jobs": c.MaxConcurrentJobs,
		"max_queries":         c.MaxQueries,
		"knowledge_top_k":     c.KnowledgeTopK,
		"provider_retries":    c.ProviderRetries,
	}
	for name, v := range nonNegative {
		if v < 0 {
			return fmt.Errorf("config error: '%s' must be non-negative", name)
		}
	}

	if c.MinTasks > 0 && c.MaxTasks > 0 && c.MinTasks > c.MaxTasks {
		return fmt.Errorf("config error: 'min_tasks' must not exceed 'max_tasks'")
	}
	if c.RelevanceFloor < 0 || c.RelevanceFloor > 10 {
		return fmt.Errorf("config error: 'relevance_floor' must be between 0 and 10")
	}
	if c.SimilarityFloor < 0 || c.SimilarityFloor > 1 {
		return fmt.Errorf("config error: 'similarity_floor' must be between 0.0 and 1.0")
	}

	return nil
}

// MergeWithDefaults returns a new Config with zero fields filled from defaults.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	mergeString(&result.DatabaseURL, defaults.DatabaseURL)
	mergeString(&result.LogLevel, defaults.LogLevel)
	mergeString(&result.LogFile, defaults.LogFile)
	mergeString(&result.LLMProvider, defaults.LLMProvider)
	mergeString(&result.LLMBaseURL, defaults.LLMBaseURL)
	mergeString(&result.AWSRegion, defaults.AWSRegion)
	mergeString(&result.EmbeddingProvider, defaults.EmbeddingProvider)
	mergeString(&result.EmbeddingModel, defaults.EmbeddingModel)
	mergeString(&result.GeminiAPIKey, defaults.GeminiAPIKey)
	mergeString(&result.OpenRouterAPIKey, defaults.OpenRouterAPIKey)
	mergeString(&result.AnthropicAPIKey, defaults.AnthropicAPIKey)
	mergeString(&result.SearchAPIKey, defaults.SearchAPIKey)
	mergeString(&result.SearchCX, defaults.SearchCX)
	mergeString(&result.SearchDepth, defaults.SearchDepth)
	mergeString(&result.ReportExhaustedPolicy, defaults.ReportExhaustedPolicy)

	mergeInt(&result.Port, defaults.Port)
	mergeInt(&result.MaxOutputTokens, defaults.MaxOutputTokens)
	mergeInt(&result.EmbeddingDimension, defaults.EmbeddingDimension)
	mergeInt(&result.ResultsPerQuery, defaults.ResultsPerQuery)
	mergeInt(&result.MinTasks, defaults.MinTasks)
	mergeInt(&result.MaxTasks, defaults.MaxTasks)
	mergeInt(&result.MaxTaskAttempts, defaults.MaxTaskAttempts)
	mergeInt(&result.MaxReportAttempts, defaults.MaxReportAttempts)
	mergeInt(&result.MaxKeyFindings, defaults.MaxKeyFindings)
	mergeInt(&result.MaxParallelTasks, defaults.MaxParallelTasks)
	mergeInt(&result.MaxGlobalTasks, defaults.MaxGlobalTasks)
	mergeInt(&result.MaxConcurrentJobs, defaults.MaxConcurrentJobs)
	mergeInt(&result.MaxQueries, defaults.MaxQueries)
	mergeInt(&result.KnowledgeTopK, defaults.KnowledgeTopK)
	mergeInt(&result.ProviderRetries, defaults.ProviderRetries)

	if result.RelevanceFloor == 0 {
		result.RelevanceFloor = defaults.RelevanceFloor
	}
	if result.SimilarityFloor == 0 {
		result.SimilarityFloor = defaults.SimilarityFloor
	}
	if result.IncrementalIngestion == nil {
		result.IncrementalIngestion = defaults.IncrementalIngestion
	}
	if len(result.Models) == 0 {
		result.Models = defaults.Models
	}

	// Bool fields: use default if false
	if !result.UseBrowser {
		result.UseBrowser = defaults.UseBrowser
	}

	return result
}

func mergeString(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

func mergeInt(dst *int, def int) {
	if *dst == 0 {
		*dst = def
	}
}

// ApplyEnv overlays non-empty environment variables onto c. Environment
// values win over file values.
func (c *Config) ApplyEnv() {
	c.applyEnv(os.Getenv)
}

func (c *Config) applyEnv(getenv func(string) string) {
	strs := map[string]*string{
		"DATABASE_URL":          &c.DatabaseURL,
		"GEMINI_API_KEY":        &c.GeminiAPIKey,
		"GOOGLE_SEARCH_API_KEY": &c.SearchAPIKey,
		"GOOGLE_SEARCH_CX":      &c.SearchCX,
		"LLM_PROVIDER":          &c.LLMProvider,
		"OPENROUTER_API_KEY":    &c.OpenRouterAPIKey,
		"ANTHROPIC_API_KEY":     &c.AnthropicAPIKey,
		"AWS_REGION":            &c.AWSRegion,
		"LOG_LEVEL":             &c.LogLevel,
		"LOG_FILE":              &c.LogFile,
	}
	for key, dst := range strs {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}

	// OLLAMA_HOST only applies when Ollama is the provider
	if v := getenv("OLLAMA_HOST"); v != "" && c.LLMProvider == string(llm.ProviderOllama) {
		c.LLMBaseURL = v
	}
	if v := getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Port = port
		}
	}
}

// LLMConfig builds the generation client configuration
func (c *Config) LLMConfig() (*llm.Config, error) {
	cfg, err := llm.ConfigFor(llm.Provider(c.LLMProvider))
	if err != nil {
		return nil, err
	}
	for tier, model := range c.Models {
		cfg = cfg.WithModel(llm.ModelTier(tier), model)
	}
	if c.MaxOutputTokens > 0 {
		cfg.MaxOutputTokens = c.MaxOutputTokens
	}
	if c.LLMBaseURL != "" {
		cfg.BaseURL = c.LLMBaseURL
	}
	if c.AWSRegion != "" {
		cfg.Region = c.AWSRegion
	}
	return cfg, nil
}

// EmbedderConfig builds the embedding configuration. The embedding
// provider falls back to the generation provider.
func (c *Config) EmbedderConfig() llm.EmbedderConfig {
	provider := c.EmbeddingProvider
	if provider == "" {
		provider = c.LLMProvider
	}
	cfg := llm.EmbedderConfig{
		Provider:  llm.Provider(provider),
		Model:     c.EmbeddingModel,
		Dimension: c.EmbeddingDimension,
		Region:    c.AWSRegion,
	}
	if cfg.Provider == llm.ProviderOllama || cfg.Provider == llm.ProviderOpenRouter {
		cfg.BaseURL = c.LLMBaseURL
	}
	return cfg
}

// Credentials collects the provider secrets
func (c *Config) Credentials() llm.Credentials {
	return llm.Credentials{
		GeminiAPIKey:     c.GeminiAPIKey,
		OpenRouterAPIKey: c.OpenRouterAPIKey,
		AnthropicAPIKey:  c.AnthropicAPIKey,
	}
}

// RetryPolicy returns the call-site retry policy for providers
func (c *Config) RetryPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	if c.ProviderRetries >= 0 {
		p.MaxRetries = uint64(c.ProviderRetries)
	}
	return p
}

// LoopConfig builds the task loop configuration
func (c *Config) LoopConfig() (taskloop.Config, error) {
	depth, err := search.ParseDepth(c.SearchDepth)
	if err != nil {
		return taskloop.Config{}, err
	}
	cfg := taskloop.DefaultConfig()
	cfg.SearchDepth = depth
	if c.MaxQueries > 0 {
		cfg.MaxQueries = c.MaxQueries
	}
	if c.RelevanceFloor > 0 {
		cfg.RelevanceFloor = c.RelevanceFloor
	}
	if c.SimilarityFloor > 0 {
		cfg.SimilarityFloor = c.SimilarityFloor
	}
	if c.KnowledgeTopK > 0 {
		cfg.KnowledgeTopK = c.KnowledgeTopK
	}
	return cfg, nil
}

// OrchestratorConfig builds the orchestration configuration
func (c *Config) OrchestratorConfig() (orchestrator.Config, error) {
	policy, err := orchestrator.ParseReportPolicy(c.ReportExhaustedPolicy)
	if err != nil {
		return orchestrator.Config{}, err
	}
	loop, err := c.LoopConfig()
	if err != nil {
		return orchestrator.Config{}, err
	}

	cfg := orchestrator.DefaultConfig()
	cfg.ReportExhaustedPolicy = policy
	cfg.Loop = loop
	setPositive(&cfg.MinTasks, c.MinTasks)
	setPositive(&cfg.MaxTasks, c.MaxTasks)
	setPositive(&cfg.MaxTaskAttempts, c.MaxTaskAttempts)
	setPositive(&cfg.MaxReportAttempts, c.MaxReportAttempts)
	setPositive(&cfg.MaxKeyFindings, c.MaxKeyFindings)
	setPositive(&cfg.MaxParallelTasks, c.MaxParallelTasks)
	if c.MaxGlobalTasks > 0 {
		cfg.MaxGlobalTasks = int64(c.MaxGlobalTasks)
	}
	if c.IncrementalIngestion != nil {
		cfg.IncrementalIngestion = *c.IncrementalIngestion
	}
	return cfg, nil
}

// ShutdownTimeout bounds how long serve waits for running jobs
const ShutdownTimeout = 30 * time.Second

func setPositive(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}
