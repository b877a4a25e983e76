package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jonathan/research-orchestrator/internal/config"
	"github.com/jonathan/research-orchestrator/internal/db"
	"github.com/jonathan/research-orchestrator/internal/fetch"
	"github.com/jonathan/research-orchestrator/internal/knowledge"
	"github.com/jonathan/research-orchestrator/internal/llm"
	"github.com/jonathan/research-orchestrator/internal/orchestrator"
	"github.com/jonathan/research-orchestrator/internal/search"
	"github.com/jonathan/research-orchestrator/internal/tracker"
)

var _ knowledge.ChunkRepository = (*db.DB)(nil)

// loadConfig reads the config file, overlays the environment and the
// persistent flags, then fills defaults. Commands apply their own flags
// to the result and call finishConfig.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := &config.Config{}
	if configPath != "" {
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	cfg.ApplyEnv()

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("db-url") {
		cfg.DatabaseURL = databaseURL
	}

	merged := cfg.MergeWithDefaults(config.Defaults())
	return &merged, nil
}

// finishConfig validates cfg and builds the logger. The cleanup function
// closes the log file, if any.
func finishConfig(cfg *config.Config) (*slog.Logger, func() error, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	logger, cleanup := config.SetupLogger(cfg.LogFile, level)
	return logger, cleanup, nil
}

// runtime holds the dependencies shared by the commands that run jobs.
type runtime struct {
	cfg       *config.Config
	logger    *slog.Logger
	tracker   tracker.Tracker
	database  *db.DB
	knowledge knowledge.Store
	client    llm.Client
	searcher  search.Searcher
}

// openStorage connects to PostgreSQL and applies the schema. Without a
// database URL it falls back to in-memory storage when allowMemory is set.
func openStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger, allowMemory bool) (tracker.Tracker, knowledge.ChunkRepository, *db.DB, error) {
	if cfg.DatabaseURL == "" {
		if !allowMemory {
			return nil, nil, nil, fmt.Errorf("DATABASE_URL environment variable or --db-url flag is required")
		}
		logger.Warn("no database configured, jobs and knowledge are kept in memory")
		return tracker.NewMemory(), knowledge.NewMemoryRepository(), nil, nil
	}

	database, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := database.Migrate(ctx, cfg.EmbeddingDimension); err != nil {
		database.Close()
		return nil, nil, nil, err
	}
	return database, database, database, nil
}

// newRuntime builds storage and the provider clients.
func newRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger, allowMemory bool) (*runtime, error) {
	store, chunks, database, err := openStorage(ctx, cfg, logger, allowMemory)
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, logger: logger, tracker: store, database: database}

	llmCfg, err := cfg.LLMConfig()
	if err != nil {
		rt.Close()
		return nil, err
	}
	client, err := llm.NewClient(ctx, llmCfg, cfg.Credentials())
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	rt.client = llm.WithRetry(client, cfg.RetryPolicy(), logger)

	pagesCfg := fetch.DefaultPageFetcherConfig()
	pagesCfg.BrowserEnabled = cfg.UseBrowser
	if database != nil {
		pagesCfg.Store = database
	}
	google, err := search.NewGoogleSearcher(ctx, cfg.SearchAPIKey, cfg.SearchCX,
		search.WithResultsPerQuery(cfg.ResultsPerQuery),
		search.WithPageSource(fetch.NewPageFetcher(pagesCfg, logger)),
		search.WithLogger(logger),
	)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to create searcher: %w", err)
	}
	rt.searcher = search.WithRetry(google, cfg.RetryPolicy(), logger)

	// Knowledge reuse is optional; jobs run without it
	embedder, err := llm.NewEmbedder(ctx, cfg.EmbedderConfig(), cfg.Credentials())
	if err != nil {
		logger.Warn("knowledge reuse disabled", "error", err)
	} else {
		rt.knowledge = knowledge.NewVectorStore(chunks, embedder, logger)
	}

	return rt, nil
}

// orchestrator builds an Orchestrator over the runtime's dependencies.
func (rt *runtime) orchestrator(opts ...orchestrator.Option) (*orchestrator.Orchestrator, error) {
	cfg, err := rt.cfg.OrchestratorConfig()
	if err != nil {
		return nil, err
	}
	base := []orchestrator.Option{orchestrator.WithLogger(rt.logger)}
	if rt.knowledge != nil {
		base = append(base, orchestrator.WithKnowledge(rt.knowledge))
	}
	return orchestrator.New(rt.tracker, rt.client, rt.searcher, cfg, append(base, opts...)...), nil
}

// Close releases the provider client and the database pool.
func (rt *runtime) Close() {
	if rt.client != nil {
		if err := rt.client.Close(); err != nil {
			rt.logger.Warn("failed to close LLM client", "error", err)
		}
	}
	if rt.database != nil {
		rt.database.Close()
	}
}
