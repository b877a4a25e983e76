package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jonathan/research-orchestrator/internal/config"
	"github.com/jonathan/research-orchestrator/internal/orchestrator"
	"github.com/jonathan/research-orchestrator/internal/server"
)

var (
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long: `Start an HTTP server that accepts research ideas and streams job progress.

Jobs left unfinished by a previous process are resumed on startup.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "Port to listen on")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = servePort
	}
	logger, closeLog, err := finishConfig(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	scheduler := orchestrator.NewPoolScheduler(int64(cfg.MaxConcurrentJobs), logger)
	orch, err := rt.orchestrator(orchestrator.WithScheduler(scheduler))
	if err != nil {
		return err
	}

	resumed, err := orch.Resume(ctx)
	if err != nil {
		return fmt.Errorf("failed to resume jobs: %w", err)
	}
	if resumed > 0 {
		logger.Info("resumed unfinished jobs", "count", resumed)
	}

	srv := server.New(server.Config{Port: cfg.Port, Logger: logger}, orch, rt.database)
	serveErr := srv.Start(ctx)

	// Interrupted jobs are picked up by Resume on the next start
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()
	if err := scheduler.Shutdown(shutdownCtx); err != nil {
		logger.Warn("jobs still running at shutdown were interrupted", "error", err)
	}
	orch.Wait()

	return serveErr
}
