package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonathan/research-orchestrator/internal/observability"
	"github.com/jonathan/research-orchestrator/internal/tracker"
	"github.com/jonathan/research-orchestrator/internal/types"
)

var statusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Show a stored job, or list recent jobs",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStatus,
}

var (
	statusFilter string
	statusLimit  int
)

func init() {
	statusCmd.Flags().StringVar(&statusFilter, "status", "", "Only list jobs with this status")
	statusCmd.Flags().IntVar(&statusLimit, "limit", 20, "Maximum number of jobs to list")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, closeLog, err := finishConfig(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()

	ctx := cmd.Context()
	store, _, database, err := openStorage(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer database.Close()

	p := observability.NewPrinter(cmd.OutOrStdout())
	if len(args) == 1 {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid job id: %w", err)
		}
		job, err := store.ReadJob(ctx, id)
		if err != nil {
			return err
		}
		printResult(p, job)
		return nil
	}

	filter := tracker.JobFilter{Limit: statusLimit}
	if statusFilter != "" {
		status := types.Status(statusFilter)
		if !status.IsValid() {
			return fmt.Errorf("unknown status %q", statusFilter)
		}
		filter.Status = status
	}
	jobs, err := store.ListJobs(ctx, filter)
	if err != nil {
		return err
	}
	p.PrintJobList(jobs)
	return nil
}
