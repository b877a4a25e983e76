package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jonathan/research-orchestrator/internal/observability"
	"github.com/jonathan/research-orchestrator/internal/orchestrator"
	"github.com/jonathan/research-orchestrator/internal/types"
)

var runCommand = &cobra.Command{
	Use:   "run <idea>",
	Short: "Research an idea end-to-end and print the report",
	Long: `Runs one research job in the foreground: enrichment -> planning -> task research -> report.

Without a database URL the job is kept in memory. Command-line flags override config file values.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runResearchCmd,
}

var (
	runDepth      string
	runMaxTasks   int
	runUseBrowser bool
	runJSON       bool
)

func init() {
	runCommand.Flags().StringVar(&runDepth, "depth", "", "Search depth: basic or advanced")
	runCommand.Flags().IntVar(&runMaxTasks, "max-tasks", 0, "Maximum number of research tasks")
	runCommand.Flags().BoolVar(&runUseBrowser, "use-browser", false, "Use headless browser for SPA sites (requires Chrome)")
	runCommand.Flags().BoolVar(&runJSON, "json", false, "Print the finished job as JSON")

	rootCmd.AddCommand(runCommand)
}

func runResearchCmd(cmd *cobra.Command, args []string) error {
	idea := strings.Join(args, " ")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("depth") {
		cfg.SearchDepth = runDepth
	}
	if cmd.Flags().Changed("max-tasks") {
		cfg.MaxTasks = runMaxTasks
	}
	if cmd.Flags().Changed("use-browser") {
		cfg.UseBrowser = runUseBrowser
	}
	logger, closeLog, err := finishConfig(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	progress := observability.NewPrinter(cmd.ErrOrStderr())
	orch, err := rt.orchestrator(orchestrator.WithProgress(progress.PrintProgress))
	if err != nil {
		return err
	}

	job, err := executeResearch(ctx, orch, idea)
	if err != nil {
		return err
	}

	if runJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(job); err != nil {
			return fmt.Errorf("failed to encode job: %w", err)
		}
	} else {
		printResult(observability.NewPrinter(cmd.OutOrStdout()), job)
	}

	if job.Status == types.StatusFailed {
		return fmt.Errorf("research failed: %s", jobError(job))
	}
	return nil
}

// executeResearch submits idea and drives the job to a terminal status
// in the calling goroutine.
func executeResearch(ctx context.Context, orch *orchestrator.Orchestrator, idea string) (*types.Job, error) {
	job, err := orch.Submit(ctx, idea, orchestrator.SubmitOptions{})
	if err != nil {
		return nil, err
	}

	if err := orch.Advance(ctx, job.ID); err != nil {
		if errors.Is(err, context.Canceled) {
			// Record the interruption so a later serve does not resume it
			_ = orch.Cancel(context.WithoutCancel(ctx), job.ID)
			return nil, fmt.Errorf("research interrupted: job %s", job.ID)
		}
		return nil, err
	}
	orch.Wait()

	final, err := orch.GetStatus(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read job: %w", err)
	}
	return final, nil
}

func printResult(p *observability.Printer, job *types.Job) {
	p.PrintJob(job)
	if job.Report != nil {
		reviewed := job.ReportReviewed == nil || *job.ReportReviewed
		p.PrintReport(job.Report, reviewed)
	}
}

func jobError(job *types.Job) string {
	if job.Error == nil {
		return "unknown error"
	}
	return *job.Error
}
