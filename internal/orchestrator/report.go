package orchestrator

import (
	"context"
	"fmt"

	"github.com/jonathan/research-orchestrator/internal/agents"
	"github.com/jonathan/research-orchestrator/internal/knowledge"
	"github.com/jonathan/research-orchestrator/internal/types"
)

// report synthesizes the final report and runs the report critique loop.
// Provider failures count as a rejected draft; a degenerate draft fails
// the job immediately.
func (o *Orchestrator) report(ctx context.Context, job *types.Job) (*types.Job, error) {
	desc := description(job)
	if len(agents.Provenance(job.Tasks)) == 0 {
		return nil, &PhaseError{Phase: types.StatusReporting, Err: fmt.Errorf("%w: %w", types.ErrEmptyReport, errNoApprovedTasks)}
	}
	findings := agents.Findings(job.Tasks)
	maxAttempts := max(o.cfg.MaxReportAttempts, 1)

	var (
		draft    *types.Report
		previous *types.Critique
		reviewed bool
		lastErr  error
	)
	for attempt := 1; attempt <= maxAttempts && !reviewed; attempt++ {
		if attempt > 1 {
			if cancelled, err := o.cancelCheck(job.ID)(ctx); err == nil && cancelled {
				return nil, errCancelled
			}
		}

		candidate, err := agents.Synthesize(ctx, o.client, desc, job.Tasks, o.cfg.MaxKeyFindings, previous)
		if err != nil {
			if agents.IsOutputError(err) {
				return nil, &PhaseError{Phase: types.StatusReporting, Err: fmt.Errorf("%w: %w", types.ErrEmptyReport, err)}
			}
			lastErr = err
			o.logger.Warn("report synthesis failed", "job_id", job.ID, "attempt", attempt, "error", err)
			c := types.ProviderUnavailableCritique(types.ScopeReport, attempt, err, o.now())
			previous = &c
			continue
		}
		if err := candidate.Validate(); err != nil {
			return nil, &PhaseError{Phase: types.StatusReporting, Err: err}
		}
		draft = candidate

		critique, err := agents.CritiqueReport(ctx, o.client, desc, findings, draft, attempt)
		if err != nil {
			lastErr = err
			o.logger.Warn("report critique failed", "job_id", job.ID, "attempt", attempt, "error", err)
			critique = types.ProviderUnavailableCritique(types.ScopeReport, attempt, err, o.now())
		}
		critique = critique.Normalize()
		previous = &critique
		reviewed = critique.Approved()
		o.logger.Info("report reviewed", "job_id", job.ID, "attempt", attempt, "verdict", critique.Verdict)
	}

	if draft == nil {
		if lastErr == nil {
			lastErr = types.ErrEmptyReport
		}
		return nil, &PhaseError{Phase: types.StatusReporting, Err: lastErr}
	}
	if !reviewed && o.cfg.ReportExhaustedPolicy == ReportPolicyFail {
		return nil, &PhaseError{Phase: types.StatusReporting, Err: errReportExhausted}
	}

	if cancelled, err := o.cancelCheck(job.ID)(ctx); err == nil && cancelled {
		return nil, errCancelled
	}

	done, err := o.transition(ctx, job.ID, types.JobUpdate{
		Status:         types.StatusPtr(types.StatusCompleted),
		Report:         draft,
		ReportReviewed: &reviewed,
	}, "completed")
	if err != nil {
		return nil, err
	}
	o.ingest(job.ID, knowledge.ReportChunks(draft))
	return done, nil
}
