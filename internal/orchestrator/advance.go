package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/research-orchestrator/internal/agents"
	"github.com/jonathan/research-orchestrator/internal/knowledge"
	"github.com/jonathan/research-orchestrator/internal/taskloop"
	"github.com/jonathan/research-orchestrator/internal/tracker"
	"github.com/jonathan/research-orchestrator/internal/types"
)

// promptMinTasks is the lower bound asked of the planner; fewer than
// Config.MinTasks is what actually fails a job
const promptMinTasks = 5

// Failure messages stored on failed jobs
var (
	errCancelled         = errors.New("cancelled")
	errInsufficientTasks = errors.New("insufficient task count")
	errNoApprovedTasks   = errors.New("no research task was approved")
	errReportExhausted   = errors.New("report critique budget exhausted")
)

// phaseFunc performs the work of one status and returns the job snapshot
// after its outgoing transition was persisted
type phaseFunc func(ctx context.Context, job *types.Job) (*types.Job, error)

// Advance drives a job from its persisted status to a terminal status.
// Calling it on a terminal job is a no-op.
func (o *Orchestrator) Advance(ctx context.Context, jobID uuid.UUID) error {
	job, err := o.tracker.ReadJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to read job: %w", err)
	}

	phases := map[types.Status]phaseFunc{
		types.StatusPending:     o.begin,
		types.StatusEnriching:   o.enrich,
		types.StatusPlanning:    o.plan,
		types.StatusResearching: o.research,
		types.StatusReporting:   o.report,
	}

	for !job.Status.IsTerminal() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if job.CancelRequested {
			o.fail(ctx, job.ID, errCancelled)
			return nil
		}

		run, ok := phases[job.Status]
		if !ok {
			return fmt.Errorf("no phase handler for status %s", job.Status)
		}
		start := time.Now()
		next, err := run(ctx, job)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			o.logger.Warn("phase failed", "job_id", job.ID, "phase", job.Status, "error", err)
			o.fail(ctx, job.ID, err)
			return nil
		}
		o.logger.Info("phase finished",
			"job_id", job.ID,
			"phase", job.Status,
			"next", next.Status,
			"duration_ms", time.Since(start).Milliseconds(),
		)

		// Pick up cancellation requests made while the phase ran
		job, err = o.tracker.ReadJob(ctx, jobID)
		if err != nil {
			return fmt.Errorf("failed to read job: %w", err)
		}
	}
	return nil
}

func (o *Orchestrator) transition(ctx context.Context, jobID uuid.UUID, update types.JobUpdate, message string) (*types.Job, error) {
	job, err := o.tracker.UpdateJob(ctx, jobID, update)
	if err != nil {
		return nil, fmt.Errorf("failed to update job: %w", err)
	}
	o.emitProgress(job, message, nil)
	return job, nil
}

// fail moves a job to failed. Terminal jobs are left alone.
func (o *Orchestrator) fail(ctx context.Context, jobID uuid.UUID, cause error) {
	msg := cause.Error()
	job, err := o.tracker.UpdateJob(context.WithoutCancel(ctx), jobID, types.JobUpdate{
		Status: types.StatusPtr(types.StatusFailed),
		Error:  &msg,
	})
	if err != nil {
		if !errors.Is(err, types.ErrJobTerminal) {
			o.logger.Error("failed to mark job failed", "job_id", jobID, "error", err)
		}
		return
	}
	o.logger.Info("job failed", "job_id", jobID, "error", msg)
	o.emitProgress(job, msg, nil)
}

func (o *Orchestrator) begin(ctx context.Context, job *types.Job) (*types.Job, error) {
	return o.transition(ctx, job.ID, types.JobUpdate{Status: types.StatusPtr(types.StatusEnriching)}, "enriching idea")
}

func (o *Orchestrator) enrich(ctx context.Context, job *types.Job) (*types.Job, error) {
	update := types.JobUpdate{Status: types.StatusPtr(types.StatusPlanning)}
	if job.Description == nil || *job.Description == "" {
		description, err := agents.Enrich(ctx, o.client, job.Idea)
		if err != nil {
			return nil, &PhaseError{Phase: types.StatusEnriching, Err: err}
		}
		update.Description = &description
	}
	return o.transition(ctx, job.ID, update, "planning research tasks")
}

func (o *Orchestrator) plan(ctx context.Context, job *types.Job) (*types.Job, error) {
	// Tasks already stored means planning finished before a restart
	if len(job.Tasks) == 0 {
		items, err := agents.Plan(ctx, o.client, description(job), agents.PlanLimits{
			Min: min(promptMinTasks, o.cfg.MaxTasks),
			Max: o.cfg.MaxTasks,
		})
		if err != nil {
			return nil, &PhaseError{Phase: types.StatusPlanning, Err: err}
		}
		if len(items) < o.cfg.MinTasks {
			return nil, &PhaseError{Phase: types.StatusPlanning, Err: fmt.Errorf("%w: planner returned %d", errInsufficientTasks, len(items))}
		}

		now := o.now().UTC()
		tasks := make([]types.ResearchTask, len(items))
		for i, item := range items {
			tasks[i] = types.NewTask(job.ID, i, item, o.cfg.MaxTaskAttempts, now)
		}
		if err := o.tracker.CreateTasks(ctx, tasks); err != nil {
			return nil, fmt.Errorf("failed to store tasks: %w", err)
		}
		o.logger.Info("research planned", "job_id", job.ID, "tasks", len(tasks))
	}
	return o.transition(ctx, job.ID, types.JobUpdate{Status: types.StatusPtr(types.StatusResearching)}, "researching")
}

func (o *Orchestrator) research(ctx context.Context, job *types.Job) (*types.Job, error) {
	desc := description(job)
	cancelled := o.cancelCheck(job.ID)

	// Siblings are not cancelled when one task stops; each one notices a
	// cancellation request at its own attempt boundary
	var g errgroup.Group
	g.SetLimit(o.cfg.MaxParallelTasks)
	for i := range job.Tasks {
		task := job.Tasks[i]
		// A task that spent its budget without an outcome still goes
		// through the loop so it is recorded as exhausted
		if task.Outcome.IsTerminal() {
			continue
		}
		g.Go(func() error {
			if err := o.taskSlots.Acquire(ctx, 1); err != nil {
				return err
			}
			defer o.taskSlots.Release(1)

			final, err := o.loop.Run(ctx, desc, &task, cancelled)
			if err != nil {
				return err
			}
			o.taskFinished(ctx, job.ID, final)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if errors.Is(err, taskloop.ErrCancelled) {
			return nil, errCancelled
		}
		return nil, &PhaseError{Phase: types.StatusResearching, Err: err}
	}

	done, err := tracker.AllTerminal(ctx, o.tracker, job.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read task progress: %w", err)
	}
	if !done {
		return nil, &PhaseError{Phase: types.StatusResearching, Err: errors.New("tasks left unfinished")}
	}
	return o.transition(ctx, job.ID, types.JobUpdate{Status: types.StatusPtr(types.StatusReporting)}, "synthesizing report")
}

// taskFinished publishes progress from the tracker's aggregate count and
// queues approved evidence for ingestion
func (o *Orchestrator) taskFinished(ctx context.Context, jobID uuid.UUID, task *types.ResearchTask) {
	terminal, total, err := o.tracker.TaskProgress(ctx, jobID)
	if err != nil {
		o.logger.Warn("failed to read task progress", "job_id", jobID, "error", err)
		return
	}
	progress := types.ProgressFor(types.StatusResearching, terminal, total)
	job, err := o.tracker.UpdateJob(ctx, jobID, types.JobUpdate{Progress: &progress})
	if err != nil {
		o.logger.Warn("failed to update progress", "job_id", jobID, "error", err)
		return
	}
	taskID := task.ID
	o.emitProgress(job, fmt.Sprintf("task %d/%d %s", terminal, total, task.Outcome), &taskID)

	if o.cfg.IncrementalIngestion && task.Outcome == types.OutcomeApproved {
		o.ingest(jobID, knowledge.TaskChunks(task))
	}
}

func (o *Orchestrator) cancelCheck(jobID uuid.UUID) taskloop.CancelCheck {
	return func(ctx context.Context) (bool, error) {
		job, err := o.tracker.ReadJob(ctx, jobID)
		if err != nil {
			return false, err
		}
		return job.CancelRequested, nil
	}
}

func description(job *types.Job) string {
	if job.Description != nil && *job.Description != "" {
		return *job.Description
	}
	return job.Idea
}
