// Package orchestrator drives research jobs through their phases.
//
// A job moves pending → enriching → planning → researching → reporting →
// completed, or to failed from any non-terminal phase. Every transition is
// written through the tracker before the next phase starts, so Advance can
// pick a job up again from whatever phase was last persisted.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/jonathan/research-orchestrator/internal/agents"
	"github.com/jonathan/research-orchestrator/internal/knowledge"
	"github.com/jonathan/research-orchestrator/internal/llm"
	"github.com/jonathan/research-orchestrator/internal/search"
	"github.com/jonathan/research-orchestrator/internal/taskloop"
	"github.com/jonathan/research-orchestrator/internal/tracker"
	"github.com/jonathan/research-orchestrator/internal/types"
)

// IdempotencyWindow is how long a submission key maps to the same job
const IdempotencyWindow = 24 * time.Hour

// Idea length bounds accepted by Submit
const (
	MinIdeaLength = 5
	MaxIdeaLength = 2000
)

// ReportPolicy decides what happens when the report critique budget runs out
type ReportPolicy string

// ReportPolicy constants
const (
	// ReportPolicyComplete keeps the last draft and marks it unreviewed
	ReportPolicyComplete ReportPolicy = "complete"
	// ReportPolicyFail fails the job
	ReportPolicyFail ReportPolicy = "fail"
)

// ParseReportPolicy validates a policy string; empty means complete
func ParseReportPolicy(s string) (ReportPolicy, error) {
	switch ReportPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", ReportPolicyComplete:
		return ReportPolicyComplete, nil
	case ReportPolicyFail:
		return ReportPolicyFail, nil
	default:
		return "", fmt.Errorf("invalid report exhausted policy %q (want complete or fail)", s)
	}
}

// Config holds the orchestration knobs
type Config struct {
	MinTasks              int
	MaxTasks              int
	MaxTaskAttempts       int
	MaxReportAttempts     int
	MaxKeyFindings        int
	MaxParallelTasks      int
	MaxGlobalTasks        int64
	ReportExhaustedPolicy ReportPolicy
	IncrementalIngestion  bool
	IngestTimeout         time.Duration
	Loop                  taskloop.Config
}

// DefaultConfig returns the standard orchestration settings
func DefaultConfig() Config {
	return Config{
		MinTasks:              2,
		MaxTasks:              10,
		MaxTaskAttempts:       3,
		MaxReportAttempts:     2,
		MaxKeyFindings:        agents.DefaultMaxKeyFindings,
		MaxParallelTasks:      3,
		MaxGlobalTasks:        8,
		ReportExhaustedPolicy: ReportPolicyComplete,
		IncrementalIngestion:  true,
		IngestTimeout:         2 * time.Minute,
		Loop:                  taskloop.DefaultConfig(),
	}
}

// SubmitOptions holds optional submission parameters
type SubmitOptions struct {
	IdempotencyKey string
}

// ProgressEvent is emitted on every persisted phase or progress change
type ProgressEvent struct {
	JobID    uuid.UUID    `json:"job_id"`
	Status   types.Status `json:"status"`
	Phase    types.Phase  `json:"current_phase"`
	Progress int          `json:"progress_percent"`
	Message  string       `json:"message"`
	TaskID   *uuid.UUID   `json:"task_id,omitempty"`
}

// ProgressCallback receives progress events. It must not block.
type ProgressCallback func(event ProgressEvent)

// ErrInvalidIdea is returned by Submit for empty or oversized ideas
var ErrInvalidIdea = errors.New("idea must be between 5 and 2000 characters")

// ErrAlreadyFinished is returned when cancelling a terminal job
var ErrAlreadyFinished = errors.New("job already finished")

// PhaseError records which phase a job failed in
type PhaseError struct {
	Phase types.Status
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

// Orchestrator owns the job state machine
type Orchestrator struct {
	tracker    tracker.Tracker
	client     llm.Client
	loop       *taskloop.Loop
	knowledge  knowledge.Store
	scheduler  Scheduler
	taskSlots  *semaphore.Weighted
	cfg        Config
	logger     *slog.Logger
	onProgress ProgressCallback
	now        func() time.Time

	ingesting sync.WaitGroup
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithKnowledge enables knowledge reuse and ingestion
func WithKnowledge(store knowledge.Store) Option {
	return func(o *Orchestrator) { o.knowledge = store }
}

// WithScheduler sets the scheduler used by Start
func WithScheduler(s Scheduler) Option {
	return func(o *Orchestrator) { o.scheduler = s }
}

// WithProgress registers a progress callback
func WithProgress(cb ProgressCallback) Option {
	return func(o *Orchestrator) { o.onProgress = cb }
}

// New creates an Orchestrator
func New(t tracker.Tracker, client llm.Client, searcher search.Searcher, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		tracker: t,
		client:  client,
		cfg:     cfg,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.scheduler == nil {
		o.scheduler = NewPoolScheduler(4, o.logger)
	}
	if o.cfg.MaxGlobalTasks <= 0 {
		o.cfg.MaxGlobalTasks = 1
	}
	if o.cfg.MaxParallelTasks <= 0 {
		o.cfg.MaxParallelTasks = 1
	}
	o.taskSlots = semaphore.NewWeighted(o.cfg.MaxGlobalTasks)

	loopOpts := []taskloop.Option{taskloop.WithLogger(o.logger)}
	if o.knowledge != nil {
		loopOpts = append(loopOpts, taskloop.WithKnowledge(o.knowledge))
	}
	o.loop = taskloop.New(t, client, searcher, cfg.Loop, loopOpts...)
	return o
}

// Submit validates the idea and stores a pending job. A repeated
// idempotency key within IdempotencyWindow returns the original job.
func (o *Orchestrator) Submit(ctx context.Context, idea string, opts SubmitOptions) (*types.Job, error) {
	job, _, err := o.submit(ctx, idea, opts)
	return job, err
}

// SubmitAndStart submits the idea and schedules the job. A replayed
// idempotency key returns the original job without scheduling it again.
func (o *Orchestrator) SubmitAndStart(ctx context.Context, idea string, opts SubmitOptions) (*types.Job, error) {
	job, created, err := o.submit(ctx, idea, opts)
	if err != nil {
		return nil, err
	}
	if created {
		if err := o.Start(ctx, job.ID); err != nil {
			return nil, fmt.Errorf("failed to schedule job: %w", err)
		}
	}
	return job, nil
}

func (o *Orchestrator) submit(ctx context.Context, idea string, opts SubmitOptions) (*types.Job, bool, error) {
	idea = strings.TrimSpace(idea)
	if n := len([]rune(idea)); n < MinIdeaLength || n > MaxIdeaLength {
		return nil, false, ErrInvalidIdea
	}

	key := strings.TrimSpace(opts.IdempotencyKey)
	if key != "" {
		existing, err := o.tracker.FindJobByIdempotencyKey(ctx, key, o.now().Add(-IdempotencyWindow))
		if err != nil {
			return nil, false, fmt.Errorf("failed to look up idempotency key: %w", err)
		}
		if existing != nil {
			o.logger.Info("duplicate submission", "job_id", existing.ID)
			return existing, false, nil
		}
	}

	job := types.NewJob(idea, o.now().UTC())
	if key != "" {
		job.IdempotencyKey = &key
	}
	if err := o.tracker.CreateJob(ctx, job); err != nil {
		return nil, false, fmt.Errorf("failed to create job: %w", err)
	}
	o.logger.Info("job submitted", "job_id", job.ID)
	return job, true, nil
}

// Start hands the job to the scheduler. The job runs on the scheduler's
// context, not ctx.
func (o *Orchestrator) Start(_ context.Context, jobID uuid.UUID) error {
	return o.scheduler.Schedule(func(ctx context.Context) {
		if err := o.Advance(ctx, jobID); err != nil {
			o.logger.Error("job advance failed", "job_id", jobID, "error", err)
		}
	})
}

// GetStatus returns a read-only job snapshot with its tasks
func (o *Orchestrator) GetStatus(ctx context.Context, jobID uuid.UUID) (*types.Job, error) {
	return o.tracker.ReadJob(ctx, jobID)
}

// ListJobs returns recent jobs
func (o *Orchestrator) ListJobs(ctx context.Context, filter tracker.JobFilter) ([]types.Job, error) {
	return o.tracker.ListJobs(ctx, filter)
}

// Cancel requests cancellation. A job that has not started fails at once;
// a running job stops at the next phase or attempt boundary.
func (o *Orchestrator) Cancel(ctx context.Context, jobID uuid.UUID) error {
	cancel := true
	job, err := o.tracker.UpdateJob(ctx, jobID, types.JobUpdate{CancelRequested: &cancel})
	if err != nil {
		if errors.Is(err, types.ErrJobTerminal) {
			return ErrAlreadyFinished
		}
		return fmt.Errorf("failed to request cancellation: %w", err)
	}
	o.logger.Info("cancellation requested", "job_id", jobID, "status", job.Status)
	if job.Status == types.StatusPending {
		o.fail(ctx, job.ID, errCancelled)
	}
	return nil
}

// Resume schedules every job left in a non-terminal status, for example
// after a restart
func (o *Orchestrator) Resume(ctx context.Context) (int, error) {
	n := 0
	for _, status := range []types.Status{
		types.StatusPending, types.StatusEnriching, types.StatusPlanning,
		types.StatusResearching, types.StatusReporting,
	} {
		jobs, err := o.tracker.ListJobs(ctx, tracker.JobFilter{Status: status})
		if err != nil {
			return n, fmt.Errorf("failed to list %s jobs: %w", status, err)
		}
		for _, job := range jobs {
			if err := o.Start(ctx, job.ID); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}

// Wait blocks until background ingestion has finished
func (o *Orchestrator) Wait() {
	o.ingesting.Wait()
}

func (o *Orchestrator) emitProgress(job *types.Job, message string, taskID *uuid.UUID) {
	if o.onProgress == nil || job == nil {
		return
	}
	o.onProgress(ProgressEvent{
		JobID:    job.ID,
		Status:   job.Status,
		Phase:    job.Phase,
		Progress: job.ProgressPercent,
		Message:  message,
		TaskID:   taskID,
	})
}
