// Package taskloop runs a single research task through its quality gates.
//
// Each attempt forms a hypothesis, folds in reusable knowledge, searches the
// web, scores what it found, looks for opposing evidence and asks a critic
// for a verdict. Rejections carry feedback into the next attempt until the
// task is approved or its attempt budget is spent. All state lives in the
// tracker, so a loop can be resumed from any task snapshot.
package taskloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonathan/research-orchestrator/internal/knowledge"
	"github.com/jonathan/research-orchestrator/internal/llm"
	"github.com/jonathan/research-orchestrator/internal/search"
	"github.com/jonathan/research-orchestrator/internal/tracker"
	"github.com/jonathan/research-orchestrator/internal/types"
)

// ErrCancelled is returned when the owning job was cancelled between attempts
var ErrCancelled = errors.New("cancelled")

// NoContradictionGap is the feedback recorded when a critic approves a task
// that has no opposing evidence yet
const NoContradictionGap = "no opposing evidence was found; search for criticism, failed replications or conflicting data"

// Config holds the quality-gate knobs of the loop
type Config struct {
	MaxQueries      int
	RelevanceFloor  float64
	SimilarityFloor float64
	KnowledgeTopK   int
	SearchDepth     search.Depth
}

// DefaultConfig returns the standard loop settings
func DefaultConfig() Config {
	return Config{
		MaxQueries:      3,
		RelevanceFloor:  5,
		SimilarityFloor: 0.75,
		KnowledgeTopK:   knowledge.DefaultTopK,
		SearchDepth:     search.DepthBasic,
	}
}

// CancelCheck reports whether the job owning a task was cancelled
type CancelCheck func(ctx context.Context) (bool, error)

// PersistenceError wraps a tracker failure. Unlike provider failures it is
// not absorbed into a critique; the caller must stop the job.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Loop runs research tasks. It is safe for concurrent use on distinct tasks.
type Loop struct {
	tracker   tracker.Tracker
	client    llm.Client
	searcher  search.Searcher
	knowledge knowledge.Store
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Loop
type Option func(*Loop)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithKnowledge enables knowledge reuse from store
func WithKnowledge(store knowledge.Store) Option {
	return func(l *Loop) { l.knowledge = store }
}

// New creates a Loop
func New(t tracker.Tracker, client llm.Client, searcher search.Searcher, cfg Config, opts ...Option) *Loop {
	l := &Loop{
		tracker:  t,
		client:   client,
		searcher: searcher,
		cfg:      cfg,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Done is the exit predicate of the loop
func Done(task *types.ResearchTask) bool {
	return task.Outcome.IsTerminal() || task.Attempts >= task.MaxAttempts
}

// Run drives task to a terminal outcome and returns the final snapshot.
// description is the enriched job description the task belongs to.
// cancel may be nil.
func (l *Loop) Run(ctx context.Context, description string, task *types.ResearchTask, cancel CancelCheck) (*types.ResearchTask, error) {
	logger := l.logger.With("job_id", task.JobID, "task_id", task.ID)

	current, err := l.tracker.ReadTask(ctx, task.ID)
	if err != nil {
		return nil, &PersistenceError{Op: "read task", Err: err}
	}

	for !Done(current) {
		if err := ctx.Err(); err != nil {
			return current, err
		}
		if cancel != nil {
			cancelled, err := cancel(ctx)
			if err != nil {
				return current, &PersistenceError{Op: "check cancellation", Err: err}
			}
			if cancelled {
				logger.Info("task stopped, job cancelled", "attempts", current.Attempts)
				return current, ErrCancelled
			}
		}

		attempt := current.Attempts + 1
		running := types.TaskRunning
		if _, err := l.tracker.UpdateTask(ctx, current.ID, types.TaskUpdate{Status: &running, Attempts: &attempt}); err != nil {
			return current, &PersistenceError{Op: "start attempt", Err: err}
		}

		start := time.Now()
		critique, err := l.attempt(ctx, description, current, attempt)
		if err != nil {
			var perr *PersistenceError
			if errors.As(err, &perr) {
				return current, err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return current, ctxErr
			}
			logger.Warn("attempt abandoned", "attempt", attempt, "error", err)
			critique = types.ProviderUnavailableCritique(types.ScopeTask, attempt, err, l.now())
		}

		if critique.Approved() {
			fresh, err := l.tracker.ReadTask(ctx, current.ID)
			if err != nil {
				return current, &PersistenceError{Op: "read task", Err: err}
			}
			if !fresh.HasContradictionSearch() {
				critique.Verdict = types.VerdictRejected
				critique.Feedback = types.Feedback{Gaps: []string{NoContradictionGap}}
			}
		}
		critique = critique.Normalize()

		if err := l.tracker.AppendCritique(ctx, current.ID, critique); err != nil {
			return current, &PersistenceError{Op: "record critique", Err: err}
		}

		outcome := nextOutcome(critique, attempt, current.MaxAttempts)
		updated, err := l.tracker.UpdateTask(ctx, current.ID, types.TaskUpdate{Outcome: &outcome})
		if err != nil {
			return current, &PersistenceError{Op: "record outcome", Err: err}
		}
		logger.Info("attempt finished",
			"attempt", attempt,
			"verdict", critique.Verdict,
			"outcome", outcome,
			"evidence", len(updated.Evidence),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		current = updated
	}

	return l.finish(ctx, current)
}

// finish makes sure a task that ran out of attempts without a verdict is
// recorded as exhausted
func (l *Loop) finish(ctx context.Context, task *types.ResearchTask) (*types.ResearchTask, error) {
	if task.Outcome.IsTerminal() {
		return task, nil
	}
	exhausted := types.OutcomeExhausted
	updated, err := l.tracker.UpdateTask(ctx, task.ID, types.TaskUpdate{Outcome: &exhausted})
	if err != nil {
		return task, &PersistenceError{Op: "record outcome", Err: err}
	}
	return updated, nil
}

func nextOutcome(c types.Critique, attempt, maxAttempts int) types.Outcome {
	switch {
	case c.Approved():
		return types.OutcomeApproved
	case attempt >= maxAttempts:
		return types.OutcomeExhausted
	default:
		return types.OutcomeRejected
	}
}
