// Package tracker defines the single mutation path for job and task state.
//
// Every component that changes a job or a research task goes through a
// Tracker. Implementations must apply updates atomically, never overwrite a
// terminal task outcome, and never let job progress regress.
package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/research-orchestrator/internal/types"
)

// Tracker persists job and research task state
type Tracker interface {
	// CreateJob stores a new pending job
	CreateJob(ctx context.Context, job *types.Job) error
	// UpdateJob atomically applies a partial update and returns the new snapshot
	UpdateJob(ctx context.Context, jobID uuid.UUID, update types.JobUpdate) (*types.Job, error)
	// ReadJob returns a job snapshot with nested task snapshots
	ReadJob(ctx context.Context, jobID uuid.UUID) (*types.Job, error)
	// FindJobByIdempotencyKey returns a job submitted with key after since, or nil
	FindJobByIdempotencyKey(ctx context.Context, key string, since time.Time) (*types.Job, error)
	// ListJobs returns recent jobs without task snapshots
	ListJobs(ctx context.Context, filter JobFilter) ([]types.Job, error)

	// CreateTasks stores the planned tasks of a job
	CreateTasks(ctx context.Context, tasks []types.ResearchTask) error
	// UpdateTask atomically applies a partial update to one task
	UpdateTask(ctx context.Context, taskID uuid.UUID, update types.TaskUpdate) (*types.ResearchTask, error)
	// ReadTask returns a task snapshot with evidence and critiques
	ReadTask(ctx context.Context, taskID uuid.UUID) (*types.ResearchTask, error)
	// AppendEvidence appends evidence items to a task
	AppendEvidence(ctx context.Context, taskID uuid.UUID, evidence []types.Evidence) error
	// AppendCritique appends to a task's critique history
	AppendCritique(ctx context.Context, taskID uuid.UUID, critique types.Critique) error
	// TaskProgress counts terminal and total tasks of a job
	TaskProgress(ctx context.Context, jobID uuid.UUID) (terminal int, total int, err error)
}

// JobFilter holds optional filters for listing jobs
type JobFilter struct {
	Status types.Status
	Limit  int
}

// NotFoundError indicates a missing job or task
type NotFoundError struct {
	Kind string
	ID   uuid.UUID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// AllTerminal is the join barrier for the researching phase
func AllTerminal(ctx context.Context, t Tracker, jobID uuid.UUID) (bool, error) {
	terminal, total, err := t.TaskProgress(ctx, jobID)
	if err != nil {
		return false, err
	}
	return total > 0 && terminal == total, nil
}
