package tracker

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/research-orchestrator/internal/types"
)

// Memory is an in-process Tracker guarded by a single mutex.
// No capability call ever runs while the lock is held.
type Memory struct {
	mu    sync.Mutex
	jobs  map[uuid.UUID]*types.Job
	tasks map[uuid.UUID]*types.ResearchTask
	now   func() time.Time
}

// NewMemory creates an empty in-memory tracker
func NewMemory() *Memory {
	return &Memory{
		jobs:  make(map[uuid.UUID]*types.Job),
		tasks: make(map[uuid.UUID]*types.ResearchTask),
		now:   time.Now,
	}
}

// CreateJob stores a new job
func (m *Memory) CreateJob(_ context.Context, job *types.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *job
	stored.Tasks = nil
	m.jobs[job.ID] = &stored
	return nil
}

// UpdateJob applies a partial update
func (m *Memory) UpdateJob(_ context.Context, jobID uuid.UUID, update types.JobUpdate) (*types.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, &NotFoundError{Kind: "job", ID: jobID}
	}
	if err := job.Apply(update, m.now()); err != nil {
		return nil, err
	}
	snapshot := *job
	return &snapshot, nil
}

// ReadJob returns a deep snapshot including tasks ordered by ordinal
func (m *Memory) ReadJob(_ context.Context, jobID uuid.UUID) (*types.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, &NotFoundError{Kind: "job", ID: jobID}
	}
	snapshot := *job
	for _, task := range m.tasks {
		if task.JobID == jobID {
			snapshot.Tasks = append(snapshot.Tasks, copyTask(task))
		}
	}
	sort.Slice(snapshot.Tasks, func(i, j int) bool {
		return snapshot.Tasks[i].Ordinal < snapshot.Tasks[j].Ordinal
	})
	return &snapshot, nil
}

// FindJobByIdempotencyKey looks up a recent job by its submission key
func (m *Memory) FindJobByIdempotencyKey(_ context.Context, key string, since time.Time) (*types.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, job := range m.jobs {
		if job.IdempotencyKey != nil && *job.IdempotencyKey == key && !job.CreatedAt.Before(since) {
			snapshot := *job
			return &snapshot, nil
		}
	}
	return nil, nil
}

// ListJobs returns jobs newest first
func (m *Memory) ListJobs(_ context.Context, filter JobFilter) ([]types.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var jobs []types.Job
	for _, job := range m.jobs {
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		jobs = append(jobs, *job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	if filter.Limit > 0 && len(jobs) > filter.Limit {
		jobs = jobs[:filter.Limit]
	}
	return jobs, nil
}

// CreateTasks stores planned tasks
func (m *Memory) CreateTasks(_ context.Context, tasks []types.ResearchTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range tasks {
		if _, ok := m.jobs[tasks[i].JobID]; !ok {
			return &NotFoundError{Kind: "job", ID: tasks[i].JobID}
		}
	}
	for i := range tasks {
		task := copyTask(&tasks[i])
		m.tasks[task.ID] = &task
	}
	return nil
}

// UpdateTask applies a partial update to a task
func (m *Memory) UpdateTask(_ context.Context, taskID uuid.UUID, update types.TaskUpdate) (*types.ResearchTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[taskID]
	if !ok {
		return nil, &NotFoundError{Kind: "task", ID: taskID}
	}
	if err := task.Apply(update, m.now()); err != nil {
		return nil, err
	}
	snapshot := copyTask(task)
	return &snapshot, nil
}

// ReadTask returns a task snapshot
func (m *Memory) ReadTask(_ context.Context, taskID uuid.UUID) (*types.ResearchTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[taskID]
	if !ok {
		return nil, &NotFoundError{Kind: "task", ID: taskID}
	}
	snapshot := copyTask(task)
	return &snapshot, nil
}

// AppendEvidence appends evidence to a task
func (m *Memory) AppendEvidence(_ context.Context, taskID uuid.UUID, evidence []types.Evidence) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[taskID]
	if !ok {
		return &NotFoundError{Kind: "task", ID: taskID}
	}
	if task.Outcome.IsTerminal() {
		return types.ErrTaskTerminal
	}
	for _, e := range evidence {
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		e.TaskID = taskID
		task.Evidence = append(task.Evidence, e)
	}
	task.UpdatedAt = m.now()
	return nil
}

// AppendCritique appends to the critique history
func (m *Memory) AppendCritique(_ context.Context, taskID uuid.UUID, critique types.Critique) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[taskID]
	if !ok {
		return &NotFoundError{Kind: "task", ID: taskID}
	}
	if task.Outcome.IsTerminal() {
		return types.ErrTaskTerminal
	}
	task.Critiques = append(task.Critiques, critique)
	task.UpdatedAt = m.now()
	return nil
}

// TaskProgress counts terminal tasks of a job
func (m *Memory) TaskProgress(_ context.Context, jobID uuid.UUID) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[jobID]; !ok {
		return 0, 0, &NotFoundError{Kind: "job", ID: jobID}
	}
	terminal, total := 0, 0
	for _, task := range m.tasks {
		if task.JobID != jobID {
			continue
		}
		total++
		if task.Outcome.IsTerminal() {
			terminal++
		}
	}
	return terminal, total, nil
}

func copyTask(t *types.ResearchTask) types.ResearchTask {
	c := *t
	c.Evidence = append([]types.Evidence(nil), t.Evidence...)
	c.Critiques = append([]types.Critique(nil), t.Critiques...)
	return c
}
