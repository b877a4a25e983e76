package types

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Outcome is the result of a research task
type Outcome string

// Outcome constants. Rejected marks a task whose latest attempt was rejected
// but which still has attempts left; approved and exhausted are terminal.
const (
	OutcomeNone      Outcome = ""
	OutcomeApproved  Outcome = "approved"
	OutcomeRejected  Outcome = "rejected"
	OutcomeExhausted Outcome = "exhausted"
)

// IsTerminal returns true for approved and exhausted
func (o Outcome) IsTerminal() bool {
	return o == OutcomeApproved || o == OutcomeExhausted
}

// TaskStatus tracks scheduling state of a research task
type TaskStatus string

// TaskStatus constants
const (
	TaskPending  TaskStatus = "pending"
	TaskRunning  TaskStatus = "running"
	TaskTerminal TaskStatus = "terminal"
)

// ResearchTask is one decomposed unit of research work within a job's plan
type ResearchTask struct {
	ID          uuid.UUID  `json:"task_id"`
	JobID       uuid.UUID  `json:"job_id"`
	Ordinal     int        `json:"ordinal"`
	Description string     `json:"description"`
	Hypothesis  *string    `json:"hypothesis,omitempty"`
	Evidence    []Evidence `json:"evidence"`
	Critiques   []Critique `json:"critiques"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	Outcome     Outcome    `json:"outcome,omitempty"`
	Status      TaskStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// NewTask creates a pending task
func NewTask(jobID uuid.UUID, ordinal int, description string, maxAttempts int, now time.Time) ResearchTask {
	return ResearchTask{
		ID:          uuid.New(),
		JobID:       jobID,
		Ordinal:     ordinal,
		Description: description,
		MaxAttempts: maxAttempts,
		Status:      TaskPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// TaskUpdate is a partial update to a task. Nil fields are left untouched.
type TaskUpdate struct {
	Status     *TaskStatus
	Hypothesis *string
	Attempts   *int
	Outcome    *Outcome
}

// ErrTaskTerminal is returned when updating a task whose outcome is final
var ErrTaskTerminal = errors.New("task outcome is final")

// AttemptLimitError indicates an attempt count beyond the configured maximum
type AttemptLimitError struct {
	Attempts int
	Max      int
}

func (e *AttemptLimitError) Error() string {
	return fmt.Sprintf("attempt count %d exceeds maximum %d", e.Attempts, e.Max)
}

// Apply merges an update into the task. Terminal outcomes are never
// overwritten and the attempt counter never decreases.
func (t *ResearchTask) Apply(u TaskUpdate, now time.Time) error {
	if t.Outcome.IsTerminal() {
		return ErrTaskTerminal
	}

	next := *t
	if u.Attempts != nil {
		if *u.Attempts > t.MaxAttempts {
			return &AttemptLimitError{Attempts: *u.Attempts, Max: t.MaxAttempts}
		}
		if *u.Attempts > next.Attempts {
			next.Attempts = *u.Attempts
		}
	}
	if u.Hypothesis != nil {
		h := *u.Hypothesis
		next.Hypothesis = &h
	}
	if u.Status != nil {
		next.Status = *u.Status
	}
	if u.Outcome != nil {
		next.Outcome = *u.Outcome
		if u.Outcome.IsTerminal() {
			next.Status = TaskTerminal
		}
	}
	next.UpdatedAt = now

	*t = next
	return nil
}

// LatestCritique returns the most recent critique, or nil
func (t *ResearchTask) LatestCritique() *Critique {
	if len(t.Critiques) == 0 {
		return nil
	}
	return &t.Critiques[len(t.Critiques)-1]
}

// SynthesisEvidence returns evidence eligible for report synthesis: only
// approved tasks contribute, and excluded items are skipped.
func (t *ResearchTask) SynthesisEvidence() []Evidence {
	if t.Outcome != OutcomeApproved {
		return nil
	}
	var out []Evidence
	for _, e := range t.Evidence {
		if !e.Excluded {
			out = append(out, e)
		}
	}
	return out
}

// HasContradictionSearch reports whether any evidence came from contradiction seeking
func (t *ResearchTask) HasContradictionSearch() bool {
	for _, e := range t.Evidence {
		if e.Stance == StanceContradicting {
			return true
		}
	}
	return false
}
