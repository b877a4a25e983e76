// Package types provides type definitions for structured data used throughout the research orchestrator.
//
//nolint:revive // types is a standard Go package name pattern
package types

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a job
type Status string

// Job status constants, in pipeline order
const (
	StatusPending     Status = "pending"
	StatusEnriching   Status = "enriching"
	StatusPlanning    Status = "planning"
	StatusResearching Status = "researching"
	StatusReporting   Status = "reporting"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

// Phase is the user-facing label of the stage a job is in
type Phase string

// Phase constants
const (
	PhaseQueued      Phase = "queued"
	PhaseEnriching   Phase = "enriching"
	PhasePlanning    Phase = "planning"
	PhaseResearching Phase = "researching"
	PhaseReporting   Phase = "reporting"
	PhaseCompleted   Phase = "completed"
	PhaseFailed      Phase = "failed"
)

// allowedTransitions is the complete edge set of the job state machine.
// failed is reachable from every non-terminal status.
var allowedTransitions = map[Status][]Status{
	StatusPending:     {StatusEnriching, StatusFailed},
	StatusEnriching:   {StatusPlanning, StatusFailed},
	StatusPlanning:    {StatusResearching, StatusFailed},
	StatusResearching: {StatusReporting, StatusFailed},
	StatusReporting:   {StatusCompleted, StatusFailed},
}

// CanTransition reports whether a job may move from one status to another
func CanTransition(from, to Status) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true for completed and failed
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsValid returns true if s is a known status
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusEnriching, StatusPlanning, StatusResearching,
		StatusReporting, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Phase maps a status to its user-facing phase label
func (s Status) Phase() Phase {
	switch s {
	case StatusPending:
		return PhaseQueued
	case StatusEnriching:
		return PhaseEnriching
	case StatusPlanning:
		return PhasePlanning
	case StatusResearching:
		return PhaseResearching
	case StatusReporting:
		return PhaseReporting
	case StatusCompleted:
		return PhaseCompleted
	default:
		return PhaseFailed
	}
}

// Progress band boundaries (percent)
const (
	ProgressEnriching   = 5
	ProgressPlanning    = 10
	ProgressResearching = 20
	ProgressReporting   = 90
	ProgressMaxRunning  = 99
	ProgressCompleted   = 100
)

// ProgressFor computes the progress percentage for a status. During
// researching, terminal/total tasks are scaled into the 20-90 band.
func ProgressFor(status Status, terminal, total int) int {
	switch status {
	case StatusPending:
		return 0
	case StatusEnriching:
		return ProgressEnriching
	case StatusPlanning:
		return ProgressPlanning
	case StatusResearching:
		if total <= 0 {
			return ProgressResearching
		}
		if terminal > total {
			terminal = total
		}
		band := ProgressReporting - ProgressResearching
		return ProgressResearching + terminal*band/total
	case StatusReporting:
		return ProgressReporting
	case StatusCompleted:
		return ProgressCompleted
	default:
		return 0
	}
}

// Job is one end-to-end research request from idea to final report
type Job struct {
	ID              uuid.UUID      `json:"job_id"`
	Idea            string         `json:"idea"`
	Description     *string        `json:"description,omitempty"`
	Status          Status         `json:"status"`
	Phase           Phase          `json:"current_phase"`
	ProgressPercent int            `json:"progress_percent"`
	Report          *Report        `json:"report,omitempty"`
	ReportReviewed  *bool          `json:"report_reviewed,omitempty"`
	Error           *string        `json:"error,omitempty"`
	CancelRequested bool           `json:"cancel_requested,omitempty"`
	IdempotencyKey  *string        `json:"-"`
	Tasks           []ResearchTask `json:"tasks,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// NewJob creates a pending job for an idea
func NewJob(idea string, now time.Time) *Job {
	return &Job{
		ID:        uuid.New(),
		Idea:      idea,
		Status:    StatusPending,
		Phase:     PhaseQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// JobUpdate is a partial update to a job. Nil fields are left untouched.
type JobUpdate struct {
	Status          *Status
	Description     *string
	Progress        *int
	Report          *Report
	ReportReviewed  *bool
	Error           *string
	CancelRequested *bool
}

// ErrJobTerminal is returned when updating a completed or failed job
var ErrJobTerminal = errors.New("job is in a terminal state")

// TransitionError indicates a status change outside the allowed edge set
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid job transition: %s -> %s", e.From, e.To)
}

// Apply merges an update into the job, enforcing the state machine and
// monotonic progress. The job is left unchanged when an error is returned.
func (j *Job) Apply(u JobUpdate, now time.Time) error {
	if j.Status.IsTerminal() {
		return ErrJobTerminal
	}

	next := *j
	if u.Status != nil && *u.Status != j.Status {
		if !CanTransition(j.Status, *u.Status) {
			return &TransitionError{From: j.Status, To: *u.Status}
		}
		next.Status = *u.Status
		next.Phase = u.Status.Phase()
		if floor := ProgressFor(*u.Status, 0, 0); *u.Status != StatusFailed && floor > next.ProgressPercent {
			next.ProgressPercent = floor
		}
	}
	if u.Description != nil {
		desc := *u.Description
		next.Description = &desc
	}
	if u.Progress != nil && *u.Progress > next.ProgressPercent {
		next.ProgressPercent = *u.Progress
	}
	if next.Status == StatusCompleted {
		next.ProgressPercent = ProgressCompleted
	} else if next.ProgressPercent > ProgressMaxRunning {
		next.ProgressPercent = ProgressMaxRunning
	}
	if u.Report != nil {
		next.Report = u.Report
	}
	if u.ReportReviewed != nil {
		reviewed := *u.ReportReviewed
		next.ReportReviewed = &reviewed
	}
	if u.Error != nil {
		msg := *u.Error
		next.Error = &msg
	}
	if u.CancelRequested != nil && *u.CancelRequested {
		next.CancelRequested = true
	}
	next.UpdatedAt = now

	*j = next
	return nil
}

// StatusPtr is a helper for building updates
func StatusPtr(s Status) *Status {
	return &s
}
