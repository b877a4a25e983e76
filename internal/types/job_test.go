package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
		want bool
	}{
		{StatusPending, StatusEnriching, true},
		{StatusEnriching, StatusPlanning, true},
		{StatusPlanning, StatusResearching, true},
		{StatusResearching, StatusReporting, true},
		{StatusReporting, StatusCompleted, true},
		{StatusPending, StatusFailed, true},
		{StatusResearching, StatusFailed, true},
		{StatusReporting, StatusFailed, true},
		{StatusPending, StatusPlanning, false},
		{StatusPlanning, StatusEnriching, false},
		{StatusResearching, StatusCompleted, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusPending, false},
		{StatusCompleted, StatusReporting, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestStatus_Phase(t *testing.T) {
	assert.Equal(t, PhaseQueued, StatusPending.Phase())
	assert.Equal(t, PhaseResearching, StatusResearching.Phase())
	assert.Equal(t, PhaseCompleted, StatusCompleted.Phase())
	assert.Equal(t, PhaseFailed, StatusFailed.Phase())
}

func TestProgressFor(t *testing.T) {
	tests := []struct {
		name     string
		status   Status
		terminal int
		total    int
		want     int
	}{
		{"pending", StatusPending, 0, 0, 0},
		{"enriching", StatusEnriching, 0, 0, 5},
		{"planning", StatusPlanning, 0, 0, 10},
		{"researching start", StatusResearching, 0, 5, 20},
		{"researching half", StatusResearching, 2, 4, 55},
		{"researching all", StatusResearching, 5, 5, 90},
		{"researching overflow", StatusResearching, 7, 5, 90},
		{"researching no tasks", StatusResearching, 0, 0, 20},
		{"reporting", StatusReporting, 0, 0, 90},
		{"completed", StatusCompleted, 0, 0, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ProgressFor(tt.status, tt.terminal, tt.total))
		})
	}
}

func TestJobApply_LinearLifecycle(t *testing.T) {
	now := time.Now()
	job := NewJob("Impact of quantum computing on cryptography", now)

	last := job.ProgressPercent
	for _, s := range []Status{StatusEnriching, StatusPlanning, StatusResearching, StatusReporting, StatusCompleted} {
		require.NoError(t, job.Apply(JobUpdate{Status: StatusPtr(s)}, now))
		assert.Equal(t, s, job.Status)
		assert.Equal(t, s.Phase(), job.Phase)
		assert.GreaterOrEqual(t, job.ProgressPercent, last)
		last = job.ProgressPercent
	}
	assert.Equal(t, 100, job.ProgressPercent)
}

func TestJobApply_RejectsSkippedPhase(t *testing.T) {
	job := NewJob("idea text", time.Now())

	err := job.Apply(JobUpdate{Status: StatusPtr(StatusResearching)}, time.Now())
	require.Error(t, err)

	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, StatusPending, te.From)
	assert.Equal(t, StatusPending, job.Status, "job must be unchanged on error")
}

func TestJobApply_TerminalIsImmutable(t *testing.T) {
	job := NewJob("idea text", time.Now())
	require.NoError(t, job.Apply(JobUpdate{Status: StatusPtr(StatusFailed), Error: strPtr("boom")}, time.Now()))

	err := job.Apply(JobUpdate{Description: strPtr("late write")}, time.Now())
	assert.ErrorIs(t, err, ErrJobTerminal)
	assert.Nil(t, job.Description)
	assert.Equal(t, "boom", *job.Error)
}

func TestJobApply_ProgressNeverRegresses(t *testing.T) {
	job := NewJob("idea text", time.Now())
	require.NoError(t, job.Apply(JobUpdate{Status: StatusPtr(StatusEnriching)}, time.Now()))
	require.NoError(t, job.Apply(JobUpdate{Status: StatusPtr(StatusPlanning)}, time.Now()))
	require.NoError(t, job.Apply(JobUpdate{Status: StatusPtr(StatusResearching)}, time.Now()))

	p := 60
	require.NoError(t, job.Apply(JobUpdate{Progress: &p}, time.Now()))
	assert.Equal(t, 60, job.ProgressPercent)

	lower := 30
	require.NoError(t, job.Apply(JobUpdate{Progress: &lower}, time.Now()))
	assert.Equal(t, 60, job.ProgressPercent)

	over := 150
	require.NoError(t, job.Apply(JobUpdate{Progress: &over}, time.Now()))
	assert.Equal(t, ProgressMaxRunning, job.ProgressPercent)
}

func TestJob_JSONShape(t *testing.T) {
	job := NewJob("idea text", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))

	data, err := json.Marshal(job)
	require.NoError(t, err)

	s := string(data)
	assert.Contains(t, s, `"job_id"`)
	assert.Contains(t, s, `"status":"pending"`)
	assert.Contains(t, s, `"current_phase":"queued"`)
	assert.Contains(t, s, `"progress_percent":0`)
	assert.NotContains(t, s, `"report"`)
}

func strPtr(s string) *string { return &s }
