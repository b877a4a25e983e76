package types

import (
	"strings"
	"time"
)

// Verdict is the decision of a quality gate
type Verdict string

// Verdict constants
const (
	VerdictApproved Verdict = "approved"
	VerdictRejected Verdict = "rejected"
)

// Scope says what a critique was evaluating
type Scope string

// Scope constants
const (
	ScopeTask   Scope = "task"
	ScopeReport Scope = "report"
)

// ProviderUnavailableFeedback is recorded when an attempt is abandoned
// because a capability provider kept failing
const ProviderUnavailableFeedback = "provider unavailable"

// Feedback is structured guidance consumed by the next attempt
type Feedback struct {
	Gaps        []string `json:"gaps,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// IsEmpty returns true when there is nothing to act on
func (f Feedback) IsEmpty() bool {
	return len(f.Gaps) == 0 && len(f.Suggestions) == 0
}

// String renders the feedback for inclusion in a prompt
func (f Feedback) String() string {
	var sb strings.Builder
	for _, g := range f.Gaps {
		sb.WriteString("- Gap: " + g + "\n")
	}
	for _, s := range f.Suggestions {
		sb.WriteString("- Suggestion: " + s + "\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// Critique is a quality-gate verdict with structured feedback
type Critique struct {
	Verdict   Verdict   `json:"verdict"`
	Rationale string    `json:"rationale"`
	Feedback  Feedback  `json:"feedback"`
	Scope     Scope     `json:"scope"`
	Attempt   int       `json:"attempt"`
	Synthetic bool      `json:"synthetic,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Approved is a convenience check
func (c Critique) Approved() bool {
	return c.Verdict == VerdictApproved
}

// Normalize makes sure a rejected critique never travels without feedback.
// If the critic gave no gaps, the rationale becomes the gap.
func (c Critique) Normalize() Critique {
	if c.Verdict != VerdictRejected || !c.Feedback.IsEmpty() {
		return c
	}
	gap := strings.TrimSpace(c.Rationale)
	if gap == "" {
		gap = "evidence was judged insufficient without a specific reason; broaden sources and depth"
	}
	c.Feedback.Gaps = []string{gap}
	return c
}

// ProviderUnavailableCritique builds the synthetic rejection recorded when an
// attempt is abandoned after provider retries are exhausted
func ProviderUnavailableCritique(scope Scope, attempt int, cause error, now time.Time) Critique {
	rationale := ProviderUnavailableFeedback
	if cause != nil {
		rationale += ": " + cause.Error()
	}
	return Critique{
		Verdict:   VerdictRejected,
		Rationale: rationale,
		Feedback:  Feedback{Gaps: []string{ProviderUnavailableFeedback}},
		Scope:     scope,
		Attempt:   attempt,
		Synthetic: true,
		CreatedAt: now,
	}
}
