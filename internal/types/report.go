package types

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Report is the synthesized output of a job
type Report struct {
	Summary     string            `json:"summary"`
	KeyFindings []string          `json:"key_findings"`
	Details     map[string]string `json:"details"`
	Sections    []string          `json:"sections,omitempty"`
	Provenance  []Citation        `json:"provenance,omitempty"`
}

// Citation links a report back to the evidence it was built from
type Citation struct {
	EvidenceID uuid.UUID `json:"evidence_id"`
	TaskID     uuid.UUID `json:"task_id"`
	Source     string    `json:"source"`
}

// ErrEmptyReport marks degenerate synthesis output
var ErrEmptyReport = errors.New("report synthesis produced empty content")

// Validate rejects degenerate reports: no summary, no key findings,
// blank findings, or no non-empty sections
func (r *Report) Validate() error {
	if r == nil || strings.TrimSpace(r.Summary) == "" {
		return ErrEmptyReport
	}
	if len(r.KeyFindings) == 0 {
		return ErrEmptyReport
	}
	for _, f := range r.KeyFindings {
		if strings.TrimSpace(f) == "" {
			return ErrEmptyReport
		}
	}
	nonEmpty := 0
	for _, body := range r.Details {
		if strings.TrimSpace(body) != "" {
			nonEmpty++
		}
	}
	if nonEmpty == 0 {
		return ErrEmptyReport
	}
	return nil
}

// CitesTask reports whether any provenance entry points at the task
func (r *Report) CitesTask(taskID uuid.UUID) bool {
	for _, c := range r.Provenance {
		if c.TaskID == taskID {
			return true
		}
	}
	return false
}

// KnowledgeChunk is a stored text fragment with its embedding
type KnowledgeChunk struct {
	ID        uuid.UUID `json:"id"`
	JobID     uuid.UUID `json:"job_id"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// ScoredChunk is a similarity query hit. Similarity is 1 - cosine distance.
type ScoredChunk struct {
	KnowledgeChunk
	Similarity float64 `json:"similarity"`
}
