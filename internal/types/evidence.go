package types

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Origin identifies where a piece of evidence came from
type Origin string

// Origin constants
const (
	OriginWebSearch      Origin = "web_search"
	OriginKnowledgeReuse Origin = "knowledge_reuse"
)

// Stance marks how evidence relates to the hypothesis
type Stance string

// Stance constants
const (
	StanceSupporting    Stance = "supporting"
	StanceContradicting Stance = "contradicting"
	StanceNeutral       Stance = "neutral"
)

// Score bounds for relevance and credibility
const (
	MinScore = 0.0
	MaxScore = 10.0
)

// Evidence is a scored, sourced snippet gathered for a task
type Evidence struct {
	ID          uuid.UUID `json:"id"`
	TaskID      uuid.UUID `json:"task_id"`
	Attempt     int       `json:"attempt"`
	Snippet     string    `json:"snippet"`
	Source      string    `json:"source"`
	Relevance   float64   `json:"relevance"`
	Credibility float64   `json:"credibility"`
	Origin      Origin    `json:"origin"`
	Stance      Stance    `json:"stance"`
	Excluded    bool      `json:"excluded"`
}

// ClampScore bounds a score to [0, 10]
func ClampScore(s float64) float64 {
	if s < MinScore {
		return MinScore
	}
	if s > MaxScore {
		return MaxScore
	}
	return s
}

// KnowledgeSource formats the source identifier for reused knowledge
func KnowledgeSource(chunkID uuid.UUID) string {
	return "knowledge:" + chunkID.String()
}

// FormatEvidence renders evidence as a numbered list for prompts
func FormatEvidence(items []Evidence) string {
	if len(items) == 0 {
		return "(no evidence collected)"
	}
	var sb strings.Builder
	for i, e := range items {
		sb.WriteString(fmt.Sprintf("[%d] (%s, %s, relevance %.1f, credibility %.1f) %s\n    source: %s\n",
			i+1, e.Origin, e.Stance, e.Relevance, e.Credibility, e.Snippet, e.Source))
	}
	return sb.String()
}
