package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/jonathan/research-orchestrator/internal/fetch"
	"github.com/jonathan/research-orchestrator/internal/llm"
	"github.com/jonathan/research-orchestrator/internal/schemas"
	"github.com/jonathan/research-orchestrator/internal/types"
)

// knowledgePrior is the starting credibility of reused findings, which
// passed review in an earlier job.
const knowledgePrior = 7.0

type scoreEntry struct {
	Index       int     `json:"index"`
	Relevance   float64 `json:"relevance"`
	Credibility float64 `json:"credibility"`
	Stance      string  `json:"stance"`
}

type scoresResponse struct {
	Scores []scoreEntry `json:"scores"`
}

// CredibilityPrior returns the starting credibility for an evidence source.
func CredibilityPrior(e types.Evidence) float64 {
	if e.Origin == types.OriginKnowledgeReuse {
		return knowledgePrior
	}
	return fetch.CredibilityPrior(fetch.DetectSourceKind(e.Source))
}

// ScoreEvidence assigns relevance, credibility and stance to items in one
// call and marks items below relevanceFloor as excluded. Items the model
// skips keep their credibility prior and get relevance 0. Items already
// marked contradicting keep that stance.
func ScoreEvidence(ctx context.Context, client llm.Client, task, hypothesis string, items []types.Evidence, relevanceFloor float64) ([]types.Evidence, error) {
	if len(items) == 0 {
		return nil, nil
	}

	var sb strings.Builder
	for i, e := range items {
		fmt.Fprintf(&sb, "[%d] (source: %s, prior credibility %.0f)\n%s\n\n", i+1, e.Source, CredibilityPrior(e), e.Snippet)
	}

	prompt, err := render(researchPrompts, "score-evidence", map[string]string{
		"Task":       task,
		"Hypothesis": orNotSpecified(hypothesis),
		"Items":      strings.TrimSpace(sb.String()),
	})
	if err != nil {
		return nil, err
	}

	var resp scoresResponse
	if err := generateStructured(ctx, client, "score", prompt, llm.TierLite, schemas.Scores, &resp); err != nil {
		return nil, err
	}

	byIndex := make(map[int]scoreEntry, len(resp.Scores))
	for _, s := range resp.Scores {
		byIndex[s.Index] = s
	}

	scored := make([]types.Evidence, len(items))
	for i, e := range items {
		s, ok := byIndex[i+1]
		if ok {
			e.Relevance = types.ClampScore(s.Relevance)
			e.Credibility = types.ClampScore(s.Credibility)
		} else {
			e.Relevance = 0
			e.Credibility = CredibilityPrior(e)
		}
		if e.Stance != types.StanceContradicting {
			e.Stance = parseStance(s.Stance)
		}
		e.Excluded = e.Relevance < relevanceFloor
		scored[i] = e
	}
	return scored, nil
}

func parseStance(s string) types.Stance {
	switch types.Stance(strings.ToLower(strings.TrimSpace(s))) {
	case types.StanceSupporting:
		return types.StanceSupporting
	case types.StanceContradicting:
		return types.StanceContradicting
	default:
		return types.StanceNeutral
	}
}
