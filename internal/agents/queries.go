package agents

import (
	"context"
	"strconv"
	"strings"

	"github.com/jonathan/research-orchestrator/internal/llm"
	"github.com/jonathan/research-orchestrator/internal/schemas"
	"github.com/jonathan/research-orchestrator/internal/types"
)

// QueryPlan is the set of searches for one attempt.
type QueryPlan struct {
	Queries       []string
	Contradiction string
}

type queriesResponse struct {
	Queries            []string `json:"queries"`
	ContradictionQuery string   `json:"contradiction_query"`
}

// GenerateQueries writes at most maxQueries search queries plus one query
// aimed at evidence against the hypothesis. The contradiction query is
// never empty.
func GenerateQueries(ctx context.Context, client llm.Client, task, hypothesis string, previous *types.Critique, maxQueries int) (*QueryPlan, error) {
	if maxQueries <= 0 {
		maxQueries = 1
	}
	prompt, err := render(researchPrompts, "generate-queries", map[string]string{
		"Task":       task,
		"Hypothesis": orNotSpecified(hypothesis),
		"MaxQueries": strconv.Itoa(maxQueries),
		"Feedback":   feedbackBlock(previous),
	})
	if err != nil {
		return nil, err
	}

	var resp queriesResponse
	if err := generateStructured(ctx, client, "queries", prompt, llm.TierLite, schemas.Queries, &resp); err != nil {
		return nil, err
	}

	plan := &QueryPlan{Contradiction: strings.TrimSpace(resp.ContradictionQuery)}
	seen := make(map[string]bool)
	for _, q := range resp.Queries {
		q = strings.TrimSpace(q)
		if q == "" || seen[strings.ToLower(q)] {
			continue
		}
		seen[strings.ToLower(q)] = true
		plan.Queries = append(plan.Queries, q)
		if len(plan.Queries) == maxQueries {
			break
		}
	}
	if len(plan.Queries) == 0 {
		plan.Queries = []string{task}
	}
	if plan.Contradiction == "" {
		plan.Contradiction = ContradictionQuery(task, hypothesis)
	}
	return plan, nil
}

// ContradictionQuery builds a fallback query for opposing evidence.
func ContradictionQuery(task, hypothesis string) string {
	subject := strings.TrimSpace(hypothesis)
	if subject == "" {
		subject = strings.TrimSpace(task)
	}
	return subject + " criticism counterevidence limitations"
}
