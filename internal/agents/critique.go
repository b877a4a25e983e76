package agents

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/jonathan/research-orchestrator/internal/llm"
	"github.com/jonathan/research-orchestrator/internal/schemas"
	"github.com/jonathan/research-orchestrator/internal/types"
)

type critiqueResponse struct {
	Approved    bool     `json:"approved"`
	Feedback    string   `json:"feedback"`
	Gaps        []string `json:"gaps"`
	Suggestions []string `json:"suggestions"`
}

func (r critiqueResponse) toCritique(scope types.Scope, attempt int, now time.Time) types.Critique {
	verdict := types.VerdictRejected
	if r.Approved {
		verdict = types.VerdictApproved
	}
	return types.Critique{
		Verdict:   verdict,
		Rationale: strings.TrimSpace(r.Feedback),
		Feedback:  types.Feedback{Gaps: trimAll(r.Gaps), Suggestions: trimAll(r.Suggestions)},
		Scope:     scope,
		Attempt:   attempt,
		CreatedAt: now,
	}.Normalize()
}

// TaskReview is the input to a task critique.
type TaskReview struct {
	Task        string
	Hypothesis  string
	Evidence    []types.Evidence
	Attempt     int
	MaxAttempts int
}

// CritiqueTask judges whether an attempt's evidence answers the task,
// checking completeness, relevance and depth.
func CritiqueTask(ctx context.Context, client llm.Client, in TaskReview) (types.Critique, error) {
	prompt, err := render(reviewPrompts, "critique-task", map[string]string{
		"Task":        in.Task,
		"Hypothesis":  orNotSpecified(in.Hypothesis),
		"Evidence":    types.FormatEvidence(in.Evidence),
		"Attempt":     strconv.Itoa(in.Attempt),
		"MaxAttempts": strconv.Itoa(in.MaxAttempts),
	})
	if err != nil {
		return types.Critique{}, err
	}

	var resp critiqueResponse
	if err := generateStructured(ctx, client, "critique", prompt, llm.TierStandard, schemas.Critique, &resp); err != nil {
		return types.Critique{}, err
	}
	return resp.toCritique(types.ScopeTask, in.Attempt, time.Now().UTC()), nil
}

// CritiqueReport reviews a draft report against its findings.
func CritiqueReport(ctx context.Context, client llm.Client, description, findings string, report *types.Report, attempt int) (types.Critique, error) {
	draft, err := json.MarshalIndent(struct {
		Summary     string            `json:"summary"`
		KeyFindings []string          `json:"key_findings"`
		Details     map[string]string `json:"details"`
	}{report.Summary, report.KeyFindings, report.Details}, "", "  ")
	if err != nil {
		return types.Critique{}, err
	}

	prompt, err := render(reviewPrompts, "critique-report", map[string]string{
		"Description": description,
		"Findings":    findings,
		"Report":      string(draft),
	})
	if err != nil {
		return types.Critique{}, err
	}

	var resp critiqueResponse
	if err := generateStructured(ctx, client, "report critique", prompt, llm.TierStandard, schemas.Critique, &resp); err != nil {
		return types.Critique{}, err
	}
	return resp.toCritique(types.ScopeReport, attempt, time.Now().UTC()), nil
}

func trimAll(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
