package agents

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jonathan/research-orchestrator/internal/llm"
	"github.com/jonathan/research-orchestrator/internal/schemas"
	"github.com/jonathan/research-orchestrator/internal/types"
)

type reportResponse struct {
	Summary     string            `json:"summary"`
	KeyFindings []string          `json:"key_findings"`
	Details     map[string]string `json:"details"`
	Sections    []string          `json:"sections"`
}

// Findings renders the synthesis input: each approved task with its
// usable evidence. Tasks that were not approved are left out.
func Findings(tasks []types.ResearchTask) string {
	var sb strings.Builder
	n := 0
	for i := range tasks {
		evidence := tasks[i].SynthesisEvidence()
		if len(evidence) == 0 {
			continue
		}
		n++
		fmt.Fprintf(&sb, "## Task %d: %s\n", n, tasks[i].Description)
		if h := tasks[i].Hypothesis; h != nil && *h != "" {
			fmt.Fprintf(&sb, "Hypothesis: %s\n", *h)
		}
		sb.WriteString(types.FormatEvidence(evidence))
		sb.WriteString("\n")
	}
	if n == 0 {
		return "(no approved findings)"
	}
	return strings.TrimSpace(sb.String())
}

// Provenance lists every evidence item eligible for synthesis.
func Provenance(tasks []types.ResearchTask) []types.Citation {
	var out []types.Citation
	for i := range tasks {
		for _, e := range tasks[i].SynthesisEvidence() {
			out = append(out, types.Citation{EvidenceID: e.ID, TaskID: tasks[i].ID, Source: e.Source})
		}
	}
	return out
}

// DefaultMaxKeyFindings caps key findings when the caller sets no limit
const DefaultMaxKeyFindings = 10

// Synthesize writes the report from approved tasks, keeping at most
// maxFindings key findings. previous carries the last report critique on
// a rewrite.
func Synthesize(ctx context.Context, client llm.Client, description string, tasks []types.ResearchTask, maxFindings int, previous *types.Critique) (*types.Report, error) {
	if maxFindings <= 0 {
		maxFindings = DefaultMaxKeyFindings
	}
	prompt, err := render(researchPrompts, "synthesize-report", map[string]string{
		"Description": description,
		"Findings":    Findings(tasks),
		"Feedback":    feedbackBlock(previous),
		"MaxFindings": strconv.Itoa(maxFindings),
	})
	if err != nil {
		return nil, err
	}

	var resp reportResponse
	if err := generateStructured(ctx, client, "report", prompt, llm.TierAdvanced, schemas.Report, &resp); err != nil {
		return nil, err
	}

	findings := trimAll(resp.KeyFindings)
	if len(findings) > maxFindings {
		findings = findings[:maxFindings]
	}
	report := &types.Report{
		Summary:     strings.TrimSpace(resp.Summary),
		KeyFindings: findings,
		Details:     make(map[string]string, len(resp.Details)),
		Provenance:  Provenance(tasks),
	}
	for title, body := range resp.Details {
		title = strings.TrimSpace(title)
		if title == "" {
			continue
		}
		report.Details[title] = strings.TrimSpace(body)
	}
	for _, s := range trimAll(resp.Sections) {
		if _, ok := report.Details[s]; ok {
			report.Sections = append(report.Sections, s)
		}
	}
	return report, nil
}
