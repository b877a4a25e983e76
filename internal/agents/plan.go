package agents

import (
	"context"
	"strconv"
	"strings"

	"github.com/jonathan/research-orchestrator/internal/llm"
	"github.com/jonathan/research-orchestrator/internal/schemas"
)

// PlanLimits bounds the number of tasks requested and kept.
type PlanLimits struct {
	Min int
	Max int
}

// Plan decomposes a research description into task descriptions. Blank
// and duplicate entries are dropped and the list is truncated to
// limits.Max. Callers decide whether too few tasks is a failure.
func Plan(ctx context.Context, client llm.Client, description string, limits PlanLimits) ([]string, error) {
	prompt, err := render(researchPrompts, "plan-tasks", map[string]string{
		"Description": description,
		"MinTasks":    strconv.Itoa(max(limits.Min, 1)),
		"MaxTasks":    strconv.Itoa(max(limits.Max, 1)),
	})
	if err != nil {
		return nil, err
	}

	var raw []string
	if err := generateStructured(ctx, client, "plan", prompt, llm.TierStandard, schemas.Plan, &raw); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(raw))
	tasks := make([]string, 0, len(raw))
	for _, t := range raw {
		t = strings.TrimSpace(t)
		key := strings.ToLower(t)
		if t == "" || seen[key] {
			continue
		}
		seen[key] = true
		tasks = append(tasks, t)
	}

	if limits.Max > 0 && len(tasks) > limits.Max {
		tasks = tasks[:limits.Max]
	}
	return tasks, nil
}
