package agents

import (
	"context"
	"strings"

	"github.com/jonathan/research-orchestrator/internal/llm"
	"github.com/jonathan/research-orchestrator/internal/schemas"
	"github.com/jonathan/research-orchestrator/internal/types"
)

type hypothesisResponse struct {
	Hypothesis string `json:"hypothesis"`
}

// FormHypothesis states a working hypothesis for a task. On a retry the
// previous critique is included so the hypothesis can be revised.
func FormHypothesis(ctx context.Context, client llm.Client, description, task string, previous *types.Critique) (string, error) {
	prompt, err := render(researchPrompts, "form-hypothesis", map[string]string{
		"Description": orNotSpecified(description),
		"Task":        task,
		"Feedback":    feedbackBlock(previous),
	})
	if err != nil {
		return "", err
	}

	var resp hypothesisResponse
	if err := generateStructured(ctx, client, "hypothesis", prompt, llm.TierStandard, schemas.Hypothesis, &resp); err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Hypothesis), nil
}
