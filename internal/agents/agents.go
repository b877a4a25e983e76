// Package agents holds the single-purpose LLM steps of the research
// pipeline: enrichment, planning, hypotheses, query writing, evidence
// scoring, critique and report synthesis. Each step renders a prompt,
// calls the model and validates the structured answer.
package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jonathan/research-orchestrator/internal/llm"
	"github.com/jonathan/research-orchestrator/internal/prompts"
	"github.com/jonathan/research-orchestrator/internal/schemas"
	"github.com/jonathan/research-orchestrator/internal/types"
)

const (
	researchPrompts = "research.json"
	reviewPrompts   = "review.json"
)

// outputAttempts is how many times a step re-asks the model after an
// answer that fails to parse or validate.
const outputAttempts = 2

// OutputError reports a model answer that could not be used.
type OutputError struct {
	Step    string
	Content string
	Err     error
}

func (e *OutputError) Error() string {
	content := e.Content
	if len(content) > 200 {
		content = content[:200] + "..."
	}
	return fmt.Sprintf("%s: unusable model output: %v (content: %s)", e.Step, e.Err, content)
}

func (e *OutputError) Unwrap() error {
	return e.Err
}

// IsOutputError reports whether err came from unusable model output
func IsOutputError(err error) bool {
	var oe *OutputError
	return errors.As(err, &oe)
}

// generateStructured asks for JSON, validates it against schema and
// decodes it into out. Unusable output is re-requested; transport errors
// are returned at once.
func generateStructured(ctx context.Context, client llm.Client, step, prompt string, tier llm.ModelTier, schema string, out any) error {
	var lastErr error
	for i := 0; i < outputAttempts; i++ {
		raw, err := client.GenerateJSON(ctx, prompt, tier)
		if err != nil {
			return fmt.Errorf("%s: LLM generation failed: %w", step, err)
		}
		raw = llm.CleanJSONBlock(raw)

		if err := schemas.Validate(schema, raw); err != nil {
			lastErr = &OutputError{Step: step, Content: raw, Err: err}
			continue
		}
		if err := json.Unmarshal([]byte(raw), out); err != nil {
			lastErr = &OutputError{Step: step, Content: raw, Err: err}
			continue
		}
		return nil
	}
	return lastErr
}

// render loads and fills a prompt template
func render(file, key string, data map[string]string) (string, error) {
	p, err := prompts.Render(file, key, data)
	if err != nil {
		return "", fmt.Errorf("failed to load prompt %s: %w", key, err)
	}
	return p, nil
}

// feedbackBlock renders the previous-feedback section for a retry, or ""
func feedbackBlock(c *types.Critique) string {
	if c == nil || c.Approved() {
		return ""
	}
	text := c.Feedback.String()
	if strings.TrimSpace(text) == "" {
		text = c.Rationale
	}
	if strings.TrimSpace(text) == "" {
		return ""
	}
	block, err := prompts.Render(reviewPrompts, "previous-feedback", map[string]string{"Feedback": text})
	if err != nil {
		return "\nPREVIOUS FEEDBACK (must be addressed):\n" + text + "\n"
	}
	return block
}

func orNotSpecified(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Not specified"
	}
	return s
}
