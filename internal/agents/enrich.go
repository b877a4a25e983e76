package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jonathan/research-orchestrator/internal/llm"
)

// Enrich expands a short research idea into a full description.
func Enrich(ctx context.Context, client llm.Client, idea string) (string, error) {
	prompt, err := render(researchPrompts, "enrich-idea", map[string]string{"Idea": strings.TrimSpace(idea)})
	if err != nil {
		return "", err
	}

	text, err := client.GenerateContent(ctx, prompt, llm.TierAdvanced)
	if err != nil {
		return "", fmt.Errorf("enrich: LLM generation failed: %w", err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", &OutputError{Step: "enrich", Err: errors.New("empty description")}
	}
	return text, nil
}
