package llm

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jonathan/research-orchestrator/internal/retry"
)

// RetryingClient retries transient provider failures with backoff
type RetryingClient struct {
	Client
	policy retry.Policy
	logger *slog.Logger
}

// WithRetry wraps client so every generation call is retried under policy
func WithRetry(client Client, policy retry.Policy, logger *slog.Logger) *RetryingClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryingClient{Client: client, policy: policy, logger: logger}
}

// GenerateContent retries the wrapped call
func (c *RetryingClient) GenerateContent(ctx context.Context, prompt string, tier ModelTier) (string, error) {
	return c.do(ctx, "generate_content", tier, func(ctx context.Context) (string, error) {
		return c.Client.GenerateContent(ctx, prompt, tier)
	})
}

// GenerateJSON retries the wrapped call
func (c *RetryingClient) GenerateJSON(ctx context.Context, prompt string, tier ModelTier) (string, error) {
	return c.do(ctx, "generate_json", tier, func(ctx context.Context) (string, error) {
		return c.Client.GenerateJSON(ctx, prompt, tier)
	})
}

func (c *RetryingClient) do(ctx context.Context, op string, tier ModelTier, fn func(context.Context) (string, error)) (string, error) {
	attempt := 0
	return retry.Do(ctx, c.policy, func(ctx context.Context) (string, error) {
		attempt++
		out, err := fn(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return "", retry.Permanent(err)
			}
			c.logger.Warn("llm call failed",
				slog.String("op", op),
				slog.String("model", c.GetModel(tier)),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
		}
		return out, err
	})
}
