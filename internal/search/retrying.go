package search

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jonathan/research-orchestrator/internal/retry"
)

// RetryingSearcher retries transient search failures with backoff.
type RetryingSearcher struct {
	next   Searcher
	policy retry.Policy
	logger *slog.Logger
}

// WithRetry wraps s so each Search is retried under policy.
func WithRetry(s Searcher, policy retry.Policy, logger *slog.Logger) *RetryingSearcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryingSearcher{next: s, policy: policy, logger: logger}
}

// Search implements Searcher.
func (r *RetryingSearcher) Search(ctx context.Context, query string, depth Depth) ([]Result, error) {
	attempt := 0
	return retry.Do(ctx, r.policy, func(ctx context.Context) ([]Result, error) {
		attempt++
		res, err := r.next.Search(ctx, query, depth)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, retry.Permanent(err)
			}
			r.logger.Warn("search failed",
				slog.String("query", query),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
		}
		return res, err
	})
}
