package taskloop

import (
	"context"
	"fmt"
	"strings"

	"github.com/jonathan/research-orchestrator/internal/agents"
	"github.com/jonathan/research-orchestrator/internal/knowledge"
	"github.com/jonathan/research-orchestrator/internal/search"
	"github.com/jonathan/research-orchestrator/internal/types"
)

// attempt runs one pass of the quality gates and returns the critic's
// verdict. Any returned error abandons the attempt.
func (l *Loop) attempt(ctx context.Context, description string, task *types.ResearchTask, attempt int) (types.Critique, error) {
	previous := task.LatestCritique()

	hypothesis, err := agents.FormHypothesis(ctx, l.client, description, task.Description, previous)
	if err != nil {
		return types.Critique{}, fmt.Errorf("failed to form hypothesis: %w", err)
	}
	if _, err := l.tracker.UpdateTask(ctx, task.ID, types.TaskUpdate{Hypothesis: &hypothesis}); err != nil {
		return types.Critique{}, &PersistenceError{Op: "record hypothesis", Err: err}
	}

	if err := l.reuseKnowledge(ctx, task, hypothesis, attempt); err != nil {
		return types.Critique{}, err
	}

	plan, err := agents.GenerateQueries(ctx, l.client, task.Description, hypothesis, previous, l.cfg.MaxQueries)
	if err != nil {
		return types.Critique{}, fmt.Errorf("failed to generate queries: %w", err)
	}

	found, err := l.searchAll(ctx, plan.Queries, attempt, "")
	if err != nil {
		return types.Critique{}, err
	}
	if err := l.scoreAndRecord(ctx, task, hypothesis, found); err != nil {
		return types.Critique{}, err
	}

	opposing, err := l.searchAll(ctx, []string{plan.Contradiction}, attempt, types.StanceContradicting)
	if err != nil {
		return types.Critique{}, err
	}
	if err := l.scoreAndRecord(ctx, task, hypothesis, opposing); err != nil {
		return types.Critique{}, err
	}

	current, err := l.tracker.ReadTask(ctx, task.ID)
	if err != nil {
		return types.Critique{}, &PersistenceError{Op: "read task", Err: err}
	}
	critique, err := agents.CritiqueTask(ctx, l.client, agents.TaskReview{
		Task:        task.Description,
		Hypothesis:  hypothesis,
		Evidence:    included(current.Evidence),
		Attempt:     attempt,
		MaxAttempts: task.MaxAttempts,
	})
	if err != nil {
		return types.Critique{}, fmt.Errorf("failed to critique task: %w", err)
	}
	return critique, nil
}

// reuseKnowledge records stored chunks above the similarity floor as
// evidence before any web search runs. A failing store only skips reuse.
func (l *Loop) reuseKnowledge(ctx context.Context, task *types.ResearchTask, hypothesis string, attempt int) error {
	if l.knowledge == nil {
		return nil
	}
	query := strings.TrimSpace(task.Description + "\n" + hypothesis)
	chunks, err := l.knowledge.Similar(ctx, query, l.cfg.KnowledgeTopK)
	if err != nil {
		l.logger.Warn("knowledge lookup failed", "task_id", task.ID, "attempt", attempt, "error", err)
		return nil
	}
	chunks = knowledge.AboveFloor(chunks, l.cfg.SimilarityFloor)
	if len(chunks) == 0 {
		return nil
	}

	seen := sourcesOf(task.Evidence)
	var reused []types.Evidence
	for _, c := range chunks {
		source := types.KnowledgeSource(c.ID)
		if seen[source] {
			continue
		}
		relevance := types.ClampScore(c.Similarity * types.MaxScore)
		reused = append(reused, types.Evidence{
			Attempt:     attempt,
			Snippet:     c.Content,
			Source:      source,
			Relevance:   relevance,
			Credibility: agents.CredibilityPrior(types.Evidence{Origin: types.OriginKnowledgeReuse}),
			Origin:      types.OriginKnowledgeReuse,
			Stance:      types.StanceNeutral,
			Excluded:    relevance < l.cfg.RelevanceFloor,
		})
	}
	if len(reused) == 0 {
		return nil
	}
	if err := l.tracker.AppendEvidence(ctx, task.ID, reused); err != nil {
		return &PersistenceError{Op: "record reused knowledge", Err: err}
	}
	l.logger.Debug("reused knowledge", "task_id", task.ID, "attempt", attempt, "chunks", len(reused))
	return nil
}

// searchAll runs every query and turns the deduplicated results into
// unscored web evidence
func (l *Loop) searchAll(ctx context.Context, queries []string, attempt int, stance types.Stance) ([]types.Evidence, error) {
	var sets [][]search.Result
	for _, q := range queries {
		results, err := l.searcher.Search(ctx, q, l.cfg.SearchDepth)
		if err != nil {
			return nil, fmt.Errorf("failed to search %q: %w", q, err)
		}
		sets = append(sets, results)
	}

	var items []types.Evidence
	for _, r := range search.Merge(sets...) {
		snippet := strings.TrimSpace(r.Snippet)
		if snippet == "" {
			continue
		}
		source := r.URL
		if source == "" {
			source = r.Title
		}
		items = append(items, types.Evidence{
			Attempt: attempt,
			Snippet: snippet,
			Source:  source,
			Origin:  types.OriginWebSearch,
			Stance:  stance,
		})
	}
	return items, nil
}

func (l *Loop) scoreAndRecord(ctx context.Context, task *types.ResearchTask, hypothesis string, items []types.Evidence) error {
	if len(items) == 0 {
		return nil
	}
	scored, err := agents.ScoreEvidence(ctx, l.client, task.Description, hypothesis, items, l.cfg.RelevanceFloor)
	if err != nil {
		return fmt.Errorf("failed to score evidence: %w", err)
	}
	if err := l.tracker.AppendEvidence(ctx, task.ID, scored); err != nil {
		return &PersistenceError{Op: "record evidence", Err: err}
	}
	return nil
}

func included(items []types.Evidence) []types.Evidence {
	var out []types.Evidence
	for _, e := range items {
		if !e.Excluded {
			out = append(out, e)
		}
	}
	return out
}

func sourcesOf(items []types.Evidence) map[string]bool {
	seen := make(map[string]bool, len(items))
	for _, e := range items {
		seen[e.Source] = true
	}
	return seen
}
