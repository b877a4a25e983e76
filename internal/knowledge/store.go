// Package knowledge stores past research as embedded text chunks and
// answers similarity queries so new tasks can reuse it.
package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/research-orchestrator/internal/llm"
	"github.com/jonathan/research-orchestrator/internal/types"
)

// DefaultTopK is the default number of chunks returned by Similar.
const DefaultTopK = 5

// embedBatchSize bounds how many texts go into one embedding call.
const embedBatchSize = 16

// Store is the knowledge capability used by the research pipeline.
type Store interface {
	Similar(ctx context.Context, text string, k int) ([]types.ScoredChunk, error)
	Ingest(ctx context.Context, jobID uuid.UUID, texts []string) error
}

// ChunkRepository persists chunks and runs vector queries.
type ChunkRepository interface {
	InsertChunks(ctx context.Context, chunks []types.KnowledgeChunk) error
	SimilarChunks(ctx context.Context, embedding []float32, k int) ([]types.ScoredChunk, error)
}

// VectorStore implements Store with an embedder and a chunk repository.
type VectorStore struct {
	repo     ChunkRepository
	embedder llm.Embedder
	logger   *slog.Logger
	now      func() time.Time
}

var _ Store = (*VectorStore)(nil)

// NewVectorStore creates a VectorStore.
func NewVectorStore(repo ChunkRepository, embedder llm.Embedder, logger *slog.Logger) *VectorStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &VectorStore{repo: repo, embedder: embedder, logger: logger, now: time.Now}
}

// Similar returns up to k stored chunks closest to text, most similar first.
func (s *VectorStore) Similar(ctx context.Context, text string, k int) ([]types.ScoredChunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	if k <= 0 {
		k = DefaultTopK
	}

	vecs, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("failed to embed query: got %d vectors", len(vecs))
	}

	chunks, err := s.repo.SimilarChunks(ctx, vecs[0], k)
	if err != nil {
		return nil, fmt.Errorf("failed to query knowledge: %w", err)
	}
	return chunks, nil
}

// Ingest embeds texts and appends them as chunks for jobID. Blank texts
// are skipped.
func (s *VectorStore) Ingest(ctx context.Context, jobID uuid.UUID, texts []string) error {
	var clean []string
	for _, t := range texts {
		if t = strings.TrimSpace(t); t != "" {
			clean = append(clean, t)
		}
	}
	if len(clean) == 0 {
		return nil
	}

	start := s.now()
	chunks := make([]types.KnowledgeChunk, 0, len(clean))
	for i := 0; i < len(clean); i += embedBatchSize {
		end := min(i+embedBatchSize, len(clean))
		vecs, err := s.embedder.Embed(ctx, clean[i:end])
		if err != nil {
			return fmt.Errorf("failed to embed chunks: %w", err)
		}
		for j, v := range vecs {
			chunks = append(chunks, types.KnowledgeChunk{
				ID:        uuid.New(),
				JobID:     jobID,
				Content:   clean[i+j],
				Embedding: v,
				CreatedAt: s.now(),
			})
		}
	}

	if err := s.repo.InsertChunks(ctx, chunks); err != nil {
		return fmt.Errorf("failed to store chunks: %w", err)
	}

	s.logger.Debug("knowledge ingested",
		slog.String("job_id", jobID.String()),
		slog.Int("chunks", len(chunks)),
		slog.Int64("duration_ms", s.now().Sub(start).Milliseconds()))
	return nil
}

// AboveFloor keeps chunks whose similarity is at least floor.
func AboveFloor(chunks []types.ScoredChunk, floor float64) []types.ScoredChunk {
	var out []types.ScoredChunk
	for _, c := range chunks {
		if c.Similarity >= floor {
			out = append(out, c)
		}
	}
	return out
}
