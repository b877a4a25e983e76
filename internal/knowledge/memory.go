package knowledge

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/jonathan/research-orchestrator/internal/types"
)

// MemoryRepository is an in-process ChunkRepository using exact cosine
// similarity. It backs the CLI when no database is configured, and tests.
type MemoryRepository struct {
	mu     sync.RWMutex
	chunks []types.KnowledgeChunk
}

var _ ChunkRepository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

// InsertChunks appends chunks.
func (m *MemoryRepository) InsertChunks(_ context.Context, chunks []types.KnowledgeChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range chunks {
		c.Embedding = append([]float32(nil), c.Embedding...)
		m.chunks = append(m.chunks, c)
	}
	return nil
}

// SimilarChunks ranks every stored chunk by cosine similarity.
func (m *MemoryRepository) SimilarChunks(_ context.Context, embedding []float32, k int) ([]types.ScoredChunk, error) {
	if k <= 0 {
		k = DefaultTopK
	}
	m.mu.RLock()
	scored := make([]types.ScoredChunk, 0, len(m.chunks))
	for _, c := range m.chunks {
		scored = append(scored, types.ScoredChunk{KnowledgeChunk: c, Similarity: cosine(embedding, c.Embedding)})
	}
	m.mu.RUnlock()

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Similarity > scored[j].Similarity })
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// Len returns the number of stored chunks.
func (m *MemoryRepository) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks)
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
