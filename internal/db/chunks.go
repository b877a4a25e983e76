package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jonathan/research-orchestrator/internal/types"
	"github.com/pgvector/pgvector-go"
)

// InsertChunks appends knowledge chunks. Chunks are never updated.
func (db *DB) InsertChunks(ctx context.Context, chunks []types.KnowledgeChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, c := range chunks {
		id := c.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = db.now()
		}
		batch.Queue(
			`INSERT INTO knowledge_chunks (id, job_id, content, embedding, created_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			id, c.JobID, c.Content, pgvector.NewVector(c.Embedding), createdAt,
		)
	}
	if err := db.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert chunks: %w", err)
	}
	return nil
}

// SimilarChunks returns the k chunks closest to embedding by cosine distance
func (db *DB) SimilarChunks(ctx context.Context, embedding []float32, k int) ([]types.ScoredChunk, error) {
	if k <= 0 {
		k = 5
	}

	rows, err := db.pool.Query(ctx,
		`SELECT id, job_id, content, created_at, 1 - (embedding <=> $1) AS similarity
		 FROM knowledge_chunks
		 ORDER BY embedding <=> $1
		 LIMIT $2`,
		pgvector.NewVector(embedding), k,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query similar chunks: %w", err)
	}
	defer rows.Close()

	var out []types.ScoredChunk
	for rows.Next() {
		var c types.ScoredChunk
		if err := rows.Scan(&c.ID, &c.JobID, &c.Content, &c.CreatedAt, &c.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountChunks returns the number of chunks stored for a job
func (db *DB) CountChunks(ctx context.Context, jobID uuid.UUID) (int, error) {
	var n int
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM knowledge_chunks WHERE job_id = $1`, jobID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}
