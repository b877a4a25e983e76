package db

import (
	"context"
	"fmt"
)

// DefaultEmbeddingDimension matches Titan text embeddings v2
const DefaultEmbeddingDimension = 1024

// schemaSQL creates all tables. %d is the embedding dimension.
const schemaSQL = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS research_jobs (
    id               UUID PRIMARY KEY,
    idea             TEXT NOT NULL,
    description      TEXT,
    status           TEXT NOT NULL DEFAULT 'pending',
    phase            TEXT NOT NULL DEFAULT 'queued',
    progress_percent INT NOT NULL DEFAULT 0 CHECK (progress_percent BETWEEN 0 AND 100),
    report           JSONB,
    report_reviewed  BOOLEAN,
    error            TEXT,
    cancel_requested BOOLEAN NOT NULL DEFAULT FALSE,
    idempotency_key  TEXT,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_research_jobs_status ON research_jobs (status, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_research_jobs_idempotency
    ON research_jobs (idempotency_key, created_at DESC) WHERE idempotency_key IS NOT NULL;

CREATE TABLE IF NOT EXISTS research_tasks (
    id           UUID PRIMARY KEY,
    job_id       UUID NOT NULL REFERENCES research_jobs(id) ON DELETE CASCADE,
    ordinal      INT NOT NULL,
    description  TEXT NOT NULL,
    hypothesis   TEXT,
    attempts     INT NOT NULL DEFAULT 0,
    max_attempts INT NOT NULL,
    outcome      TEXT NOT NULL DEFAULT '',
    status       TEXT NOT NULL DEFAULT 'pending',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (job_id, ordinal),
    CHECK (attempts <= max_attempts)
);

CREATE TABLE IF NOT EXISTS task_evidence (
    seq         BIGSERIAL PRIMARY KEY,
    id          UUID NOT NULL UNIQUE,
    task_id     UUID NOT NULL REFERENCES research_tasks(id) ON DELETE CASCADE,
    attempt     INT NOT NULL,
    snippet     TEXT NOT NULL,
    source      TEXT NOT NULL,
    relevance   DOUBLE PRECISION NOT NULL DEFAULT 0,
    credibility DOUBLE PRECISION NOT NULL DEFAULT 0,
    origin      TEXT NOT NULL,
    stance      TEXT NOT NULL DEFAULT 'neutral',
    excluded    BOOLEAN NOT NULL DEFAULT FALSE,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_task_evidence_task ON task_evidence (task_id, seq);

CREATE TABLE IF NOT EXISTS task_critiques (
    seq        BIGSERIAL PRIMARY KEY,
    task_id    UUID NOT NULL REFERENCES research_tasks(id) ON DELETE CASCADE,
    verdict    TEXT NOT NULL,
    rationale  TEXT NOT NULL DEFAULT '',
    feedback   JSONB NOT NULL DEFAULT '{}',
    scope      TEXT NOT NULL,
    attempt    INT NOT NULL,
    synthetic  BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_task_critiques_task ON task_critiques (task_id, seq);

-- job_id is a provenance back-reference only; chunks outlive jobs
CREATE TABLE IF NOT EXISTS knowledge_chunks (
    id         UUID PRIMARY KEY,
    job_id     UUID NOT NULL,
    content    TEXT NOT NULL,
    embedding  vector(%d) NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_knowledge_chunks_embedding
    ON knowledge_chunks USING hnsw (embedding vector_cosine_ops);

CREATE TABLE IF NOT EXISTS fetched_pages (
    url                  TEXT PRIMARY KEY,
    source_kind          TEXT NOT NULL DEFAULT '',
    parsed_text          TEXT,
    content_hash         TEXT,
    http_status          INT,
    fetch_status         TEXT NOT NULL,
    error_message        TEXT,
    is_permanent_failure BOOLEAN NOT NULL DEFAULT FALSE,
    retry_count          INT NOT NULL DEFAULT 0,
    retry_after          TIMESTAMPTZ,
    fetched_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    expires_at           TIMESTAMPTZ,
    last_accessed_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_fetched_pages_expires ON fetched_pages (expires_at);
`

// SchemaSQL returns the schema for a given embedding dimension
func SchemaSQL(dimension int) string {
	if dimension <= 0 {
		dimension = DefaultEmbeddingDimension
	}
	return fmt.Sprintf(schemaSQL, dimension)
}

// Migrate applies the schema. It is safe to run repeatedly.
func (db *DB) Migrate(ctx context.Context, dimension int) error {
	if _, err := db.pool.Exec(ctx, SchemaSQL(dimension)); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
