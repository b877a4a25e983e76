package db

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSchemaSQL_Dimension(t *testing.T) {
	assert.Contains(t, SchemaSQL(384), "vector(384)")
	assert.Contains(t, SchemaSQL(0), "vector(1024)")
}

func TestSchemaSQL_Tables(t *testing.T) {
	schema := SchemaSQL(DefaultEmbeddingDimension)

	for _, table := range []string{"research_jobs", "research_tasks", "task_evidence", "task_critiques", "knowledge_chunks", "fetched_pages"} {
		assert.Contains(t, schema, "CREATE TABLE IF NOT EXISTS "+table, table)
	}
	assert.Contains(t, schema, "CHECK (attempts <= max_attempts)")
	assert.NotContains(t, schema, "%d")
}

func TestSchemaSQL_ChunksHaveNoJobForeignKey(t *testing.T) {
	schema := SchemaSQL(DefaultEmbeddingDimension)
	start := strings.Index(schema, "CREATE TABLE IF NOT EXISTS knowledge_chunks")
	end := strings.Index(schema[start:], ");")
	assert.NotContains(t, schema[start:start+end], "REFERENCES")
}
