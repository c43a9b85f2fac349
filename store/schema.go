package store

import "fmt"

// schemaSQL returns the DDL for all tables. embeddingDim controls the
// vec0 virtual table dimension.
func schemaSQL(embeddingDim int) string {
	return fmt.Sprintf(`
-- Embedding cache registry keyed by model and chunk text hash
CREATE TABLE IF NOT EXISTS embeddings (
    id INTEGER PRIMARY KEY,
    model TEXT NOT NULL,
    text_hash TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(model, text_hash)
);

-- Cached vectors via sqlite-vec
CREATE VIRTUAL TABLE IF NOT EXISTS vec_embeddings USING vec0(
    embedding_id INTEGER PRIMARY KEY,
    embedding float[%d]
);

-- Lineage run log
CREATE TABLE IF NOT EXISTS lineage_runs (
    id INTEGER PRIMARY KEY,
    run_id TEXT NOT NULL UNIQUE,
    session_id TEXT NOT NULL,
    dataset TEXT,
    variable TEXT,
    kind TEXT NOT NULL,
    display_mode TEXT,
    target_id TEXT,
    model_used TEXT,
    prompt_tokens INTEGER DEFAULT 0,
    completion_tokens INTEGER DEFAULT 0,
    total_tokens INTEGER DEFAULT 0,
    node_count INTEGER DEFAULT 0,
    edge_count INTEGER DEFAULT 0,
    gap_count INTEGER DEFAULT 0,
    degraded INTEGER DEFAULT 0,
    elapsed_ms INTEGER DEFAULT 0,
    graph JSON,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Indexes
CREATE INDEX IF NOT EXISTS idx_runs_session ON lineage_runs(session_id);
CREATE INDEX IF NOT EXISTS idx_runs_created ON lineage_runs(created_at);
`, embeddingDim)
}
