// Package store persists the embedding cache and the lineage run log in
// SQLite, with cached vectors held in a sqlite-vec table.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

var (
	// ErrClosed is returned when operating on a closed store.
	ErrClosed = errors.New("store: closed")

	// ErrRunNotFound is returned when a run id does not exist.
	ErrRunNotFound = errors.New("store: run not found")
)

// Run represents a row in the lineage_runs table.
type Run struct {
	ID               int64           `json:"id"`
	RunID            string          `json:"run_id"`
	SessionID        string          `json:"session_id"`
	Dataset          string          `json:"dataset"`
	Variable         string          `json:"variable"`
	Kind             string          `json:"kind"`
	DisplayMode      string          `json:"display_mode,omitempty"`
	ARSFallback      bool            `json:"ars_fallback,omitempty"`
	TargetID         string          `json:"target_id"`
	ModelUsed        string          `json:"model_used"`
	PromptTokens     int             `json:"prompt_tokens"`
	CompletionTokens int             `json:"completion_tokens"`
	TotalTokens      int             `json:"total_tokens"`
	NodeCount        int             `json:"node_count"`
	EdgeCount        int             `json:"edge_count"`
	GapCount         int             `json:"gap_count"`
	Degraded         bool            `json:"degraded"`
	ElapsedMs        int64           `json:"elapsed_ms"`
	Error            string          `json:"error,omitempty"`
	Graph            json.RawMessage `json:"graph,omitempty"`
	CreatedAt        string          `json:"created_at"`
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	SessionID string
	Limit     int
}

// Store wraps the SQLite database for all golineage persistence.
type Store struct {
	db           *sql.DB
	embeddingDim int
	closed       atomic.Bool
}

// New opens (or creates) a SQLite database at the given path and
// initialises the schema including the sqlite-vec virtual table.
func New(dbPath string, embeddingDim int) (*Store, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Create schema
	if _, err := db.Exec(schemaSQL(embeddingDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	// Connection pool settings for SQLite.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, embeddingDim: embeddingDim}

	// Run pending migrations.
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// EmbeddingDim returns the configured embedding dimension.
func (s *Store) EmbeddingDim() int {
	return s.embeddingDim
}

func (s *Store) check() error {
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

// --- Embedding cache ---

// GetEmbeddings returns the cached vectors for the given text hashes under
// model. Hashes without a cached vector are absent from the result.
func (s *Store) GetEmbeddings(ctx context.Context, model string, hashes []string) (map[string][]float32, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	out := make(map[string][]float32, len(hashes))
	// SQLite caps host parameters; query in slices.
	const page = 500
	for start := 0; start < len(hashes); start += page {
		part := hashes[start:min(start+page, len(hashes))]
		args := make([]any, 0, len(part)+1)
		args = append(args, model)
		for _, h := range part {
			args = append(args, h)
		}
		rows, err := s.db.QueryContext(ctx, `
			SELECT e.text_hash, v.embedding
			FROM embeddings e
			JOIN vec_embeddings v ON v.embedding_id = e.id
			WHERE e.model = ? AND e.text_hash IN (?`+repeatPlaceholders(len(part)-1)+`)
		`, args...)
		if err != nil {
			return nil, fmt.Errorf("reading embeddings: %w", err)
		}
		for rows.Next() {
			var hash string
			var blob []byte
			if err := rows.Scan(&hash, &blob); err != nil {
				rows.Close()
				return nil, err
			}
			out[hash] = deserializeFloat32(blob)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// PutEmbeddings caches vectors under model. Vectors whose length differs from
// the store dimension are skipped.
func (s *Store) PutEmbeddings(ctx context.Context, model string, vecs map[string][]float32) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		skipped := 0
		for hash, vec := range vecs {
			if len(vec) != s.embeddingDim {
				skipped++
				continue
			}
			var id int64
			err := tx.QueryRowContext(ctx, `
				INSERT INTO embeddings (model, text_hash) VALUES (?, ?)
				ON CONFLICT(model, text_hash) DO UPDATE SET created_at = CURRENT_TIMESTAMP
				RETURNING id
			`, model, hash).Scan(&id)
			if err != nil {
				return fmt.Errorf("upserting embedding: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				"DELETE FROM vec_embeddings WHERE embedding_id = ?", id); err != nil {
				return fmt.Errorf("replacing vector: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO vec_embeddings (embedding_id, embedding) VALUES (?, ?)",
				id, serializeFloat32(vec)); err != nil {
				return fmt.Errorf("inserting vector: %w", err)
			}
		}
		if skipped > 0 {
			slog.Debug("store: skipped embeddings with mismatched dimension",
				"model", model, "skipped", skipped, "dim", s.embeddingDim)
		}
		return nil
	})
}

// --- Run log ---

// LogRun writes an entry to the lineage run log.
func (s *Store) LogRun(ctx context.Context, r Run) error {
	if err := s.check(); err != nil {
		return err
	}
	var graph any
	if len(r.Graph) > 0 {
		graph = string(r.Graph)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lineage_runs (run_id, session_id, dataset, variable, kind, display_mode, ars_fallback,
			target_id, model_used, prompt_tokens, completion_tokens, total_tokens,
			node_count, edge_count, gap_count, degraded, elapsed_ms, error, graph)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.RunID, r.SessionID, r.Dataset, r.Variable, r.Kind, r.DisplayMode, r.ARSFallback, r.TargetID,
		r.ModelUsed, r.PromptTokens, r.CompletionTokens, r.TotalTokens,
		r.NodeCount, r.EdgeCount, r.GapCount, r.Degraded, r.ElapsedMs, r.Error, graph)
	if err != nil {
		return fmt.Errorf("logging run: %w", err)
	}
	return nil
}

const runColumns = `id, run_id, session_id, COALESCE(dataset, ''), COALESCE(variable, ''), kind,
	COALESCE(display_mode, ''), ars_fallback, COALESCE(target_id, ''), COALESCE(model_used, ''),
	prompt_tokens, completion_tokens, total_tokens, node_count, edge_count, gap_count,
	degraded, elapsed_ms, COALESCE(error, ''), created_at`

// ListRuns returns runs newest first, without their graphs.
func (s *Store) ListRuns(ctx context.Context, f RunFilter) ([]Run, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := "SELECT " + runColumns + " FROM lineage_runs"
	args := []any{}
	if f.SessionID != "" {
		query += " WHERE session_id = ?"
		args = append(args, f.SessionID)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun returns one run including its graph.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		"SELECT "+runColumns+", graph FROM lineage_runs WHERE run_id = ?", runID)
	var graph sql.NullString
	r, err := scanRun(row, &graph)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, err
	}
	if graph.Valid {
		r.Graph = json.RawMessage(graph.String)
	}
	return &r, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner, extra ...any) (Run, error) {
	var r Run
	dest := []any{&r.ID, &r.RunID, &r.SessionID, &r.Dataset, &r.Variable, &r.Kind,
		&r.DisplayMode, &r.ARSFallback, &r.TargetID, &r.ModelUsed,
		&r.PromptTokens, &r.CompletionTokens, &r.TotalTokens, &r.NodeCount, &r.EdgeCount, &r.GapCount,
		&r.Degraded, &r.ElapsedMs, &r.Error, &r.CreatedAt}
	err := sc.Scan(append(dest, extra...)...)
	return r, err
}

// DBStats holds counts of key database objects.
type DBStats struct {
	Embeddings int `json:"embeddings"`
	Vectors    int `json:"vectors"`
	Runs       int `json:"runs"`
}

// DBStats returns counts of cached embeddings, stored vectors, and runs.
func (s *Store) DBStats(ctx context.Context) (*DBStats, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	stats := &DBStats{}
	queries := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM embeddings", &stats.Embeddings},
		{"SELECT COUNT(*) FROM vec_embeddings", &stats.Vectors},
		{"SELECT COUNT(*) FROM lineage_runs", &stats.Runs},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("counting %s: %w", q.query, err)
		}
	}
	return stats, nil
}

// --- helpers ---

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func repeatPlaceholders(n int) string {
	s := ""
	for i := 0; i < n; i++ {
		s += ", ?"
	}
	return s
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func deserializeFloat32(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
