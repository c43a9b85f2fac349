package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

// migration is one versioned schema step applied after schemaSQL.
type migration struct {
	version     int
	description string
	stmts       []string
}

// Append only. Version 1 is the base schema.
var migrations = []migration{
	{version: 1, description: "base schema"},
	{
		version:     2,
		description: "error detail on lineage_runs",
		stmts:       []string{"ALTER TABLE lineage_runs ADD COLUMN error TEXT"},
	},
	{
		version:     3,
		description: "run listing by session, newest first",
		stmts: []string{
			"CREATE INDEX IF NOT EXISTS idx_runs_session_id ON lineage_runs(session_id, id DESC)",
		},
	},
	{
		version:     4,
		description: "record analysis-results fallback on lineage_runs",
		stmts:       []string{"ALTER TABLE lineage_runs ADD COLUMN ars_fallback INTEGER NOT NULL DEFAULT 0"},
	},
}

const versionTableSQL = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    description TEXT,
    applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
)`

// Migrate applies every migration newer than the recorded schema version.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, versionTableSQL); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	var current int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		slog.Info("store: applying migration", "version", m.version, "description", m.description)
		if err := s.inTx(ctx, func(tx *sql.Tx) error { return m.apply(ctx, tx) }); err != nil {
			return fmt.Errorf("migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (m migration) apply(ctx context.Context, tx *sql.Tx) error {
	for _, stmt := range m.stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			// Databases created from a newer schemaSQL already carry the column.
			if strings.Contains(err.Error(), "duplicate column") {
				slog.Debug("store: migration step already applied", "version", m.version, "sql", stmt)
				continue
			}
			return err
		}
	}
	_, err := tx.ExecContext(ctx,
		"INSERT INTO schema_version (version, description) VALUES (?, ?)",
		m.version, m.description)
	return err
}
