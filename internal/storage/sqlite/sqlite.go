// Package sqlite registers the "sqlite" storage backend (modernc.org/sqlite,
// no cgo). Timestamps are stored as RFC3339Nano text.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"csvmerge/internal/storage"
	"csvmerge/internal/storage/sqlrepo"
)

func init() {
	storage.Register("sqlite", New)
}

var pragmas = []string{
	"PRAGMA foreign_keys = ON",
	"PRAGMA busy_timeout = 10000",
	"PRAGMA journal_mode = WAL",
}

// Dialect is the SQLite flavor of the shared database/sql repository.
var Dialect = sqlrepo.Dialect{
	Name:        "sqlite",
	Placeholder: func(int) string { return "?" },
	DDL: []string{
		`CREATE TABLE IF NOT EXISTS schemas (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS schema_columns (
			schema_id TEXT NOT NULL REFERENCES schemas(id) ON DELETE CASCADE,
			name      TEXT NOT NULL,
			position  INTEGER NOT NULL,
			PRIMARY KEY (schema_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS jobs (
			id           TEXT PRIMARY KEY,
			schema_id    TEXT NOT NULL REFERENCES schemas(id),
			status       TEXT NOT NULL,
			output_key   TEXT NOT NULL DEFAULT '',
			metadata     TEXT NOT NULL DEFAULT '{}',
			created_at   TEXT NOT NULL,
			completed_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS job_files (
			id         TEXT PRIMARY KEY,
			job_id     TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
			name       TEXT NOT NULL,
			kind       TEXT NOT NULL,
			blob_key   TEXT NOT NULL,
			size_bytes INTEGER NOT NULL DEFAULT 0,
			position   INTEGER NOT NULL,
			profile    TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS column_mappings (
			id             TEXT PRIMARY KEY,
			job_id         TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
			file_id        TEXT NOT NULL REFERENCES job_files(id) ON DELETE CASCADE,
			source_columns TEXT NOT NULL,
			target_column  TEXT NOT NULL,
			confidence     REAL NOT NULL DEFAULT 0,
			mapping_type   TEXT NOT NULL,
			transformation TEXT,
			UNIQUE (file_id, target_column)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_column_mappings_job ON column_mappings(job_id)`,
	},
}

// New opens the database at cfg.DSN (a path or "file:" URI), applies
// pragmas and creates the tables.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	// One connection keeps per-connection pragmas in force and serializes writers.
	db.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}

	r := sqlrepo.New(db, Dialect)
	if err := r.Migrate(ctx); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}
