// Package postgres registers the "postgres" storage backend on pgx/v5.
//
// It uses native types where Postgres has them: TIMESTAMPTZ for times,
// TEXT[] for source column lists and JSONB for profiles, metadata and
// transformation configs.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"csvmerge/internal/storage"
)

func init() {
	storage.Register("postgres", New)
}

// Repo implements storage.Repository for Postgres.
type Repo struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var ddl = []string{
	`CREATE TABLE IF NOT EXISTS schemas (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
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
		metadata     JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at   TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS job_files (
		id         TEXT PRIMARY KEY,
		job_id     TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
		name       TEXT NOT NULL,
		kind       TEXT NOT NULL,
		blob_key   TEXT NOT NULL,
		size_bytes BIGINT NOT NULL DEFAULT 0,
		position   INTEGER NOT NULL,
		profile    JSONB,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS column_mappings (
		id             TEXT PRIMARY KEY,
		job_id         TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
		file_id        TEXT NOT NULL REFERENCES job_files(id) ON DELETE CASCADE,
		source_columns TEXT[] NOT NULL,
		target_column  TEXT NOT NULL,
		confidence     DOUBLE PRECISION NOT NULL DEFAULT 0,
		mapping_type   TEXT NOT NULL,
		transformation JSONB,
		UNIQUE (file_id, target_column)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_column_mappings_job ON column_mappings(job_id)`,
}

// New creates a pool from cfg.DSN and creates the tables.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	r := &Repo{pool: pool, now: time.Now}
	if err := r.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return r, nil
}

// Close closes the connection pool.
func (r *Repo) Close() { r.pool.Close() }

func (r *Repo) Migrate(ctx context.Context) error {
	for i, stmt := range ddl {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: migrate statement %d: %w", i+1, err)
		}
	}
	return nil
}

func notFound(err error, what, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %q: %w", what, id, storage.ErrNotFound)
	}
	return err
}

// jsonb maps an empty message to NULL; pgx sends []byte to JSONB verbatim.
func jsonb(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func (r *Repo) CreateSchema(ctx context.Context, s *storage.Schema) error {
	if err := s.Prepare(r.now().UTC()); err != nil {
		return err
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `INSERT INTO schemas (id, name, created_at) VALUES ($1, $2, $3)`,
		s.ID, s.Name, s.CreatedAt); err != nil {
		return fmt.Errorf("postgres: insert schema: %w", err)
	}
	batch := &pgx.Batch{}
	for _, c := range s.Columns {
		batch.Queue(`INSERT INTO schema_columns (schema_id, name, position) VALUES ($1, $2, $3)`, s.ID, c.Name, c.Position)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres: insert schema columns: %w", err)
	}
	return tx.Commit(ctx)
}

func (r *Repo) GetSchema(ctx context.Context, id string) (*storage.Schema, error) {
	var s storage.Schema
	err := r.pool.QueryRow(ctx, `SELECT id, name, created_at FROM schemas WHERE id = $1`, id).
		Scan(&s.ID, &s.Name, &s.CreatedAt)
	if err != nil {
		return nil, notFound(err, "schema", id)
	}

	rows, err := r.pool.Query(ctx, `SELECT name, position FROM schema_columns WHERE schema_id = $1 ORDER BY position, name`, id)
	if err != nil {
		return nil, err
	}
	s.Columns, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (storage.SchemaColumn, error) {
		var c storage.SchemaColumn
		err := row.Scan(&c.Name, &c.Position)
		return c, err
	})
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Repo) CreateJob(ctx context.Context, j *storage.Job) error {
	if err := j.Prepare(r.now().UTC()); err != nil {
		return err
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO jobs (id, schema_id, status, output_key, metadata, created_at, completed_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		j.ID, j.SchemaID, string(j.Status), j.OutputKey, []byte(storage.EncodeMetadata(j.Metadata)), j.CreatedAt, j.CompletedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert job: %w", err)
	}
	return nil
}

func (r *Repo) GetJob(ctx context.Context, id string) (*storage.Job, error) {
	var (
		j      storage.Job
		status string
		meta   []byte
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id, schema_id, status, output_key, metadata, created_at, completed_at FROM jobs WHERE id = $1`, id).
		Scan(&j.ID, &j.SchemaID, &status, &j.OutputKey, &meta, &j.CreatedAt, &j.CompletedAt)
	if err != nil {
		return nil, notFound(err, "job", id)
	}
	j.Status = storage.JobStatus(status)
	if j.Metadata, err = storage.DecodeMetadata(string(meta)); err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *Repo) UpdateJob(ctx context.Context, j *storage.Job) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, output_key = $2, metadata = $3, completed_at = $4 WHERE id = $5`,
		string(j.Status), j.OutputKey, []byte(storage.EncodeMetadata(j.Metadata)), j.CompletedAt, j.ID)
	if err != nil {
		return fmt.Errorf("postgres: update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %q: %w", j.ID, storage.ErrNotFound)
	}
	return nil
}

func (r *Repo) AddFile(ctx context.Context, f *storage.JobFile) error {
	if err := f.Prepare(r.now().UTC()); err != nil {
		return err
	}
	// The position is computed in the INSERT itself; the row lock on the
	// parent job serializes concurrent uploads to one job.
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT 1 FROM jobs WHERE id = $1 FOR UPDATE`, f.JobID); err != nil {
		return err
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO job_files (id, job_id, name, kind, blob_key, size_bytes, position, profile, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, (SELECT COALESCE(MAX(position), 0) + 1 FROM job_files WHERE job_id = $2), $7, $8)
		 RETURNING position`,
		f.ID, f.JobID, f.Name, f.Kind, f.BlobKey, f.Size, jsonb(f.Profile), f.CreatedAt).Scan(&f.Position)
	if err != nil {
		return fmt.Errorf("postgres: insert job file: %w", err)
	}
	return tx.Commit(ctx)
}

const fileColumns = `id, job_id, name, kind, blob_key, size_bytes, position, profile, created_at`

func scanFile(row pgx.Row) (storage.JobFile, error) {
	var (
		f       storage.JobFile
		profile []byte
	)
	if err := row.Scan(&f.ID, &f.JobID, &f.Name, &f.Kind, &f.BlobKey, &f.Size, &f.Position, &profile, &f.CreatedAt); err != nil {
		return f, err
	}
	if len(profile) > 0 {
		f.Profile = json.RawMessage(profile)
	}
	return f, nil
}

func (r *Repo) GetFile(ctx context.Context, jobID, fileID string) (*storage.JobFile, error) {
	f, err := scanFile(r.pool.QueryRow(ctx,
		`SELECT `+fileColumns+` FROM job_files WHERE job_id = $1 AND id = $2`, jobID, fileID))
	if err != nil {
		return nil, notFound(err, "job file", fileID)
	}
	return &f, nil
}

func (r *Repo) ListFiles(ctx context.Context, jobID string) ([]storage.JobFile, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+fileColumns+` FROM job_files WHERE job_id = $1 ORDER BY position`, jobID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (storage.JobFile, error) {
		return scanFile(row)
	})
}

func (r *Repo) SetFileProfile(ctx context.Context, fileID string, profile json.RawMessage) error {
	tag, err := r.pool.Exec(ctx, `UPDATE job_files SET profile = $1 WHERE id = $2`, jsonb(profile), fileID)
	if err != nil {
		return fmt.Errorf("postgres: update file profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job file %q: %w", fileID, storage.ErrNotFound)
	}
	return nil
}

func (r *Repo) SaveMappings(ctx context.Context, jobID, fileID string, ms []storage.Mapping) error {
	if err := storage.PrepareMappings(jobID, fileID, ms); err != nil {
		return err
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM column_mappings WHERE file_id = $1`, fileID); err != nil {
		return fmt.Errorf("postgres: clear mappings: %w", err)
	}
	if len(ms) > 0 {
		q, args := buildInsertMappingsSQL(ms)
		if _, err := tx.Exec(ctx, q, args...); err != nil {
			return fmt.Errorf("postgres: insert mappings: %w", err)
		}
	}
	return tx.Commit(ctx)
}

var mappingColumns = []string{
	"id", "job_id", "file_id", "source_columns", "target_column", "confidence", "mapping_type", "transformation",
}

// buildInsertMappingsSQL builds one multi-row INSERT for ms.
//
// It is pure so placeholder numbering can be tested without a database.
func buildInsertMappingsSQL(ms []storage.Mapping) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO column_mappings (")
	b.WriteString(strings.Join(mappingColumns, ", "))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(ms)*len(mappingColumns))
	p := 1
	for i, m := range ms {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range mappingColumns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", p)
			p++
		}
		b.WriteString(")")

		cols := m.SourceColumns
		if cols == nil {
			cols = []string{}
		}
		args = append(args, m.ID, m.JobID, m.FileID, cols, m.TargetColumn, m.Confidence, m.MappingType, jsonb(m.Transformation))
	}
	return b.String(), args
}

func (r *Repo) ListMappings(ctx context.Context, jobID string) ([]storage.Mapping, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT m.id, m.job_id, m.file_id, m.source_columns, m.target_column, m.confidence, m.mapping_type, m.transformation
		   FROM column_mappings m JOIN job_files f ON f.id = m.file_id
		  WHERE m.job_id = $1
		  ORDER BY f.position, m.target_column`, jobID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (storage.Mapping, error) {
		var (
			m     storage.Mapping
			trans []byte
		)
		if err := row.Scan(&m.ID, &m.JobID, &m.FileID, &m.SourceColumns, &m.TargetColumn, &m.Confidence, &m.MappingType, &trans); err != nil {
			return m, err
		}
		if len(trans) > 0 {
			m.Transformation = json.RawMessage(trans)
		}
		return m, nil
	})
}

var _ storage.Repository = (*Repo)(nil)
