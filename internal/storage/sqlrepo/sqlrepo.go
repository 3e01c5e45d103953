// Package sqlrepo implements storage.Repository on database/sql. The SQLite
// and SQL Server backends share it and differ only in their Dialect.
package sqlrepo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"csvmerge/internal/storage"
)

// Dialect captures what differs between database/sql backends.
type Dialect struct {
	// Name is used in error messages.
	Name string

	// Placeholder returns the bind marker for the n-th (1-based) argument.
	Placeholder func(n int) string

	// DDL holds idempotent CREATE statements, run in order by Migrate.
	DDL []string

	// Time encodes a timestamp argument. Nil means storage.FormatTime.
	Time func(time.Time) any
}

// Repo is a storage.Repository over a *sql.DB.
type Repo struct {
	db  *sql.DB
	d   Dialect
	now func() time.Time
}

// New wraps an open database.
func New(db *sql.DB, d Dialect) *Repo {
	return &Repo{db: db, d: d, now: time.Now}
}

func (r *Repo) Close() { _ = r.db.Close() }

// Rebind rewrites '?' markers into the dialect's placeholders. Query text in
// this package never contains a literal '?'.
func (d Dialect) Rebind(q string) string {
	if d.Placeholder == nil {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 16)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteString(d.Placeholder(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

func (r *Repo) ts(t time.Time) any {
	if r.d.Time != nil {
		return r.d.Time(t)
	}
	return storage.FormatTime(t)
}

func (r *Repo) nullTS(t *time.Time) any {
	if t == nil {
		return nil
	}
	return r.ts(*t)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *Repo) exec(ctx context.Context, e execer, q string, args ...any) (sql.Result, error) {
	return e.ExecContext(ctx, r.d.Rebind(q), args...)
}

func (r *Repo) Migrate(ctx context.Context) error {
	for i, stmt := range r.d.DDL {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: migrate statement %d: %w", r.d.Name, i+1, err)
		}
	}
	return nil
}

// withTx runs fn in a transaction, rolling back on error.
func (r *Repo) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func notFound(err error, what, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %q: %w", what, id, storage.ErrNotFound)
	}
	return err
}

func (r *Repo) CreateSchema(ctx context.Context, s *storage.Schema) error {
	if err := s.Prepare(r.now()); err != nil {
		return err
	}
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := r.exec(ctx, tx,
			`INSERT INTO schemas (id, name, created_at) VALUES (?, ?, ?)`,
			s.ID, s.Name, r.ts(s.CreatedAt)); err != nil {
			return fmt.Errorf("%s: insert schema: %w", r.d.Name, err)
		}
		for _, c := range s.Columns {
			if _, err := r.exec(ctx, tx,
				`INSERT INTO schema_columns (schema_id, name, position) VALUES (?, ?, ?)`,
				s.ID, c.Name, c.Position); err != nil {
				return fmt.Errorf("%s: insert schema column %q: %w", r.d.Name, c.Name, err)
			}
		}
		return nil
	})
}

func (r *Repo) GetSchema(ctx context.Context, id string) (*storage.Schema, error) {
	var (
		s       storage.Schema
		created any
	)
	err := r.db.QueryRowContext(ctx, r.d.Rebind(`SELECT id, name, created_at FROM schemas WHERE id = ?`), id).
		Scan(&s.ID, &s.Name, &created)
	if err != nil {
		return nil, notFound(err, "schema", id)
	}
	if s.CreatedAt, err = storage.ParseTime(created); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx,
		r.d.Rebind(`SELECT name, position FROM schema_columns WHERE schema_id = ? ORDER BY position, name`), id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var c storage.SchemaColumn
		if err := rows.Scan(&c.Name, &c.Position); err != nil {
			return nil, err
		}
		s.Columns = append(s.Columns, c)
	}
	return &s, rows.Err()
}

func (r *Repo) CreateJob(ctx context.Context, j *storage.Job) error {
	if err := j.Prepare(r.now()); err != nil {
		return err
	}
	_, err := r.exec(ctx, r.db,
		`INSERT INTO jobs (id, schema_id, status, output_key, metadata, created_at, completed_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.SchemaID, string(j.Status), j.OutputKey, storage.EncodeMetadata(j.Metadata), r.ts(j.CreatedAt), r.nullTS(j.CompletedAt))
	if err != nil {
		return fmt.Errorf("%s: insert job: %w", r.d.Name, err)
	}
	return nil
}

func (r *Repo) GetJob(ctx context.Context, id string) (*storage.Job, error) {
	var (
		j                  storage.Job
		status, meta       string
		created, completed any
	)
	err := r.db.QueryRowContext(ctx,
		r.d.Rebind(`SELECT id, schema_id, status, output_key, metadata, created_at, completed_at FROM jobs WHERE id = ?`), id).
		Scan(&j.ID, &j.SchemaID, &status, &j.OutputKey, &meta, &created, &completed)
	if err != nil {
		return nil, notFound(err, "job", id)
	}
	j.Status = storage.JobStatus(status)
	if j.Metadata, err = storage.DecodeMetadata(meta); err != nil {
		return nil, err
	}
	if j.CreatedAt, err = storage.ParseTime(created); err != nil {
		return nil, err
	}
	if j.CompletedAt, err = storage.ParseNullTime(completed); err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *Repo) UpdateJob(ctx context.Context, j *storage.Job) error {
	res, err := r.exec(ctx, r.db,
		`UPDATE jobs SET status = ?, output_key = ?, metadata = ?, completed_at = ? WHERE id = ?`,
		string(j.Status), j.OutputKey, storage.EncodeMetadata(j.Metadata), r.nullTS(j.CompletedAt), j.ID)
	if err != nil {
		return fmt.Errorf("%s: update job: %w", r.d.Name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("job %q: %w", j.ID, storage.ErrNotFound)
	}
	return nil
}

func (r *Repo) AddFile(ctx context.Context, f *storage.JobFile) error {
	if err := f.Prepare(r.now()); err != nil {
		return err
	}
	return r.withTx(ctx, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, r.d.Rebind(`SELECT COUNT(*) FROM job_files WHERE job_id = ?`), f.JobID).Scan(&n); err != nil {
			return err
		}
		f.Position = n + 1
		_, err := r.exec(ctx, tx,
			`INSERT INTO job_files (id, job_id, name, kind, blob_key, size_bytes, position, profile, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			f.ID, f.JobID, f.Name, f.Kind, f.BlobKey, f.Size, f.Position, storage.NullableJSON(f.Profile), r.ts(f.CreatedAt))
		if err != nil {
			return fmt.Errorf("%s: insert job file: %w", r.d.Name, err)
		}
		return nil
	})
}

const fileColumns = `id, job_id, name, kind, blob_key, size_bytes, position, profile, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanFile(s scanner) (storage.JobFile, error) {
	var (
		f       storage.JobFile
		profile sql.NullString
		created any
	)
	if err := s.Scan(&f.ID, &f.JobID, &f.Name, &f.Kind, &f.BlobKey, &f.Size, &f.Position, &profile, &created); err != nil {
		return f, err
	}
	if profile.Valid && profile.String != "" {
		f.Profile = json.RawMessage(profile.String)
	}
	var err error
	f.CreatedAt, err = storage.ParseTime(created)
	return f, err
}

func (r *Repo) GetFile(ctx context.Context, jobID, fileID string) (*storage.JobFile, error) {
	row := r.db.QueryRowContext(ctx,
		r.d.Rebind(`SELECT `+fileColumns+` FROM job_files WHERE job_id = ? AND id = ?`), jobID, fileID)
	f, err := scanFile(row)
	if err != nil {
		return nil, notFound(err, "job file", fileID)
	}
	return &f, nil
}

func (r *Repo) ListFiles(ctx context.Context, jobID string) ([]storage.JobFile, error) {
	rows, err := r.db.QueryContext(ctx,
		r.d.Rebind(`SELECT `+fileColumns+` FROM job_files WHERE job_id = ? ORDER BY position`), jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.JobFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *Repo) SetFileProfile(ctx context.Context, fileID string, profile json.RawMessage) error {
	res, err := r.exec(ctx, r.db, `UPDATE job_files SET profile = ? WHERE id = ?`, storage.NullableJSON(profile), fileID)
	if err != nil {
		return fmt.Errorf("%s: update file profile: %w", r.d.Name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("job file %q: %w", fileID, storage.ErrNotFound)
	}
	return nil
}

func (r *Repo) SaveMappings(ctx context.Context, jobID, fileID string, ms []storage.Mapping) error {
	if err := storage.PrepareMappings(jobID, fileID, ms); err != nil {
		return err
	}
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := r.exec(ctx, tx, `DELETE FROM column_mappings WHERE file_id = ?`, fileID); err != nil {
			return fmt.Errorf("%s: clear mappings: %w", r.d.Name, err)
		}
		for _, m := range ms {
			_, err := r.exec(ctx, tx,
				`INSERT INTO column_mappings (id, job_id, file_id, source_columns, target_column, confidence, mapping_type, transformation) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				m.ID, m.JobID, m.FileID, storage.EncodeColumns(m.SourceColumns), m.TargetColumn, m.Confidence, m.MappingType, storage.NullableJSON(m.Transformation))
			if err != nil {
				return fmt.Errorf("%s: insert mapping for %q: %w", r.d.Name, m.TargetColumn, err)
			}
		}
		return nil
	})
}

func (r *Repo) ListMappings(ctx context.Context, jobID string) ([]storage.Mapping, error) {
	rows, err := r.db.QueryContext(ctx, r.d.Rebind(
		`SELECT m.id, m.job_id, m.file_id, m.source_columns, m.target_column, m.confidence, m.mapping_type, m.transformation
		   FROM column_mappings m JOIN job_files f ON f.id = m.file_id
		  WHERE m.job_id = ?
		  ORDER BY f.position, m.target_column`), jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.Mapping
	for rows.Next() {
		var (
			m     storage.Mapping
			cols  string
			trans sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.JobID, &m.FileID, &cols, &m.TargetColumn, &m.Confidence, &m.MappingType, &trans); err != nil {
			return nil, err
		}
		if m.SourceColumns, err = storage.DecodeColumns(cols); err != nil {
			return nil, err
		}
		if trans.Valid && trans.String != "" {
			m.Transformation = json.RawMessage(trans.String)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

var _ storage.Repository = (*Repo)(nil)
