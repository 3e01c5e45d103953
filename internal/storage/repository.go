// Package storage persists schemas, merge jobs, uploaded job files and the
// column mappings chosen for them. Backends register themselves by kind and
// are selected at runtime with New.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("storage: not found")

// Config is the minimal configuration needed to create a Repository.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// JobStatus is the lifecycle state of a merge job.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Schema is a named target layout.
type Schema struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Columns   []SchemaColumn `json:"columns"`
	CreatedAt time.Time      `json:"created_at"`
}

// SchemaColumn is one target column. Columns are returned ordered by Position.
type SchemaColumn struct {
	Name     string `json:"name"`
	Position int    `json:"position"`
}

// JobMetadata is the summary recorded when a job finishes.
type JobMetadata struct {
	RowsProcessed  int    `json:"rows_processed"`
	FilesProcessed int    `json:"files_processed"`
	FilesSkipped   int    `json:"files_skipped"`
	CellsDefaulted int    `json:"cells_defaulted"`
	Degraded       bool   `json:"degraded"`
	Error          string `json:"error,omitempty"`
}

// Job is one merge run over a set of uploaded files.
type Job struct {
	ID          string      `json:"id"`
	SchemaID    string      `json:"schema_id"`
	Status      JobStatus   `json:"status"`
	OutputKey   string      `json:"output_key,omitempty"`
	Metadata    JobMetadata `json:"metadata"`
	CreatedAt   time.Time   `json:"created_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// JobFile is an uploaded source file. Position is assigned by AddFile and
// fixes the order files are merged in. Profile holds the JSON column profile
// once the job has been profiled.
type JobFile struct {
	ID        string          `json:"id"`
	JobID     string          `json:"job_id"`
	Name      string          `json:"name"`
	Kind      string          `json:"kind"`
	BlobKey   string          `json:"blob_key"`
	Size      int64           `json:"size"`
	Position  int             `json:"position"`
	Profile   json.RawMessage `json:"profile,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Mapping binds source columns of one file to a target column.
// Transformation is the JSON transformation envelope, empty for direct mappings.
type Mapping struct {
	ID             string          `json:"id"`
	JobID          string          `json:"job_id"`
	FileID         string          `json:"file_id"`
	SourceColumns  []string        `json:"source_columns"`
	TargetColumn   string          `json:"target_column"`
	Confidence     float64         `json:"confidence"`
	MappingType    string          `json:"mapping_type"`
	Transformation json.RawMessage `json:"transformation,omitempty"`
}

// Repository is the backend-agnostic persistence API used by the jobs service.
type Repository interface {
	// Close releases backend resources. Call once.
	Close()

	// Migrate creates the tables if they do not exist. It is idempotent.
	Migrate(ctx context.Context) error

	CreateSchema(ctx context.Context, s *Schema) error
	GetSchema(ctx context.Context, id string) (*Schema, error)

	CreateJob(ctx context.Context, j *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	// UpdateJob stores status, output key, metadata and completion time.
	UpdateJob(ctx context.Context, j *Job) error

	AddFile(ctx context.Context, f *JobFile) error
	GetFile(ctx context.Context, jobID, fileID string) (*JobFile, error)
	// ListFiles returns a job's files in upload order.
	ListFiles(ctx context.Context, jobID string) ([]JobFile, error)
	SetFileProfile(ctx context.Context, fileID string, profile json.RawMessage) error

	// SaveMappings replaces every mapping of one file in a single transaction.
	SaveMappings(ctx context.Context, jobID, fileID string, ms []Mapping) error
	// ListMappings returns a job's mappings grouped by file.
	ListMappings(ctx context.Context, jobID string) ([]Mapping, error)
}

type factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register makes a backend available under kind. Backends call it from init.
//
// Panics if kind is empty, f is nil or kind is already registered.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// New constructs a Repository using the backend registered for cfg.Kind.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing storage kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("storage: unsupported kind %q (registered: %v)", cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}

// Kinds lists the registered backend kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// NewID returns a fresh record identifier.
func NewID() string { return uuid.NewString() }

// Prepare fills IDs and timestamps that a caller left empty and checks the
// fields every backend requires. Backends call it before inserting.
func (s *Schema) Prepare(now time.Time) error {
	if s.Name == "" {
		return fmt.Errorf("storage: schema name is required")
	}
	if len(s.Columns) == 0 {
		return fmt.Errorf("storage: schema %q has no columns", s.Name)
	}
	if s.ID == "" {
		s.ID = NewID()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	SortColumns(s.Columns)
	return nil
}

// Prepare fills a job's ID, status and creation time.
func (j *Job) Prepare(now time.Time) error {
	if j.SchemaID == "" {
		return fmt.Errorf("storage: job schema id is required")
	}
	if j.ID == "" {
		j.ID = NewID()
	}
	if j.Status == "" {
		j.Status = StatusPending
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	return nil
}

// Prepare fills a file's ID and creation time.
func (f *JobFile) Prepare(now time.Time) error {
	if f.JobID == "" || f.Name == "" {
		return fmt.Errorf("storage: job file needs job id and name")
	}
	if f.ID == "" {
		f.ID = NewID()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	return nil
}

// PrepareMappings assigns IDs and owner keys to ms and rejects a second
// mapping for the same target column.
func PrepareMappings(jobID, fileID string, ms []Mapping) error {
	seen := make(map[string]bool, len(ms))
	for i := range ms {
		m := &ms[i]
		if m.TargetColumn == "" {
			return fmt.Errorf("storage: mapping %d has no target column", i)
		}
		if seen[m.TargetColumn] {
			return fmt.Errorf("storage: duplicate mapping for target column %q", m.TargetColumn)
		}
		seen[m.TargetColumn] = true
		if m.ID == "" {
			m.ID = NewID()
		}
		m.JobID = jobID
		m.FileID = fileID
	}
	return nil
}

// SortColumns orders columns by position, keeping input order for ties.
func SortColumns(cols []SchemaColumn) {
	sort.SliceStable(cols, func(a, b int) bool { return cols[a].Position < cols[b].Position })
}
