// Package jobs drives a merge job through its lifecycle: files are uploaded
// into blob storage, profiled, given mappings and finally merged into one
// CSV stored next to them.
//
//	pending -> processing -> completed | failed
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"path"
	"strings"
	"time"

	"csvmerge/internal/blob"
	"csvmerge/internal/config"
	"csvmerge/internal/detector"
	"csvmerge/internal/merge"
	"csvmerge/internal/metrics"
	"csvmerge/internal/output"
	"csvmerge/internal/parser"
	"csvmerge/internal/probe"
	"csvmerge/internal/storage"
	"csvmerge/internal/transformer"
	"csvmerge/pkg/records"
)

var (
	// ErrInvalid marks a request the service refuses as malformed.
	ErrInvalid = errors.New("invalid request")

	// ErrConflict marks an operation not allowed in the job's current state.
	ErrConflict = errors.New("job state conflict")

	// ErrNoReadableFiles fails a job none of whose files could be parsed.
	ErrNoReadableFiles = errors.New("no readable files")
)

// Logger is satisfied by *log.Logger.
type Logger interface {
	Printf(format string, v ...any)
}

// Service wires storage, blobs and the merge engine together. Repo and
// Blobs are required; everything else has a default.
type Service struct {
	Repo  storage.Repository
	Blobs blob.Store

	// Engine evaluates transformations. Nil means the builtin handlers.
	Engine *transformer.Engine

	Logger Logger

	// Workers is passed to merge.Merger.
	Workers int

	// Now is the clock used for completion times and output names.
	Now func() time.Time
}

// FileReport is the per-file outcome of Profile.
type FileReport struct {
	File    storage.JobFile    `json:"file"`
	Profile *probe.FileProfile `json:"profile,omitempty"`
	Skipped string             `json:"skipped,omitempty"`
}

// Suggestions are the proposals for one file against the job's schema.
type Suggestions struct {
	SourceColumns   []string              `json:"sourceColumns"`
	TargetColumns   []string              `json:"targetColumns"`
	Mappings        []detector.Suggestion `json:"mappings"`
	Transformations []detector.Detection  `json:"transformations"`
}

func (s *Service) CreateSchema(ctx context.Context, name string, cols []storage.SchemaColumn) (*storage.Schema, error) {
	check := make([]merge.SchemaColumn, len(cols))
	for i, c := range cols {
		check[i] = merge.SchemaColumn{Name: c.Name, Position: c.Position}
	}
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: schema name is required", ErrInvalid)
	}
	if err := merge.CheckSchema(check); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	sc := &storage.Schema{Name: name, Columns: cols}
	if err := s.Repo.CreateSchema(ctx, sc); err != nil {
		return nil, err
	}
	return sc, nil
}

func (s *Service) GetSchema(ctx context.Context, id string) (*storage.Schema, error) {
	return s.Repo.GetSchema(ctx, id)
}

// CreateJob starts a pending job for an existing schema.
func (s *Service) CreateJob(ctx context.Context, schemaID string) (*storage.Job, error) {
	if _, err := s.Repo.GetSchema(ctx, schemaID); err != nil {
		return nil, err
	}
	j := &storage.Job{SchemaID: schemaID}
	if err := s.Repo.CreateJob(ctx, j); err != nil {
		return nil, err
	}
	s.logger().Printf("stage=job_create job=%s schema=%s", j.ID, schemaID)
	return j, nil
}

func (s *Service) GetJob(ctx context.Context, id string) (*storage.Job, error) {
	return s.Repo.GetJob(ctx, id)
}

// ListFiles returns a job's files in upload order.
func (s *Service) ListFiles(ctx context.Context, jobID string) ([]storage.JobFile, error) {
	if _, err := s.Repo.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return s.Repo.ListFiles(ctx, jobID)
}

// Upload stores r as a new file of a pending job. The file kind comes from
// the name's extension; unsupported kinds are accepted and skipped later.
func (s *Service) Upload(ctx context.Context, jobID, name string, r io.Reader) (*storage.JobFile, error) {
	start := time.Now()
	j, err := s.pendingJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	base := path.Base(strings.ReplaceAll(strings.TrimSpace(name), `\`, "/"))
	if base == "" || base == "." || base == "/" {
		return nil, fmt.Errorf("%w: file name is required", ErrInvalid)
	}
	kind := fileKind(base)

	f := &storage.JobFile{ID: storage.NewID(), JobID: j.ID, Name: base, Kind: kind}
	f.BlobKey = path.Join(j.ID, "uploads", f.ID+"-"+base)

	obj, err := s.Blobs.Put(ctx, f.BlobKey, r)
	if err != nil {
		metrics.RecordStep("upload", err, time.Since(start))
		if errors.Is(err, blob.ErrTooLarge) {
			return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
		}
		return nil, err
	}
	f.Size = obj.Size

	if err := s.Repo.AddFile(ctx, f); err != nil {
		_ = s.Blobs.Delete(ctx, f.BlobKey)
		metrics.RecordStep("upload", err, time.Since(start))
		return nil, err
	}
	metrics.RecordStep("upload", nil, time.Since(start))
	s.logger().Printf("stage=upload job=%s file=%s kind=%s size=%d duration=%s", j.ID, base, kind, obj.Size, durMS(start))
	return f, nil
}

// Profile parses every readable file of a job and stores its profile.
// Files that cannot be read are reported as skipped, not as errors.
func (s *Service) Profile(ctx context.Context, jobID string) ([]FileReport, error) {
	start := time.Now()
	files, err := s.ListFiles(ctx, jobID)
	if err != nil {
		return nil, err
	}

	out := make([]FileReport, 0, len(files))
	for _, f := range files {
		rep := FileReport{File: f}
		t, err := s.readFile(ctx, f)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			rep.Skipped = err.Error()
			s.logger().Printf("stage=profile job=%s file=%s status=skipped err=%v", jobID, f.Name, err)
			out = append(out, rep)
			continue
		}
		p := probe.Profile(t)
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encode profile %s: %w", f.Name, err)
		}
		if err := s.Repo.SetFileProfile(ctx, f.ID, raw); err != nil {
			return nil, err
		}
		rep.File.Profile = raw
		rep.Profile = &p
		out = append(out, rep)
	}
	metrics.RecordStep("profile", nil, time.Since(start))
	s.logger().Printf("stage=profile job=%s files=%d duration=%s", jobID, len(files), durMS(start))
	return out, nil
}

// Suggest proposes direct mappings and transformations for one file. The
// stored profile supplies the source header; an unprofiled file is parsed.
func (s *Service) Suggest(ctx context.Context, jobID, fileID string) (*Suggestions, error) {
	j, err := s.Repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	sc, err := s.Repo.GetSchema(ctx, j.SchemaID)
	if err != nil {
		return nil, err
	}
	f, err := s.Repo.GetFile(ctx, jobID, fileID)
	if err != nil {
		return nil, err
	}

	var sources []string
	if len(f.Profile) > 0 {
		var p probe.FileProfile
		if err := json.Unmarshal(f.Profile, &p); err == nil {
			sources = p.ColumnNames()
		}
	}
	if sources == nil {
		t, err := s.readFile(ctx, *f)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		sources = t.Columns
	}

	targets := make([]string, len(sc.Columns))
	for i, c := range sc.Columns {
		targets[i] = c.Name
	}
	return &Suggestions{
		SourceColumns:   sources,
		TargetColumns:   targets,
		Mappings:        detector.SuggestMappings(sources, targets),
		Transformations: detector.Detect(sources, targets),
	}, nil
}

// SaveMappings validates and replaces the mappings of one file.
func (s *Service) SaveMappings(ctx context.Context, jobID, fileID string, ms []storage.Mapping) ([]storage.Mapping, error) {
	if _, err := s.pendingJob(ctx, jobID); err != nil {
		return nil, err
	}
	if _, err := s.Repo.GetFile(ctx, jobID, fileID); err != nil {
		return nil, err
	}
	targets := make(map[string]bool, len(ms))
	for i, m := range ms {
		if targets[m.TargetColumn] {
			return nil, fmt.Errorf("%w: second mapping for %q", ErrInvalid, m.TargetColumn)
		}
		targets[m.TargetColumn] = true
		cm, err := toColumnMapping(m)
		if err != nil {
			return nil, fmt.Errorf("%w: mapping %d: %w", ErrInvalid, i, err)
		}
		if err := merge.CheckMapping(cm); err != nil {
			return nil, fmt.Errorf("mapping %d (%s): %w", i, m.TargetColumn, err)
		}
		if ms[i].MappingType == "" {
			ms[i].MappingType = mappingType(cm)
		}
	}
	if err := s.Repo.SaveMappings(ctx, jobID, fileID, ms); err != nil {
		return nil, err
	}
	return ms, nil
}

// Process merges every readable file of a pending job and stores the
// result as <jobID>/output/<schema>_merged_<date>.csv.
//
// Per-file read failures and unsupported kinds are skipped. The job fails
// if no file is readable or the mappings cannot be applied; the failed job
// is returned together with the error.
func (s *Service) Process(ctx context.Context, jobID string) (*storage.Job, error) {
	start := time.Now()
	j, err := s.pendingJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	sc, err := s.Repo.GetSchema(ctx, j.SchemaID)
	if err != nil {
		return nil, err
	}

	j.Status = storage.StatusProcessing
	if err := s.Repo.UpdateJob(ctx, j); err != nil {
		return nil, err
	}
	s.logger().Printf("stage=process job=%s status=processing", j.ID)

	res, skipped, err := s.mergeJob(ctx, j, sc)
	if err != nil {
		return s.fail(ctx, j, start, skipped, err)
	}

	name := output.FileName(sc.Name, s.now())
	key := path.Join(j.ID, "output", name)
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(output.WriteCSV(pw, res.Table()))
	}()
	if _, err := s.Blobs.Put(ctx, key, pr); err != nil {
		_ = pr.CloseWithError(err)
		return s.fail(ctx, j, start, skipped, fmt.Errorf("store output: %w", err))
	}

	done := s.now()
	j.Status = storage.StatusCompleted
	j.OutputKey = key
	j.CompletedAt = &done
	j.Metadata = storage.JobMetadata{
		RowsProcessed:  res.Summary.Rows,
		FilesProcessed: res.Summary.Files,
		FilesSkipped:   skipped,
		CellsDefaulted: res.Summary.CellsDefaulted,
		Degraded:       res.Summary.Degraded || skipped > 0,
	}
	if err := s.Repo.UpdateJob(ctx, j); err != nil {
		return nil, err
	}

	metrics.RecordJob(string(storage.StatusCompleted))
	metrics.RecordStep("process", nil, time.Since(start))
	s.logger().Printf("stage=process job=%s status=completed rows=%d files=%d skipped=%d defaulted=%d output=%s duration=%s",
		j.ID, res.Summary.Rows, res.Summary.Files, skipped, res.Summary.CellsDefaulted, key, durMS(start))
	return j, nil
}

// mergeJob reads the job's files with their saved mappings and merges them.
func (s *Service) mergeJob(ctx context.Context, j *storage.Job, sc *storage.Schema) (*merge.Result, int, error) {
	files, err := s.Repo.ListFiles(ctx, j.ID)
	if err != nil {
		return nil, 0, err
	}
	saved, err := s.Repo.ListMappings(ctx, j.ID)
	if err != nil {
		return nil, 0, err
	}
	byFile := map[string][]merge.ColumnMapping{}
	for _, m := range saved {
		cm, err := toColumnMapping(m)
		if err != nil {
			return nil, 0, fmt.Errorf("file %s: %w", m.FileID, err)
		}
		byFile[m.FileID] = append(byFile[m.FileID], cm)
	}

	var (
		inputs  []merge.FileRows
		skipped int
	)
	for _, f := range files {
		t, err := s.readFile(ctx, f)
		if err != nil {
			if ctx.Err() != nil {
				return nil, skipped, ctx.Err()
			}
			skipped++
			status := "failed"
			if errors.Is(err, parser.ErrUnsupportedKind) {
				status = "skipped"
			}
			metrics.RecordFile(status)
			s.logger().Printf("stage=process job=%s file=%s status=%s err=%v", j.ID, f.Name, status, err)
			continue
		}
		inputs = append(inputs, merge.FileRows{
			Name:          f.Name,
			SourceColumns: t.Columns,
			Rows:          t.Rows,
			Mappings:      byFile[f.ID],
		})
	}
	if len(inputs) == 0 {
		return nil, skipped, ErrNoReadableFiles
	}

	schema := make([]merge.SchemaColumn, len(sc.Columns))
	for i, c := range sc.Columns {
		schema[i] = merge.SchemaColumn{Name: c.Name, Position: c.Position}
	}
	m := &merge.Merger{Engine: s.Engine, Logger: s.Logger, Workers: s.Workers}
	res, err := m.Merge(ctx, schema, inputs)
	return res, skipped, err
}

func (s *Service) fail(ctx context.Context, j *storage.Job, start time.Time, skipped int, cause error) (*storage.Job, error) {
	done := s.now()
	j.Status = storage.StatusFailed
	j.CompletedAt = &done
	j.Metadata = storage.JobMetadata{FilesSkipped: skipped, Error: cause.Error()}
	// The job row is updated even when ctx was cancelled.
	if err := s.Repo.UpdateJob(context.WithoutCancel(ctx), j); err != nil {
		s.logger().Printf("stage=process job=%s status=error update_err=%v", j.ID, err)
	}
	metrics.RecordJob(string(storage.StatusFailed))
	metrics.RecordStep("process", cause, time.Since(start))
	s.logger().Printf("stage=process job=%s status=failed err=%v duration=%s", j.ID, cause, durMS(start))
	return j, cause
}

// Download opens the merged output of a completed job.
func (s *Service) Download(ctx context.Context, jobID string) (io.ReadCloser, string, error) {
	j, err := s.Repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, "", err
	}
	if j.Status != storage.StatusCompleted || j.OutputKey == "" {
		return nil, "", fmt.Errorf("%w: job %s is %s", ErrConflict, j.ID, j.Status)
	}
	rc, err := s.Blobs.Open(ctx, j.OutputKey)
	if err != nil {
		return nil, "", err
	}
	return rc, path.Base(j.OutputKey), nil
}

func (s *Service) pendingJob(ctx context.Context, jobID string) (*storage.Job, error) {
	j, err := s.Repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.Status != storage.StatusPending {
		return nil, fmt.Errorf("%w: job %s is %s", ErrConflict, j.ID, j.Status)
	}
	return j, nil
}

// readFile opens a stored upload and decodes it with default reader options.
func (s *Service) readFile(ctx context.Context, f storage.JobFile) (records.Table, error) {
	kind, err := parser.ParseKind(f.Kind, f.Name)
	if err != nil {
		return records.Table{}, err
	}
	rc, err := s.Blobs.Open(ctx, f.BlobKey)
	if err != nil {
		return records.Table{}, err
	}
	defer rc.Close()

	bad := 0
	t, err := parser.Read(ctx, kind, rc, config.Options{}, func(line int, err error) {
		bad++
		if bad <= 5 {
			s.logger().Printf("stage=parse file=%s line=%d err=%v", f.Name, line, err)
		}
	})
	if err != nil {
		return records.Table{}, fmt.Errorf("read %s: %w", f.Name, err)
	}
	return t, nil
}

// toColumnMapping decodes a stored mapping into the merge form.
func toColumnMapping(m storage.Mapping) (merge.ColumnMapping, error) {
	cm := merge.ColumnMapping{SourceColumns: m.SourceColumns, TargetColumn: m.TargetColumn}
	if len(m.Transformation) == 0 || string(m.Transformation) == "null" {
		return cm, nil
	}
	var spec transformer.Spec
	if err := json.Unmarshal(m.Transformation, &spec); err != nil {
		return cm, err
	}
	cm.Transformation = &spec
	return cm, nil
}

func mappingType(cm merge.ColumnMapping) string {
	if cm.Transformation != nil {
		return "transformation"
	}
	return detector.MappingExact
}

func fileKind(name string) string {
	if k, err := parser.KindFromName(name); err == nil {
		return string(k)
	}
	return strings.TrimPrefix(strings.ToLower(path.Ext(name)), ".")
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) logger() Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return log.New(io.Discard, "", 0)
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }
