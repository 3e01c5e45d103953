package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"csvmerge/internal/blob"
	"csvmerge/internal/merge"
	"csvmerge/internal/storage"
	_ "csvmerge/internal/storage/sqlite"
	"csvmerge/internal/transformer"
	"csvmerge/internal/transformer/builtin"
)

var fixedNow = time.Date(2026, 3, 4, 15, 30, 0, 0, time.UTC)

func newService(t *testing.T, maxBytes int64) *Service {
	t.Helper()
	ctx := context.Background()
	repo, err := storage.New(ctx, storage.Config{Kind: "sqlite", DSN: filepath.Join(t.TempDir(), "jobs.db")})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	t.Cleanup(repo.Close)
	blobs, err := blob.NewFS(t.TempDir(), maxBytes)
	if err != nil {
		t.Fatalf("blob.NewFS: %v", err)
	}
	return &Service{Repo: repo, Blobs: blobs, Now: func() time.Time { return fixedNow }}
}

func peopleJob(t *testing.T, s *Service) *storage.Job {
	t.Helper()
	ctx := context.Background()
	sc, err := s.CreateSchema(ctx, "people", []storage.SchemaColumn{
		{Name: "Email", Position: 3},
		{Name: "First Name", Position: 1},
		{Name: "Last Name", Position: 2},
	})
	if err != nil {
		t.Fatalf("CreateSchema: %v", err)
	}
	j, err := s.CreateJob(ctx, sc.ID)
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if j.Status != storage.StatusPending {
		t.Fatalf("new job status=%s", j.Status)
	}
	return j
}

func upload(t *testing.T, s *Service, jobID, name, body string) *storage.JobFile {
	t.Helper()
	f, err := s.Upload(context.Background(), jobID, name, strings.NewReader(body))
	if err != nil {
		t.Fatalf("Upload(%s): %v", name, err)
	}
	return f
}

func splitName(t *testing.T) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(transformer.NewSpec(builtin.SplitFullName("First Name", "Last Name")))
	if err != nil {
		t.Fatalf("marshal spec: %v", err)
	}
	return raw
}

func TestService_EndToEnd(t *testing.T) {
	ctx := context.Background()
	s := newService(t, 0)
	j := peopleJob(t, s)

	csvFile := upload(t, s, j.ID, "people.csv", "Full Name,email\nJohn Doe,john@example.com\nJane Roe,jane@example.com\n")
	jsonFile := upload(t, s, j.ID, "../nested/more.json", `[{"first":"Ann","last":"Lee","mail":"ann@example.com"}]`)
	upload(t, s, j.ID, "legacy.xlsx", "PK\x03\x04 not really a workbook")

	if jsonFile.Name != "more.json" || jsonFile.Kind != "json" || jsonFile.Position != 2 {
		t.Fatalf("json upload=%+v", jsonFile)
	}
	if !strings.HasPrefix(csvFile.BlobKey, j.ID+"/uploads/") || csvFile.Size == 0 {
		t.Fatalf("csv upload=%+v", csvFile)
	}

	reports, err := s.Profile(ctx, j.ID)
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if len(reports) != 3 {
		t.Fatalf("reports=%d, want 3", len(reports))
	}
	if reports[0].Profile == nil || reports[0].Profile.RowCount != 2 {
		t.Fatalf("csv report=%+v", reports[0])
	}
	if reports[2].Profile != nil || reports[2].Skipped == "" {
		t.Fatalf("xlsx should be skipped, got %+v", reports[2])
	}

	sug, err := s.Suggest(ctx, j.ID, jsonFile.ID)
	if err != nil {
		t.Fatalf("Suggest: %v", err)
	}
	if strings.Join(sug.SourceColumns, ",") != "first,last,mail" {
		t.Fatalf("source columns=%v", sug.SourceColumns)
	}
	if strings.Join(sug.TargetColumns, ",") != "First Name,Last Name,Email" {
		t.Fatalf("target columns=%v", sug.TargetColumns)
	}

	split := splitName(t)
	saved, err := s.SaveMappings(ctx, j.ID, csvFile.ID, []storage.Mapping{
		{SourceColumns: []string{"Full Name"}, TargetColumn: "First Name", Transformation: split},
		{SourceColumns: []string{"Full Name"}, TargetColumn: "Last Name", Transformation: split},
		{SourceColumns: []string{"email"}, TargetColumn: "Email", Confidence: 1},
	})
	if err != nil {
		t.Fatalf("SaveMappings(csv): %v", err)
	}
	if saved[0].MappingType != "transformation" || saved[2].MappingType != "exact" {
		t.Fatalf("mapping types=%q,%q", saved[0].MappingType, saved[2].MappingType)
	}
	if _, err := s.SaveMappings(ctx, j.ID, jsonFile.ID, []storage.Mapping{
		{SourceColumns: []string{"first"}, TargetColumn: "First Name"},
		{SourceColumns: []string{"last"}, TargetColumn: "Last Name"},
		{SourceColumns: []string{"mail"}, TargetColumn: "Email", MappingType: "fuzzy", Confidence: 0.6},
	}); err != nil {
		t.Fatalf("SaveMappings(json): %v", err)
	}

	if _, _, err := s.Download(ctx, j.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("Download before process err=%v, want ErrConflict", err)
	}

	done, err := s.Process(ctx, j.ID)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if done.Status != storage.StatusCompleted || done.CompletedAt == nil || !done.CompletedAt.Equal(fixedNow) {
		t.Fatalf("job=%+v", done)
	}
	want := storage.JobMetadata{RowsProcessed: 3, FilesProcessed: 2, FilesSkipped: 1, Degraded: true}
	if done.Metadata != want {
		t.Fatalf("metadata=%+v, want %+v", done.Metadata, want)
	}

	stored, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if stored.Status != storage.StatusCompleted || stored.Metadata != want {
		t.Fatalf("stored job=%+v", stored)
	}

	rc, name, err := s.Download(ctx, j.ID)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	defer rc.Close()
	if name != "people_merged_2026-03-04.csv" {
		t.Fatalf("name=%q", name)
	}
	body, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	wantCSV := "First Name,Last Name,Email\n" +
		"John,Doe,john@example.com\n" +
		"Jane,Roe,jane@example.com\n" +
		"Ann,Lee,ann@example.com\n"
	if string(body) != wantCSV {
		t.Fatalf("output=\n%s\nwant=\n%s", body, wantCSV)
	}

	// A completed job accepts no more changes.
	if _, err := s.Upload(ctx, j.ID, "late.csv", strings.NewReader("a\n1\n")); !errors.Is(err, ErrConflict) {
		t.Fatalf("Upload after completion err=%v, want ErrConflict", err)
	}
	if _, err := s.Process(ctx, j.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("second Process err=%v, want ErrConflict", err)
	}
	if _, err := s.SaveMappings(ctx, j.ID, csvFile.ID, nil); !errors.Is(err, ErrConflict) {
		t.Fatalf("SaveMappings after completion err=%v, want ErrConflict", err)
	}
}

func TestService_ProcessFailsWithoutReadableFiles(t *testing.T) {
	ctx := context.Background()
	s := newService(t, 0)
	j := peopleJob(t, s)
	upload(t, s, j.ID, "legacy.xlsx", "binary")

	failed, err := s.Process(ctx, j.ID)
	if !errors.Is(err, ErrNoReadableFiles) {
		t.Fatalf("Process err=%v, want ErrNoReadableFiles", err)
	}
	if failed == nil || failed.Status != storage.StatusFailed {
		t.Fatalf("returned job=%+v", failed)
	}

	stored, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if stored.Status != storage.StatusFailed || stored.Metadata.FilesSkipped != 1 || stored.Metadata.Error == "" {
		t.Fatalf("stored job=%+v", stored)
	}
	if _, _, err := s.Download(ctx, j.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("Download of failed job err=%v, want ErrConflict", err)
	}
}

func TestService_ProcessWithoutFiles(t *testing.T) {
	s := newService(t, 0)
	j := peopleJob(t, s)
	if _, err := s.Process(context.Background(), j.ID); !errors.Is(err, ErrNoReadableFiles) {
		t.Fatalf("Process err=%v, want ErrNoReadableFiles", err)
	}
}

func TestService_SaveMappingsRejects(t *testing.T) {
	ctx := context.Background()
	s := newService(t, 0)
	j := peopleJob(t, s)
	f := upload(t, s, j.ID, "a.csv", "name,mail\nA,a@x\n")

	cases := []struct {
		name string
		ms   []storage.Mapping
		want error
	}{
		{
			name: "duplicate target",
			ms: []storage.Mapping{
				{SourceColumns: []string{"mail"}, TargetColumn: "Email"},
				{SourceColumns: []string{"name"}, TargetColumn: "Email"},
			},
			want: ErrInvalid,
		},
		{
			name: "direct mapping with two sources",
			ms:   []storage.Mapping{{SourceColumns: []string{"name", "mail"}, TargetColumn: "Email"}},
			want: merge.ErrInvalidMapping,
		},
		{
			name: "unknown transformation type",
			ms: []storage.Mapping{{SourceColumns: []string{"name"}, TargetColumn: "First Name",
				Transformation: json.RawMessage(`{"type":"translate","config":{}}`)}},
			want: transformer.ErrUnsupported,
		},
		{
			name: "split without part for target",
			ms: []storage.Mapping{{SourceColumns: []string{"name"}, TargetColumn: "Email",
				Transformation: splitName(t)}},
			want: merge.ErrInvalidMapping,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.SaveMappings(ctx, j.ID, f.ID, tc.ms)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err=%v, want %v", err, tc.want)
			}
		})
	}

	ms, err := s.Repo.ListMappings(ctx, j.ID)
	if err != nil {
		t.Fatalf("ListMappings: %v", err)
	}
	if len(ms) != 0 {
		t.Fatalf("rejected saves stored %d mappings", len(ms))
	}

	if _, err := s.SaveMappings(ctx, j.ID, "missing", nil); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("unknown file err=%v, want ErrNotFound", err)
	}
}

func TestService_CreateRejects(t *testing.T) {
	ctx := context.Background()
	s := newService(t, 0)

	if _, err := s.CreateSchema(ctx, "", []storage.SchemaColumn{{Name: "a", Position: 1}}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("empty name err=%v", err)
	}
	_, err := s.CreateSchema(ctx, "dup", []storage.SchemaColumn{{Name: "a", Position: 1}, {Name: "a", Position: 2}})
	if !errors.Is(err, ErrInvalid) || !errors.Is(err, merge.ErrInvalidSchema) {
		t.Fatalf("duplicate column err=%v", err)
	}
	if _, err := s.CreateJob(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("CreateJob(missing) err=%v, want ErrNotFound", err)
	}
	if _, err := s.Upload(ctx, "missing", "a.csv", strings.NewReader("a\n")); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Upload(missing job) err=%v, want ErrNotFound", err)
	}
}

func TestService_UploadLimits(t *testing.T) {
	ctx := context.Background()
	s := newService(t, 8)
	j := peopleJob(t, s)

	_, err := s.Upload(ctx, j.ID, "big.csv", strings.NewReader("name\n0123456789\n"))
	if !errors.Is(err, ErrInvalid) || !errors.Is(err, blob.ErrTooLarge) {
		t.Fatalf("oversized upload err=%v", err)
	}
	if _, err := s.Upload(ctx, j.ID, "  ", strings.NewReader("a")); !errors.Is(err, ErrInvalid) {
		t.Fatalf("blank name err=%v, want ErrInvalid", err)
	}

	files, err := s.ListFiles(ctx, j.ID)
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 0 {
		t.Fatalf("rejected uploads recorded %d files", len(files))
	}
}

func TestToColumnMapping(t *testing.T) {
	cm, err := toColumnMapping(storage.Mapping{SourceColumns: []string{"a"}, TargetColumn: "A", Transformation: json.RawMessage("null")})
	if err != nil || cm.Transformation != nil {
		t.Fatalf("null transformation: cm=%+v err=%v", cm, err)
	}
	cm, err = toColumnMapping(storage.Mapping{SourceColumns: []string{"a"}, TargetColumn: "First Name", Transformation: splitName(t)})
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if cm.Transformation.Kind() != transformer.KindSplit || mappingType(cm) != "transformation" {
		t.Fatalf("cm=%+v", cm)
	}
}
