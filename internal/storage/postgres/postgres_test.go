package postgres

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"csvmerge/internal/storage"
)

func TestBuildInsertMappingsSQL_Placeholders(t *testing.T) {
	t.Parallel()

	ms := []storage.Mapping{
		{ID: "m1", JobID: "j", FileID: "f", SourceColumns: []string{"Name"}, TargetColumn: "First Name", Confidence: 0.9, MappingType: "transformation",
			Transformation: json.RawMessage(`{"type":"split"}`)},
		{ID: "m2", JobID: "j", FileID: "f", TargetColumn: "Email", Confidence: 1, MappingType: "exact"},
	}
	sql, args := buildInsertMappingsSQL(ms)

	if !strings.HasPrefix(sql, "INSERT INTO column_mappings (id, job_id, file_id, source_columns,") {
		t.Fatalf("unexpected prefix: %q", sql)
	}
	if !strings.Contains(sql, "VALUES ($1, $2, $3, $4, $5, $6, $7, $8), ($9, $10, $11, $12, $13, $14, $15, $16)") {
		t.Fatalf("unexpected VALUES placeholders: %q", sql)
	}
	if len(args) != 16 {
		t.Fatalf("expected 16 args, got %d", len(args))
	}
	if !reflect.DeepEqual(args[3], []string{"Name"}) {
		t.Fatalf("source_columns arg=%#v", args[3])
	}
	if got, ok := args[7].([]byte); !ok || string(got) != `{"type":"split"}` {
		t.Fatalf("transformation arg=%#v", args[7])
	}
	// Direct mappings store NULL, and a nil column list becomes an empty array.
	if args[15] != nil {
		t.Fatalf("expected NULL transformation, got %#v", args[15])
	}
	if !reflect.DeepEqual(args[11], []string{}) {
		t.Fatalf("expected empty source column array, got %#v", args[11])
	}
}

func TestDDL(t *testing.T) {
	t.Parallel()

	joined := strings.Join(ddl, "\n")
	for _, want := range []string{
		"CREATE TABLE IF NOT EXISTS schemas",
		"CREATE TABLE IF NOT EXISTS schema_columns",
		"CREATE TABLE IF NOT EXISTS jobs",
		"CREATE TABLE IF NOT EXISTS job_files",
		"CREATE TABLE IF NOT EXISTS column_mappings",
		"source_columns TEXT[] NOT NULL",
		"UNIQUE (file_id, target_column)",
		"completed_at TIMESTAMPTZ",
	} {
		if !strings.Contains(joined, want) {
			t.Fatalf("DDL missing %q", want)
		}
	}
}

func TestJSONB(t *testing.T) {
	if jsonb(nil) != nil || jsonb(json.RawMessage{}) != nil {
		t.Fatalf("empty JSON should map to NULL")
	}
	if got, ok := jsonb(json.RawMessage(`{}`)).([]byte); !ok || string(got) != "{}" {
		t.Fatalf("jsonb({})=%#v", got)
	}
}
