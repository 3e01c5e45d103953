package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"csvmerge/internal/blob"
	"csvmerge/internal/detector"
	"csvmerge/internal/jobs"
	"csvmerge/internal/merge"
	"csvmerge/internal/storage"
	_ "csvmerge/internal/storage/sqlite"
	"csvmerge/internal/transformer"
)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	repo, err := storage.New(context.Background(), storage.Config{Kind: "sqlite", DSN: filepath.Join(t.TempDir(), "api.db")})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	t.Cleanup(repo.Close)
	blobs, err := blob.NewFS(t.TempDir(), 1<<20)
	if err != nil {
		t.Fatalf("blob.NewFS: %v", err)
	}
	svc := &jobs.Service{
		Repo:  repo,
		Blobs: blobs,
		Now:   func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) },
	}
	return (&Server{Jobs: svc}).Handler()
}

func call(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func expect(t *testing.T, w *httptest.ResponseRecorder, code int) {
	t.Helper()
	if w.Code != code {
		t.Fatalf("status=%d, want %d; body=%s", w.Code, code, w.Body.String())
	}
}

func TestDetect(t *testing.T) {
	h := newTestServer(t)
	w := call(t, h, http.MethodPost, "/api/detect",
		`{"sourceColumns":["Name","Email"],"targetColumns":["First Name","Last Name","Email"]}`)
	expect(t, w, http.StatusOK)

	var got []detector.Detection
	decode(t, w, &got)
	if len(got) != 1 || got[0].Type != transformer.KindSplit {
		t.Fatalf("detections=%+v", got)
	}

	w = call(t, h, http.MethodPost, "/api/detect", `{"sourceColumns":["id"],"targetColumns":["sku"]}`)
	expect(t, w, http.StatusOK)
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Fatalf("empty detection body=%s", w.Body.String())
	}
}

func TestTransform(t *testing.T) {
	h := newTestServer(t)
	cases := []struct {
		name string
		body string
		code int
		want map[string]string
	}{
		{
			name: "split",
			body: `{"row":{"Name":"Ada Lovelace"},"sourceColumns":["Name"],
				"config":{"type":"split","config":{"delimiter":" ","parts":[{"index":0,"targetColumn":"First"},{"index":-1,"targetColumn":"Last"}]}}}`,
			code: http.StatusOK,
			want: map[string]string{"First": "Ada", "Last": "Lovelace"},
		},
		{
			name: "invalid config",
			body: `{"row":{"Name":"x"},"sourceColumns":["Name"],"config":{"type":"split","config":{"parts":[]}}}`,
			code: http.StatusBadRequest,
		},
		{
			name: "missing config",
			body: `{"row":{"Name":"x"},"sourceColumns":["Name"]}`,
			code: http.StatusBadRequest,
		},
		{
			name: "unknown type",
			body: `{"row":{},"sourceColumns":["Name"],"config":{"type":"translate","config":{}}}`,
			code: http.StatusBadRequest,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := call(t, h, http.MethodPost, "/api/transform", tc.body)
			expect(t, w, tc.code)
			if tc.want == nil {
				return
			}
			var got map[string]string
			decode(t, w, &got)
			for k, v := range tc.want {
				if got[k] != v {
					t.Fatalf("%s=%q, want %q (row=%v)", k, got[k], v, got)
				}
			}
		})
	}
}

func TestJobFlow(t *testing.T) {
	h := newTestServer(t)

	w := call(t, h, http.MethodPost, "/api/schemas",
		`{"name":"contacts","columns":[{"name":"Email","position":2},{"name":"Name","position":1}]}`)
	expect(t, w, http.StatusCreated)
	var sc storage.Schema
	decode(t, w, &sc)
	if sc.ID == "" || sc.Columns[0].Name != "Name" {
		t.Fatalf("schema=%+v", sc)
	}

	expect(t, call(t, h, http.MethodGet, "/api/schemas/"+sc.ID, ""), http.StatusOK)

	w = call(t, h, http.MethodPost, "/api/jobs", fmt.Sprintf(`{"schemaId":%q}`, sc.ID))
	expect(t, w, http.StatusCreated)
	var j storage.Job
	decode(t, w, &j)
	base := "/api/jobs/" + j.ID

	w = call(t, h, http.MethodPost, base+"/files?name=a.csv", "full_name,e-mail\nAda Lovelace,ada@example.com\n")
	expect(t, w, http.StatusCreated)
	var f storage.JobFile
	decode(t, w, &f)
	if f.Kind != "csv" || f.Position != 1 {
		t.Fatalf("file=%+v", f)
	}

	expect(t, call(t, h, http.MethodPost, base+"/files", "x"), http.StatusBadRequest)

	w = call(t, h, http.MethodGet, base+"/files", "")
	expect(t, w, http.StatusOK)
	var files []storage.JobFile
	decode(t, w, &files)
	if len(files) != 1 {
		t.Fatalf("files=%+v", files)
	}

	w = call(t, h, http.MethodPost, base+"/profile", "")
	expect(t, w, http.StatusOK)
	var reports []jobs.FileReport
	decode(t, w, &reports)
	if len(reports) != 1 || reports[0].Profile == nil || reports[0].Profile.RowCount != 1 {
		t.Fatalf("reports=%+v", reports)
	}

	w = call(t, h, http.MethodGet, base+"/files/"+f.ID+"/suggestions", "")
	expect(t, w, http.StatusOK)
	var sug jobs.Suggestions
	decode(t, w, &sug)
	if len(sug.SourceColumns) != 2 || len(sug.TargetColumns) != 2 {
		t.Fatalf("suggestions=%+v", sug)
	}

	w = call(t, h, http.MethodPut, base+"/files/"+f.ID+"/mappings", `{"mappings":[
		{"source_columns":["full_name"],"target_column":"Name"},
		{"source_columns":["e-mail"],"target_column":"Email","transformation":{"type":"format","config":{"operation":"lowercase"}}}
	]}`)
	expect(t, w, http.StatusOK)

	expect(t, call(t, h, http.MethodGet, base+"/download", ""), http.StatusConflict)

	w = call(t, h, http.MethodPost, base+"/process", "")
	expect(t, w, http.StatusOK)
	decode(t, w, &j)
	if j.Status != storage.StatusCompleted || j.Metadata.RowsProcessed != 1 {
		t.Fatalf("job=%+v", j)
	}

	w = call(t, h, http.MethodGet, base+"/download", "")
	expect(t, w, http.StatusOK)
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "contacts_merged_2026-01-02.csv") {
		t.Fatalf("Content-Disposition=%q", cd)
	}
	if !strings.HasPrefix(w.Body.String(), "Name,Email\nAda Lovelace,") {
		t.Fatalf("download body=%q", w.Body.String())
	}

	expect(t, call(t, h, http.MethodPost, base+"/process", ""), http.StatusConflict)
}

func TestErrorStatuses(t *testing.T) {
	h := newTestServer(t)
	cases := []struct {
		method, path, body string
		code               int
	}{
		{http.MethodGet, "/api/schemas/nope", "", http.StatusNotFound},
		{http.MethodGet, "/api/jobs/nope", "", http.StatusNotFound},
		{http.MethodPost, "/api/jobs", `{}`, http.StatusBadRequest},
		{http.MethodPost, "/api/jobs", `{"schemaId":"nope"}`, http.StatusNotFound},
		{http.MethodPost, "/api/schemas", `{"name":"x","columns":[]}`, http.StatusBadRequest},
		{http.MethodPost, "/api/schemas", `not json`, http.StatusBadRequest},
		{http.MethodPost, "/api/jobs/nope/process", "", http.StatusNotFound},
	}
	for _, tc := range cases {
		w := call(t, h, tc.method, tc.path, tc.body)
		if w.Code != tc.code {
			t.Fatalf("%s %s: status=%d, want %d; body=%s", tc.method, tc.path, w.Code, tc.code, w.Body.String())
		}
	}
}

func TestStatusOf(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("job x: %w", storage.ErrNotFound), http.StatusNotFound},
		{blob.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: %w", jobs.ErrInvalid, blob.ErrTooLarge), http.StatusRequestEntityTooLarge},
		{jobs.ErrConflict, http.StatusConflict},
		{jobs.ErrNoReadableFiles, http.StatusUnprocessableEntity},
		{fmt.Errorf("a.csv: %w", merge.ErrInvalidMapping), http.StatusBadRequest},
		{transformer.ErrUnsupported, http.StatusBadRequest},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusOf(tc.err); got != tc.want {
			t.Fatalf("statusOf(%v)=%d, want %d", tc.err, got, tc.want)
		}
	}
}
