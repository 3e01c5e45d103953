// Package server exposes the detection engine and the job service over HTTP.
//
//	POST /api/detect                                 detect transformations
//	POST /api/transform                              apply one config to one row
//	POST /api/schemas, GET /api/schemas/{id}
//	POST /api/jobs, GET /api/jobs/{id}
//	POST /api/jobs/{id}/files?name=<file name>       raw body upload
//	GET  /api/jobs/{id}/files
//	POST /api/jobs/{id}/profile
//	GET  /api/jobs/{id}/files/{fileID}/suggestions
//	PUT  /api/jobs/{id}/files/{fileID}/mappings
//	POST /api/jobs/{id}/process
//	GET  /api/jobs/{id}/download
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"csvmerge/internal/blob"
	"csvmerge/internal/detector"
	"csvmerge/internal/jobs"
	"csvmerge/internal/merge"
	"csvmerge/internal/metrics"
	"csvmerge/internal/storage"
	"csvmerge/internal/transformer"
	"csvmerge/pkg/records"
)

// maxJSONBody bounds request documents other than file uploads.
const maxJSONBody = 1 << 20

// Logger is satisfied by *log.Logger.
type Logger interface {
	Printf(format string, v ...any)
}

// Server holds the handlers' dependencies.
type Server struct {
	Jobs *jobs.Service

	// Engine runs /api/transform. Nil means the bare engine.
	Engine *transformer.Engine

	Logger Logger
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/detect", s.handleDetect)
		r.Post("/transform", s.handleTransform)

		r.Post("/schemas", s.handleCreateSchema)
		r.Get("/schemas/{id}", s.handleGetSchema)

		r.Post("/jobs", s.handleCreateJob)
		r.Route("/jobs/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetJob)
			r.Get("/files", s.handleListFiles)
			r.Post("/files", s.handleUpload)
			r.Post("/profile", s.handleProfile)
			r.Get("/files/{fileID}/suggestions", s.handleSuggest)
			r.Put("/files/{fileID}/mappings", s.handleSaveMappings)
			r.Post("/process", s.handleProcess)
			r.Get("/download", s.handleDownload)
		})
	})
	return r
}

// observe records request metrics and logs one line per request.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}
		metrics.RecordHTTP(code, time.Since(start))
		s.logger().Printf("stage=http method=%s path=%s status=%d bytes=%d req_id=%s duration=%s",
			r.Method, r.URL.Path, code, ww.BytesWritten(), middleware.GetReqID(r.Context()), time.Since(start).Truncate(time.Millisecond))
	})
}

type detectRequest struct {
	SourceColumns []string `json:"sourceColumns"`
	TargetColumns []string `json:"targetColumns"`
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req detectRequest
	if !decodeBody(w, r, &req) {
		return
	}
	out := detector.Detect(req.SourceColumns, req.TargetColumns)
	if out == nil {
		out = []detector.Detection{}
	}
	writeJSON(w, http.StatusOK, out)
}

type transformRequest struct {
	Row           records.Row      `json:"row"`
	SourceColumns []string         `json:"sourceColumns"`
	Config        transformer.Spec `json:"config"`
}

func (s *Server) handleTransform(w http.ResponseWriter, r *http.Request) {
	var req transformRequest
	if !decodeBody(w, r, &req) {
		return
	}
	eng := s.Engine
	if eng == nil {
		eng = &transformer.Engine{}
	}
	out, err := eng.Transform(req.Row, req.SourceColumns, req.Config.Config)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if out == nil {
		out = records.Row{}
	}
	writeJSON(w, http.StatusOK, out)
}

type schemaRequest struct {
	Name    string                 `json:"name"`
	Columns []storage.SchemaColumn `json:"columns"`
}

func (s *Server) handleCreateSchema(w http.ResponseWriter, r *http.Request) {
	var req schemaRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sc, err := s.Jobs.CreateSchema(r.Context(), req.Name, req.Columns)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sc)
}

func (s *Server) handleGetSchema(w http.ResponseWriter, r *http.Request) {
	sc, err := s.Jobs.GetSchema(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

type jobRequest struct {
	SchemaID string `json:"schemaId"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req jobRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.SchemaID == "" {
		writeMessage(w, http.StatusBadRequest, "schemaId is required")
		return
	}
	j, err := s.Jobs.CreateJob(r.Context(), req.SchemaID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, j)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	j, err := s.Jobs.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.Jobs.ListFiles(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if files == nil {
		files = []storage.JobFile{}
	}
	writeJSON(w, http.StatusOK, files)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		writeMessage(w, http.StatusBadRequest, "name query parameter is required")
		return
	}
	f, err := s.Jobs.Upload(r.Context(), chi.URLParam(r, "id"), name, r.Body)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	reports, err := s.Jobs.Profile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reports)
}

func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	sug, err := s.Jobs.Suggest(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "fileID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sug)
}

type mappingsRequest struct {
	Mappings []storage.Mapping `json:"mappings"`
}

func (s *Server) handleSaveMappings(w http.ResponseWriter, r *http.Request) {
	var req mappingsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	saved, err := s.Jobs.SaveMappings(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "fileID"), req.Mappings)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if saved == nil {
		saved = []storage.Mapping{}
	}
	writeJSON(w, http.StatusOK, mappingsRequest{Mappings: saved})
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	j, err := s.Jobs.Process(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	rc, name, err := s.Jobs.Download(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		s.logger().Printf("stage=download file=%s err=%v", name, err)
	}
}

// statusOf maps service errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, blob.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, blob.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, jobs.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, jobs.ErrNoReadableFiles):
		return http.StatusUnprocessableEntity
	case errors.Is(err, jobs.ErrInvalid), merge.IsSetupError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := statusOf(err)
	if code == http.StatusInternalServerError {
		s.logger().Printf("stage=http status=error err=%v", err)
		writeMessage(w, code, "internal error")
		return
	}
	writeMessage(w, code, err.Error())
}

func (s *Server) logger() Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return log.New(io.Discard, "", 0)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(dst); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeMessage(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
