// Package metrics is the backend-neutral metrics surface used by the merge
// engine, the job service and the HTTP server. Components call the package
// helpers; the process picks one Backend at startup with SetBackend. The
// default backend drops everything.
package metrics

import (
	"strconv"
	"sync"
	"time"
)

// Metric names.
const (
	JobsTotal           = "csvmerge_jobs_total"
	FilesTotal          = "csvmerge_files_total"
	RecordsTotal        = "csvmerge_records_total"
	StepDurationSeconds = "csvmerge_step_duration_seconds"
	HTTPRequestsTotal   = "csvmerge_http_requests_total"
	HTTPDurationSeconds = "csvmerge_http_request_duration_seconds"
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives metric events. Implementations must be safe for
// concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b. A nil b restores the nop backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nopBackend{}
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush flushes the current backend.
func Flush() error { return current().Flush() }

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordStep counts one timed step ("parse", "merge", "write", ...).
func RecordStep(step string, err error, d time.Duration) {
	current().ObserveHistogram(StepDurationSeconds, d.Seconds(), Labels{"step": step, "status": status(err)})
}

// RecordJob counts a finished job by final status.
func RecordJob(jobStatus string) {
	current().IncCounter(JobsTotal, 1, Labels{"status": jobStatus})
}

// RecordFile counts a source file as "merged", "skipped" or "failed".
func RecordFile(fileStatus string) {
	current().IncCounter(FilesTotal, 1, Labels{"status": fileStatus})
}

// RecordRows counts rows merged and cells left empty after a failure.
func RecordRows(rows, cellsDefaulted int) {
	b := current()
	if rows > 0 {
		b.IncCounter(RecordsTotal, float64(rows), Labels{"kind": "rows"})
	}
	if cellsDefaulted > 0 {
		b.IncCounter(RecordsTotal, float64(cellsDefaulted), Labels{"kind": "cells_defaulted"})
	}
}

// RecordHTTP counts one served request.
func RecordHTTP(code int, d time.Duration) {
	l := Labels{"status": strconv.Itoa(code)}
	b := current()
	b.IncCounter(HTTPRequestsTotal, 1, l)
	b.ObserveHistogram(HTTPDurationSeconds, d.Seconds(), l)
}
