package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type event struct {
	kind   string
	name   string
	value  float64
	labels Labels
}

type recorder struct {
	mu     sync.Mutex
	events []event
}

func (r *recorder) IncCounter(name string, delta float64, labels Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{"counter", name, delta, labels})
}

func (r *recorder) ObserveHistogram(name string, value float64, labels Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{"histogram", name, value, labels})
}

func (r *recorder) Flush() error { return nil }

func TestHelpers_EmitNamesAndLabels(t *testing.T) {
	rec := &recorder{}
	SetBackend(rec)
	defer SetBackend(nil)

	RecordJob("completed")
	RecordFile("skipped")
	RecordRows(10, 0)
	RecordRows(0, 3)
	RecordStep("merge", errors.New("boom"), 1500*time.Millisecond)
	RecordHTTP(404, 2*time.Millisecond)

	want := []event{
		{"counter", JobsTotal, 1, Labels{"status": "completed"}},
		{"counter", FilesTotal, 1, Labels{"status": "skipped"}},
		{"counter", RecordsTotal, 10, Labels{"kind": "rows"}},
		{"counter", RecordsTotal, 3, Labels{"kind": "cells_defaulted"}},
		{"histogram", StepDurationSeconds, 1.5, Labels{"step": "merge", "status": "error"}},
		{"counter", HTTPRequestsTotal, 1, Labels{"status": "404"}},
		{"histogram", HTTPDurationSeconds, 0.002, Labels{"status": "404"}},
	}
	if len(rec.events) != len(want) {
		t.Fatalf("expected %d events, got %d: %+v", len(want), len(rec.events), rec.events)
	}
	for i, w := range want {
		g := rec.events[i]
		if g.kind != w.kind || g.name != w.name || g.value != w.value {
			t.Fatalf("event %d: got %+v want %+v", i, g, w)
		}
		for k, v := range w.labels {
			if g.labels[k] != v {
				t.Fatalf("event %d label %s: got %q want %q", i, k, g.labels[k], v)
			}
		}
	}
}

func TestSetBackend_NilRestoresNop(t *testing.T) {
	SetBackend(nil)
	RecordJob("failed")
	if err := Flush(); err != nil {
		t.Fatalf("nop flush: %v", err)
	}
}
