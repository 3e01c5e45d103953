package datadog

import (
	"context"
	"net/http"
	"reflect"
	"runtime"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"csvmerge/internal/metrics"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
)

// fakeSubmitter captures payloads submitted by Backend.Flush().
type fakeSubmitter struct {
	mu       sync.Mutex
	payloads []datadogV2.MetricPayload
	err      error
}

func (f *fakeSubmitter) SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, body)
	return datadogV2.IntakePayloadAccepted{}, nil, f.err
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func (f *fakeSubmitter) last() (datadogV2.MetricPayload, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.payloads) == 0 {
		return datadogV2.MetricPayload{}, false
	}
	return f.payloads[len(f.payloads)-1], true
}

func newTestBackend(t *testing.T, fs *fakeSubmitter) *Backend {
	t.Helper()
	b, err := NewBackend(context.Background(), Options{
		JobName:    "job1",
		FlushEvery: 24 * time.Hour,
		submitter:  fs,
		now:        func() time.Time { return time.Unix(1000, 0) },
		newTicker:  func(d time.Duration) *time.Ticker { return time.NewTicker(24 * time.Hour) },
	})
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestResolveEnvTag(t *testing.T) {
	cases := []struct{ env, ddEnv, want string }{
		{"prod", "stage", "env:prod"},
		{"", "stage", "env:stage"},
		{"   ", "\n\t", "env:unknown"},
		{"", "", "env:unknown"},
	}
	for _, tc := range cases {
		t.Setenv("ENV", tc.env)
		t.Setenv("DD_ENV", tc.ddEnv)
		if got := resolveEnvTag(); got != tc.want {
			t.Fatalf("ENV=%q DD_ENV=%q: got %q, want %q", tc.env, tc.ddEnv, got, tc.want)
		}
	}
}

func TestStepStatusKey(t *testing.T) {
	for _, pair := range [][2]string{{"upload", "ok"}, {"", "ok"}, {"process", ""}, {"", ""}} {
		step, status := splitStepStatusKey(stepStatusKey(pair[0], pair[1]))
		if step != pair[0] || status != pair[1] {
			t.Fatalf("key for %q: got (%q,%q)", pair, step, status)
		}
	}
	// A key without the separator has an unknown status.
	if step, status := splitStepStatusKey("profile"); step != "profile" || status != "unknown" {
		t.Fatalf("key without separator: got (%q,%q)", step, status)
	}
}

func TestWithTagsCopiesBase(t *testing.T) {
	base := []string{"env:test", "job:csvmerge"}
	got := withTags(base, "step:process")
	if !reflect.DeepEqual(got, []string{"env:test", "job:csvmerge", "step:process"}) {
		t.Fatalf("withTags=%v", got)
	}
	got[0] = "env:changed"
	if base[0] != "env:test" {
		t.Fatalf("withTags result shares storage with base")
	}
}

func TestPercentileNearestRank(t *testing.T) {
	five := []float64{1, 2, 3, 4, 5}
	cases := []struct {
		s    []float64
		p    float64
		want float64
	}{
		{nil, 0.5, 0},
		{[]float64{7}, 0.95, 7},
		{five, -1, 1},
		{five, 2, 5},
		{five, 0.5, 3},
		{five, 0.9, 5},
	}
	for _, tc := range cases {
		if got := percentileNearestRank(tc.s, tc.p); got != tc.want {
			t.Fatalf("percentileNearestRank(%v, %v)=%v, want %v", tc.s, tc.p, got, tc.want)
		}
	}
}

// TestGaugeSeries verifies gaugeSeries timestamps and values.
func TestGaugeSeries(t *testing.T) {
	now := int64(1234567)
	s := gaugeSeries("csvmerge.test.gauge", 3.14, []string{"env:test"}, now)

	if s.Metric != "csvmerge.test.gauge" {
		t.Fatalf("Metric=%q", s.Metric)
	}
	if s.Type == nil || *s.Type != datadogV2.METRICINTAKETYPE_GAUGE {
		t.Fatalf("Type=%v, want GAUGE", s.Type)
	}
	if len(s.Points) != 1 || *s.Points[0].Timestamp != now || *s.Points[0].Value != 3.14 {
		t.Fatalf("Points=%+v", s.Points)
	}

	c := countSeries("csvmerge.test.count", 2, nil, now)
	if c.Type == nil || *c.Type != datadogV2.METRICINTAKETYPE_COUNT {
		t.Fatalf("Type=%v, want COUNT", c.Type)
	}
}

// TestAddPercentiles verifies the six gauges and that input is not mutated.
func TestAddPercentiles(t *testing.T) {
	orig := []float64{5, 1, 3, 2, 4}
	in := append([]float64(nil), orig...)

	var series []datadogV2.MetricSeries
	addPercentiles(&series, "csvmerge.step.duration_seconds", in, []string{"status:ok"}, 999)

	if len(series) != 6 {
		t.Fatalf("series.len=%d, want 6", len(series))
	}
	if !reflect.DeepEqual(in, orig) {
		t.Fatalf("samples mutated: got %v, want %v", in, orig)
	}
	byName := map[string]float64{}
	for _, s := range series {
		byName[s.Metric] = *s.Points[0].Value
	}
	if byName["csvmerge.step.duration_seconds.samples"] != 5 || byName["csvmerge.step.duration_seconds.max"] != 5 || byName["csvmerge.step.duration_seconds.p50"] != 3 {
		t.Fatalf("unexpected gauges: %v", byName)
	}

	series = nil
	addPercentiles(&series, "x", nil, nil, 1)
	if len(series) != 0 {
		t.Fatalf("empty samples should add nothing")
	}
}

func TestNewBackend_Defaults(t *testing.T) {
	fs := &fakeSubmitter{}
	b, err := NewBackend(context.Background(), Options{
		Tags:      []string{"service:csvmerge"},
		submitter: fs,
		newTicker: func(d time.Duration) *time.Ticker { return time.NewTicker(24 * time.Hour) },
	})
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}
	defer func() { _ = b.Close() }()

	if !contains(b.baseTags, "job:csvmerge") || !contains(b.baseTags, "service:csvmerge") {
		t.Fatalf("baseTags=%v", b.baseTags)
	}
	if b.flushEvery != 60*time.Second {
		t.Fatalf("flushEvery=%s, want 60s", b.flushEvery)
	}
}

// TestFlush_SubmitsAndResets drives the backend through the metrics helpers
// the merge engine and server use.
func TestFlush_SubmitsAndResets(t *testing.T) {
	fs := &fakeSubmitter{}
	b := newTestBackend(t, fs)

	metrics.SetBackend(b)
	defer metrics.SetBackend(nil)

	metrics.RecordJob("completed")
	metrics.RecordFile("merged")
	metrics.RecordRows(12, 2)
	metrics.RecordStep("merge", nil, 500*time.Millisecond)
	metrics.RecordHTTP(200, 100*time.Millisecond)

	if err := metrics.Flush(); err != nil {
		t.Fatalf("Flush() err=%v, want nil", err)
	}
	if fs.count() != 1 {
		t.Fatalf("submit calls=%d, want 1", fs.count())
	}
	if !b.buf.isEmpty() {
		t.Fatalf("buffers not reset after Flush")
	}

	payload, _ := fs.last()
	var names []string
	for _, s := range payload.Series {
		names = append(names, s.Metric)
		if !contains(s.Tags, "job:job1") {
			t.Fatalf("series %q missing job tag: %v", s.Metric, s.Tags)
		}
	}
	sort.Strings(names)

	for _, w := range []string{
		"csvmerge.jobs.total",
		"csvmerge.files.total",
		"csvmerge.records.total",
		"csvmerge.http.requests.total",
		"csvmerge.step.duration_seconds.p50",
		"csvmerge.step.duration_seconds.samples",
		"csvmerge.http.request_duration_seconds.p99",
	} {
		if !contains(names, w) {
			t.Fatalf("payload missing metric %q; got=%v", w, names)
		}
	}

	var kinds []string
	for _, s := range payload.Series {
		if s.Metric == "csvmerge.records.total" {
			for _, tag := range s.Tags {
				if strings.HasPrefix(tag, "kind:") {
					kinds = append(kinds, tag)
				}
			}
		}
	}
	if !reflect.DeepEqual(kinds, []string{"kind:cells_defaulted", "kind:rows"}) {
		t.Fatalf("record kinds=%v", kinds)
	}
}

func TestFlush_NoDataDoesNotSubmit(t *testing.T) {
	fs := &fakeSubmitter{}
	b := newTestBackend(t, fs)

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() err=%v, want nil", err)
	}
	if fs.count() != 0 {
		t.Fatalf("unexpected submission count=%d, want 0", fs.count())
	}
}

// TestLoopAndClose verifies the background loop flushes periodically and
// Close performs a final flush.
func TestLoopAndClose(t *testing.T) {
	fs := &fakeSubmitter{}
	b, err := NewBackend(context.Background(), Options{
		JobName:    "job1",
		FlushEvery: 5 * time.Millisecond,
		submitter:  fs,
		now:        func() time.Time { return time.Unix(2000, 0) },
	})
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}

	b.IncCounter(metrics.JobsTotal, 1, metrics.Labels{"status": "completed"})

	deadline := time.Now().Add(250 * time.Millisecond)
	for time.Now().Before(deadline) && fs.count() < 1 {
		time.Sleep(2 * time.Millisecond)
	}
	if fs.count() < 1 {
		_ = b.Close()
		t.Fatalf("expected at least one background Flush submission; got %d", fs.count())
	}

	b.IncCounter(metrics.JobsTotal, 1, metrics.Labels{"status": "failed"})
	if err := b.Close(); err != nil {
		t.Fatalf("Close() err=%v, want nil", err)
	}
	if fs.count() < 2 {
		t.Fatalf("expected at least 2 submissions after Close; got %d", fs.count())
	}
}

func TestBackend_ConcurrentAccess(t *testing.T) {
	fs := &fakeSubmitter{}
	b := newTestBackend(t, fs)

	workers := runtime.GOMAXPROCS(0) * 4
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < 2000; j++ {
				b.IncCounter(metrics.RecordsTotal, 1, metrics.Labels{"kind": "rows"})
				b.IncCounter(metrics.HTTPRequestsTotal, 1, metrics.Labels{"status": "200"})
				b.ObserveHistogram(metrics.StepDurationSeconds, 0.01, metrics.Labels{"step": "merge", "status": "ok"})
			}
		}()
	}
	wg.Wait()

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() err=%v, want nil", err)
	}
	if fs.count() != 1 {
		t.Fatalf("submit calls=%d, want 1", fs.count())
	}
	payload, _ := fs.last()
	for _, s := range payload.Series {
		if s.Metric == "csvmerge.records.total" && *s.Points[0].Value != float64(workers*2000) {
			t.Fatalf("records total=%v, want %d", *s.Points[0].Value, workers*2000)
		}
	}
}

func TestIncCounterAndObserveHistogram_EdgeCases(t *testing.T) {
	fs := &fakeSubmitter{}
	b := newTestBackend(t, fs)

	b.IncCounter(metrics.JobsTotal, 0, nil)
	b.IncCounter(metrics.RecordsTotal, 1, metrics.Labels{})
	b.IncCounter("unknown_total", 1, metrics.Labels{"x": "y"})
	b.ObserveHistogram(metrics.StepDurationSeconds, -1, metrics.Labels{"step": "parse", "status": "ok"})
	b.IncCounter(metrics.HTTPRequestsTotal, 1, metrics.Labels{})
	b.ObserveHistogram(metrics.HTTPDurationSeconds, 0.1, metrics.Labels{})

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() err=%v, want nil", err)
	}
	payload, ok := fs.last()
	if !ok {
		t.Fatalf("missing payload")
	}

	var sawCount, sawP50 bool
	for _, s := range payload.Series {
		switch s.Metric {
		case "csvmerge.http.requests.total":
			sawCount = contains(s.Tags, "status:unknown")
		case "csvmerge.http.request_duration_seconds.p50":
			sawP50 = contains(s.Tags, "status:unknown")
		case "csvmerge.jobs.total", "csvmerge.records.total", "csvmerge.step.duration_seconds.p50":
			t.Fatalf("ignored input produced %q", s.Metric)
		}
	}
	if !sawCount || !sawP50 {
		t.Fatalf("expected http series tagged status:unknown; count=%v p50=%v", sawCount, sawP50)
	}
}

func contains[T comparable](xs []T, v T) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func TestParseTagsCSV(t *testing.T) {
	if got := ParseTagsCSV(""); got != nil {
		t.Fatalf("empty input: %v", got)
	}
	got := ParseTagsCSV(" env:prod , ,service:csvmerge,  ,team:data ")
	if !reflect.DeepEqual(got, []string{"env:prod", "service:csvmerge", "team:data"}) {
		t.Fatalf("ParseTagsCSV=%v", got)
	}
}
