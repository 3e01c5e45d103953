package merge

import (
	"context"
	"fmt"
	"log"
	"maps"
	"runtime"
	"slices"
	"sync"
	"time"

	"csvmerge/internal/metrics"
	"csvmerge/internal/transformer"
	"csvmerge/internal/transformer/builtin"
	"csvmerge/pkg/records"
)

// Logger is the minimal logging interface used by the merge loop.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// Merger runs the merge loop. The zero value merges serially with the builtin
// custom handlers and discards logs.
type Merger struct {
	// Engine evaluates transformations. Nil means builtin.NewEngine().
	Engine *transformer.Engine

	Logger Logger

	// Workers > 1 processes files in parallel. Output order is unaffected.
	Workers int

	// Progress, if set, is called once per finished file. It may be called
	// from several goroutines.
	Progress func(file string, rows int)
}

// MergeRows merges files into schema order with a default Merger.
func MergeRows(schema []SchemaColumn, files []FileRows) ([]records.Row, error) {
	res, err := (&Merger{}).Merge(context.Background(), schema, files)
	if err != nil {
		return nil, err
	}
	return res.Rows, nil
}

// Merge validates the mappings, then produces one output row per source row,
// files first and rows in file order.
//
// Schema and mapping problems are returned before any row is processed.
// A cancelled ctx is checked before each file and aborts with no output.
func (m *Merger) Merge(ctx context.Context, schema []SchemaColumn, files []FileRows) (*Result, error) {
	logf := m.logger()
	start := time.Now()

	p, err := buildPlan(schema, files)
	if err != nil {
		logf("stage=merge_setup status=error err=%v", err)
		metrics.RecordStep("merge", err, time.Since(start))
		return nil, err
	}
	for _, is := range p.issues {
		logf("stage=merge_setup status=warning file=%s target=%q reason=%q", is.File, is.Target, is.Reason)
	}

	outs, err := m.run(ctx, p, files, logf)
	metrics.RecordStep("merge", err, time.Since(start))
	if err != nil {
		return nil, err
	}

	res := &Result{Columns: p.columns}
	res.Summary.Files = len(files)
	res.Summary.Issues = append(res.Summary.Issues, p.issues...)
	total := 0
	for _, o := range outs {
		total += len(o.rows)
	}
	res.Rows = make([]records.Row, 0, total)
	for _, o := range outs {
		res.Rows = append(res.Rows, o.rows...)
		res.Summary.CellsDefaulted += o.defaulted
		res.Summary.Issues = append(res.Summary.Issues, o.issues...)
	}
	res.Summary.Rows = len(res.Rows)
	res.Summary.Degraded = res.Summary.CellsDefaulted > 0 || len(res.Summary.Issues) > 0

	metrics.RecordRows(res.Summary.Rows, res.Summary.CellsDefaulted)
	logf("stage=merge ok files=%d rows=%d cells_defaulted=%d issues=%d duration=%s",
		res.Summary.Files, res.Summary.Rows, res.Summary.CellsDefaulted, len(res.Summary.Issues), durMS(start))
	return res, nil
}

type fileOut struct {
	rows      []records.Row
	defaulted int
	issues    []Issue
}

func (m *Merger) engine() *transformer.Engine {
	if m.Engine != nil {
		return m.Engine
	}
	return builtin.NewEngine()
}

func (m *Merger) workers(files int) int {
	w := m.Workers
	if w <= 0 {
		w = 1
	}
	if w > files {
		w = files
	}
	if w > runtime.GOMAXPROCS(0)*4 {
		w = runtime.GOMAXPROCS(0) * 4
	}
	return w
}

// run processes every file into its own slot. With several workers the first
// cancellation wins and the rest are discarded.
func (m *Merger) run(ctx context.Context, p *plan, files []FileRows, logf func(string, ...any)) ([]fileOut, error) {
	eng := m.engine()
	outs := make([]fileOut, len(files))
	workers := m.workers(len(files))

	if workers <= 1 {
		for i := range files {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			outs[i] = m.mergeFile(eng, p, i, files[i], logf)
		}
		return outs, nil
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for i := range jobs {
				if ctx.Err() != nil {
					return
				}
				outs[i] = m.mergeFile(eng, p, i, files[i], logf)
				logf("stage=merge_file worker=%d file=%s status=ok", workerID, p.files[i].name)
			}
		}(w)
	}

feed:
	for i := range files {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	if err := context.Cause(ctx); err != nil {
		return nil, err
	}
	return outs, nil
}

func (m *Merger) mergeFile(eng *transformer.Engine, p *plan, fi int, f FileRows, logf func(string, ...any)) fileOut {
	start := time.Now()
	fp := p.files[fi]
	out := fileOut{rows: make([]records.Row, len(f.Rows))}
	failed := make(map[string]bool)

	for ri, src := range f.Rows {
		row := make(records.Row, len(p.columns))
		for ci, col := range p.columns {
			cp := fp.byCol[ci]
			if cp == nil {
				row[col] = ""
				continue
			}
			if cp.direct {
				row[col] = src[cp.sources[0]]
				if cp.absent {
					out.defaulted++
				}
				continue
			}

			partial, err := eng.Transform(src, cp.sources, cp.cfg)
			if err != nil {
				row[col] = ""
				out.defaulted++
				logf("stage=merge_cell status=error file=%s row=%d target=%q err=%v", fp.name, ri, col, err)
				if !failed[col] {
					failed[col] = true
					out.issues = append(out.issues, Issue{File: fp.name, Target: col, Reason: "transformation failed: " + err.Error(), Err: err})
				}
				continue
			}
			v, ok := transformer.Value(partial, col)
			if !ok && len(partial) > 0 {
				out.defaulted++
				if !failed[col] {
					failed[col] = true
					out.issues = append(out.issues, Issue{File: fp.name, Target: col, Reason: fmt.Sprintf("transformation output has no value for the target (keys %v)", slices.Sorted(maps.Keys(partial)))})
				}
			}
			row[col] = v
		}
		out.rows[ri] = row
	}

	metrics.RecordFile("merged")
	logf("stage=merge_file file=%s rows=%d cells_defaulted=%d duration=%s", fp.name, len(out.rows), out.defaulted, durMS(start))
	if m.Progress != nil {
		m.Progress(fp.name, len(out.rows))
	}
	return out
}

func (m *Merger) logger() func(string, ...any) {
	if m.Logger == nil {
		l := log.New(discardWriter{}, "", 0)
		return l.Printf
	}
	return m.Logger.Printf
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }

type discardWriter struct{}

func (discardWriter) Write(p []byte) (n int, err error) { return len(p), nil }
