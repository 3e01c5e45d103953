// Package csv reads RFC 4180 CSV uploads into records.
//
// Options (config.Options):
//   - has_header (default true): first record names the columns. Otherwise
//     columns are named column_1..column_N after the first record.
//   - comma (default ','), lazy_quotes (default false)
//   - trim_space (default false): trim cell values. Header names are always trimmed.
//   - header_map: rename source headers before they become column names.
//   - encoding (default "auto"): see package charset.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"csvmerge/internal/config"
	"csvmerge/internal/parser/charset"
	"csvmerge/pkg/records"
)

// StreamRows decodes src and sends one records.Record per data row to out.
// onHeader is called once, before the first row, with the column names.
//
// Malformed records are reported through onErr and skipped. The call returns
// on EOF, on a header error, or when ctx is done.
func StreamRows(
	ctx context.Context,
	src io.Reader,
	opt config.Options,
	onHeader func(columns []string),
	out chan<- records.Record,
	onErr func(line int, err error),
) error {
	r, err := charset.NewReader(src, opt.String("encoding", charset.Auto))
	if err != nil {
		return err
	}

	hasHeader := opt.Bool("has_header", true)
	trim := opt.Bool("trim_space", false)
	hm := opt.StringMap("header_map")

	cr := csv.NewReader(r)
	cr.Comma = opt.Rune("comma", ',')
	cr.LazyQuotes = opt.Bool("lazy_quotes", false)
	cr.FieldsPerRecord = -1

	line := 0
	readRec := func() ([]string, error) {
		rec, err := cr.Read()
		if err == nil {
			line, _ = cr.FieldPos(0)
		}
		return rec, err
	}

	var columns []string
	var pending []string
	if hasHeader {
		hdr, err := readRec()
		if errors.Is(err, io.EOF) {
			if onHeader != nil {
				onHeader(nil)
			}
			return nil
		}
		if err != nil {
			if onErr != nil {
				onErr(line, fmt.Errorf("read header: %w", err))
			}
			return fmt.Errorf("csv: read header: %w", err)
		}
		columns = headerNames(hdr, hm)
	} else {
		// Without a header the first record both sizes the columns and is data.
		first, err := readRec()
		if errors.Is(err, io.EOF) {
			if onHeader != nil {
				onHeader(nil)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("csv: read first record: %w", err)
		}
		pending = append([]string(nil), first...)
		columns = positionalNames(len(first))
	}
	if onHeader != nil {
		onHeader(columns)
	}

	send := func(rec []string, at int) error {
		row := make(records.Row, len(columns))
		for i, col := range columns {
			v := ""
			if i < len(rec) {
				v = rec[i]
			}
			if trim {
				v = strings.TrimSpace(v)
			}
			row[col] = v
		}
		select {
		case out <- records.Record{Line: at, Row: row}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if pending != nil {
		if err := send(pending, line); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rec, err := readRec()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				if onErr != nil {
					onErr(pe.StartLine, fmt.Errorf("csv read: %w", err))
				}
				continue
			}
			return fmt.Errorf("csv: read: %w", err)
		}
		if len(rec) > len(columns) && onErr != nil {
			onErr(line, fmt.Errorf("csv: %d fields, header has %d; extra fields dropped", len(rec), len(columns)))
		}
		if err := send(rec, line); err != nil {
			return err
		}
	}
}

// ReadTable reads the whole upload into a records.Table.
func ReadTable(ctx context.Context, src io.Reader, opt config.Options, onErr func(line int, err error)) (records.Table, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := make(chan records.Record, 256)
	var t records.Table
	errc := make(chan error, 1)
	go func() {
		defer close(out)
		errc <- StreamRows(ctx, src, opt, func(cols []string) { t.Columns = cols }, out, onErr)
	}()

	for rec := range out {
		t.Rows = append(t.Rows, rec.Row)
	}
	if err := <-errc; err != nil {
		return records.Table{}, err
	}
	return t, nil
}

// headerNames trims, renames and de-duplicates header cells. Blank cells
// become column_N and repeats get a _2, _3... suffix.
func headerNames(hdr []string, rename map[string]string) []string {
	out := make([]string, len(hdr))
	seen := make(map[string]int, len(hdr))
	for i, h := range hdr {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF"))
		if mapped, ok := rename[h]; ok {
			h = mapped
		}
		if h == "" {
			h = "column_" + strconv.Itoa(i+1)
		}
		seen[h]++
		if n := seen[h]; n > 1 {
			h = h + "_" + strconv.Itoa(n)
		}
		out[i] = h
	}
	return out
}

func positionalNames(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = "column_" + strconv.Itoa(i+1)
	}
	return out
}
