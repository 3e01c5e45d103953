// Package html reads HTML uploads into records.
//
// Table mode (default) reads one <table>: header cells come from <thead>,
// else from the first row if it holds <th> cells, else column_N. Record mode
// is enabled by a record_selector option; each matched element becomes one
// row whose cells are picked by per-column selectors.
package html

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"csvmerge/internal/config"
	"csvmerge/internal/parser/charset"
	"csvmerge/pkg/records"
)

// ReadTable parses r and returns the selected table.
//
// Options: table_selector (default "table"), table_index (default 0),
// record_selector plus mappings for record mode, encoding.
func ReadTable(ctx context.Context, r io.Reader, opt config.Options) (records.Table, error) {
	src, err := charset.NewReader(r, opt.String("encoding", charset.Auto))
	if err != nil {
		return records.Table{}, err
	}
	doc, err := goquery.NewDocumentFromReader(src)
	if err != nil {
		return records.Table{}, fmt.Errorf("parse html: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return records.Table{}, err
	}

	if sel := strings.TrimSpace(opt.String("record_selector", "")); sel != "" {
		mappings, err := MappingsFromOptions(opt)
		if err != nil {
			return records.Table{}, err
		}
		return ExtractRecords(doc.Selection, sel, mappings)
	}

	tables := doc.Find(opt.String("table_selector", "table"))
	idx := opt.Int("table_index", 0)
	if idx < 0 || idx >= tables.Length() {
		return records.Table{}, fmt.Errorf("html: table %d not found (document has %d)", idx, tables.Length())
	}
	return readTable(tables.Eq(idx)), nil
}

func readTable(tbl *goquery.Selection) records.Table {
	// Rows of nested tables belong to those tables, not this one.
	rows := tbl.Find("tr").FilterFunction(func(_ int, tr *goquery.Selection) bool {
		return tr.Closest("table").IsSelection(tbl)
	})

	var header []string
	body := rows
	if head := rows.FilterFunction(func(_ int, tr *goquery.Selection) bool {
		return tr.ParentsFiltered("thead").Length() > 0
	}); head.Length() > 0 {
		header = cellTexts(head.First())
		body = rows.NotSelection(head)
	} else if first := rows.First(); first.Children().Filter("th").Length() > 0 && first.Children().Filter("td").Length() == 0 {
		header = cellTexts(first)
		body = rows.Slice(1, rows.Length())
	}

	var values [][]string
	width := len(header)
	body.Each(func(_ int, tr *goquery.Selection) {
		cells := cellTexts(tr)
		if len(cells) == 0 {
			return
		}
		if len(cells) > width {
			width = len(cells)
		}
		values = append(values, cells)
	})

	t := records.Table{Columns: columnNames(header, width)}
	for _, cells := range values {
		row := make(records.Row, len(t.Columns))
		for i, c := range t.Columns {
			if i < len(cells) {
				row[c] = cells[i]
			} else {
				row[c] = ""
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// cellTexts returns the trimmed text of each th/td, repeating cells that
// carry a colspan.
func cellTexts(tr *goquery.Selection) []string {
	var out []string
	tr.Children().Filter("th,td").Each(func(_ int, c *goquery.Selection) {
		text := strings.Join(strings.Fields(c.Text()), " ")
		span := 1
		if v, ok := c.Attr("colspan"); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 1 && n <= 100 {
				span = n
			}
		}
		for i := 0; i < span; i++ {
			out = append(out, text)
		}
	})
	return out
}

func columnNames(header []string, width int) []string {
	out := make([]string, width)
	seen := make(map[string]int, width)
	for i := range out {
		h := ""
		if i < len(header) {
			h = header[i]
		}
		if h == "" {
			h = "column_" + strconv.Itoa(i+1)
		}
		seen[h]++
		if n := seen[h]; n > 1 {
			h += "_" + strconv.Itoa(n)
		}
		out[i] = h
	}
	return out
}
