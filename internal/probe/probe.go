// Package probe profiles a decoded upload: a coarse type per column, sample
// values, null counts and a short preview. Profiles are stored on the job
// file and drive mapping suggestions in the UI.
package probe

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"csvmerge/internal/transformer"
	"csvmerge/pkg/records"
)

// Column types.
const (
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeDate    = "date"
	TypeText    = "text"
)

const (
	maxSamples    = 5
	previewRows   = 10
	dateSampleCap = 100
	distinctCap   = 10000
)

type Column struct {
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	NonNullCount int      `json:"non_null_count"`
	NullCount    int      `json:"null_count"`
	Distinct     int      `json:"distinct_count"`
	SampleValues []string `json:"sample_values"`
}

// FileProfile is the stored result of profiling one file.
type FileProfile struct {
	Columns  []Column      `json:"columns"`
	RowCount int           `json:"row_count"`
	Preview  []records.Row `json:"preview_data"`
}

// ColumnNames returns the profiled column names in file order.
func (p FileProfile) ColumnNames() []string {
	out := make([]string, len(p.Columns))
	for i, c := range p.Columns {
		out[i] = c.Name
	}
	return out
}

// Profile inspects every row of t. Blank cells count as null.
func Profile(t records.Table) FileProfile {
	p := FileProfile{RowCount: len(t.Rows), Columns: make([]Column, len(t.Columns))}
	for i, name := range t.Columns {
		p.Columns[i] = profileColumn(name, t.Rows)
	}
	n := min(previewRows, len(t.Rows))
	p.Preview = make([]records.Row, n)
	for i := 0; i < n; i++ {
		p.Preview[i] = t.Rows[i].Clone()
	}
	return p
}

func profileColumn(name string, rows []records.Row) Column {
	c := Column{Name: name, SampleValues: []string{}}
	allNum, allBool := true, true
	dateHits, dateTried := 0, 0
	distinct := make(map[string]struct{})

	for _, r := range rows {
		v := strings.TrimSpace(r[name])
		if v == "" {
			c.NullCount++
			continue
		}
		c.NonNullCount++
		if len(c.SampleValues) < maxSamples {
			c.SampleValues = append(c.SampleValues, v)
		}
		if len(distinct) < distinctCap {
			distinct[v] = struct{}{}
		}
		if allNum && !isNumber(v) {
			allNum = false
		}
		if allBool {
			if _, ok := parseBoolLoose(v); !ok {
				allBool = false
			}
		}
		if dateTried < dateSampleCap {
			dateTried++
			if _, err := transformer.ParseDate(v); err == nil {
				dateHits++
			}
		}
	}
	c.Distinct = len(distinct)

	switch {
	case c.NonNullCount == 0:
		c.Type = TypeText
	case allNum:
		c.Type = TypeNumber
	case allBool:
		c.Type = TypeBoolean
	case dateHits*2 > dateTried:
		c.Type = TypeDate
	default:
		c.Type = TypeText
	}
	return c
}

// isNumber accepts plain integers and decimals, with optional thousands
// separators. Values with a leading zero such as ZIP codes stay text.
func isNumber(s string) bool {
	s = strings.ReplaceAll(s, ",", "")
	if len(s) > 1 && s[0] == '0' && s[1] != '.' {
		return false
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil && !strings.ContainsAny(s, "xXnN")
}

func parseBoolLoose(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "t", "true", "yes", "y":
		return true, true
	case "f", "false", "no", "n":
		return false, true
	default:
		return false, false
	}
}

// KeyCandidate returns the column with the most distinct non-null values,
// or "" when every column is empty.
func (p FileProfile) KeyCandidate() string {
	best, bestN := "", 0
	for _, c := range p.Columns {
		if c.Distinct > bestN {
			best, bestN = c.Name, c.Distinct
		}
	}
	return best
}

// Render writes a small human-readable summary.
func Render(w io.Writer, p FileProfile) error {
	var b strings.Builder
	fmt.Fprintf(&b, "row_count=%d\n", p.RowCount)
	fmt.Fprintf(&b, "key_candidate=%s\n", p.KeyCandidate())
	b.WriteString("column,type,non_null,null,distinct,samples\n")
	for _, c := range p.Columns {
		fmt.Fprintf(&b, "%s,%s,%d,%d,%d,%s\n", c.Name, c.Type, c.NonNullCount, c.NullCount, c.Distinct, strings.Join(c.SampleValues, "|"))
	}
	_, err := io.WriteString(w, b.String())
	return err
}
