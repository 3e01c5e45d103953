// Package output serializes merged tables.
package output

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"csvmerge/pkg/records"
)

// WriteCSV writes one header row and one row per record, columns in
// t.Columns order. Fields with a comma, quote or line break are quoted and
// inner quotes doubled.
func WriteCSV(w io.Writer, t records.Table) error {
	bw := bufio.NewWriter(w)
	cw := csv.NewWriter(bw)

	if err := cw.Write(t.Columns); err != nil {
		return fmt.Errorf("output: write header: %w", err)
	}
	for i := range t.Rows {
		if err := cw.Write(t.Values(i)); err != nil {
			return fmt.Errorf("output: write row %d: %w", i+1, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("output: flush: %w", err)
	}
	return bw.Flush()
}

// FileName is the stored name of a job's merged output.
func FileName(schema string, day time.Time) string {
	return fmt.Sprintf("%s_merged_%s.csv", schema, day.Format("2006-01-02"))
}
