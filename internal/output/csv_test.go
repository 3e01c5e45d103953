package output

import (
	"bytes"
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"csvmerge/internal/config"
	csvparser "csvmerge/internal/parser/csv"
	"csvmerge/pkg/records"
)

func TestWriteCSV_Quoting(t *testing.T) {
	tbl := records.Table{
		Columns: []string{"Name", "Note"},
		Rows: []records.Row{
			{"Name": "Doe, Jane", "Note": `said "hi"`},
			{"Name": "plain", "Note": "line1\nline2"},
			{"Name": "missing note"},
		},
	}
	var buf bytes.Buffer
	if err := WriteCSV(&buf, tbl); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	want := "Name,Note\n" +
		`"Doe, Jane","said ""hi"""` + "\n" +
		"plain,\"line1\nline2\"\n" +
		"missing note,\n"
	if buf.String() != want {
		t.Fatalf("got:\n%s\nwant:\n%s", buf.String(), want)
	}
}

func TestWriteCSV_RoundTrip(t *testing.T) {
	f := gofakeit.New(3)
	tbl := records.Table{Columns: []string{"Name", "Quote", "Address"}}
	tbl.Rows = append(tbl.Rows, records.Row{"Name": `O"Brien, Pat`, "Quote": `"quoted", with comma`, "Address": "1 Main St\r\nSpringfield"})
	for i := 0; i < 50; i++ {
		tbl.Rows = append(tbl.Rows, records.Row{
			"Name":    f.Name() + ", " + f.JobTitle(),
			"Quote":   `"` + f.Word() + `"`,
			"Address": f.Street() + "\n" + f.City(),
		})
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, tbl); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	got, err := csvparser.ReadTable(context.Background(), &buf, config.Options{}, func(line int, err error) {
		t.Fatalf("line %d: %v", line, err)
	})
	if err != nil {
		t.Fatalf("ReadTable: %v", err)
	}
	if !reflect.DeepEqual(got.Columns, tbl.Columns) {
		t.Fatalf("columns: %v", got.Columns)
	}
	if len(got.Rows) != len(tbl.Rows) {
		t.Fatalf("rows: got %d want %d", len(got.Rows), len(tbl.Rows))
	}
	for i := range tbl.Rows {
		for _, c := range tbl.Columns {
			want := tbl.Rows[i][c]
			// encoding/csv normalizes \r\n inside quoted fields to \n.
			want = strings.ReplaceAll(want, "\r\n", "\n")
			if got.Rows[i][c] != want {
				t.Fatalf("row %d col %s: got %q want %q", i, c, got.Rows[i][c], want)
			}
		}
	}
}

func TestFileName(t *testing.T) {
	day := time.Date(2024, 3, 5, 23, 0, 0, 0, time.UTC)
	if got := FileName("Customers", day); got != "Customers_merged_2024-03-05.csv" {
		t.Fatalf("FileName: %q", got)
	}
}
