package csv

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"csvmerge/internal/config"
	"csvmerge/pkg/records"
)

func TestReadTable_QuotedFields(t *testing.T) {
	in := "\uFEFFName , Note\n" +
		`"Doe, Jane","she said ""hi"""` + "\n" +
		"Bob,\"two\nlines\"\n"

	tbl, err := ReadTable(context.Background(), strings.NewReader(in), config.Options{}, nil)
	if err != nil {
		t.Fatalf("ReadTable: %v", err)
	}
	if want := []string{"Name", "Note"}; !reflect.DeepEqual(tbl.Columns, want) {
		t.Fatalf("columns: got %q want %q", tbl.Columns, want)
	}
	want := []records.Row{
		{"Name": "Doe, Jane", "Note": `she said "hi"`},
		{"Name": "Bob", "Note": "two\nlines"},
	}
	if !reflect.DeepEqual(tbl.Rows, want) {
		t.Fatalf("rows: got %v want %v", tbl.Rows, want)
	}
}

func TestReadTable_Options(t *testing.T) {
	cases := []struct {
		name string
		in   string
		opt  config.Options
		cols []string
		rows []records.Row
	}{
		{
			name: "semicolon and trim",
			in:   "a;b\n 1 ; 2 \n",
			opt:  config.Options{"comma": ";", "trim_space": true},
			cols: []string{"a", "b"},
			rows: []records.Row{{"a": "1", "b": "2"}},
		},
		{
			name: "no header",
			in:   "x,y\nz,w\n",
			opt:  config.Options{"has_header": false},
			cols: []string{"column_1", "column_2"},
			rows: []records.Row{{"column_1": "x", "column_2": "y"}, {"column_1": "z", "column_2": "w"}},
		},
		{
			name: "header map and duplicates",
			in:   "E-mail,Name,Name,\nx,y,z,q\n",
			opt:  config.Options{"header_map": map[string]any{"E-mail": "Email"}},
			cols: []string{"Email", "Name", "Name_2", "column_4"},
			rows: []records.Row{{"Email": "x", "Name": "y", "Name_2": "z", "column_4": "q"}},
		},
		{
			name: "short record padded",
			in:   "a,b,c\n1\n",
			opt:  config.Options{},
			cols: []string{"a", "b", "c"},
			rows: []records.Row{{"a": "1", "b": "", "c": ""}},
		},
		{
			name: "empty input",
			in:   "",
			opt:  config.Options{},
		},
		{
			name: "named utf-8",
			in:   "City\nMünchen\n",
			opt:  config.Options{"encoding": "utf-8"},
			cols: []string{"City"},
			rows: []records.Row{{"City": "München"}},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tbl, err := ReadTable(context.Background(), strings.NewReader(tc.in), tc.opt, nil)
			if err != nil {
				t.Fatalf("ReadTable: %v", err)
			}
			if !reflect.DeepEqual(tbl.Columns, tc.cols) {
				t.Fatalf("columns: got %q want %q", tbl.Columns, tc.cols)
			}
			if !reflect.DeepEqual(tbl.Rows, tc.rows) {
				t.Fatalf("rows: got %v want %v", tbl.Rows, tc.rows)
			}
		})
	}
}

func TestReadTable_Latin1Bytes(t *testing.T) {
	in := "City\nM\xfcnchen\n"
	tbl, err := ReadTable(context.Background(), strings.NewReader(in), config.Options{}, nil)
	if err != nil {
		t.Fatalf("ReadTable: %v", err)
	}
	if got := tbl.Rows[0]["City"]; got != "München" {
		t.Fatalf("got %q", got)
	}
}

func TestStreamRows_MalformedRecordSkipped(t *testing.T) {
	in := "a,b\n1,2\n3,x\"y\n5,6\n"
	var errs []string
	tbl, err := ReadTable(context.Background(), strings.NewReader(in), config.Options{}, func(line int, err error) {
		errs = append(errs, fmt.Sprintf("line=%d", line))
	})
	if err != nil {
		t.Fatalf("ReadTable: %v", err)
	}
	if len(tbl.Rows) != 2 || tbl.Rows[1]["a"] != "5" {
		t.Fatalf("rows: %v", tbl.Rows)
	}
	if !reflect.DeepEqual(errs, []string{"line=3"}) {
		t.Fatalf("errs: %v", errs)
	}
}

func TestStreamRows_LineNumbers(t *testing.T) {
	in := "a\n1\n\"multi\nline\"\n3\n"
	out := make(chan records.Record, 8)
	err := StreamRows(context.Background(), strings.NewReader(in), config.Options{}, nil, out, nil)
	close(out)
	if err != nil {
		t.Fatalf("StreamRows: %v", err)
	}
	var lines []int
	for r := range out {
		lines = append(lines, r.Line)
	}
	if want := []int{2, 3, 5}; !reflect.DeepEqual(lines, want) {
		t.Fatalf("lines: got %v want %v", lines, want)
	}
}

func TestStreamRows_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := make(chan records.Record)
	err := StreamRows(ctx, strings.NewReader("a\n1\n2\n"), config.Options{}, nil, out, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestStreamRows_UnknownEncoding(t *testing.T) {
	out := make(chan records.Record, 1)
	if err := StreamRows(context.Background(), strings.NewReader("a\n"), config.Options{"encoding": "nope"}, nil, out, nil); err == nil {
		t.Fatalf("expected error")
	}
}
