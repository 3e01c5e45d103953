package html

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"csvmerge/internal/config"
	"csvmerge/pkg/records"
)

func TestReadTable_Thead(t *testing.T) {
	doc := `<html><body>
	<table id="people">
	  <thead><tr><th>Name</th><th> E-mail </th></tr></thead>
	  <tbody>
	    <tr><td>Ada  Lovelace</td><td>ada@example.com</td></tr>
	    <tr><td>Alan Turing</td></tr>
	    <tr><td>nested</td><td><table><tr><td>inner</td></tr></table></td></tr>
	  </tbody>
	</table></body></html>`

	tbl, err := ReadTable(context.Background(), strings.NewReader(doc), config.Options{})
	if err != nil {
		t.Fatalf("ReadTable: %v", err)
	}
	if want := []string{"Name", "E-mail"}; !reflect.DeepEqual(tbl.Columns, want) {
		t.Fatalf("columns=%v want %v", tbl.Columns, want)
	}
	want := []records.Row{
		{"Name": "Ada Lovelace", "E-mail": "ada@example.com"},
		{"Name": "Alan Turing", "E-mail": ""},
		{"Name": "nested", "E-mail": "inner"},
	}
	if !reflect.DeepEqual(tbl.Rows, want) {
		t.Fatalf("rows=%v\nwant %v", tbl.Rows, want)
	}
}

func TestReadTable_HeaderRowAndIndex(t *testing.T) {
	doc := `<table><tr><td>skip</td></tr></table>
	<table>
	  <tr><th>City</th><th>Zip</th><th></th></tr>
	  <tr><td>Springfield</td><td colspan="2">62701</td></tr>
	</table>`

	tbl, err := ReadTable(context.Background(), strings.NewReader(doc), config.Options{"table_index": 1})
	if err != nil {
		t.Fatalf("ReadTable: %v", err)
	}
	if want := []string{"City", "Zip", "column_3"}; !reflect.DeepEqual(tbl.Columns, want) {
		t.Fatalf("columns=%v want %v", tbl.Columns, want)
	}
	if got := tbl.Rows[0]; got["Zip"] != "62701" || got["column_3"] != "62701" {
		t.Fatalf("colspan row=%v", got)
	}
}

func TestReadTable_NoHeader(t *testing.T) {
	tbl, err := ReadTable(context.Background(), strings.NewReader(`<table><tr><td>a</td><td>b</td></tr></table>`), nil)
	if err != nil {
		t.Fatalf("ReadTable: %v", err)
	}
	if !reflect.DeepEqual(tbl.Columns, []string{"column_1", "column_2"}) || len(tbl.Rows) != 1 {
		t.Fatalf("table=%+v", tbl)
	}
}

func TestReadTable_Missing(t *testing.T) {
	if _, err := ReadTable(context.Background(), strings.NewReader(`<p>none</p>`), nil); err == nil {
		t.Fatalf("expected error for missing table")
	}
}

func TestReadTable_RecordMode(t *testing.T) {
	doc := `
	<div class="rec"><span class="name"> A </span><a href="/a">x</a><i>t1</i><i>t2</i><b>id: 17</b></div>
	<div class="rec"><span class="name">B</span></div>
	<div class="rec"></div>`

	opt := config.Options{
		"record_selector": ".rec",
		"mappings": []any{
			map[string]any{"selector": ".name", "column": "Name"},
			map[string]any{"selector": "a", "extract": "attr", "attr": "href", "column": "Link"},
			map[string]any{"selector": "i", "column": "Tags", "all": true, "sep": "|"},
			map[string]any{"selector": "b", "column": "ID", "match": `id: (\d+)`},
		},
	}
	tbl, err := ReadTable(context.Background(), strings.NewReader(doc), opt)
	if err != nil {
		t.Fatalf("ReadTable: %v", err)
	}
	if want := []string{"Name", "Link", "Tags", "ID"}; !reflect.DeepEqual(tbl.Columns, want) {
		t.Fatalf("columns=%v", tbl.Columns)
	}
	want := []records.Row{
		{"Name": "A", "Link": "/a", "Tags": "t1|t2", "ID": "17"},
		{"Name": "B", "Link": "", "Tags": "", "ID": ""},
	}
	if !reflect.DeepEqual(tbl.Rows, want) {
		t.Fatalf("rows=%v\nwant %v", tbl.Rows, want)
	}
}

func TestMappingsFromOptions_Errors(t *testing.T) {
	if _, err := MappingsFromOptions(config.Options{}); err == nil {
		t.Fatalf("expected error without mappings")
	}
	if _, err := ReadTable(context.Background(), strings.NewReader(`<div class="r"></div>`), config.Options{
		"record_selector": ".r",
		"mappings":        []any{map[string]any{"selector": "b", "column": "X", "match": "("}},
	}); err == nil {
		t.Fatalf("expected regex error")
	}
}
