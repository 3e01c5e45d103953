package config

import (
	"encoding/json"
	"testing"
)

func TestOptions_TypedGetters(t *testing.T) {
	var o Options
	if err := json.Unmarshal([]byte(`{
		"has_header": false,
		"trim_space": "true",
		"fields_per_record": 3,
		"comma": ";",
		"tabbed": "\\t",
		"header_map": {"E-Mail": "Email", "bad": 1}
	}`), &o); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if o.Bool("has_header", true) {
		t.Fatalf("has_header: expected false")
	}
	if !o.Bool("trim_space", false) {
		t.Fatalf("trim_space: expected true from string")
	}
	if got := o.Int("fields_per_record", 0); got != 3 {
		t.Fatalf("fields_per_record: got %d", got)
	}
	if got := o.Rune("comma", ','); got != ';' {
		t.Fatalf("comma: got %q", got)
	}
	if got := o.Rune("tabbed", ','); got != '\t' {
		t.Fatalf("tabbed: got %q", got)
	}
	hm := o.StringMap("header_map")
	if len(hm) != 1 || hm["E-Mail"] != "Email" {
		t.Fatalf("header_map: got %#v", hm)
	}
}

func TestOptions_DefaultsOnNil(t *testing.T) {
	var o Options
	if o.String("x", "d") != "d" || o.Int("x", 7) != 7 || !o.Bool("x", true) || o.Rune("x", ',') != ',' {
		t.Fatalf("expected defaults from nil Options")
	}
	if len(o.StringMap("x")) != 0 {
		t.Fatalf("expected empty map")
	}
}
