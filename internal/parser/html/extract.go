package html

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"csvmerge/internal/config"
	"csvmerge/pkg/records"
)

// Mapping picks one column's value inside a record element.
type Mapping struct {
	Selector string `json:"selector"`          // relative to the record; empty means the record itself
	Extract  string `json:"extract,omitempty"` // "text" (default) or "attr"
	Attr     string `json:"attr,omitempty"`
	Column   string `json:"column"`
	Match    string `json:"match,omitempty"` // optional regex; group 1 if present
	All      bool   `json:"all,omitempty"`   // join every match with Sep
	Sep      string `json:"sep,omitempty"`
}

// MappingsFromOptions decodes the "mappings" option.
func MappingsFromOptions(opt config.Options) ([]Mapping, error) {
	raw := opt.Any("mappings")
	if raw == nil {
		return nil, fmt.Errorf("html: record_selector needs mappings")
	}
	if ms, ok := raw.([]Mapping); ok {
		return ms, nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("html: encode mappings: %w", err)
	}
	var ms []Mapping
	if err := json.Unmarshal(b, &ms); err != nil {
		return nil, fmt.Errorf("html: decode mappings: %w", err)
	}
	if len(ms) == 0 {
		return nil, fmt.Errorf("html: record_selector needs mappings")
	}
	return ms, nil
}

type compiled struct {
	Mapping
	re *regexp.Regexp
}

// ExtractRecords returns one row per element matched by recordSelector, in
// document order. Columns follow mapping order. Records where every mapping
// came up empty are skipped.
func ExtractRecords(root *goquery.Selection, recordSelector string, mappings []Mapping) (records.Table, error) {
	cms := make([]compiled, 0, len(mappings))
	t := records.Table{}
	for _, m := range mappings {
		if strings.TrimSpace(m.Column) == "" {
			return records.Table{}, fmt.Errorf("html: mapping for selector %q has no column", m.Selector)
		}
		c := compiled{Mapping: m}
		if strings.TrimSpace(m.Match) != "" {
			re, err := regexp.Compile(m.Match)
			if err != nil {
				return records.Table{}, fmt.Errorf("html: invalid regex for column %q: %w", m.Column, err)
			}
			c.re = re
		}
		cms = append(cms, c)
		t.Columns = append(t.Columns, m.Column)
	}

	root.Find(recordSelector).Each(func(_ int, rec *goquery.Selection) {
		row := make(records.Row, len(cms))
		found := false
		for _, m := range cms {
			v := m.value(rec)
			if v != "" {
				found = true
			}
			row[m.Column] = v
		}
		if found {
			t.Rows = append(t.Rows, row)
		}
	})
	return t, nil
}

func (m compiled) value(rec *goquery.Selection) string {
	sel := rec
	if m.Selector != "" {
		sel = rec.Find(m.Selector)
	}
	if !m.All {
		sel = sel.First()
		if sel.Length() == 0 {
			return ""
		}
		return m.filter(m.extractOne(sel))
	}

	var vals []string
	sel.Each(func(_ int, s *goquery.Selection) {
		if v := m.filter(m.extractOne(s)); v != "" {
			vals = append(vals, v)
		}
	})
	sep := m.Sep
	if sep == "" {
		sep = ", "
	}
	return strings.Join(vals, sep)
}

func (m compiled) extractOne(sel *goquery.Selection) string {
	switch m.Extract {
	case "", "text":
		return strings.Join(strings.Fields(sel.Text()), " ")
	case "attr":
		if m.Attr == "" {
			return ""
		}
		v, _ := sel.Attr(m.Attr)
		return strings.TrimSpace(v)
	}
	return ""
}

// filter applies the optional regex: no match clears the value, a capture
// group wins over the whole match.
func (m compiled) filter(v string) string {
	if v == "" || m.re == nil {
		return v
	}
	sm := m.re.FindStringSubmatch(v)
	if len(sm) == 0 {
		return ""
	}
	if len(sm) > 1 {
		return sm[1]
	}
	return sm[0]
}
