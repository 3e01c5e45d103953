// Package parser picks a reader for an uploaded file and decodes it into a
// records.Table.
package parser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"csvmerge/internal/config"
	csvparser "csvmerge/internal/parser/csv"
	htmlparser "csvmerge/internal/parser/html"
	jsonparser "csvmerge/internal/parser/json"
	"csvmerge/pkg/records"
)

// Kind names an input format.
type Kind string

const (
	KindCSV  Kind = "csv"
	KindTSV  Kind = "tsv"
	KindJSON Kind = "json"
	KindHTML Kind = "html"
)

// ErrUnsupportedKind is returned for formats no reader handles, such as
// spreadsheets. Callers skip such files.
var ErrUnsupportedKind = errors.New("unsupported file kind")

// KindFromName infers a Kind from a file name's extension.
func KindFromName(name string) (Kind, error) {
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".csv", ".txt":
		return KindCSV, nil
	case ".tsv", ".tab":
		return KindTSV, nil
	case ".json", ".jsonl", ".ndjson":
		return KindJSON, nil
	case ".html", ".htm":
		return KindHTML, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedKind, ext)
	}
}

// ParseKind validates an explicit kind. Empty means "infer from name".
func ParseKind(s, name string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case "":
		return KindFromName(name)
	case KindCSV, KindTSV, KindJSON, KindHTML:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedKind, s)
}

// Read decodes r as kind. onErr receives recoverable per-row problems and may
// be nil.
func Read(ctx context.Context, kind Kind, r io.Reader, opt config.Options, onErr func(line int, err error)) (records.Table, error) {
	switch kind {
	case KindCSV:
		return csvparser.ReadTable(ctx, r, opt, onErr)
	case KindTSV:
		o := config.Options{"comma": "\t"}
		for k, v := range opt {
			o[k] = v
		}
		return csvparser.ReadTable(ctx, r, o, onErr)
	case KindJSON:
		return jsonparser.ReadTable(ctx, r, opt, onErr)
	case KindHTML:
		return htmlparser.ReadTable(ctx, r, opt)
	}
	return records.Table{}, fmt.Errorf("%w: %q", ErrUnsupportedKind, kind)
}
