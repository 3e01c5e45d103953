// Package merge turns the rows of several source files into one table laid
// out by a target schema.
//
// Each (file, schema column) pair has at most one ColumnMapping. A mapping
// without a transformation copies its source column verbatim; a mapping with
// one runs the transformation engine and keeps only the value for its own
// schema column, so a split that feeds two columns needs two mappings.
//
// Broken mappings are rejected before any row is read. Problems with
// individual cells are logged, counted and leave the cell empty.
package merge

import (
	"errors"
	"fmt"

	"csvmerge/internal/transformer"
	"csvmerge/pkg/records"
)

var (
	// ErrInvalidSchema marks an empty schema or duplicate names/positions.
	ErrInvalidSchema = errors.New("invalid schema")

	// ErrInvalidMapping marks a mapping set that cannot be applied. Config
	// problems also match transformer.ErrInvalidConfig.
	ErrInvalidMapping = errors.New("invalid mapping")
)

type SchemaColumn struct {
	Name     string `json:"name"`
	Position int    `json:"position"`
}

// ColumnMapping assigns a source column (or several, for combine) and an
// optional transformation to one schema column.
type ColumnMapping struct {
	SourceColumn   string            `json:"source_column,omitempty"`
	SourceColumns  []string          `json:"source_columns,omitempty"`
	TargetColumn   string            `json:"target_column"`
	Transformation *transformer.Spec `json:"transformation,omitempty"`
}

// Sources returns SourceColumns when set, otherwise SourceColumn.
func (m ColumnMapping) Sources() []string {
	if len(m.SourceColumns) > 0 {
		return m.SourceColumns
	}
	if m.SourceColumn != "" {
		return []string{m.SourceColumn}
	}
	return nil
}

func (m ColumnMapping) config() transformer.Config {
	if m.Transformation == nil {
		return nil
	}
	return m.Transformation.Config
}

// FileRows is one parsed source file with its accepted mappings.
type FileRows struct {
	Name          string
	SourceColumns []string
	Rows          []records.Row
	Mappings      []ColumnMapping
}

// Issue is a non-fatal problem found while merging.
type Issue struct {
	File   string `json:"file"`
	Target string `json:"target,omitempty"`
	Reason string `json:"reason"`
	Err    error  `json:"-"`
}

func (i Issue) Error() string {
	if i.Target == "" {
		return fmt.Sprintf("%s: %s", i.File, i.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", i.File, i.Target, i.Reason)
}

func (i Issue) Unwrap() error { return i.Err }

// Summary reports what a merge did. Degraded is set when any cell was left
// empty because of a failure or any Issue was recorded.
type Summary struct {
	Files          int     `json:"files"`
	Rows           int     `json:"rows"`
	CellsDefaulted int     `json:"cells_defaulted"`
	Issues         []Issue `json:"issues,omitempty"`
	Degraded       bool    `json:"degraded"`
}

// Result is the merged table in schema position order.
type Result struct {
	Columns []string
	Rows    []records.Row
	Summary Summary
}

// Table returns the result as a records.Table.
func (r *Result) Table() records.Table {
	return records.Table{Columns: r.Columns, Rows: r.Rows}
}
