package merge

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"csvmerge/internal/transformer"
)

// plan is the validated form of a merge request.
type plan struct {
	columns []string
	files   []filePlan
	issues  []Issue
}

type filePlan struct {
	name    string
	byCol   []*cellPlan // aligned to plan.columns; nil means no mapping
	missing int        // direct-copy mappings whose source column is absent
}

type cellPlan struct {
	target  string
	sources []string
	cfg     transformer.Config
	direct  bool
	// absent is set when a direct copy reads a column the file does not have.
	absent bool
}

// orderColumns sorts schema columns by position and rejects duplicates.
// CheckSchema reports ErrInvalidSchema for an empty schema, a blank name or
// a repeated name or position.
func CheckSchema(schema []SchemaColumn) error {
	_, err := orderColumns(schema)
	return err
}

func orderColumns(schema []SchemaColumn) ([]string, error) {
	if len(schema) == 0 {
		return nil, fmt.Errorf("%w: no columns", ErrInvalidSchema)
	}
	cols := append([]SchemaColumn(nil), schema...)
	sort.SliceStable(cols, func(i, j int) bool { return cols[i].Position < cols[j].Position })

	names := make(map[string]bool, len(cols))
	out := make([]string, 0, len(cols))
	for i, c := range cols {
		if strings.TrimSpace(c.Name) == "" {
			return nil, fmt.Errorf("%w: column at position %d has no name", ErrInvalidSchema, c.Position)
		}
		if i > 0 && cols[i-1].Position == c.Position {
			return nil, fmt.Errorf("%w: position %d used by %q and %q", ErrInvalidSchema, c.Position, cols[i-1].Name, c.Name)
		}
		if names[c.Name] {
			return nil, fmt.Errorf("%w: duplicate column %q", ErrInvalidSchema, c.Name)
		}
		names[c.Name] = true
		out = append(out, c.Name)
	}
	return out, nil
}

// buildPlan validates every mapping of every file. It returns an error for
// anything that makes a mapping unusable and records warnings as issues.
func buildPlan(schema []SchemaColumn, files []FileRows) (*plan, error) {
	columns, err := orderColumns(schema)
	if err != nil {
		return nil, err
	}
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		index[c] = i
	}

	p := &plan{columns: columns, files: make([]filePlan, len(files))}
	for fi, f := range files {
		name := f.Name
		if name == "" {
			name = fmt.Sprintf("file[%d]", fi)
		}
		fp := filePlan{name: name, byCol: make([]*cellPlan, len(columns))}

		have := make(map[string]bool, len(f.SourceColumns))
		for _, c := range f.SourceColumns {
			have[c] = true
		}
		seen := make(map[string]bool, len(f.Mappings))

		for _, m := range f.Mappings {
			if m.TargetColumn == "" {
				return nil, fmt.Errorf("%w: %s: mapping has no target column", ErrInvalidMapping, name)
			}
			if seen[m.TargetColumn] {
				return nil, fmt.Errorf("%w: %s: more than one mapping for %q", ErrInvalidMapping, name, m.TargetColumn)
			}
			seen[m.TargetColumn] = true

			cp, err := planCell(m)
			if err != nil {
				return nil, fmt.Errorf("%s: %s: %w", name, m.TargetColumn, err)
			}

			ci, ok := index[m.TargetColumn]
			if !ok {
				p.issues = append(p.issues, Issue{File: name, Target: m.TargetColumn, Reason: "target column is not in the schema; mapping ignored"})
				continue
			}

			if len(f.SourceColumns) > 0 {
				for _, src := range cp.sources {
					if have[src] {
						continue
					}
					p.issues = append(p.issues, Issue{
						File:   name,
						Target: m.TargetColumn,
						Reason: fmt.Sprintf("source column %q not found", src),
						Err:    transformer.ErrSourceColumnMissing,
					})
					if cp.direct {
						cp.absent = true
						fp.missing++
					}
				}
			}
			fp.byCol[ci] = cp
		}
		p.files[fi] = fp
	}
	return p, nil
}

// CheckMapping reports whether m could be applied on its own, without
// looking at a schema or source header. Merge runs the same check.
func CheckMapping(m ColumnMapping) error {
	_, err := planCell(m)
	return err
}

func planCell(m ColumnMapping) (*cellPlan, error) {
	cp := &cellPlan{target: m.TargetColumn, sources: m.Sources(), cfg: m.config()}
	if cp.cfg == nil {
		if len(cp.sources) != 1 {
			return nil, fmt.Errorf("%w: a direct mapping needs exactly one source column, got %d", ErrInvalidMapping, len(cp.sources))
		}
		cp.direct = true
		return cp, nil
	}

	if err := transformer.Validate(cp.cfg); err != nil {
		return nil, err
	}
	if _, ok := cp.cfg.(transformer.ConditionalConfig); !ok && len(cp.sources) == 0 {
		return nil, fmt.Errorf("%w: %s needs a source column", ErrInvalidMapping, cp.cfg.Kind())
	}
	if s, ok := cp.cfg.(transformer.SplitConfig); ok && len(s.Parts) > 1 && !splitHasTarget(s, m.TargetColumn) {
		return nil, fmt.Errorf("%w: split has no part for %q", ErrInvalidMapping, m.TargetColumn)
	}
	return cp, nil
}

func splitHasTarget(s transformer.SplitConfig, target string) bool {
	for _, p := range s.Parts {
		if p.TargetColumn == target {
			return true
		}
	}
	return false
}

// IsSetupError reports whether err came from mapping or schema validation
// rather than from I/O or cancellation.
func IsSetupError(err error) bool {
	return errors.Is(err, ErrInvalidSchema) ||
		errors.Is(err, ErrInvalidMapping) ||
		errors.Is(err, transformer.ErrInvalidConfig) ||
		errors.Is(err, transformer.ErrUnsupported)
}
