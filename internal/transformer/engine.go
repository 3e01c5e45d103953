package transformer

import (
	"fmt"
	"strings"
	"time"

	"csvmerge/pkg/records"
)

// Output keys for variants that produce a single value. Split and custom
// handlers key their output by target column instead.
const (
	KeyCombined  = "combined"
	KeyFormatted = "formatted"
	KeyExtracted = "extracted"
	KeyResult    = "result"
)

// Handler implements a named custom transformation.
type Handler func(row records.Row, sourceColumns []string, cfg CustomConfig) (records.Row, error)

// Engine interprets configs. The zero value is ready to use: custom configs
// are no-ops and dates render in UTC.
type Engine struct {
	// Handlers resolves CustomConfig.Handler. Unknown names yield an empty result.
	Handlers map[string]Handler

	// Location is used when rendering parsed dates. Nil means UTC.
	Location *time.Location
}

// New returns an Engine with the given custom handlers.
func New(handlers map[string]Handler) *Engine {
	return &Engine{Handlers: handlers}
}

var defaultEngine = &Engine{}

// Transform applies cfg to row using the default engine.
func Transform(row records.Row, sourceColumns []string, cfg Config) (records.Row, error) {
	return defaultEngine.Transform(row, sourceColumns, cfg)
}

// Transform applies cfg to row and returns the partial row it produces.
//
// Errors:
//   - ErrUnsupported for a config that is not one of this package's variants.
//   - ErrInvalidConfig (as *ConfigError) for malformed configs, or when the
//     variant needs a source column and none was given.
//
// Date and number parse failures are not errors: the original value is kept.
func (e *Engine) Transform(row records.Row, sourceColumns []string, cfg Config) (records.Row, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	switch c := cfg.(type) {
	case SplitConfig:
		col, err := firstColumn(KindSplit, sourceColumns)
		if err != nil {
			return nil, err
		}
		return split(row[col], c), nil
	case CombineConfig:
		if len(sourceColumns) == 0 {
			return nil, invalid(KindCombine, "sourceColumns", "at least one source column is required")
		}
		return records.Row{KeyCombined: combine(row, sourceColumns, c)}, nil
	case FormatConfig:
		col, err := firstColumn(KindFormat, sourceColumns)
		if err != nil {
			return nil, err
		}
		return records.Row{KeyFormatted: e.format(row[col], c)}, nil
	case ExtractConfig:
		col, err := firstColumn(KindExtract, sourceColumns)
		if err != nil {
			return nil, err
		}
		return records.Row{KeyExtracted: e.extract(row[col], c)}, nil
	case ConditionalConfig:
		return e.conditional(row, sourceColumns, c)
	case CustomConfig:
		h := e.Handlers[c.Handler]
		if h == nil {
			return records.Row{}, nil
		}
		return h(row, sourceColumns, c)
	default:
		// Validate already rejects this; kept so the switch stays exhaustive.
		return nil, fmt.Errorf("%w: %T", ErrUnsupported, cfg)
	}
}

// Value picks the cell for target out of a partial row: the value keyed by
// target if present, otherwise the only value when there is exactly one.
func Value(out records.Row, target string) (string, bool) {
	if v, ok := out[target]; ok {
		return v, true
	}
	if len(out) == 1 {
		for _, v := range out {
			return v, true
		}
	}
	return "", false
}

func firstColumn(kind Kind, sourceColumns []string) (string, error) {
	if len(sourceColumns) == 0 || sourceColumns[0] == "" {
		return "", invalid(kind, "sourceColumns", "a source column is required")
	}
	return sourceColumns[0], nil
}

func split(value string, c SplitConfig) records.Row {
	out := make(records.Row, len(c.Parts))
	if c.Trim {
		// Outer padding would otherwise shift index 0 and -1 onto empty pieces.
		value = strings.TrimSpace(value)
	}
	if value == "" {
		for _, p := range c.Parts {
			out[p.TargetColumn] = p.DefaultValue
		}
		return out
	}

	pieces := strings.Split(value, c.Delimiter)
	n := len(pieces)
	for _, p := range c.Parts {
		idx := p.Index
		if idx < 0 {
			idx = n + idx
		}
		v := p.DefaultValue
		if idx >= 0 && idx < n {
			v = pieces[idx]
		}
		if c.Trim {
			v = strings.TrimSpace(v)
		}
		if v == "" && !c.KeepEmpty {
			v = p.DefaultValue
		}
		out[p.TargetColumn] = v
	}
	return out
}

func combine(row records.Row, sourceColumns []string, c CombineConfig) string {
	vals := make([]string, 0, len(sourceColumns))
	for _, col := range sourceColumns {
		v := row[col]
		if c.Trim {
			v = strings.TrimSpace(v)
		}
		if c.SkipEmpty && v == "" {
			continue
		}
		vals = append(vals, v)
	}
	return c.Prefix + strings.Join(vals, c.Separator) + c.Suffix
}

func (e *Engine) conditional(row records.Row, sourceColumns []string, c ConditionalConfig) (records.Row, error) {
	for _, cond := range c.Conditions {
		if evaluate(row, sourceColumns, cond.If) {
			return e.apply(row, sourceColumns, cond.Then)
		}
	}
	if c.Else != nil {
		return e.apply(row, sourceColumns, *c.Else)
	}
	return records.Row{}, nil
}

func evaluate(row records.Row, sourceColumns []string, p Predicate) bool {
	col := p.Column
	if col == "" && len(sourceColumns) > 0 {
		col = sourceColumns[0]
	}
	v := row[col]

	switch p.Operator {
	case OpEquals:
		return v == p.Value
	case OpNotEquals:
		return v != p.Value
	case OpContains:
		return strings.Contains(v, p.Value)
	case OpStartsWith:
		return strings.HasPrefix(v, p.Value)
	case OpEndsWith:
		return strings.HasSuffix(v, p.Value)
	case OpIsEmpty:
		return strings.TrimSpace(v) == ""
	case OpIsNotEmpty:
		return strings.TrimSpace(v) != ""
	}
	return false
}

func (e *Engine) apply(row records.Row, sourceColumns []string, a Action) (records.Row, error) {
	switch a.Action {
	case ActionSetValue:
		return records.Row{KeyResult: a.Value}, nil
	case ActionCopyFrom:
		return records.Row{KeyResult: row[a.SourceColumn]}, nil
	case ActionKeepOriginal:
		// keep_original reads the first declared source column, not whatever
		// column happens to come first in the row.
		if len(sourceColumns) == 0 {
			return records.Row{KeyResult: ""}, nil
		}
		return records.Row{KeyResult: row[sourceColumns[0]]}, nil
	case ActionTransform:
		out, err := e.Transform(row, sourceColumns, a.Nested)
		if err != nil {
			return nil, err
		}
		return records.Row{KeyResult: primaryValue(a.Nested, out)}, nil
	}
	return records.Row{KeyResult: ""}, nil
}

// primaryValue reduces a nested result to one value: the first part of a
// split, otherwise the single value.
func primaryValue(cfg Config, out records.Row) string {
	if s, ok := cfg.(SplitConfig); ok && len(s.Parts) > 0 {
		return out[s.Parts[0].TargetColumn]
	}
	v, _ := Value(out, "")
	return v
}
