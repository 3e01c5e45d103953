// Package transformer implements the column transformation engine: a closed
// set of declarative configs (split, combine, format, extract, conditional,
// custom) and a pure interpreter that turns one source row into the partial
// row those configs describe.
//
// Config is a sealed interface. Only the six config types in this package
// implement it, and Transform dispatches over them exhaustively; anything else
// is reported as ErrUnsupported, never silently defaulted.
package transformer

import (
	"encoding/json"
	"fmt"
)

// Kind is the variant tag carried in the persisted JSON envelope.
type Kind string

const (
	KindSplit       Kind = "split"
	KindCombine     Kind = "combine"
	KindFormat      Kind = "format"
	KindExtract     Kind = "extract"
	KindConditional Kind = "conditional"
	KindCustom      Kind = "custom"
)

// Config is one transformation variant.
type Config interface {
	Kind() Kind
	sealed()
}

// SplitPart selects one piece of a split value. Negative indexes count from
// the end (-1 is the last piece).
type SplitPart struct {
	Index        int    `json:"index"`
	TargetColumn string `json:"targetColumn"`
	DefaultValue string `json:"defaultValue,omitempty"`
}

type SplitConfig struct {
	Delimiter string      `json:"delimiter"`
	KeepEmpty bool        `json:"keepEmpty,omitempty"`
	Trim      bool        `json:"trim,omitempty"`
	Parts     []SplitPart `json:"parts"`
}

type CombineConfig struct {
	Separator string `json:"separator"`
	SkipEmpty bool   `json:"skipEmpty,omitempty"`
	Trim      bool   `json:"trim,omitempty"`
	Prefix    string `json:"prefix,omitempty"`
	Suffix    string `json:"suffix,omitempty"`
}

// Format operations.
const (
	OpUppercase  = "uppercase"
	OpLowercase  = "lowercase"
	OpCapitalize = "capitalize"
	OpPhone      = "phone"
	OpDate       = "date"
	OpNumber     = "number"
	OpCustom     = "custom"
)

type FormatConfig struct {
	Operation     string `json:"operation"`
	CustomPattern string `json:"customPattern,omitempty"`
	FromFormat    string `json:"fromFormat,omitempty"`
	ToFormat      string `json:"toFormat,omitempty"`
	Locale        string `json:"locale,omitempty"`
	// Currency is an ISO 4217 code used when ToFormat is "currency". Default USD.
	Currency string `json:"currency,omitempty"`
}

// Extract types.
const (
	ExtractRegex       = "regex"
	ExtractBefore      = "before"
	ExtractAfter       = "after"
	ExtractBetween     = "between"
	ExtractEmailDomain = "email_domain"
	ExtractDatePart    = "date_part"
)

type ExtractConfig struct {
	ExtractType  string `json:"extractType"`
	Pattern      string `json:"pattern,omitempty"`
	StartPattern string `json:"startPattern,omitempty"`
	EndPattern   string `json:"endPattern,omitempty"`
	DatePart     string `json:"datePart,omitempty"`
	GroupIndex   int    `json:"groupIndex,omitempty"`
}

// Predicate operators. All comparisons are case-sensitive.
const (
	OpEquals     = "equals"
	OpNotEquals  = "not_equals"
	OpContains   = "contains"
	OpStartsWith = "starts_with"
	OpEndsWith   = "ends_with"
	OpIsEmpty    = "is_empty"
	OpIsNotEmpty = "is_not_empty"
)

// Actions.
const (
	ActionSetValue     = "set_value"
	ActionCopyFrom     = "copy_from"
	ActionKeepOriginal = "keep_original"
	ActionTransform    = "transform"
)

// Predicate tests one column. An empty Column means the first source column.
type Predicate struct {
	Column   string `json:"column,omitempty"`
	Operator string `json:"operator"`
	Value    string `json:"value,omitempty"`
}

// Action produces the conditional result. For ActionTransform, Nested is
// applied to the same source columns and its value becomes the result.
type Action struct {
	Action       string `json:"action"`
	Value        string `json:"value,omitempty"`
	SourceColumn string `json:"sourceColumn,omitempty"`
	Nested       Config `json:"-"`
}

type actionJSON struct {
	Action          string          `json:"action"`
	Value           string          `json:"value,omitempty"`
	SourceColumn    string          `json:"sourceColumn,omitempty"`
	Transformation  Kind            `json:"transformation,omitempty"`
	TransformConfig json.RawMessage `json:"transformConfig,omitempty"`
}

func (a Action) MarshalJSON() ([]byte, error) {
	out := actionJSON{Action: a.Action, Value: a.Value, SourceColumn: a.SourceColumn}
	if a.Nested != nil {
		raw, err := json.Marshal(a.Nested)
		if err != nil {
			return nil, err
		}
		out.Transformation = a.Nested.Kind()
		out.TransformConfig = raw
	}
	return json.Marshal(out)
}

func (a *Action) UnmarshalJSON(b []byte) error {
	var in actionJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	*a = Action{Action: in.Action, Value: in.Value, SourceColumn: in.SourceColumn}
	if in.Transformation != "" {
		nested, err := DecodeConfig(in.Transformation, in.TransformConfig)
		if err != nil {
			return fmt.Errorf("nested transformation: %w", err)
		}
		a.Nested = nested
	}
	return nil
}

type Condition struct {
	If   Predicate `json:"if"`
	Then Action    `json:"then"`
}

type ConditionalConfig struct {
	Conditions []Condition `json:"conditions"`
	Else       *Action     `json:"else,omitempty"`
}

// CustomConfig is opaque to the bare engine. Handler names a function
// registered on an Engine; Targets maps handler roles (e.g. "first", "city")
// to output column names.
type CustomConfig struct {
	Handler string            `json:"handler,omitempty"`
	Targets map[string]string `json:"targets,omitempty"`
	Params  map[string]any    `json:"params,omitempty"`
}

func (SplitConfig) Kind() Kind       { return KindSplit }
func (CombineConfig) Kind() Kind     { return KindCombine }
func (FormatConfig) Kind() Kind      { return KindFormat }
func (ExtractConfig) Kind() Kind     { return KindExtract }
func (ConditionalConfig) Kind() Kind { return KindConditional }
func (CustomConfig) Kind() Kind      { return KindCustom }

func (SplitConfig) sealed()       {}
func (CombineConfig) sealed()     {}
func (FormatConfig) sealed()      {}
func (ExtractConfig) sealed()     {}
func (ConditionalConfig) sealed() {}
func (CustomConfig) sealed()      {}

// Spec is the persisted envelope: {"type": "<kind>", "config": {...}}.
type Spec struct {
	Config Config
}

// NewSpec wraps cfg.
func NewSpec(cfg Config) *Spec { return &Spec{Config: cfg} }

// Kind returns the envelope tag, or "" for an empty Spec.
func (s *Spec) Kind() Kind {
	if s == nil || s.Config == nil {
		return ""
	}
	return s.Config.Kind()
}

type envelope struct {
	Type   Kind            `json:"type"`
	Config json.RawMessage `json:"config"`
}

func (s Spec) MarshalJSON() ([]byte, error) {
	if s.Config == nil {
		return []byte("null"), nil
	}
	raw, err := json.Marshal(s.Config)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: s.Config.Kind(), Config: raw})
}

func (s *Spec) UnmarshalJSON(b []byte) error {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	cfg, err := DecodeConfig(env.Type, env.Config)
	if err != nil {
		return err
	}
	s.Config = cfg
	return nil
}

// DecodeConfig decodes raw into the config shape selected by kind.
// An unknown kind returns ErrUnsupported.
func DecodeConfig(kind Kind, raw json.RawMessage) (Config, error) {
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}
	switch kind {
	case KindSplit:
		var c SplitConfig
		if err := decodeInto(kind, raw, &c); err != nil {
			return nil, err
		}
		return c, nil
	case KindCombine:
		var c CombineConfig
		if err := decodeInto(kind, raw, &c); err != nil {
			return nil, err
		}
		return c, nil
	case KindFormat:
		var c FormatConfig
		if err := decodeInto(kind, raw, &c); err != nil {
			return nil, err
		}
		return c, nil
	case KindExtract:
		var c ExtractConfig
		if err := decodeInto(kind, raw, &c); err != nil {
			return nil, err
		}
		return c, nil
	case KindConditional:
		var c ConditionalConfig
		if err := decodeInto(kind, raw, &c); err != nil {
			return nil, err
		}
		return c, nil
	case KindCustom:
		var c CustomConfig
		if err := decodeInto(kind, raw, &c); err != nil {
			return nil, err
		}
		return c, nil
	case "":
		return nil, &ConfigError{Field: "type", Reason: "missing"}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, kind)
	}
}

func decodeInto(kind Kind, raw json.RawMessage, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return &ConfigError{Kind: kind, Field: "config", Reason: err.Error()}
	}
	return nil
}
