package transformer

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig marks a config missing required fields or carrying
	// values its variant does not accept. Fatal at job setup.
	ErrInvalidConfig = errors.New("invalid transformation config")

	// ErrUnsupported marks an unknown variant tag. Fatal.
	ErrUnsupported = errors.New("unsupported transformation")

	// ErrSourceColumnMissing marks a mapping that reads a column the source
	// file does not have. Non-fatal: the cell is left empty.
	ErrSourceColumnMissing = errors.New("source column missing")

	// ErrParse marks a value that could not be parsed as a date or number.
	// Formatting passes the original through instead of returning it.
	ErrParse = errors.New("parse failure")
)

// ConfigError describes which field of which variant is malformed.
// It unwraps to ErrInvalidConfig.
type ConfigError struct {
	Kind   Kind
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("invalid transformation config: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s transformation: %s: %s", e.Kind, e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfig }

func invalid(kind Kind, field, reason string) error {
	return &ConfigError{Kind: kind, Field: field, Reason: reason}
}
