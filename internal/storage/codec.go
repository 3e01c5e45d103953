package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Column values that have no portable SQL type (string lists, metadata) are
// stored as JSON text. These helpers keep the encoding identical across
// backends.

// EncodeColumns encodes a source column list as a JSON array.
func EncodeColumns(cols []string) string {
	if cols == nil {
		cols = []string{}
	}
	b, _ := json.Marshal(cols)
	return string(b)
}

// DecodeColumns reverses EncodeColumns. Empty input yields nil.
func DecodeColumns(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("storage: decode source columns: %w", err)
	}
	return out, nil
}

// EncodeMetadata encodes job metadata as a JSON object.
func EncodeMetadata(m JobMetadata) string {
	b, _ := json.Marshal(m)
	return string(b)
}

// DecodeMetadata reverses EncodeMetadata. Empty input yields the zero value.
func DecodeMetadata(s string) (JobMetadata, error) {
	var m JobMetadata
	if strings.TrimSpace(s) == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return m, fmt.Errorf("storage: decode job metadata: %w", err)
	}
	return m, nil
}

// NullableJSON maps an empty raw message to nil so it is stored as NULL.
func NullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// FormatTime formats t as RFC3339Nano in UTC, the form text-typed backends store.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTime parses timestamps read back from a database column.
//
// Supported inputs:
//   - time.Time (drivers with native timestamp types)
//   - RFC3339Nano / RFC3339 text (what FormatTime writes)
//   - "2006-01-02 15:04:05[.999999999][Z07:00]" text; no zone means UTC
func ParseTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case []byte:
		return parseTimeText(string(t))
	case string:
		return parseTimeText(t)
	case nil:
		return time.Time{}, fmt.Errorf("storage: NULL time")
	}
	return time.Time{}, fmt.Errorf("storage: unsupported time value %T", v)
}

func parseTimeText(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("storage: empty time string")
	}
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05Z07:00",
	} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	if ts, err := time.ParseInLocation("2006-01-02 15:04:05.999999999", s, time.UTC); err == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("storage: unsupported time format: %q", s)
}

// ParseNullTime is ParseTime for nullable columns.
func ParseNullTime(v any) (*time.Time, error) {
	if v == nil {
		return nil, nil
	}
	t, err := ParseTime(v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
