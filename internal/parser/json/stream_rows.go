// Package json reads JSON uploads into records.
//
// Accepted shapes:
//   - a root array of objects
//   - a root object whose first array field holds the records (envelope)
//   - a single root object, which is one record
//   - any of the above followed by newline-delimited objects (JSONL)
//
// Options: header_map renames keys, array_join_separator (default ",")
// flattens string arrays, encoding selects the input charset.
package json

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"csvmerge/internal/config"
	"csvmerge/internal/parser/charset"
	"csvmerge/pkg/records"
)

// object is a decoded JSON object with its keys in document order.
type object struct {
	keys []string
	vals map[string]any
}

// StreamRows parses r and sends one records.Record per object to out.
// Record.Keys carries the object's keys in document order.
func StreamRows(
	ctx context.Context,
	r io.Reader,
	opt config.Options,
	out chan<- records.Record,
	onParseErr func(line int, err error),
) error {
	src, err := charset.NewReader(r, opt.String("encoding", charset.Auto))
	if err != nil {
		return err
	}
	dec := json.NewDecoder(src)
	dec.UseNumber()

	rename := opt.StringMap("header_map")
	sep := opt.String("array_join_separator", ",")
	if sep == "" {
		sep = ","
	}

	line := 0
	emit := func(obj object) error {
		line++
		rec := toRecord(obj, rename, sep)
		rec.Line = line
		select {
		case out <- rec:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	tok, err := dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if onParseErr != nil {
			onParseErr(0, err)
		}
		return fmt.Errorf("json: read first token: %w", err)
	}

	d, ok := tok.(json.Delim)
	if !ok {
		return fmt.Errorf("json: unsupported root token %T (want object or array)", tok)
	}
	switch d {
	case '[':
		if err := streamArrayOfObjects(ctx, dec, emit, onParseErr, &line); err != nil {
			return err
		}
		if err := expectDelim(dec, ']'); err != nil {
			return err
		}
	case '{':
		streamed, single, err := streamEnvelopeOrSingle(ctx, dec, emit, onParseErr, &line)
		if err != nil {
			return err
		}
		if err := expectDelim(dec, '}'); err != nil {
			return err
		}
		if !streamed {
			if err := emit(single); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("json: unsupported root delimiter %q", d)
	}
	return streamTrailingObjects(ctx, dec, emit, onParseErr, &line)
}

// ReadTable reads every record. Columns are the union of keys in the order
// they were first seen.
func ReadTable(ctx context.Context, r io.Reader, opt config.Options, onParseErr func(line int, err error)) (records.Table, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := make(chan records.Record, 256)
	errc := make(chan error, 1)
	go func() {
		defer close(out)
		errc <- StreamRows(ctx, r, opt, out, onParseErr)
	}()

	var t records.Table
	seen := map[string]bool{}
	for rec := range out {
		for _, k := range rec.Keys {
			if !seen[k] {
				seen[k] = true
				t.Columns = append(t.Columns, k)
			}
		}
		t.Rows = append(t.Rows, rec.Row)
	}
	if err := <-errc; err != nil {
		return records.Table{}, err
	}
	// Rows missing a late-appearing key still get an empty cell.
	for _, row := range t.Rows {
		for _, c := range t.Columns {
			if _, ok := row[c]; !ok {
				row[c] = ""
			}
		}
	}
	return t, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	end, err := dec.Token()
	if err != nil {
		return fmt.Errorf("json: read %q: %w", want, err)
	}
	if end != want {
		return fmt.Errorf("json: expected %q, got %v", want, end)
	}
	return nil
}

func streamTrailingObjects(
	ctx context.Context,
	dec *json.Decoder,
	emit func(object) error,
	onParseErr func(line int, err error),
	line *int,
) error {
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if onParseErr != nil {
				onParseErr(*line+1, err)
			}
			return fmt.Errorf("json: decode trailing object: %w", err)
		}
		if tok != json.Delim('{') {
			err := fmt.Errorf("json: trailing value is not an object (got %v)", tok)
			if onParseErr != nil {
				onParseErr(*line+1, err)
			}
			return err
		}
		obj, err := readObject(dec)
		if err != nil {
			return err
		}
		if err := emit(obj); err != nil {
			return err
		}
	}
}

// streamArrayOfObjects streams the elements of an array whose '[' has been
// consumed. null elements are skipped; any other non-object is an error.
func streamArrayOfObjects(
	ctx context.Context,
	dec *json.Decoder,
	emit func(object) error,
	onParseErr func(line int, err error),
	line *int,
) error {
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			if onParseErr != nil {
				onParseErr(*line+1, err)
			}
			return fmt.Errorf("json: decode array element: %w", err)
		}
		if tok == nil {
			continue
		}
		if tok != json.Delim('{') {
			err := fmt.Errorf("json: array element not an object (got %v)", tok)
			if onParseErr != nil {
				onParseErr(*line+1, err)
			}
			return err
		}
		obj, err := readObject(dec)
		if err != nil {
			if onParseErr != nil {
				onParseErr(*line+1, err)
			}
			return err
		}
		if err := emit(obj); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}

// streamEnvelopeOrSingle walks a root object whose '{' has been consumed.
// The first array field is streamed as the records and the remaining fields
// are skipped. With no array field the object itself is returned.
func streamEnvelopeOrSingle(
	ctx context.Context,
	dec *json.Decoder,
	emit func(object) error,
	onParseErr func(line int, err error),
	line *int,
) (streamed bool, single object, _ error) {
	single.vals = make(map[string]any)

	for dec.More() {
		key, err := readKey(dec)
		if err != nil {
			return false, object{}, err
		}
		valTok, err := dec.Token()
		if err != nil {
			if onParseErr != nil {
				onParseErr(*line+1, err)
			}
			return false, object{}, fmt.Errorf("json: read object value: %w", err)
		}

		if valTok == json.Delim('[') {
			if err := streamArrayOfObjects(ctx, dec, emit, onParseErr, line); err != nil {
				return false, object{}, err
			}
			if err := expectDelim(dec, ']'); err != nil {
				return false, object{}, err
			}
			for dec.More() {
				if _, err := dec.Token(); err != nil {
					return true, object{}, fmt.Errorf("json: skip envelope key: %w", err)
				}
				if err := skipNextValue(dec); err != nil {
					return true, object{}, err
				}
			}
			return true, object{}, nil
		}

		val, err := materialize(dec, valTok)
		if err != nil {
			return false, object{}, err
		}
		single.keys = append(single.keys, key)
		single.vals[key] = val
	}
	return false, single, nil
}

func readKey(dec *json.Decoder) (string, error) {
	kt, err := dec.Token()
	if err != nil {
		return "", fmt.Errorf("json: read object key: %w", err)
	}
	k, ok := kt.(string)
	if !ok {
		return "", fmt.Errorf("json: object key not a string (got %T)", kt)
	}
	return k, nil
}

// readObject reads an object whose '{' has been consumed, keeping key order.
func readObject(dec *json.Decoder) (object, error) {
	obj := object{vals: make(map[string]any)}
	for dec.More() {
		k, err := readKey(dec)
		if err != nil {
			return object{}, err
		}
		vt, err := dec.Token()
		if err != nil {
			return object{}, fmt.Errorf("json: read value of %q: %w", k, err)
		}
		v, err := materialize(dec, vt)
		if err != nil {
			return object{}, err
		}
		if _, dup := obj.vals[k]; !dup {
			obj.keys = append(obj.keys, k)
		}
		obj.vals[k] = v
	}
	if err := expectDelim(dec, '}'); err != nil {
		return object{}, err
	}
	return obj, nil
}

func skipNextValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("json: skip value: %w", err)
	}
	_, err = materialize(dec, tok)
	return err
}

// materialize builds a Go value for the JSON value whose first token is tok.
// Nested objects become map[string]any; order only matters at the top level.
func materialize(dec *json.Decoder, tok json.Token) (any, error) {
	d, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}
	switch d {
	case '{':
		obj, err := readObject(dec)
		if err != nil {
			return nil, err
		}
		return obj.vals, nil
	case '[':
		arr := []any{}
		for dec.More() {
			vt, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("json: read array value: %w", err)
			}
			v, err := materialize(dec, vt)
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
		if err := expectDelim(dec, ']'); err != nil {
			return nil, err
		}
		return arr, nil
	default:
		return nil, fmt.Errorf("json: unexpected delimiter %q", d)
	}
}

func toRecord(obj object, rename map[string]string, sep string) records.Record {
	rec := records.Record{Keys: make([]string, 0, len(obj.keys)), Row: make(records.Row, len(obj.keys))}
	for _, k := range obj.keys {
		name := k
		if mapped, ok := rename[k]; ok && mapped != "" {
			name = mapped
		}
		if _, dup := rec.Row[name]; !dup {
			rec.Keys = append(rec.Keys, name)
		}
		rec.Row[name] = stringify(obj.vals[k], sep)
	}
	return rec
}

// stringify renders a JSON value as cell text. String arrays are joined with
// sep; other composites are re-encoded as compact JSON.
func stringify(v any, sep string) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	case []any:
		ss := make([]string, 0, len(t))
		for _, it := range t {
			if it == nil {
				continue
			}
			s, ok := it.(string)
			if !ok {
				return encode(v)
			}
			ss = append(ss, s)
		}
		return strings.Join(ss, sep)
	default:
		return encode(v)
	}
}

func encode(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Sprint(v)
	}
	return strings.TrimRight(buf.String(), "\n")
}
