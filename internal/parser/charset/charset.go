// Package charset turns uploaded bytes into UTF-8 before they reach a reader.
//
// Uploads arrive as UTF-8 (with or without a BOM), UTF-16 with a BOM, or a
// legacy single-byte encoding. "auto" sniffs the first bytes and falls back to
// Windows-1252 when the input is not valid UTF-8.
package charset

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Auto is the default encoding name.
const Auto = "auto"

// sniffLen bounds how much input auto-detection inspects.
const sniffLen = 64 << 10

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// NewReader returns a reader producing UTF-8 from r.
//
// name is "auto" (or empty), or any WHATWG encoding label such as "utf-8",
// "utf-16le", "latin1" or "windows-1250".
func NewReader(r io.Reader, name string) (io.Reader, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || name == Auto {
		return sniff(r)
	}
	enc, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	return transform.NewReader(r, unicode.BOMOverride(enc.NewDecoder())), nil
}

// Lookup resolves an encoding label.
func Lookup(name string) (encoding.Encoding, error) {
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("charset: unknown encoding %q: %w", name, err)
	}
	return enc, nil
}

func sniff(r io.Reader) (io.Reader, error) {
	br := bufio.NewReaderSize(r, sniffLen)
	head, err := br.Peek(sniffLen)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, fmt.Errorf("charset: sniff: %w", err)
	}

	switch {
	case bytes.HasPrefix(head, bomUTF8):
		_, _ = br.Discard(len(bomUTF8))
		return br, nil
	case bytes.HasPrefix(head, bomUTF16LE), bytes.HasPrefix(head, bomUTF16BE):
		dec := unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder()
		return transform.NewReader(br, dec), nil
	case validUTF8Prefix(head, len(head) == sniffLen):
		return br, nil
	default:
		return transform.NewReader(br, charmap.Windows1252.NewDecoder()), nil
	}
}

// validUTF8Prefix reports whether b is valid UTF-8, ignoring a rune cut off
// at the end of a truncated sniff window.
func validUTF8Prefix(b []byte, truncated bool) bool {
	if utf8.Valid(b) {
		return true
	}
	if !truncated {
		return false
	}
	for i := 1; i < utf8.UTFMax && i <= len(b); i++ {
		if utf8.Valid(b[:len(b)-i]) {
			return true
		}
	}
	return false
}

// DecodeString decodes b with the named encoding. Used for small inputs such
// as HTML documents that are read whole.
func DecodeString(b []byte, name string) (string, error) {
	r, err := NewReader(bytes.NewReader(b), name)
	if err != nil {
		return "", err
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("charset: decode: %w", err)
	}
	return string(out), nil
}
