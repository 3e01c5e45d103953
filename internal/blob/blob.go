// Package blob stores uploaded files and merged outputs on the local
// filesystem under slash-separated keys such as "<jobID>/uploads/a.csv".
package blob

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when a key has no object.
var ErrNotFound = errors.New("blob: not found")

// ErrTooLarge is returned when an upload exceeds the store's limit.
var ErrTooLarge = errors.New("blob: object too large")

// Object describes a stored object.
type Object struct {
	Key    string `json:"key"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// Store is the object storage used by the job service.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader) (Object, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// FS is a Store rooted at a directory.
type FS struct {
	root     string
	maxBytes int64
}

// NewFS creates root if needed. maxBytes <= 0 means unlimited.
func NewFS(root string, maxBytes int64) (*FS, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("blob: empty root directory")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("blob: create root: %w", err)
	}
	return &FS{root: root, maxBytes: maxBytes}, nil
}

// CleanKey validates key and returns its canonical form. Keys are relative,
// slash-separated and may not escape the root.
func CleanKey(key string) (string, error) {
	if key == "" || strings.ContainsRune(key, 0) || strings.Contains(key, `\`) {
		return "", fmt.Errorf("blob: invalid key %q", key)
	}
	c := path.Clean(key)
	if c == "." || path.IsAbs(c) || c == ".." || strings.HasPrefix(c, "../") {
		return "", fmt.Errorf("blob: invalid key %q", key)
	}
	return c, nil
}

func (s *FS) path(key string) (string, string, error) {
	c, err := CleanKey(key)
	if err != nil {
		return "", "", err
	}
	return c, filepath.Join(s.root, filepath.FromSlash(c)), nil
}

// Put writes r under key. The object becomes visible only once fully
// written; a failed Put leaves any previous object in place.
func (s *FS) Put(ctx context.Context, key string, r io.Reader) (Object, error) {
	c, dst, err := s.path(key)
	if err != nil {
		return Object{}, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return Object{}, fmt.Errorf("blob: prepare dir: %w", err)
	}

	var suffix [8]byte
	if _, err := rand.Read(suffix[:]); err != nil {
		return Object{}, fmt.Errorf("blob: temp suffix: %w", err)
	}
	tmp := dst + ".incoming-" + hex.EncodeToString(suffix[:])
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return Object{}, fmt.Errorf("blob: create: %w", err)
	}
	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(tmp)
	}

	src := r
	if s.maxBytes > 0 {
		src = io.LimitReader(r, s.maxBytes+1)
	}
	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, h), ctxReader{ctx: ctx, r: src})
	if err != nil {
		cleanup()
		return Object{}, fmt.Errorf("blob: write %s: %w", c, err)
	}
	if s.maxBytes > 0 && n > s.maxBytes {
		cleanup()
		return Object{}, fmt.Errorf("%w: %s exceeds %d bytes", ErrTooLarge, c, s.maxBytes)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return Object{}, fmt.Errorf("blob: close %s: %w", c, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return Object{}, fmt.Errorf("blob: commit %s: %w", c, err)
	}
	return Object{Key: c, Size: n, SHA256: hex.EncodeToString(h.Sum(nil))}, nil
}

// Open returns the object's content. The caller closes it.
func (s *FS) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, c)
	}
	if err != nil {
		return nil, fmt.Errorf("blob: open %s: %w", c, err)
	}
	return f, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *FS) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("blob: delete: %w", err)
	}
	return nil
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
