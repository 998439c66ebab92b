// Package fs stores exported envelopes as files under a root directory.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/uktrade/tamato/internal/app"
)

var _ app.EnvelopeSink = (*Sink)(nil)

// Sink writes each key once; later writes to the same key are reported, not applied.
type Sink struct {
	root string
}

// New returns a sink rooted at path, creating it if needed.
func New(root string) (*Sink, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("envelope directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create envelope dir: %w", err)
	}
	return &Sink{root: root}, nil
}

// sanitizeKey rejects keys that would escape the root.
func sanitizeKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", errors.New("empty key")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.FromSlash(filepath.ToSlash(filepath.Clean(key))), nil
}

// Put stores body at key unless a file already exists there.
func (s *Sink) Put(ctx context.Context, key string, body []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	rel, err := sanitizeKey(key)
	if err != nil {
		return false, err
	}
	path := filepath.Join(s.root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if _, err := f.Write(body); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return false, err
	}
	return false, f.Close()
}
