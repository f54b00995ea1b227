package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalStore persists uploads under a base directory on local disk.
// This is the default backend: spec.md's non-goals explicitly permit
// "local fetch to a temp file" rather than requiring remote blob
// streaming.
type LocalStore struct {
	baseDir string
}

// NewLocalStore ensures baseDir exists and returns a Store backed by it.
func NewLocalStore(baseDir string) (*LocalStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create base dir: %w", err)
	}
	return &LocalStore{baseDir: baseDir}, nil
}

// Save writes data to "<mailingID>-<filename>" under the base
// directory and returns that path as the opaque pointer.
func (s *LocalStore) Save(ctx context.Context, mailingID, filename string, data io.Reader) (string, error) {
	name := fmt.Sprintf("%s-%s", mailingID, filepath.Base(filename))
	dest := filepath.Join(s.baseDir, name)

	f, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("storage: create %s: %w", dest, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, data); err != nil {
		return "", fmt.Errorf("storage: write %s: %w", dest, err)
	}

	return dest, nil
}

// Open opens the file at the given pointer path.
func (s *LocalStore) Open(ctx context.Context, pointer string) (io.ReadCloser, error) {
	f, err := os.Open(pointer)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", pointer, err)
	}
	return f, nil
}
