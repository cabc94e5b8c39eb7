package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"postagent-go/internal/apperr"
)

// FileBackend keeps the encrypted blob in a single file. Writes go to a
// temporary file in the same directory which is then renamed over the target,
// so a reader never observes a partially written blob.
type FileBackend struct {
	path string
}

// NewFileBackend creates a FileBackend for path. The parent directory is
// created if it does not exist.
func NewFileBackend(path string) (*FileBackend, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: token file path cannot be empty", ErrInvalidInput)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("%w: failed to create token directory: %v", apperr.ErrIO, err)
	}
	return &FileBackend{path: path}, nil
}

// Path returns the location of the blob.
func (b *FileBackend) Path() string {
	return b.path
}

// ReadBlob implements Backend.
func (b *FileBackend) ReadBlob(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: no token file at %s", ErrNotFound, b.path)
		}
		return nil, fmt.Errorf("%w: %v", apperr.ErrIO, err)
	}
	return data, nil
}

// WriteBlob implements Backend.
func (b *FileBackend) WriteBlob(ctx context.Context, blob []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(b.path), "."+filepath.Base(b.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: failed to create temp file: %v", apperr.ErrIO, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: failed to write temp file: %v", apperr.ErrIO, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: failed to sync temp file: %v", apperr.ErrIO, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: failed to close temp file: %v", apperr.ErrIO, err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("%w: failed to chmod temp file: %v", apperr.ErrIO, err)
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		return fmt.Errorf("%w: failed to replace token file: %v", apperr.ErrIO, err)
	}
	committed = true

	// Best effort: persist the rename itself.
	if dir, err := os.Open(filepath.Dir(b.path)); err == nil {
		_ = dir.Sync()
		dir.Close()
	}
	return nil
}

// DeleteBlob implements Backend.
func (b *FileBackend) DeleteBlob(ctx context.Context) error {
	if err := os.Remove(b.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %v", apperr.ErrIO, err)
	}
	return nil
}
