package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileBackend_Lifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tokens.bin")
	b, err := NewFileBackend(path)
	require.NoError(t, err)
	assert.Equal(t, path, b.Path())
	ctx := context.Background()

	_, err = b.ReadBlob(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, b.WriteBlob(ctx, []byte("blob-1")))
	data, err := b.ReadBlob(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("blob-1"), data)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, b.WriteBlob(ctx, []byte("blob-2")))
	data, err = b.ReadBlob(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("blob-2"), data)

	// No temp files are left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	require.NoError(t, b.DeleteBlob(ctx))
	_, err = b.ReadBlob(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, b.DeleteBlob(ctx))
}

func TestFileBackend_EmptyPath(t *testing.T) {
	_, err := NewFileBackend("")
	assert.ErrorIs(t, err, ErrInvalidInput)
}
