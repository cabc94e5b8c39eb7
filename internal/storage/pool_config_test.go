package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "test.db")

	s, err := OpenDatabase(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "postagent.db", cfg.Path)
	assert.Equal(t, 4, cfg.MaxOpenConns)
	assert.Equal(t, 2, cfg.MaxIdleConns)
	assert.Equal(t, time.Hour, cfg.ConnMaxLifetime)
	assert.Equal(t, 5*time.Second, cfg.BusyTimeout)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"empty path", func(c *Config) { c.Path = "" }},
		{"zero open conns", func(c *Config) { c.MaxOpenConns = 0 }},
		{"negative idle conns", func(c *Config) { c.MaxIdleConns = -1 }},
		{"idle above open", func(c *Config) { c.MaxIdleConns = c.MaxOpenConns + 1 }},
		{"zero lifetime", func(c *Config) { c.ConnMaxLifetime = 0 }},
		{"zero busy timeout", func(c *Config) { c.BusyTimeout = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidInput)
		})
	}
}

func TestOpenDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	cfg := DefaultConfig()
	cfg.Path = dbPath

	storage, err := OpenDatabase(context.Background(), cfg)
	require.NoError(t, err)
	defer storage.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err)

	// Schema is in place.
	_, err = storage.ReadBlob(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpenDatabase_InvalidPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Path = "/nonexistent/directory/test.db"

	_, err := OpenDatabase(context.Background(), cfg)
	assert.Error(t, err)
}

func TestOpenDatabase_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxOpenConns = 0

	_, err := OpenDatabase(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrInvalidInput)
}
