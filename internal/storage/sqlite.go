package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"postagent-go/internal/apperr"

	_ "github.com/mattn/go-sqlite3"
)

// credentialSlot is the only row id the credentials table accepts.
const credentialSlot = 1

// SQLiteStorage handles all database operations
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage wraps an open database handle.
func NewSQLiteStorage(db *sql.DB) *SQLiteStorage {
	return &SQLiteStorage{db: db}
}

// DB exposes the handle for packages that keep their own tables (scheduler).
func (s *SQLiteStorage) DB() *sql.DB {
	return s.db
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// ReadBlob implements Backend.
func (s *SQLiteStorage) ReadBlob(ctx context.Context) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT blob FROM credentials WHERE slot = ?", credentialSlot).Scan(&blob)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: no credential stored", ErrNotFound)
		}
		return nil, fmt.Errorf("%w: failed to get credential: %v", apperr.ErrIO, err)
	}
	return blob, nil
}

// WriteBlob implements Backend. The upsert is a single statement, so the
// previous blob is either fully replaced or left as it was.
func (s *SQLiteStorage) WriteBlob(ctx context.Context, blob []byte) error {
	if len(blob) == 0 {
		return fmt.Errorf("%w: blob cannot be empty", ErrInvalidInput)
	}

	query := `
		INSERT INTO credentials (slot, blob) VALUES (?, ?)
		ON CONFLICT(slot) DO UPDATE SET blob = excluded.blob, updated_at = CURRENT_TIMESTAMP
	`
	if _, err := s.db.ExecContext(ctx, query, credentialSlot, blob); err != nil {
		return fmt.Errorf("%w: failed to store credential: %v", apperr.ErrIO, err)
	}
	return nil
}

// DeleteBlob implements Backend.
func (s *SQLiteStorage) DeleteBlob(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM credentials WHERE slot = ?", credentialSlot); err != nil {
		return fmt.Errorf("%w: failed to delete credential: %v", apperr.ErrIO, err)
	}
	return nil
}
