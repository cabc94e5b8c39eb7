package storage

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"postagent-go/internal/apperr"
)

var (
	ErrInvalidInput = fmt.Errorf("%w: invalid input", apperr.ErrValidation)
	// ErrNotFound is returned by a Backend that holds no credential yet.
	ErrNotFound = apperr.ErrNotFound
	// ErrRotationNotSaved means the platform issued a new pair but it could not
	// be persisted. The old refresh token may already be revoked.
	ErrRotationNotSaved = fmt.Errorf("%w: refreshed token pair was not saved", apperr.ErrIO)
)

// TokenPair is the single process-wide platform credential. Both tokens must
// be valid UTF-8 so the encrypted JSON form round-trips byte for byte.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ObtainedAt   time.Time `json:"obtained_at"`
	// ExpiresAt is zero when the platform did not report a lifetime.
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// Validate checks that both halves of the pair are present and valid UTF-8.
func (p TokenPair) Validate() error {
	if p.AccessToken == "" {
		return fmt.Errorf("%w: access token cannot be empty", ErrInvalidInput)
	}
	if p.RefreshToken == "" {
		return fmt.Errorf("%w: refresh token cannot be empty", ErrInvalidInput)
	}
	if !utf8.ValidString(p.AccessToken) {
		return fmt.Errorf("%w: access token is not valid UTF-8", ErrInvalidInput)
	}
	if !utf8.ValidString(p.RefreshToken) {
		return fmt.Errorf("%w: refresh token is not valid UTF-8", ErrInvalidInput)
	}
	return nil
}

// ExpiresWithin reports whether the access token is known to expire before now+window.
func (p TokenPair) ExpiresWithin(now time.Time, window time.Duration) bool {
	if p.ExpiresAt.IsZero() {
		return false
	}
	return p.ExpiresAt.Before(now.Add(window))
}

// Backend persists exactly one encrypted blob.
type Backend interface {
	// ReadBlob returns ErrNotFound when nothing has been stored yet.
	ReadBlob(ctx context.Context) ([]byte, error)
	// WriteBlob replaces the stored blob atomically.
	WriteBlob(ctx context.Context, blob []byte) error
	DeleteBlob(ctx context.Context) error
}
