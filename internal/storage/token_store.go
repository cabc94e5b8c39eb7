package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"postagent-go/internal/apperr"
)

// RefreshFunc exchanges the refresh token of current for a new pair.
type RefreshFunc func(ctx context.Context, current TokenPair) (TokenPair, error)

// TokenStore is the single owner of the process-wide token pair. It encrypts
// on the way in, decrypts on the way out, and serialises every
// load-modify-save sequence behind one mutex.
type TokenStore struct {
	mu      sync.Mutex
	backend Backend
	cipher  *Cipher
}

// NewTokenStore creates a new TokenStore.
func NewTokenStore(backend Backend, cipher *Cipher) *TokenStore {
	return &TokenStore{backend: backend, cipher: cipher}
}

// Save encrypts and persists pair, replacing any previous credential.
func (ts *TokenStore) Save(ctx context.Context, pair TokenPair) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.save(ctx, pair)
}

// Load returns the current pair. It fails with ErrNotFound when nothing was
// ever saved and with apperr.ErrDecryption when the stored blob does not open.
func (ts *TokenStore) Load(ctx context.Context) (TokenPair, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.load(ctx)
}

// Clear removes the stored credential.
func (ts *TokenStore) Clear(ctx context.Context) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if err := ts.backend.DeleteBlob(ctx); err != nil {
		return fmt.Errorf("failed to delete token blob: %w", err)
	}
	return nil
}

// Rotate replaces stale with the result of refresh. If another caller already
// rotated stale away, the current pair is returned and refresh is not called.
// A failed refresh leaves the stored pair untouched. A refreshed pair that
// cannot be saved is retried once before failing with ErrRotationNotSaved.
func (ts *TokenStore) Rotate(ctx context.Context, stale TokenPair, refresh RefreshFunc) (TokenPair, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	current, err := ts.load(ctx)
	if err != nil {
		return TokenPair{}, err
	}
	if current.AccessToken != stale.AccessToken {
		return current, nil
	}

	next, err := refresh(ctx, current)
	if err != nil {
		return TokenPair{}, err
	}
	if err := ts.save(ctx, next); err != nil {
		if errors.Is(err, ErrInvalidInput) {
			return TokenPair{}, err
		}
		if err := ts.save(ctx, next); err != nil {
			return TokenPair{}, fmt.Errorf("%w: %w", ErrRotationNotSaved, err)
		}
	}
	return next, nil
}

func (ts *TokenStore) save(ctx context.Context, pair TokenPair) error {
	if err := pair.Validate(); err != nil {
		return err
	}

	blob, err := ts.cipher.Encrypt(pair)
	if err != nil {
		return fmt.Errorf("%w: failed to encrypt token pair: %v", apperr.ErrIO, err)
	}

	if err := ts.backend.WriteBlob(ctx, blob); err != nil {
		return fmt.Errorf("failed to store token blob: %w", err)
	}
	return nil
}

func (ts *TokenStore) load(ctx context.Context) (TokenPair, error) {
	blob, err := ts.backend.ReadBlob(ctx)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, err
		}
		return TokenPair{}, fmt.Errorf("failed to read token blob: %w", err)
	}
	return ts.cipher.Decrypt(blob)
}
