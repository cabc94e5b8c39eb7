// Package session keeps Login Session Slots: the PKCE verifier and CSRF state
// of a login attempt, between the redirect to the platform and the callback.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"postagent-go/internal/apperr"
)

// DefaultTTL is the lifetime of a slot when none is configured. It is also
// the upper bound accepted by NewInMemoryStore and NewValkeyStore.
const DefaultTTL = 5 * time.Minute

// ErrInvalidTTL is returned when a slot would outlive DefaultTTL.
var ErrInvalidTTL = fmt.Errorf("%w: slot ttl must be positive and at most %s", apperr.ErrValidation, DefaultTTL)

// Slot is the ephemeral state of one login attempt.
type Slot struct {
	Verifier  string    `json:"verifier"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

// Store defines the interface for slot management. Consume is read-once:
// a second Consume of the same id fails with apperr.ErrSlotExpired, as does
// a Consume after the TTL has elapsed.
type Store interface {
	// Create stores slot and returns its newly generated id.
	Create(ctx context.Context, slot Slot, ttl time.Duration) (string, error)
	// Consume returns and removes the slot.
	Consume(ctx context.Context, id string) (Slot, error)
}

func validateTTL(ttl time.Duration) error {
	if ttl <= 0 || ttl > DefaultTTL {
		return ErrInvalidTTL
	}
	return nil
}

// generateSessionID creates a new random session ID.
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
