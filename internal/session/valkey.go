package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valkey-io/valkey-go"

	"postagent-go/internal/apperr"
)

// ValkeyStore shares slots between replicas. Consume uses GETDEL, so a slot
// is handed out at most once even when two replicas race on the same id.
type ValkeyStore struct {
	client valkey.Client
	prefix string
}

// NewValkeyStore creates a ValkeyStore whose keys live under prefix.
func NewValkeyStore(client valkey.Client, prefix string) *ValkeyStore {
	return &ValkeyStore{
		client: client,
		prefix: strings.TrimSuffix(prefix, ":"),
	}
}

func (s *ValkeyStore) key(id string) string {
	return fmt.Sprintf("%s:slot:%s", s.prefix, id)
}

// Create implements Store.
func (s *ValkeyStore) Create(ctx context.Context, slot Slot, ttl time.Duration) (string, error) {
	if err := validateTTL(ttl); err != nil {
		return "", err
	}
	id, err := generateSessionID()
	if err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}

	data, err := json.Marshal(slot)
	if err != nil {
		return "", fmt.Errorf("marshaling slot: %w", err)
	}

	cmd := s.client.B().Set().Key(s.key(id)).Value(valkey.BinaryString(data)).PxMilliseconds(ttl.Milliseconds()).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return "", fmt.Errorf("%w: executing set command: %v", apperr.ErrIO, err)
	}
	return id, nil
}

// Consume implements Store.
func (s *ValkeyStore) Consume(ctx context.Context, id string) (Slot, error) {
	data, err := s.client.Do(ctx, s.client.B().Getdel().Key(s.key(id)).Build()).AsBytes()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return Slot{}, apperr.ErrSlotExpired
		}
		return Slot{}, fmt.Errorf("%w: executing getdel command: %v", apperr.ErrIO, err)
	}

	var slot Slot
	if err := json.Unmarshal(data, &slot); err != nil {
		return Slot{}, fmt.Errorf("%w: unmarshaling slot: %v", apperr.ErrIO, err)
	}
	return slot, nil
}
