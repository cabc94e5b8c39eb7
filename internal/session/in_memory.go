package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"postagent-go/internal/apperr"
)

// InMemoryStore is a single-process Store backed by go-cache.
type InMemoryStore struct {
	// mu makes the get-then-delete in Consume atomic.
	mu    sync.Mutex
	cache *cache.Cache
	now   func() time.Time
}

type entry struct {
	slot    Slot
	expires time.Time
}

// NewInMemoryStore creates a new InMemoryStore. Expired slots are evicted
// every cleanupInterval; Consume never returns one even before eviction.
func NewInMemoryStore(cleanupInterval time.Duration) *InMemoryStore {
	return &InMemoryStore{
		cache: cache.New(DefaultTTL, cleanupInterval),
		now:   time.Now,
	}
}

// Create implements Store.
func (s *InMemoryStore) Create(ctx context.Context, slot Slot, ttl time.Duration) (string, error) {
	if err := validateTTL(ttl); err != nil {
		return "", err
	}
	id, err := generateSessionID()
	if err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Set(id, entry{slot: slot, expires: s.now().Add(ttl)}, ttl)
	return id, nil
}

// Consume implements Store.
func (s *InMemoryStore) Consume(ctx context.Context, id string) (Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.cache.Get(id)
	if !ok {
		return Slot{}, apperr.ErrSlotExpired
	}
	s.cache.Delete(id)

	e := v.(entry)
	if !s.now().Before(e.expires) {
		return Slot{}, apperr.ErrSlotExpired
	}
	return e.slot, nil
}

// Len returns the number of slots currently held, expired ones included.
func (s *InMemoryStore) Len() int {
	return s.cache.ItemCount()
}
