package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"postagent-go/internal/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSlot() Slot {
	return Slot{Verifier: "verifier", State: "0123456789abcdef0123456789abcdef", CreatedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func TestInMemoryStore_CreateConsume(t *testing.T) {
	store := NewInMemoryStore(time.Minute)
	ctx := context.Background()

	id, err := store.Create(ctx, testSlot(), DefaultTTL)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, 1, store.Len())

	slot, err := store.Consume(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, testSlot(), slot)
	assert.Equal(t, 0, store.Len())
}

func TestInMemoryStore_ReadOnce(t *testing.T) {
	store := NewInMemoryStore(time.Minute)
	ctx := context.Background()

	id, err := store.Create(ctx, testSlot(), DefaultTTL)
	require.NoError(t, err)

	_, err = store.Consume(ctx, id)
	require.NoError(t, err)

	_, err = store.Consume(ctx, id)
	assert.ErrorIs(t, err, apperr.ErrSlotExpired)
	assert.ErrorIs(t, err, apperr.ErrProtocol)
}

func TestInMemoryStore_Expired(t *testing.T) {
	store := NewInMemoryStore(time.Minute)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	id, err := store.Create(ctx, testSlot(), time.Minute)
	require.NoError(t, err)

	now = now.Add(time.Minute)
	_, err = store.Consume(ctx, id)
	assert.ErrorIs(t, err, apperr.ErrSlotExpired)
}

func TestInMemoryStore_UnknownID(t *testing.T) {
	store := NewInMemoryStore(time.Minute)

	_, err := store.Consume(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, apperr.ErrSlotExpired)

	_, err = store.Consume(context.Background(), "")
	assert.ErrorIs(t, err, apperr.ErrSlotExpired)
}

func TestInMemoryStore_InvalidTTL(t *testing.T) {
	store := NewInMemoryStore(time.Minute)

	for _, ttl := range []time.Duration{0, -time.Second, DefaultTTL + time.Second} {
		_, err := store.Create(context.Background(), testSlot(), ttl)
		assert.ErrorIs(t, err, ErrInvalidTTL, "ttl %s", ttl)
	}
}

func TestInMemoryStore_ConcurrentSlotsAreIndependent(t *testing.T) {
	store := NewInMemoryStore(time.Minute)
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			slot := testSlot()
			slot.Verifier = string(rune('a' + i%26))
			id, err := store.Create(ctx, slot, DefaultTTL)
			if !assert.NoError(t, err) {
				return
			}
			got, err := store.Consume(ctx, id)
			assert.NoError(t, err)
			assert.Equal(t, slot, got)
		}(i)
	}
	wg.Wait()
}

func TestInMemoryStore_ConcurrentConsumeHandsOutOnce(t *testing.T) {
	store := NewInMemoryStore(time.Minute)
	ctx := context.Background()

	id, err := store.Create(ctx, testSlot(), DefaultTTL)
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Consume(ctx, id); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}
