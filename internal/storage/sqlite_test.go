package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStorage_BlobLifecycle(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	_, err := storage.ReadBlob(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, storage.WriteBlob(ctx, []byte("first")))
	blob, err := storage.ReadBlob(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), blob)

	require.NoError(t, storage.WriteBlob(ctx, []byte("second")))
	blob, err = storage.ReadBlob(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), blob)

	var rows int
	require.NoError(t, storage.DB().QueryRow(`SELECT COUNT(*) FROM credentials`).Scan(&rows))
	assert.Equal(t, 1, rows)

	require.NoError(t, storage.DeleteBlob(ctx))
	_, err = storage.ReadBlob(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting twice is fine.
	assert.NoError(t, storage.DeleteBlob(ctx))
}

func TestSQLiteStorage_WriteEmptyBlob(t *testing.T) {
	storage := newTestStorage(t)

	err := storage.WriteBlob(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSQLiteStorage_Posts(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	stats, err := storage.GetPostStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, PostStats{}, stats)

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	first, err := storage.RecordPost(ctx, PostRecord{Content: "hello", Source: "webhook", Status: PostStatusPosted, RemoteID: "111", CreatedAt: base})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)

	_, err = storage.RecordPost(ctx, PostRecord{Content: "oops", Source: "scheduled", Status: PostStatusFailed, Error: "upstream", CreatedAt: base.Add(time.Minute)})
	require.NoError(t, err)

	posts, err := storage.RecentPosts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, "oops", posts[0].Content)
	assert.Equal(t, PostStatusFailed, posts[0].Status)
	assert.Equal(t, "hello", posts[1].Content)
	assert.Equal(t, "111", posts[1].RemoteID)
	assert.True(t, base.Equal(posts[1].CreatedAt))

	limited, err := storage.RecentPosts(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	stats, err = storage.GetPostStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Posted)
	assert.Equal(t, int64(1), stats.Failed)
	require.NotNil(t, stats.LastPostAt)
	assert.True(t, base.Equal(*stats.LastPostAt))
}

func TestSQLiteStorage_RecordPost_Invalid(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	_, err := storage.RecordPost(ctx, PostRecord{Status: PostStatusPosted})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = storage.RecordPost(ctx, PostRecord{Content: "x", Status: "queued"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = storage.RecentPosts(ctx, 0)
	assert.ErrorIs(t, err, ErrInvalidInput)
}
