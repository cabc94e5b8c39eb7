package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"postagent-go/internal/apperr"
)

// PostStatus is the outcome of a publish attempt.
type PostStatus string

const (
	PostStatusPosted PostStatus = "posted"
	PostStatusFailed PostStatus = "failed"
)

// PostRecord is one row of the post log.
type PostRecord struct {
	ID        string     `json:"id"`
	Content   string     `json:"content"`
	Source    string     `json:"source"`
	Status    PostStatus `json:"status"`
	RemoteID  string     `json:"remote_id,omitempty"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// PostStats summarises the post log.
type PostStats struct {
	Posted     int64      `json:"posted"`
	Failed     int64      `json:"failed"`
	LastPostAt *time.Time `json:"last_post_at,omitempty"`
}

// RecordPost appends rec to the post log. ID and CreatedAt are filled in when empty.
func (s *SQLiteStorage) RecordPost(ctx context.Context, rec PostRecord) (PostRecord, error) {
	if rec.Content == "" {
		return PostRecord{}, fmt.Errorf("%w: content cannot be empty", ErrInvalidInput)
	}
	if rec.Status != PostStatusPosted && rec.Status != PostStatusFailed {
		return PostRecord{}, fmt.Errorf("%w: unknown post status %q", ErrInvalidInput, rec.Status)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO posts (id, content, source, status, remote_id, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Content, rec.Source, string(rec.Status), rec.RemoteID, rec.Error, rec.CreatedAt)
	if err != nil {
		return PostRecord{}, fmt.Errorf("%w: failed to record post: %v", apperr.ErrIO, err)
	}
	return rec, nil
}

// RecentPosts returns up to limit records, newest first.
func (s *SQLiteStorage) RecentPosts(ctx context.Context, limit int) ([]PostRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", ErrInvalidInput)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, source, status, remote_id, error, created_at
		FROM posts
		ORDER BY created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query posts: %v", apperr.ErrIO, err)
	}
	defer rows.Close()

	var posts []PostRecord
	for rows.Next() {
		var (
			rec    PostRecord
			status string
		)
		if err := rows.Scan(&rec.ID, &rec.Content, &rec.Source, &status, &rec.RemoteID, &rec.Error, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: failed to scan post: %v", apperr.ErrIO, err)
		}
		rec.Status = PostStatus(status)
		posts = append(posts, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to iterate posts: %v", apperr.ErrIO, err)
	}
	return posts, nil
}

// GetPostStats counts the post log by outcome.
func (s *SQLiteStorage) GetPostStats(ctx context.Context) (PostStats, error) {
	var stats PostStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN status = 'posted' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0)
		FROM posts`).Scan(&stats.Posted, &stats.Failed)
	if err != nil {
		return PostStats{}, fmt.Errorf("%w: failed to count posts: %v", apperr.ErrIO, err)
	}

	var last time.Time
	err = s.db.QueryRowContext(ctx, `
		SELECT created_at FROM posts WHERE status = 'posted'
		ORDER BY created_at DESC LIMIT 1`).Scan(&last)
	if err == nil {
		stats.LastPostAt = &last
	} else if !errors.Is(err, sql.ErrNoRows) {
		return PostStats{}, fmt.Errorf("%w: failed to read last post: %v", apperr.ErrIO, err)
	}
	return stats, nil
}
