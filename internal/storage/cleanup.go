package storage

import (
	"context"
	"fmt"
	"time"

	"postagent-go/internal/apperr"
)

// CleanupPosts removes post log records older than the retention period
func (s *SQLiteStorage) CleanupPosts(ctx context.Context, retentionPeriod time.Duration) (int64, error) {
	if retentionPeriod <= 0 {
		return 0, fmt.Errorf("%w: retention period must be positive", ErrInvalidInput)
	}

	cutoff := time.Now().UTC().Add(-retentionPeriod)
	result, err := s.db.ExecContext(ctx, `DELETE FROM posts WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to cleanup posts: %v", apperr.ErrIO, err)
	}

	return result.RowsAffected()
}

// CleanupDeadJobs removes jobs that exhausted their retries more than
// retentionPeriod ago.
func (s *SQLiteStorage) CleanupDeadJobs(ctx context.Context, retentionPeriod time.Duration) (int64, error) {
	if retentionPeriod <= 0 {
		return 0, fmt.Errorf("%w: retention period must be positive", ErrInvalidInput)
	}

	cutoff := time.Now().UTC().Add(-retentionPeriod)
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE status = 'dead' AND updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to cleanup dead jobs: %v", apperr.ErrIO, err)
	}

	return result.RowsAffected()
}
