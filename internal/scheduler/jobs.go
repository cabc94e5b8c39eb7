package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"postagent-go/internal/platform"
)

// Job types.
const (
	JobTypePost         = "post"
	JobTypeTokenRefresh = "token_refresh"
	JobTypeCleanup      = "cleanup"
)

// Default job names.
const (
	PostJobName         = "scheduled_post"
	TokenRefreshJobName = "token_refresh"
	CleanupJobName      = "cleanup"
)

// PostSource is the value recorded in the post log for scheduled posts.
const PostSource = "scheduled"

// ContentSource produces the text of the next post.
type ContentSource interface {
	Next(ctx context.Context) (string, error)
}

// Poster publishes a post.
type Poster interface {
	PostContent(ctx context.Context, content, source string) (platform.PostResult, error)
}

// PostJobPayload is the payload of a post job. Content, when set, is posted
// as is; otherwise the content source is asked for the next post.
type PostJobPayload struct {
	Content string `json:"content,omitempty"`
}

// NewPostHandler returns the handler for post jobs.
func NewPostHandler(source ContentSource, poster Poster, logger zerolog.Logger) JobHandler {
	return func(ctx context.Context, job *Job) error {
		var payload PostJobPayload
		if err := decodePayload(job.Payload, &payload); err != nil {
			return err
		}

		text := payload.Content
		if text == "" {
			if source == nil {
				return fmt.Errorf("post job %s has no content and no content source is configured", job.Name)
			}
			next, err := source.Next(ctx)
			if err != nil {
				return fmt.Errorf("failed to get content: %w", err)
			}
			text = next
		}

		result, err := poster.PostContent(ctx, text, PostSource)
		if err != nil {
			return err
		}
		logger.Info().Str("job", job.Name).Str("post_id", result.ID).Bool("truncated", result.Truncated).
			Msg("Scheduled post published")
		return nil
	}
}

// TokenRefresher runs the proactive refresh.
type TokenRefresher interface {
	HandleRefreshJob(ctx context.Context, payload []byte) error
}

// NewTokenRefreshHandler returns the handler for token refresh jobs.
func NewTokenRefreshHandler(refresher TokenRefresher) JobHandler {
	return func(ctx context.Context, job *Job) error {
		return refresher.HandleRefreshJob(ctx, job.Payload)
	}
}

// Cleaner prunes old records.
type Cleaner interface {
	CleanupPosts(ctx context.Context, retention time.Duration) (int64, error)
	CleanupDeadJobs(ctx context.Context, retention time.Duration) (int64, error)
}

// CleanupJobPayload is the payload of a cleanup job. Retentions are Go
// duration strings such as "720h".
type CleanupJobPayload struct {
	PostRetention string `json:"post_retention"`
	JobRetention  string `json:"job_retention,omitempty"`
}

// NewCleanupHandler returns the handler for cleanup jobs.
func NewCleanupHandler(cleaner Cleaner, logger zerolog.Logger) JobHandler {
	return func(ctx context.Context, job *Job) error {
		var payload CleanupJobPayload
		if err := decodePayload(job.Payload, &payload); err != nil {
			return err
		}

		postRetention, err := time.ParseDuration(payload.PostRetention)
		if err != nil {
			return fmt.Errorf("invalid post retention %q: %w", payload.PostRetention, err)
		}
		jobRetention := postRetention
		if payload.JobRetention != "" {
			if jobRetention, err = time.ParseDuration(payload.JobRetention); err != nil {
				return fmt.Errorf("invalid job retention %q: %w", payload.JobRetention, err)
			}
		}

		posts, err := cleaner.CleanupPosts(ctx, postRetention)
		if err != nil {
			return err
		}
		jobs, err := cleaner.CleanupDeadJobs(ctx, jobRetention)
		if err != nil {
			return err
		}
		logger.Info().Int64("posts", posts).Int64("dead_jobs", jobs).Msg("Cleanup finished")
		return nil
	}
}

func decodePayload(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to unmarshal job payload: %w", err)
	}
	return nil
}
