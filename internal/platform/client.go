// Package platform publishes content to the social platform's post endpoint
// through the authenticated caller.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"postagent-go/internal/apperr"
	"postagent-go/internal/auth"
	"postagent-go/internal/metrics"
	"postagent-go/internal/storage"
)

// Caller is the authenticated transport. *auth.Caller implements it.
type Caller interface {
	Do(ctx context.Context, op string, newReq auth.RequestFunc) (*auth.Response, error)
}

// PostLog records publish attempts. *storage.SQLiteStorage implements it.
type PostLog interface {
	RecordPost(ctx context.Context, rec storage.PostRecord) (storage.PostRecord, error)
}

// Alerter tells an operator that a manual login is needed.
type Alerter interface {
	AlertLoginRequired(ctx context.Context, cause error) error
}

// Config configures the post endpoint.
type Config struct {
	APIBaseURL string
	PostPath   string
	// MaxContentLength truncates content to that many characters; zero disables it.
	MaxContentLength int
}

// PostResult describes a published post.
type PostResult struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Truncated bool   `json:"truncated,omitempty"`
}

type postRequest struct {
	Text string `json:"text"`
}

type postResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
}

// Client publishes posts.
type Client struct {
	caller  Caller
	postURL string
	maxLen  int
	log     PostLog
	alerter Alerter
	logger  zerolog.Logger
}

// NewClient creates a new Client. log and alerter may be nil.
func NewClient(cfg Config, caller Caller, log PostLog, alerter Alerter, logger zerolog.Logger) (*Client, error) {
	if cfg.APIBaseURL == "" || cfg.PostPath == "" {
		return nil, fmt.Errorf("%w: api base url and post path are required", apperr.ErrValidation)
	}
	if cfg.MaxContentLength < 0 {
		return nil, fmt.Errorf("%w: max content length cannot be negative", apperr.ErrValidation)
	}
	return &Client{
		caller:  caller,
		postURL: strings.TrimSuffix(cfg.APIBaseURL, "/") + "/" + strings.TrimPrefix(cfg.PostPath, "/"),
		maxLen:  cfg.MaxContentLength,
		log:     log,
		alerter: alerter,
		logger:  logger.With().Str("component", "platform").Logger(),
	}, nil
}

// PostContent publishes content. source names what triggered the post
// (webhook, scheduled) and is kept in the post log.
func (c *Client) PostContent(ctx context.Context, content, source string) (PostResult, error) {
	if strings.TrimSpace(content) == "" {
		return PostResult{}, fmt.Errorf("%w: content", apperr.ErrMissingParameter)
	}

	text, truncated := Truncate(content, c.maxLen)
	if truncated {
		c.logger.Info().Int("max", c.maxLen).Msg("Content truncated")
	}

	result, err := c.post(ctx, text)
	result.Truncated = truncated
	c.record(ctx, text, source, result, err)

	if err != nil {
		metrics.Posts.WithLabelValues(source, "failure").Inc()
		if apperr.RequiresLogin(err) && c.alerter != nil {
			if alertErr := c.alerter.AlertLoginRequired(ctx, err); alertErr != nil {
				c.logger.Error().Err(alertErr).Msg("Failed to send login alert")
			}
		}
		return PostResult{}, err
	}

	metrics.Posts.WithLabelValues(source, "success").Inc()
	c.logger.Info().Str("id", result.ID).Str("source", source).Msg("Post published")
	return result, nil
}

func (c *Client) post(ctx context.Context, text string) (PostResult, error) {
	body, err := json.Marshal(postRequest{Text: text})
	if err != nil {
		return PostResult{}, fmt.Errorf("failed to encode post: %w", err)
	}

	resp, err := c.caller.Do(ctx, "post", func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.postURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return PostResult{}, err
	}

	var decoded postResponse
	if err := json.Unmarshal(resp.Body, &decoded); err != nil || decoded.Data.ID == "" {
		return PostResult{}, apperr.NewUpstream("post", resp.StatusCode, resp.Body,
			fmt.Errorf("%w: unexpected post response", apperr.ErrUpstream))
	}
	return PostResult{ID: decoded.Data.ID, Text: decoded.Data.Text}, nil
}

func (c *Client) record(ctx context.Context, text, source string, result PostResult, postErr error) {
	if c.log == nil {
		return
	}
	rec := storage.PostRecord{Content: text, Source: source, Status: storage.PostStatusPosted, RemoteID: result.ID}
	if postErr != nil {
		rec.Status = storage.PostStatusFailed
		rec.Error = string(apperr.KindOf(postErr))
	}
	if _, err := c.log.RecordPost(context.WithoutCancel(ctx), rec); err != nil {
		c.logger.Error().Err(err).Msg("Failed to record post")
	}
}

// Truncate shortens s to at most max characters. max <= 0 leaves s untouched.
func Truncate(s string, max int) (string, bool) {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s, false
	}
	runes := []rune(s)
	return string(runes[:max]), true
}
