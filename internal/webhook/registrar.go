// Package webhook registers this service with the notification service that
// calls it back, and verifies those callbacks.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"postagent-go/internal/apperr"
)

// Registrar registers callback URLs with the notification service.
type Registrar struct {
	endpoint string
	apiKey   string
	client   *http.Client
	logger   zerolog.Logger
}

// NewRegistrar creates a Registrar posting to endpoint with apiKey.
func NewRegistrar(endpoint, apiKey string, timeout time.Duration, logger zerolog.Logger) (*Registrar, error) {
	if endpoint == "" || apiKey == "" {
		return nil, fmt.Errorf("%w: registration url and api key are required", apperr.ErrValidation)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Registrar{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "webhook_registrar").Logger(),
	}, nil
}

// Register asks the notification service to deliver to callbackURL and
// returns its response verbatim.
func (r *Registrar) Register(ctx context.Context, callbackURL string) (json.RawMessage, error) {
	if callbackURL == "" {
		return nil, fmt.Errorf("%w: url", apperr.ErrMissingParameter)
	}
	u, err := url.Parse(callbackURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: url must be an absolute http(s) url", apperr.ErrValidation)
	}

	body, err := json.Marshal(map[string]string{"url": callbackURL})
	if err != nil {
		return nil, fmt.Errorf("failed to encode registration: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", r.apiKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, apperr.NewUpstream("webhook registration", 0, nil, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apperr.NewUpstream("webhook registration", resp.StatusCode, nil, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperr.NewUpstream("webhook registration", resp.StatusCode, payload, nil)
	}

	r.logger.Info().Str("url", callbackURL).Msg("Webhook registered")
	if !json.Valid(payload) {
		quoted, _ := json.Marshal(string(payload))
		return quoted, nil
	}
	return payload, nil
}
