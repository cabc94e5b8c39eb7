package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"postagent-go/internal/apperr"
	"postagent-go/internal/metrics"
	"postagent-go/internal/storage"
)

// maxResponseBytes caps how much of a platform response is kept.
const maxResponseBytes = 1 << 20

// CallState is a step of an authenticated call:
//
//	Sent -> AuthFailed -> Refreshed -> Retried -> Success | AuthExpired
//
// A call that never sees a 401 goes from Sent straight to Success or Failed.
type CallState int

const (
	CallSent CallState = iota
	CallAuthFailed
	CallRefreshed
	CallRetried
	CallSuccess
	CallAuthExpired
	CallFailed
)

func (s CallState) String() string {
	switch s {
	case CallSent:
		return "sent"
	case CallAuthFailed:
		return "auth_failed"
	case CallRefreshed:
		return "refreshed"
	case CallRetried:
		return "retried"
	case CallSuccess:
		return "success"
	case CallAuthExpired:
		return "auth_expired"
	case CallFailed:
		return "failed"
	default:
		return fmt.Sprintf("CallState(%d)", int(s))
	}
}

// CredentialStore is the part of storage.TokenStore the caller needs.
type CredentialStore interface {
	Load(ctx context.Context) (storage.TokenPair, error)
	Rotate(ctx context.Context, stale storage.TokenPair, refresh storage.RefreshFunc) (storage.TokenPair, error)
}

// Refresher performs the refresh token exchange.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (storage.TokenPair, error)
}

// RequestFunc builds the outbound request. It is called once per attempt so
// the body can be sent again on retry. The bearer header is set by the caller.
type RequestFunc func(ctx context.Context) (*http.Request, error)

// Response is a successful platform response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Caller issues requests with the stored access token, refreshing it at most
// once per call when the platform answers 401.
type Caller struct {
	store     CredentialStore
	refresher Refresher
	client    *http.Client
	logger    zerolog.Logger
	observer  func(op string, state CallState)
}

// NewCaller creates a new Caller. client carries the request timeout.
func NewCaller(store CredentialStore, refresher Refresher, client *http.Client, logger zerolog.Logger) *Caller {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Caller{
		store:     store,
		refresher: refresher,
		client:    client,
		logger:    logger.With().Str("component", "auth_caller").Logger(),
	}
}

// OnTransition registers fn to be called every time a call enters a state.
func (c *Caller) OnTransition(fn func(op string, state CallState)) {
	c.observer = fn
}

// Do runs newReq with the current access token. It fails with
// apperr.ErrNoCredentials when no usable pair is stored, apperr.ErrAuthExpired
// when the platform still rejects the token after one refresh and retry, and an
// *apperr.UpstreamError for any other failure.
func (c *Caller) Do(ctx context.Context, op string, newReq RequestFunc) (*Response, error) {
	pair, err := c.store.Load(ctx)
	if err != nil {
		c.finish(op, CallFailed)
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, apperr.ErrCrypto) {
			return nil, fmt.Errorf("%w: %w", apperr.ErrNoCredentials, err)
		}
		return nil, err
	}

	c.enter(op, CallSent)
	resp, err := c.send(ctx, op, newReq, pair.AccessToken)
	if err != nil {
		c.finish(op, CallFailed)
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return c.complete(op, resp)
	}

	c.enter(op, CallAuthFailed)
	c.logger.Info().Str("op", op).Msg("Access token rejected, refreshing")

	next, err := c.store.Rotate(ctx, pair, func(ctx context.Context, current storage.TokenPair) (storage.TokenPair, error) {
		return c.refresher.Refresh(ctx, current.RefreshToken)
	})
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrAuthExpired):
			c.finish(op, CallAuthExpired)
		case errors.Is(err, storage.ErrNotFound), errors.Is(err, apperr.ErrCrypto):
			c.finish(op, CallFailed)
			return nil, fmt.Errorf("%w: %w", apperr.ErrNoCredentials, err)
		case errors.Is(err, storage.ErrRotationNotSaved):
			c.logger.Error().Err(err).Str("op", op).Str("kind", string(apperr.KindOf(err))).
				Msg("Refreshed token pair could not be saved, re-login may be required")
			c.finish(op, CallFailed)
		default:
			c.finish(op, CallFailed)
		}
		return nil, err
	}
	c.enter(op, CallRefreshed)

	resp, err = c.send(ctx, op, newReq, next.AccessToken)
	c.enter(op, CallRetried)
	if err != nil {
		c.finish(op, CallFailed)
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		c.finish(op, CallAuthExpired)
		ue := apperr.NewUpstream(op, resp.StatusCode, resp.Body, nil)
		return nil, fmt.Errorf("%w: %w", apperr.ErrAuthExpired, ue)
	}
	return c.complete(op, resp)
}

func (c *Caller) complete(op string, resp *Response) (*Response, error) {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.finish(op, CallFailed)
		return nil, apperr.NewUpstream(op, resp.StatusCode, resp.Body, nil)
	}
	c.finish(op, CallSuccess)
	return resp, nil
}

func (c *Caller) send(ctx context.Context, op string, newReq RequestFunc, accessToken string) (*Response, error) {
	req, err := newReq(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", op, err)
	}
	(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}).SetAuthHeader(req)

	start := time.Now()
	resp, err := c.client.Do(req)
	metrics.UpstreamDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, apperr.NewUpstream(op, 0, nil, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, apperr.NewUpstream(op, resp.StatusCode, nil, err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

func (c *Caller) enter(op string, state CallState) {
	if c.observer != nil {
		c.observer(op, state)
	}
}

func (c *Caller) finish(op string, state CallState) {
	c.enter(op, state)
	metrics.AuthenticatedCalls.WithLabelValues(state.String()).Inc()
	if state != CallSuccess {
		c.logger.Warn().Str("op", op).Str("state", state.String()).Msg("Authenticated call did not succeed")
	}
}
