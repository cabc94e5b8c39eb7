package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"postagent-go/internal/apperr"
	"postagent-go/internal/metrics"
	"postagent-go/internal/session"
	"postagent-go/internal/storage"
)

// DefaultScopes are requested when the configuration names none.
var DefaultScopes = []string{"tweet.read", "tweet.write", "users.read", "offline.access"}

// stateBytes is the CSRF state entropy; it is sent as 32 hex characters.
const stateBytes = 16

// LoginState is the position of a login attempt in its state machine.
type LoginState int

const (
	LoginIdle LoginState = iota
	LoginAwaitingCallback
	LoginAuthenticated
	LoginFailed
)

func (s LoginState) String() string {
	switch s {
	case LoginIdle:
		return "idle"
	case LoginAwaitingCallback:
		return "awaiting_callback"
	case LoginAuthenticated:
		return "authenticated"
	case LoginFailed:
		return "failed"
	default:
		return fmt.Sprintf("LoginState(%d)", int(s))
	}
}

// FlowConfig configures the authorization code flow.
type FlowConfig struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	RedirectURL  string
	Scopes       []string
	// SlotTTL bounds how long a login attempt may wait for its callback.
	SlotTTL time.Duration
	// ExchangeTimeout bounds each call to the token endpoint.
	ExchangeTimeout time.Duration
	// VerifierBytes is the PKCE verifier entropy; zero means DefaultVerifierBytes.
	VerifierBytes int
}

// LoginStart is what the entry point needs to redirect the browser.
type LoginStart struct {
	RedirectURL string
	SlotID      string
	ExpiresAt   time.Time
}

// FlowController runs the PKCE authorization flow and the refresh exchange.
type FlowController struct {
	oauth      *oauth2.Config
	slots      session.Store
	pkce       *PKCEGenerator
	slotTTL    time.Duration
	timeout    time.Duration
	httpClient *http.Client
	logger     zerolog.Logger
	now        func() time.Time

	mu        sync.Mutex
	lastState LoginState
}

// NewFlowController creates a new FlowController.
func NewFlowController(cfg FlowConfig, slots session.Store, logger zerolog.Logger) (*FlowController, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("%w: client id cannot be empty", apperr.ErrValidation)
	}
	if cfg.AuthURL == "" || cfg.TokenURL == "" || cfg.RedirectURL == "" {
		return nil, fmt.Errorf("%w: auth url, token url and redirect url are required", apperr.ErrValidation)
	}
	if cfg.SlotTTL == 0 {
		cfg.SlotTTL = session.DefaultTTL
	}
	if cfg.SlotTTL < 0 || cfg.SlotTTL > session.DefaultTTL {
		return nil, session.ErrInvalidTTL
	}
	if cfg.ExchangeTimeout <= 0 {
		cfg.ExchangeTimeout = 10 * time.Second
	}
	if cfg.VerifierBytes == 0 {
		cfg.VerifierBytes = DefaultVerifierBytes
	}
	pkce, err := NewPKCEGeneratorWithSize(cfg.VerifierBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrValidation, err)
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}

	return &FlowController{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		slots:      slots,
		pkce:       pkce,
		slotTTL:    cfg.SlotTTL,
		timeout:    cfg.ExchangeTimeout,
		httpClient: &http.Client{
			Timeout:   cfg.ExchangeTimeout,
			Transport: &basicAuthTransport{
				clientID:     cfg.ClientID,
				clientSecret: cfg.ClientSecret,
				base:         http.DefaultTransport,
			},
		},
		logger:     logger.With().Str("component", "auth_flow").Logger(),
		now:        time.Now,
	}, nil
}

// basicAuthTransport adds the client credentials to every token endpoint
// request as base64(client_id:client_secret), unescaped. oauth2's header
// style form-escapes both halves first.
type basicAuthTransport struct {
	clientID     string
	clientSecret string
	base         http.RoundTripper
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.SetBasicAuth(t.clientID, t.clientSecret)
	return t.base.RoundTrip(req)
}

// SlotTTL returns the lifetime of a login attempt.
func (f *FlowController) SlotTTL() time.Duration {
	return f.slotTTL
}

// State returns the state of the most recent login attempt.
func (f *FlowController) State() LoginState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastState
}

func (f *FlowController) setState(s LoginState) {
	f.mu.Lock()
	f.lastState = s
	f.mu.Unlock()
}

// BeginLogin creates a login slot holding a fresh PKCE verifier and CSRF state
// and returns the authorization URL the browser must be sent to.
func (f *FlowController) BeginLogin(ctx context.Context) (LoginStart, error) {
	pair := f.pkce.Generate()
	state := randomHex(stateBytes)
	now := f.now()

	slotID, err := f.slots.Create(ctx, session.Slot{
		Verifier:  pair.Verifier,
		State:     state,
		CreatedAt: now,
	}, f.slotTTL)
	if err != nil {
		return LoginStart{}, fmt.Errorf("failed to store login slot: %w", err)
	}

	authURL := f.oauth.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", pair.Challenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)

	f.setState(LoginAwaitingCallback)
	f.logger.Info().Time("expires_at", now.Add(f.slotTTL)).Msg("Login started")

	return LoginStart{
		RedirectURL: authURL,
		SlotID:      slotID,
		ExpiresAt:   now.Add(f.slotTTL),
	}, nil
}

// CompleteLogin validates the callback against the login slot and exchanges
// the code for a token pair. The slot is consumed by the first call whatever
// the outcome, so a failed attempt has to start over with BeginLogin. Saving
// the returned pair is left to the caller.
func (f *FlowController) CompleteLogin(ctx context.Context, code, slotID, returnedState string) (storage.TokenPair, error) {
	pair, err := f.completeLogin(ctx, code, slotID, returnedState)
	if err != nil {
		f.setState(LoginFailed)
		metrics.LoginAttempts.WithLabelValues(string(apperr.KindOf(err))).Inc()
		f.logger.Warn().Str("kind", string(apperr.KindOf(err))).Err(err).Msg("Login failed")
		return storage.TokenPair{}, err
	}

	f.setState(LoginAuthenticated)
	metrics.LoginAttempts.WithLabelValues("success").Inc()
	f.logger.Info().Msg("Login completed")
	return pair, nil
}

func (f *FlowController) completeLogin(ctx context.Context, code, slotID, returnedState string) (storage.TokenPair, error) {
	if code == "" {
		return storage.TokenPair{}, fmt.Errorf("%w: code", apperr.ErrMissingParameter)
	}
	if slotID == "" {
		return storage.TokenPair{}, fmt.Errorf("%w: no login session", apperr.ErrSlotExpired)
	}

	slot, err := f.slots.Consume(ctx, slotID)
	if err != nil {
		return storage.TokenPair{}, err
	}
	if slot.Verifier == "" {
		return storage.TokenPair{}, fmt.Errorf("%w: code verifier", apperr.ErrMissingParameter)
	}
	if subtle.ConstantTimeCompare([]byte(slot.State), []byte(returnedState)) != 1 {
		return storage.TokenPair{}, apperr.ErrStateMismatch
	}

	ctx, cancel := f.exchangeContext(ctx)
	defer cancel()

	start := time.Now()
	tok, err := f.oauth.Exchange(ctx, code,
		oauth2.VerifierOption(slot.Verifier),
		oauth2.SetAuthURLParam("client_id", f.oauth.ClientID),
		oauth2.SetAuthURLParam("client_secret", f.oauth.ClientSecret),
	)
	metrics.UpstreamDuration.WithLabelValues("token_exchange").Observe(time.Since(start).Seconds())
	if err != nil {
		return storage.TokenPair{}, exchangeError("token exchange", err, apperr.ErrExchangeFailed)
	}
	if tok.RefreshToken == "" {
		return storage.TokenPair{}, apperr.NewUpstream("token exchange", 0, nil,
			fmt.Errorf("%w: response carries no refresh token", apperr.ErrExchangeFailed))
	}

	return f.tokenPair(tok), nil
}

// Refresh exchanges refreshToken for a new pair. When the token endpoint
// rejects the refresh token with a 4xx status the error is ErrAuthExpired;
// anything else is an UpstreamError. A response without a new refresh token
// keeps the old one.
func (f *FlowController) Refresh(ctx context.Context, refreshToken string) (storage.TokenPair, error) {
	if refreshToken == "" {
		return storage.TokenPair{}, fmt.Errorf("%w: refresh token", apperr.ErrMissingParameter)
	}

	ctx, cancel := f.exchangeContext(ctx)
	defer cancel()

	start := time.Now()
	tok, err := f.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	metrics.UpstreamDuration.WithLabelValues("token_refresh").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues("failure").Inc()
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil &&
			re.Response.StatusCode >= 400 && re.Response.StatusCode < 500 {
			ue := apperr.NewUpstream("token refresh", re.Response.StatusCode, re.Body, nil)
			return storage.TokenPair{}, fmt.Errorf("%w: %w", apperr.ErrAuthExpired, ue)
		}
		return storage.TokenPair{}, exchangeError("token refresh", err, nil)
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}

	metrics.TokenRefreshes.WithLabelValues("success").Inc()
	f.logger.Info().Time("expires_at", tok.Expiry).Msg("Token refreshed")
	return f.tokenPair(tok), nil
}

// exchangeContext detaches the exchange from the caller's cancellation and
// bounds it by the exchange timeout instead.
func (f *FlowController) exchangeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
	return context.WithValue(ctx, oauth2.HTTPClient, f.httpClient), cancel
}

func (f *FlowController) tokenPair(tok *oauth2.Token) storage.TokenPair {
	return storage.TokenPair{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ObtainedAt:   f.now().UTC(),
		ExpiresAt:    tok.Expiry.UTC(),
	}
}

// exchangeError converts an oauth2 failure into an UpstreamError carrying the
// token endpoint's body verbatim. cause, when set, is wrapped so the specific
// sentinel stays matchable.
func exchangeError(op string, err error, cause error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		if cause == nil {
			cause = apperr.ErrUpstream
		}
		return apperr.NewUpstream(op, status, re.Body, cause)
	}
	if cause != nil {
		return apperr.NewUpstream(op, 0, nil, fmt.Errorf("%w: %v", cause, err))
	}
	return apperr.NewUpstream(op, 0, nil, err)
}
