package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"postagent-go/internal/storage"
)

// DefaultRefreshWindow is how close to expiry a token must be before the
// proactive refresh replaces it.
const DefaultRefreshWindow = 5 * time.Minute

// TokenRefreshJob is the payload of a scheduled refresh.
type TokenRefreshJob struct {
	// Force refreshes even when the token is not close to expiry.
	Force bool `json:"force,omitempty"`
}

// TokenRefreshService refreshes the stored pair before it expires, so
// scheduled posts rarely have to take the 401 path.
type TokenRefreshService struct {
	store     CredentialStore
	refresher Refresher
	window    time.Duration
	logger    zerolog.Logger
	now       func() time.Time
}

// NewTokenRefreshService creates a new TokenRefreshService.
func NewTokenRefreshService(store CredentialStore, refresher Refresher, window time.Duration, logger zerolog.Logger) *TokenRefreshService {
	if window <= 0 {
		window = DefaultRefreshWindow
	}
	return &TokenRefreshService{
		store:     store,
		refresher: refresher,
		window:    window,
		logger:    logger.With().Str("component", "token_refresh").Logger(),
		now:       time.Now,
	}
}

// RefreshIfDue refreshes the stored pair when it expires within the window.
// It reports whether a refresh took place. A store without credentials is not
// an error: there is nothing to keep alive until someone logs in.
func (s *TokenRefreshService) RefreshIfDue(ctx context.Context, force bool) (bool, error) {
	pair, err := s.store.Load(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.logger.Debug().Msg("No credential stored, skipping refresh")
			return false, nil
		}
		return false, fmt.Errorf("failed to load token pair: %w", err)
	}

	if !force && !pair.ExpiresWithin(s.now(), s.window) {
		return false, nil
	}

	_, err = s.store.Rotate(ctx, pair, func(ctx context.Context, current storage.TokenPair) (storage.TokenPair, error) {
		return s.refresher.Refresh(ctx, current.RefreshToken)
	})
	if err != nil {
		return false, fmt.Errorf("failed to refresh token: %w", err)
	}
	return true, nil
}

// CreateRefreshJob creates a job payload for token refresh
func (s *TokenRefreshService) CreateRefreshJob(force bool) ([]byte, error) {
	return json.Marshal(TokenRefreshJob{Force: force})
}

// HandleRefreshJob handles a token refresh job
func (s *TokenRefreshService) HandleRefreshJob(ctx context.Context, payload []byte) error {
	var job TokenRefreshJob
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &job); err != nil {
			return fmt.Errorf("failed to unmarshal job payload: %w", err)
		}
	}

	refreshed, err := s.RefreshIfDue(ctx, job.Force)
	if err != nil {
		return err
	}
	if refreshed {
		s.logger.Info().Msg("Proactive token refresh completed")
	}
	return nil
}

// GetRefreshSchedule returns the default cron schedule for token refresh
func (s *TokenRefreshService) GetRefreshSchedule() string {
	// Run every hour at minute 0
	return "0 * * * *"
}
