package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"postagent-go/internal/apperr"
	"postagent-go/internal/storage"
)

const (
	// slotCookie carries the login slot id between /api/login and its callback.
	slotCookie = "login_slot"
	slotPath   = "/api/login"

	defaultPostsLimit = 20
	maxPostsLimit     = 100
	maxBodyBytes      = 1 << 20
)

// webhookSource is the source recorded for posts that arrive over the webhook.
const webhookSource = "webhook"

type saveTokensRequest struct {
	AccessToken  string `json:"accessToken" validate:"required"`
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type postRequest struct {
	Tweet   string `json:"tweet"`
	Content string `json:"content"`
}

type registerRequest struct {
	URL string `json:"url" validate:"required,url"`
}

type tokenStatus struct {
	Stored     bool       `json:"stored"`
	ObtainedAt *time.Time `json:"obtained_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Expired    bool       `json:"expired"`
	LoginState string     `json:"login_state"`
}

//
// Service Handlers
//

// handleIndex answers with the service banner.
func (a *Application) handleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Social posting agent",
		"version": a.Version,
		"status":  "running",
	})
}

func (a *Application) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

//
// Authentication Handlers
//

// handleLogin starts a login attempt and redirects the browser to the
// platform's consent page. The slot id travels in an HttpOnly cookie.
func (a *Application) handleLogin(w http.ResponseWriter, r *http.Request) {
	start, err := a.Flow.BeginLogin(r.Context())
	if err != nil {
		writeError(w, r, "Failed to start login", err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     slotCookie,
		Value:    start.SlotID,
		Path:     slotPath,
		MaxAge:   int(a.Flow.SlotTTL().Seconds()),
		Expires:  start.ExpiresAt,
		HttpOnly: true,
		Secure:   a.Config.Auth.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, start.RedirectURL, http.StatusFound)
}

// handleAuthCallback completes the login and persists the token pair.
func (a *Application) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	code := query.Get("code")

	var slotID string
	if cookie, err := r.Cookie(slotCookie); err == nil {
		slotID = cookie.Value
	}
	// A callback with a code consumes the slot, so the cookie is useless
	// afterwards whatever the outcome.
	if code != "" {
		a.clearSlotCookie(w)
	}

	pair, err := a.Flow.CompleteLogin(r.Context(), code, slotID, query.Get("state"))
	if err != nil {
		writeError(w, r, "Authorization failed", err)
		return
	}

	if err := a.Tokens.Save(r.Context(), pair); err != nil {
		writeError(w, r, "Failed to save tokens", err)
		return
	}

	if a.Config.Auth.ExposeTokens {
		writeSuccess(w, "Login successful", map[string]string{
			"access_token":  pair.AccessToken,
			"refresh_token": pair.RefreshToken,
		})
		return
	}
	writeSuccess(w, "Login successful, tokens saved", statusOf(pair, a.Flow.State().String(), time.Now()))
}

func (a *Application) clearSlotCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     slotCookie,
		Value:    "",
		Path:     slotPath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.Config.Auth.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

//
// Token Handlers
//

// handleSaveTokens stores a pair obtained out of band.
func (a *Application) handleSaveTokens(w http.ResponseWriter, r *http.Request) {
	var req saveTokensRequest
	if err := a.decode(w, r, &req); err != nil {
		writeError(w, r, "Access token and refresh token are required", err)
		return
	}

	pair := storage.TokenPair{
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		ObtainedAt:   time.Now().UTC(),
	}
	if err := a.Tokens.Save(r.Context(), pair); err != nil {
		writeError(w, r, "Failed to save tokens", err)
		return
	}
	writeSuccess(w, "Tokens saved successfully", nil)
}

// handleTokenStatus reports whether a credential is stored without revealing it.
func (a *Application) handleTokenStatus(w http.ResponseWriter, r *http.Request) {
	pair, err := a.Tokens.Load(r.Context())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeSuccess(w, "No tokens stored", tokenStatus{LoginState: a.Flow.State().String()})
			return
		}
		writeError(w, r, "Failed to read tokens", err)
		return
	}
	writeSuccess(w, "Tokens stored", statusOf(pair, a.Flow.State().String(), time.Now()))
}

// handleClearTokens forgets the stored credential.
func (a *Application) handleClearTokens(w http.ResponseWriter, r *http.Request) {
	if err := a.Tokens.Clear(r.Context()); err != nil {
		writeError(w, r, "Failed to clear tokens", err)
		return
	}
	writeSuccess(w, "Tokens cleared", nil)
}

func statusOf(pair storage.TokenPair, loginState string, now time.Time) tokenStatus {
	st := tokenStatus{Stored: true, LoginState: loginState}
	if !pair.ObtainedAt.IsZero() {
		obtained := pair.ObtainedAt
		st.ObtainedAt = &obtained
	}
	if !pair.ExpiresAt.IsZero() {
		expires := pair.ExpiresAt
		st.ExpiresAt = &expires
		st.Expired = !now.Before(expires)
	}
	return st
}

//
// Webhook Handlers
//

// handleWebhookPost publishes the posted text.
func (a *Application) handleWebhookPost(w http.ResponseWriter, r *http.Request) {
	var req postRequest
	if err := a.decode(w, r, &req); err != nil {
		writeError(w, r, "Tweet content is required", err)
		return
	}
	text := req.Tweet
	if text == "" {
		text = req.Content
	}
	if text == "" {
		writeError(w, r, "Tweet content is required", fmt.Errorf("%w: tweet", apperr.ErrMissingParameter))
		return
	}

	result, err := a.Platform.PostContent(r.Context(), text, webhookSource)
	if err != nil {
		writeError(w, r, "Failed to post tweet", err)
		return
	}
	writeSuccess(w, "Tweet posted successfully", map[string]interface{}{
		"tweetText": result.Text,
		"response":  result,
	})
}

// handleWebhookRegister registers a callback URL with the notification service.
func (a *Application) handleWebhookRegister(w http.ResponseWriter, r *http.Request) {
	if a.Registrar == nil {
		writeJSON(w, http.StatusServiceUnavailable, envelope{
			Success: false,
			Message: "Webhook registration is not configured",
		})
		return
	}

	var req registerRequest
	if err := a.decode(w, r, &req); err != nil {
		writeError(w, r, "URL is required", err)
		return
	}

	data, err := a.Registrar.Register(r.Context(), req.URL)
	if err != nil {
		writeError(w, r, "Failed to register webhook", err)
		return
	}
	writeSuccess(w, "Webhook registered successfully", data)
}

//
// Post Log Handlers
//

// handleListPosts returns the most recent post log entries and totals.
func (a *Application) handleListPosts(w http.ResponseWriter, r *http.Request) {
	limit := defaultPostsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, r, "Invalid limit", fmt.Errorf("%w: limit must be a positive integer", apperr.ErrValidation))
			return
		}
		limit = min(n, maxPostsLimit)
	}

	posts, err := a.Storage.RecentPosts(r.Context(), limit)
	if err != nil {
		writeError(w, r, "Failed to list posts", err)
		return
	}
	stats, err := a.Storage.GetPostStats(r.Context())
	if err != nil {
		writeError(w, r, "Failed to list posts", err)
		return
	}
	writeSuccess(w, "Recent posts", map[string]interface{}{
		"posts": posts,
		"stats": stats,
	})
}

// decode reads a JSON body into v and validates its struct tags. Both
// failures are validation errors.
func (a *Application) decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", apperr.ErrValidation, err)
	}
	if err := a.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrValidation, err)
	}
	return nil
}
