package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"postagent-go/internal/config"
)

const (
	testClientID     = "abc"
	testClientSecret = "shh"
	testAPIKey       = "registration-key"
)

// platformStub fakes the token endpoint, the post endpoint and the webhook
// registration service.
type platformStub struct {
	srv *httptest.Server

	mu          sync.Mutex
	validAccess string
	// tweetStatus, when non-zero, is returned for an authorized post.
	tweetStatus   int
	tweets        []string
	registrations []string
}

func newPlatformStub(t *testing.T) *platformStub {
	t.Helper()

	p := &platformStub{validAccess: "AT1"}
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", p.handleToken)
	mux.HandleFunc("/2/tweets", p.handleTweet)
	mux.HandleFunc("/register", p.handleRegister)
	p.srv = httptest.NewServer(mux)
	t.Cleanup(p.srv.Close)
	return p
}

func (p *platformStub) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if user, pass, _ := r.BasicAuth(); user != testClientID || pass != testClientSecret {
		stubJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized_client"})
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		if r.PostForm.Get("code") != "validcode" || r.PostForm.Get("code_verifier") == "" {
			stubJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
			return
		}
		p.validAccess = "AT1"
		stubJSON(w, http.StatusOK, map[string]any{
			"token_type":    "bearer",
			"access_token":  "AT1",
			"refresh_token": "RT1",
			"expires_in":    7200,
		})
	case "refresh_token":
		if r.PostForm.Get("refresh_token") != "RT1" {
			stubJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
		p.validAccess = "AT2"
		stubJSON(w, http.StatusOK, map[string]any{
			"token_type":    "bearer",
			"access_token":  "AT2",
			"refresh_token": "RT2",
			"expires_in":    7200,
		})
	default:
		stubJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
	}
}

func (p *platformStub) handleTweet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	p.mu.Lock()
	defer p.mu.Unlock()
	if r.Header.Get("Authorization") != "Bearer "+p.validAccess {
		stubJSON(w, http.StatusUnauthorized, map[string]any{"title": "Unauthorized", "status": 401})
		return
	}
	if p.tweetStatus != 0 {
		stubJSON(w, p.tweetStatus, map[string]any{"detail": "You are not allowed to create a Tweet with duplicate content."})
		return
	}
	p.tweets = append(p.tweets, req.Text)
	stubJSON(w, http.StatusCreated, map[string]any{"data": map[string]string{"id": "1445880548472328192", "text": req.Text}})
}

func (p *platformStub) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("api-key") != testAPIKey {
		stubJSON(w, http.StatusUnauthorized, map[string]string{"error": "bad api key"})
		return
	}
	var req struct {
		URL string `json:"url"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	p.mu.Lock()
	p.registrations = append(p.registrations, req.URL)
	p.mu.Unlock()
	stubJSON(w, http.StatusOK, map[string]any{"id": "wh-1", "url": req.URL})
}

func (p *platformStub) postedTweets() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.tweets...)
}

func (p *platformStub) setTweetStatus(status int) {
	p.mu.Lock()
	p.tweetStatus = status
	p.mu.Unlock()
}

// testConfig points every outbound URL at the stub and keeps state in t's
// temp dir.
func (p *platformStub) testConfig(t *testing.T) config.Config {
	t.Helper()

	dir := t.TempDir()
	cfg := config.Default()
	cfg.HTTPPort = 0
	cfg.MetricsPort = 0
	cfg.DBPath = filepath.Join(dir, "test.db")
	cfg.EncryptionKey = strings.Repeat("k", 32)
	cfg.Auth.ClientID = testClientID
	cfg.Auth.ClientSecret = testClientSecret
	cfg.Auth.AuthURL = p.srv.URL + "/i/oauth2/authorize"
	cfg.Auth.TokenURL = p.srv.URL + "/oauth2/token"
	cfg.Auth.RedirectURL = "http://127.0.0.1:8080/api/login/callback"
	cfg.TokenStore.FilePath = filepath.Join(dir, "tokens.enc")
	cfg.Platform.APIBaseURL = p.srv.URL
	return cfg
}

func newTestApp(t *testing.T, p *platformStub, mutate func(*config.Config)) *Application {
	t.Helper()

	cfg := p.testConfig(t)
	if mutate != nil {
		mutate(&cfg)
	}
	require.NoError(t, cfg.Validate())

	app, err := New(&cfg, "test", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { app.Close() })
	return app
}

func stubJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
