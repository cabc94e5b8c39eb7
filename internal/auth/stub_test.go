package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"postagent-go/internal/session"
)

const (
	testClientID     = "abc"
	testClientSecret = "shh"
)

// stubPlatform fakes the token endpoint and one protected resource.
type stubPlatform struct {
	t   *testing.T
	srv *httptest.Server

	mu sync.Mutex
	// validAccess is the access token /resource accepts.
	validAccess string
	// validRefresh is the refresh token the token endpoint accepts.
	validRefresh string
	// nextAccess is handed out by the next successful refresh.
	nextAccess string
	// refreshStatus, when non-zero, makes every refresh fail with that status.
	refreshStatus int
	// refreshOmitsRT drops refresh_token from refresh responses.
	refreshOmitsRT bool
	// resourceStatus, when non-zero, is returned for an authorized request.
	resourceStatus int
	// rejectAll makes /resource answer 401 whatever the token.
	rejectAll bool
	// exchangeDelay stalls the authorization_code grant.
	exchangeDelay time.Duration

	exchangeCalls int
	refreshCalls  int
	resourceCalls int
	lastForm      map[string]string
	lastBasicUser string
	lastBasicPass string
	lastAuthz     string

	// clientID and clientSecret are the credentials the token endpoint accepts.
	clientID     string
	clientSecret string
}

func newStubPlatform(t *testing.T) *stubPlatform {
	t.Helper()

	p := &stubPlatform{
		t:            t,
		validAccess:  "AT1",
		validRefresh: "RT1",
		nextAccess:   "AT2",
		clientID:     testClientID,
		clientSecret: testClientSecret,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", p.handleToken)
	mux.HandleFunc("/resource", p.handleResource)
	p.srv = httptest.NewServer(mux)
	t.Cleanup(p.srv.Close)
	return p
}

func (p *stubPlatform) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	user, pass, _ := r.BasicAuth()

	p.mu.Lock()
	p.lastForm = map[string]string{}
	for k := range r.PostForm {
		p.lastForm[k] = r.PostForm.Get(k)
	}
	p.lastBasicUser, p.lastBasicPass = user, pass
	p.lastAuthz = r.Header.Get("Authorization")
	delay := p.exchangeDelay
	wantCreds := p.clientID + ":" + p.clientSecret
	p.mu.Unlock()

	// BasicAuth splits at the first colon, so compare the joined pair.
	if user+":"+pass != wantCreds {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized_client"})
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		time.Sleep(delay)
		p.mu.Lock()
		p.exchangeCalls++
		p.mu.Unlock()
		if r.PostForm.Get("code") != "validcode" || r.PostForm.Get("code_verifier") == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error":             "invalid_request",
				"error_description": "Value passed for the authorization code was invalid.",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"token_type":    "bearer",
			"access_token":  "AT1",
			"refresh_token": "RT1",
			"expires_in":    7200,
			"scope":         "tweet.read tweet.write users.read offline.access",
		})

	case "refresh_token":
		p.mu.Lock()
		defer p.mu.Unlock()
		p.refreshCalls++
		if p.refreshStatus != 0 {
			writeJSON(w, p.refreshStatus, map[string]string{"error": "invalid_grant"})
			return
		}
		if r.PostForm.Get("refresh_token") != p.validRefresh {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
		p.validAccess = p.nextAccess
		resp := map[string]any{
			"token_type":   "bearer",
			"access_token": p.nextAccess,
			"expires_in":   7200,
		}
		if !p.refreshOmitsRT {
			p.validRefresh = "RT-" + p.nextAccess
			resp["refresh_token"] = p.validRefresh
		}
		writeJSON(w, http.StatusOK, resp)

	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
	}
}

func (p *stubPlatform) handleResource(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resourceCalls++

	if p.rejectAll || r.Header.Get("Authorization") != "Bearer "+p.validAccess {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"title": "Unauthorized", "status": 401})
		return
	}
	if p.resourceStatus != 0 {
		writeJSON(w, p.resourceStatus, map[string]any{"detail": "You are not allowed to create a Tweet with duplicate content."})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"data": map[string]string{"id": "1445880548472328192", "text": "hello"}})
}

func (p *stubPlatform) counts() (exchange, refresh, resource int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exchangeCalls, p.refreshCalls, p.resourceCalls
}

func (p *stubPlatform) flowConfig() FlowConfig {
	return FlowConfig{
		ClientID:        p.clientID,
		ClientSecret:    p.clientSecret,
		AuthURL:         p.srv.URL + "/i/oauth2/authorize",
		TokenURL:        p.srv.URL + "/oauth2/token",
		RedirectURL:     "http://127.0.0.1:3000/api/login/callback",
		ExchangeTimeout: 2 * time.Second,
	}
}

func (p *stubPlatform) newFlow(t *testing.T) (*FlowController, *session.InMemoryStore) {
	t.Helper()

	slots := session.NewInMemoryStore(time.Minute)
	flow, err := NewFlowController(p.flowConfig(), slots, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewFlowController: %v", err)
	}
	return flow, slots
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
