package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"postagent-go/internal/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMessage struct {
	chatID string
	text   string
}

type fakeBotAPI struct {
	mu   sync.Mutex
	sent []sentMessage
}

func newFakeBotAPI(t *testing.T) (*fakeBotAPI, *httptest.Server) {
	t.Helper()

	f := &fakeBotAPI{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			io.WriteString(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Agent","username":"postagent_bot"}}`)
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			require.NoError(t, r.ParseForm())
			f.mu.Lock()
			f.sent = append(f.sent, sentMessage{chatID: r.FormValue("chat_id"), text: r.FormValue("text")})
			f.mu.Unlock()
			io.WriteString(w, `{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"},"text":"ok"}}`)
		default:
			io.WriteString(w, `{"ok":false,"error_code":404,"description":"Not Found"}`)
		}
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeBotAPI) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

func newTestService(t *testing.T, srv *httptest.Server, chatID int64) *Service {
	t.Helper()

	s, err := NewService(Config{
		BotToken:    "123:abc",
		ChatID:      chatID,
		LoginURL:    "https://agent.example.com/api/login",
		APIEndpoint: srv.URL + "/bot%s/%s",
	}, zerolog.Nop())
	require.NoError(t, err)
	return s
}

func TestService_AlertLoginRequired(t *testing.T) {
	api, srv := newFakeBotAPI(t)
	s := newTestService(t, srv, 42)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	cause := fmt.Errorf("%w: retry rejected", apperr.ErrAuthExpired)
	require.NoError(t, s.AlertLoginRequired(context.Background(), cause))

	msgs := api.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "42", msgs[0].chatID)
	assert.Contains(t, msgs[0].text, "auth_expired")
	assert.Contains(t, msgs[0].text, "https://agent.example.com/api/login")

	// Inside the cooldown nothing is sent.
	now = now.Add(time.Minute)
	require.NoError(t, s.AlertLoginRequired(context.Background(), cause))
	assert.Len(t, api.messages(), 1)

	now = now.Add(DefaultAlertCooldown)
	require.NoError(t, s.AlertLoginRequired(context.Background(), errors.New("x")))
	assert.Len(t, api.messages(), 2)
}

func TestService_AlertWithoutChat(t *testing.T) {
	api, srv := newFakeBotAPI(t)
	s := newTestService(t, srv, 0)

	require.NoError(t, s.AlertLoginRequired(context.Background(), apperr.ErrAuthExpired))
	assert.Empty(t, api.messages())
}

func TestService_HandleCommand(t *testing.T) {
	api, srv := newFakeBotAPI(t)
	s := newTestService(t, srv, 0)

	s.handleCommand(commandMessage("/start", 77))
	s.handleCommand(commandMessage("/login", 77))
	s.handleCommand(commandMessage("/unknown", 77))

	msgs := api.messages()
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0].text, "77")
	assert.Contains(t, msgs[1].text, "https://agent.example.com/api/login")
}

func TestNewService_RequiresToken(t *testing.T) {
	_, err := NewService(Config{}, zerolog.Nop())
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
