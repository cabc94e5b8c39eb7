package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "nil", err: nil, want: ""},
		{name: "missing parameter", err: fmt.Errorf("callback: %w", ErrMissingParameter), want: KindValidation},
		{name: "slot expired", err: ErrSlotExpired, want: KindProtocol},
		{name: "state mismatch", err: fmt.Errorf("wrapped: %w", ErrStateMismatch), want: KindProtocol},
		{name: "exchange failed", err: NewUpstream("exchange", 400, []byte(`{"error":"invalid_grant"}`), ErrExchangeFailed), want: KindUpstream},
		{name: "transport failure", err: NewUpstream("post", 0, nil, context.DeadlineExceeded), want: KindUpstream},
		{name: "decryption", err: ErrDecryption, want: KindCrypto},
		{name: "no credentials from decryption", err: fmt.Errorf("%w: %w", ErrNoCredentials, ErrDecryption), want: KindCrypto},
		{name: "no credentials from not found", err: fmt.Errorf("%w: %w", ErrNoCredentials, ErrNotFound), want: KindNoCredentials},
		{name: "auth expired", err: ErrAuthExpired, want: KindAuthExpired},
		{name: "io", err: fmt.Errorf("%w: disk full", ErrIO), want: KindIO},
		{name: "unknown", err: errors.New("boom"), want: KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(ErrMissingParameter))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(ErrStateMismatch))
	assert.Equal(t, http.StatusBadGateway, HTTPStatus(NewUpstream("exchange", 500, nil, ErrExchangeFailed)))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(ErrDecryption))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(ErrIO))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(ErrAuthExpired))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(fmt.Errorf("%w: %w", ErrNoCredentials, ErrNotFound)))
}

func TestUpstreamError(t *testing.T) {
	err := fmt.Errorf("complete login: %w", NewUpstream("token exchange", 401, []byte(`{"error":"unauthorized_client"}`), ErrExchangeFailed))

	assert.True(t, errors.Is(err, ErrExchangeFailed))
	assert.True(t, errors.Is(err, ErrUpstream))
	assert.False(t, errors.Is(err, ErrProtocol))
	assert.Equal(t, []byte(`{"error":"unauthorized_client"}`), Payload(err))
	assert.Contains(t, err.Error(), "status 401")
	assert.Nil(t, Payload(ErrIO))
}

func TestRequiresLogin(t *testing.T) {
	assert.True(t, RequiresLogin(ErrAuthExpired))
	assert.True(t, RequiresLogin(fmt.Errorf("%w: %w", ErrNoCredentials, ErrNotFound)))
	assert.True(t, RequiresLogin(ErrDecryption))
	assert.False(t, RequiresLogin(NewUpstream("post", 403, nil, nil)))
}
