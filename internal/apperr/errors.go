// Package apperr defines the error taxonomy shared by the credential
// subsystem and the HTTP entry points.
//
// Every component fails with one of the sentinels below (wrapped with %w).
// Classification is done with errors.Is only, never by inspecting messages.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Root kinds.
var (
	ErrValidation    = errors.New("validation error")
	ErrProtocol      = errors.New("protocol error")
	ErrUpstream      = errors.New("upstream error")
	ErrCrypto        = errors.New("crypto error")
	ErrIO            = errors.New("io error")
	ErrNotFound      = errors.New("not found")
	ErrNoCredentials = errors.New("no credentials")
	ErrAuthExpired   = errors.New("authorization expired, manual re-login required")
)

// Specific failures, each wrapping its root kind.
var (
	ErrMissingParameter = fmt.Errorf("%w: missing parameter", ErrValidation)
	ErrSlotExpired      = fmt.Errorf("%w: login session expired or already used", ErrProtocol)
	ErrStateMismatch    = fmt.Errorf("%w: state mismatch", ErrProtocol)
	ErrExchangeFailed   = fmt.Errorf("%w: token exchange failed", ErrUpstream)
	ErrDecryption       = fmt.Errorf("%w: decryption failed", ErrCrypto)
)

// Kind is the machine readable error category reported to callers.
type Kind string

const (
	KindValidation    Kind = "validation_error"
	KindProtocol      Kind = "protocol_error"
	KindUpstream      Kind = "upstream_error"
	KindCrypto        Kind = "crypto_error"
	KindIO            Kind = "io_error"
	KindNoCredentials Kind = "no_credentials"
	KindAuthExpired   Kind = "auth_expired"
	KindInternal      Kind = "internal_error"
)

// UpstreamError is returned when the remote platform rejected or failed a call.
// Payload holds the upstream response body verbatim.
type UpstreamError struct {
	Op         string
	StatusCode int
	Payload    []byte
	Err        error
}

func (e *UpstreamError) Error() string {
	msg := e.Op
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s: status %d", msg, e.StatusCode)
	}
	if len(e.Payload) > 0 {
		msg = fmt.Sprintf("%s: %s", msg, e.Payload)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *UpstreamError) Unwrap() error {
	if e.Err == nil {
		return ErrUpstream
	}
	return e.Err
}

// Is makes every UpstreamError match ErrUpstream even when Err is a transport error.
func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstream
}

// NewUpstream builds an UpstreamError rooted at cause, which must itself be
// ErrUpstream, ErrExchangeFailed or a transport error.
func NewUpstream(op string, status int, payload []byte, cause error) *UpstreamError {
	return &UpstreamError{Op: op, StatusCode: status, Payload: payload, Err: cause}
}

// KindOf classifies err. The order matters: a NoCredentials failure caused by a
// decryption error is reported as a crypto error, never as "not logged in".
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrProtocol):
		return KindProtocol
	case errors.Is(err, ErrCrypto):
		return KindCrypto
	case errors.Is(err, ErrAuthExpired):
		return KindAuthExpired
	case errors.Is(err, ErrNoCredentials), errors.Is(err, ErrNotFound):
		return KindNoCredentials
	case errors.Is(err, ErrUpstream):
		return KindUpstream
	case errors.Is(err, ErrIO):
		return KindIO
	default:
		return KindInternal
	}
}

// HTTPStatus maps err to the status code the entry points answer with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case "":
		return http.StatusOK
	case KindValidation, KindProtocol:
		return http.StatusBadRequest
	case KindUpstream:
		return http.StatusBadGateway
	case KindNoCredentials, KindAuthExpired:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Payload returns the upstream response body carried by err, if any.
func Payload(err error) []byte {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Payload
	}
	return nil
}

// RequiresLogin reports whether err can only be resolved by an operator
// completing a fresh login.
func RequiresLogin(err error) bool {
	return errors.Is(err, ErrAuthExpired) || errors.Is(err, ErrNoCredentials) || errors.Is(err, ErrCrypto)
}
