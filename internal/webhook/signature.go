package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"

	"postagent-go/internal/apperr"
)

// SignatureHeader carries "sha256=<hex hmac of the body>".
const SignatureHeader = "X-Signature-256"

// maxBodyBytes bounds how much of a webhook body is read for verification.
const maxBodyBytes = 1 << 20

// ErrBadSignature is returned for a missing or wrong signature.
var ErrBadSignature = fmt.Errorf("%w: invalid webhook signature", apperr.ErrValidation)

// Sign returns the header value for body under secret.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks header against body in constant time.
func VerifySignature(secret, body []byte, header string) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// RequireSignature rejects requests whose body is not signed with secret.
// onError writes the rejection so responses keep the caller's envelope.
// An empty secret disables the check.
func RequireSignature(secret []byte, onError func(http.ResponseWriter, *http.Request, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(secret) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
			r.Body.Close()
			if err != nil {
				onError(w, r, fmt.Errorf("%w: failed to read body: %v", apperr.ErrValidation, err))
				return
			}
			if !VerifySignature(secret, body, r.Header.Get(SignatureHeader)) {
				onError(w, r, ErrBadSignature)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}
