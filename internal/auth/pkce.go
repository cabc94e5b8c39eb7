package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"golang.org/x/oauth2"
)

const (
	// DefaultVerifierBytes gives a 43 character verifier carrying 256 bits.
	DefaultVerifierBytes = 32
	// MaxVerifierBytes gives the longest verifier RFC 7636 allows, 128 characters.
	MaxVerifierBytes = 96
)

// PKCEPair is a single-use verifier and its S256 challenge.
type PKCEPair struct {
	Verifier  string
	Challenge string
}

// PKCEGenerator creates PKCE pairs from crypto/rand.
type PKCEGenerator struct {
	size int
}

// NewPKCEGenerator creates a generator producing DefaultVerifierBytes of entropy.
func NewPKCEGenerator() *PKCEGenerator {
	return &PKCEGenerator{size: DefaultVerifierBytes}
}

// NewPKCEGeneratorWithSize creates a generator drawing size random bytes per
// verifier. size must be within [DefaultVerifierBytes, MaxVerifierBytes].
func NewPKCEGeneratorWithSize(size int) (*PKCEGenerator, error) {
	if size < DefaultVerifierBytes || size > MaxVerifierBytes {
		return nil, fmt.Errorf("verifier size must be between %d and %d bytes, got %d",
			DefaultVerifierBytes, MaxVerifierBytes, size)
	}
	return &PKCEGenerator{size: size}, nil
}

// Generate returns a fresh pair. It panics if the system random source fails,
// since nothing in the process can be trusted to be secret after that.
func (g *PKCEGenerator) Generate() PKCEPair {
	b := make([]byte, g.size)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("auth: crypto/rand unavailable: %v", err))
	}
	verifier := base64.RawURLEncoding.EncodeToString(b)
	return PKCEPair{
		Verifier:  verifier,
		Challenge: oauth2.S256ChallengeFromVerifier(verifier),
	}
}

// ValidateChallenge validates a code challenge against a verifier.
func (g *PKCEGenerator) ValidateChallenge(challenge, verifier string) bool {
	if challenge == "" || verifier == "" {
		return false
	}
	expected := oauth2.S256ChallengeFromVerifier(verifier)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(challenge)) == 1
}

// randomHex returns n random bytes encoded as lowercase hex.
func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("auth: crypto/rand unavailable: %v", err))
	}
	return fmt.Sprintf("%x", b)
}
