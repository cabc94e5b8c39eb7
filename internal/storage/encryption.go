package storage

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"postagent-go/internal/apperr"
)

const (
	// KeySize is the required size for the encryption key (32 bytes for AES-256)
	KeySize = 32
	// NonceSize is the size of the nonce used in AES-GCM
	NonceSize = 12

	blobVersion byte = 1
	headerSize       = 1
)

var ErrInvalidKeySize = errors.New("invalid key size: must be 32 bytes for AES-256")

// Cipher seals token pairs with AES-256-GCM.
//
// Blob layout: version(1) || nonce(12) || ciphertext || tag(16).
// The version byte is authenticated as associated data.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher creates a Cipher for the given 32 byte key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Cipher{aead: aesGCM}, nil
}

// Encrypt serializes and seals a token pair.
func (c *Cipher) Encrypt(pair TokenPair) ([]byte, error) {
	plaintext, err := json.Marshal(pair)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal token pair: %w", err)
	}

	blob := make([]byte, headerSize+NonceSize, headerSize+NonceSize+len(plaintext)+c.aead.Overhead())
	blob[0] = blobVersion
	nonce := blob[headerSize : headerSize+NonceSize]
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return c.aead.Seal(blob, nonce, plaintext, blob[:headerSize]), nil
}

// Decrypt opens a blob produced by Encrypt. Every failure, including a wrong
// key, a flipped byte or a truncated blob, is reported as apperr.ErrDecryption.
func (c *Cipher) Decrypt(blob []byte) (TokenPair, error) {
	if len(blob) < headerSize+NonceSize+c.aead.Overhead() {
		return TokenPair{}, fmt.Errorf("%w: blob too short", apperr.ErrDecryption)
	}
	if blob[0] != blobVersion {
		return TokenPair{}, fmt.Errorf("%w: unsupported blob version %d", apperr.ErrDecryption, blob[0])
	}

	nonce := blob[headerSize : headerSize+NonceSize]
	plaintext, err := c.aead.Open(nil, nonce, blob[headerSize+NonceSize:], blob[:headerSize])
	if err != nil {
		return TokenPair{}, fmt.Errorf("%w: %v", apperr.ErrDecryption, err)
	}

	var pair TokenPair
	if err := json.Unmarshal(plaintext, &pair); err != nil {
		return TokenPair{}, fmt.Errorf("%w: malformed token pair: %v", apperr.ErrDecryption, err)
	}
	return pair, nil
}

// EncryptTokenPair seals pair with key.
func EncryptTokenPair(key []byte, pair TokenPair) ([]byte, error) {
	c, err := NewCipher(key)
	if err != nil {
		return nil, err
	}
	return c.Encrypt(pair)
}

// DecryptTokenPair opens blob with key.
func DecryptTokenPair(key, blob []byte) (TokenPair, error) {
	c, err := NewCipher(key)
	if err != nil {
		return TokenPair{}, err
	}
	return c.Decrypt(blob)
}

// ParseKey decodes an encryption key given as 64 hex characters, standard
// base64 of 32 bytes, or a raw 32 character string.
func ParseKey(s string) ([]byte, error) {
	if len(s) == hex.EncodedLen(KeySize) {
		if key, err := hex.DecodeString(s); err == nil {
			return key, nil
		}
	}
	if len(s) == base64.StdEncoding.EncodedLen(KeySize) {
		if key, err := base64.StdEncoding.DecodeString(s); err == nil {
			return key, nil
		}
	}
	if len(s) == KeySize {
		return []byte(s), nil
	}
	return nil, ErrInvalidKeySize
}
