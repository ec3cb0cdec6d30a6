// Package crypto provides AES-256-GCM encryption for credentials at rest.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

// KeyEnv names the environment variable holding the 32-byte key.
const KeyEnv = "CODESPACE_SECRET_ENCRYPTION_KEY"

const (
	encPrefix   = "enc:"
	plainPrefix = "plain:"
)

var ErrNoKey = errors.New("encryption key not configured")

// Sealer encrypts and decrypts stored values. A Sealer without a key stores
// values as "plain:<base64>" (dev/test mode) and refuses to open "enc:"
// values.
type Sealer struct {
	gcm cipher.AEAD
}

// NewSealer creates a Sealer for the given key. A nil key yields a
// plaintext Sealer.
func NewSealer(key []byte) (*Sealer, error) {
	if key == nil {
		return &Sealer{}, nil
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &Sealer{gcm: gcm}, nil
}

// SealerFromEnv builds a Sealer from CODESPACE_SECRET_ENCRYPTION_KEY.
func SealerFromEnv() (*Sealer, error) {
	key, err := ParseKey(os.Getenv(KeyEnv))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", KeyEnv, err)
	}
	if key == nil {
		log.Printf("crypto: WARNING no encryption key configured; credentials are stored as base64 plaintext (set %s for production)", KeyEnv)
	}
	return NewSealer(key)
}

// ParseKey decodes a hex (64 chars) or base64 encoded 32-byte key. An empty
// string yields a nil key.
func ParseKey(raw string) ([]byte, error) {
	if raw == "" {
		return nil, nil
	}
	if len(raw) == 64 {
		if b, err := hex.DecodeString(raw); err == nil {
			return b, nil
		}
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding} {
		if b, err := enc.DecodeString(raw); err == nil && len(b) == 32 {
			return b, nil
		}
	}
	return nil, errors.New("not a 32-byte hex or base64 value")
}

// Encrypted reports whether the Sealer has a key.
func (s *Sealer) Encrypted() bool { return s.gcm != nil }

// Seal returns "enc:<base64(nonce+ciphertext)>", or "plain:<base64>"
// without a key.
func (s *Sealer) Seal(plaintext string) (string, error) {
	if s.gcm == nil {
		return plainPrefix + base64.StdEncoding.EncodeToString([]byte(plaintext)), nil
	}
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	ciphertext := s.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return encPrefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Open decrypts a value produced by Seal.
func (s *Sealer) Open(stored string) (string, error) {
	switch {
	case strings.HasPrefix(stored, plainPrefix):
		b, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, plainPrefix))
		if err != nil {
			return "", fmt.Errorf("decode plaintext value: %w", err)
		}
		return string(b), nil
	case strings.HasPrefix(stored, encPrefix):
		if s.gcm == nil {
			return "", fmt.Errorf("cannot decrypt enc: value: %w", ErrNoKey)
		}
	default:
		return "", errors.New("unknown secret format (expected enc: or plain: prefix)")
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, encPrefix))
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}
	nonceSize := s.gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("ciphertext too short")
	}
	plaintext, err := s.gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}
