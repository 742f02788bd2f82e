// Package codec generates opaque access token secrets.
package codec

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

const (
	// Random bytes read per secret
	entropyBytes = 32

	// Secrets are truncated to fit the storage column.
	// 36 base64 characters keep 216 bits of entropy
	SecretLength = 36
)

// Generator produces secrets. Implementations must be safe for concurrent use
type Generator interface {
	Generate() (string, error)
}

// GeneratorFunc allows to use a function as Generator
type GeneratorFunc func() (string, error)

func (f GeneratorFunc) Generate() (string, error) {
	return f()
}

// Default generator backed by crypto/rand
var Default Generator = GeneratorFunc(Generate)

// Generate returns a new URL-safe secret of SecretLength characters
func Generate() (string, error) {
	b := make([]byte, entropyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("error while reading random bytes. Err: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(b)[:SecretLength], nil
}

// Valid reports whether s looks like a secret produced by Generate
// It is a cheap pre-check before hitting the store
func Valid(s string) bool {
	if len(s) == 0 || len(s) > SecretLength {
		return false
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}

	return true
}
