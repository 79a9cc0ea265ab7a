package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

// HashString returns a hex-encoded SHA-256 hash for token storage. Raw
// refresh tokens, reset tokens and magic-link tokens are never persisted.
func HashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// RandomToken returns n random bytes hex-encoded.
func RandomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
