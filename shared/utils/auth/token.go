package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

// MinTokenBytes is the smallest amount of entropy accepted for a
// verification token secret.
const MinTokenBytes = 32

// Token format bounds accepted by ValidateTokenFormat. 32 random bytes
// encode to 43 characters; the upper bound leaves headroom for longer
// secrets without admitting arbitrary input.
const (
	minTokenLength = 43
	maxTokenLength = 128
)

var ErrInvalidTokenFormat = errors.New("invalid token format")

// GenerateToken returns a cryptographically random, URL-safe token secret.
// byteLength must be at least MinTokenBytes.
func GenerateToken(byteLength int) (string, error) {
	if byteLength < MinTokenBytes {
		return "", fmt.Errorf("token byte length %d below minimum %d", byteLength, MinTokenBytes)
	}

	bytes := make([]byte, byteLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(bytes), nil
}

// HashToken returns the hex SHA-256 digest of a token secret. The store
// persists only this digest; lookups hash the presented secret the same way.
func HashToken(secret string) string {
	digest := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(digest[:])
}

// TokenPrefix returns a short, loggable prefix of the token hash. Raw
// secrets never appear in logs or audit rows.
func TokenPrefix(secret string) string {
	return HashToken(secret)[:8]
}

// ValidateTokenFormat checks length bounds and the URL-safe alphabet before
// any store lookup happens. Malformed input never reaches the database.
func ValidateTokenFormat(secret string) error {
	if len(secret) < minTokenLength || len(secret) > maxTokenLength {
		return ErrInvalidTokenFormat
	}

	for _, c := range secret {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_':
		default:
			return ErrInvalidTokenFormat
		}
	}

	return nil
}
