// Package apikey issues, validates and revokes API keys. Secrets are shown
// once at issuance; only their SHA-256 digest is stored.
package apikey

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
)

// Prefix marks a live scanguard API key.
const Prefix = "ns_live_"

const secretBytes = 32

var formatRe = regexp.MustCompile(`^ns_live_[0-9a-f]{64}$`)

// Generate returns a new secret: Prefix followed by 256 random bits as lowercase hex.
func Generate() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return Prefix + hex.EncodeToString(b), nil
}

// Hash returns the lowercase hex SHA-256 digest of secret.
func Hash(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// IsValidFormat reports whether candidate is syntactically a key.
func IsValidFormat(candidate string) bool {
	return formatRe.MatchString(candidate)
}

// Preview is the display-safe form of a stored hash.
func Preview(hashedKey string) string {
	if len(hashedKey) <= 8 {
		return "..." + hashedKey
	}
	return "..." + hashedKey[len(hashedKey)-8:]
}
