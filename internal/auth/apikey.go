package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

const (
	APIKeyPrefix       = "neb_"
	apiKeySecretLength = 32 // random bytes in the secret part
	displayPrefixLen   = 12
)

// GenerateAPIKey returns a new opaque key, the short prefix shown in the
// admin UI, and the SHA-256 hash that is stored instead of the key.
func GenerateAPIKey() (key, prefix, hash string, err error) {
	secret := make([]byte, apiKeySecretLength)
	if _, err := rand.Read(secret); err != nil {
		return "", "", "", fmt.Errorf("failed to generate api key: %w", err)
	}
	key = APIKeyPrefix + base64.RawURLEncoding.EncodeToString(secret)
	return key, key[:displayPrefixLen], HashAPIKey(key), nil
}

// HashAPIKey is the lookup hash of a presented key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
