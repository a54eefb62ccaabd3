package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const APIKeyPrefix = "klp_live_"

// GenerateAPIKey returns a new raw key, its storage hash and the display
// prefix. Only the hash is persisted.
func GenerateAPIKey() (raw, hash, prefix string, err error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", "", "", err
	}
	raw = APIKeyPrefix + hex.EncodeToString(b)
	return raw, HashAPIKey(raw), raw[:len(APIKeyPrefix)+4] + "...", nil
}

func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func LooksLikeAPIKey(raw string) bool {
	return strings.HasPrefix(raw, APIKeyPrefix) && len(raw) > len(APIKeyPrefix)
}
