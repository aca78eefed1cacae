package licensing

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// keyBytes is the amount of randomness in a generated key (128 bits).
const keyBytes = 16

// HashKey returns the storage fingerprint of a license key: the lowercase
// hex SHA-256 digest. Keys are never stored in the clear.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// GenerateKey returns a new random license key as 32 uppercase hex
// characters. Hash it with HashKey before persisting.
func GenerateKey() (string, error) {
	buf := make([]byte, keyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate license key: %w", err)
	}
	return strings.ToUpper(hex.EncodeToString(buf)), nil
}

// MaskKey keeps the first and last four characters of a key for logs.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}
