// Package auth guards the operator-only endpoints with a bcrypt-hashed
// admin token.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	// BcryptCost is the cost factor for bcrypt hashing
	BcryptCost = 12

	// MinTokenLength is the shortest admin token accepted for hashing.
	MinTokenLength = 24

	// bcrypt ignores input past 72 bytes.
	maxTokenLength = 72
)

var randRead = rand.Read

// HashToken generates a bcrypt hash of an admin token.
func HashToken(token string) (string, error) {
	if err := ValidateToken(token); err != nil {
		return "", err
	}
	bytes, err := bcrypt.GenerateFromPassword([]byte(token), BcryptCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// CheckTokenHash compares a presented token with a stored hash.
func CheckTokenHash(token, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil
}

// ValidateToken checks token length bounds.
func ValidateToken(token string) error {
	if len(token) < MinTokenLength {
		return fmt.Errorf("admin token must be at least %d characters long", MinTokenLength)
	}
	if len(token) > maxTokenLength {
		return fmt.Errorf("admin token must be at most %d characters long", maxTokenLength)
	}
	return nil
}

// GenerateToken returns a random 64 character hex admin token.
func GenerateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := randRead(buf); err != nil {
		return "", fmt.Errorf("generate admin token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
