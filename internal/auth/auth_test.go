package auth

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testToken = "0123456789abcdef0123456789abcdef"

// cheapHash keeps the tests fast; HashToken uses BcryptCost.
func cheapHash(t *testing.T, token string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func TestValidateToken(t *testing.T) {
	assert.Error(t, ValidateToken("short"))
	assert.Error(t, ValidateToken(strings.Repeat("a", 80)))
	assert.NoError(t, ValidateToken(testToken))
}

func TestHashToken(t *testing.T) {
	_, err := HashToken("short")
	assert.Error(t, err)

	hash, err := HashToken(testToken)
	require.NoError(t, err)
	assert.True(t, CheckTokenHash(testToken, hash))
	assert.False(t, CheckTokenHash(testToken+"x", hash))
}

func TestGenerateToken(t *testing.T) {
	tok, err := GenerateToken()
	require.NoError(t, err)
	assert.Len(t, tok, 64)
	assert.NoError(t, ValidateToken(tok))

	original := randRead
	defer func() { randRead = original }()
	randRead = func([]byte) (int, error) { return 0, errors.New("forced error") }
	_, err = GenerateToken()
	assert.Error(t, err)
}

func TestAdminGuard(t *testing.T) {
	guard := NewAdminGuard("")
	assert.False(t, guard.Enabled())
	assert.ErrorIs(t, guard.Check("Bearer "+testToken), ErrAdminDisabled)

	guard.SetHash(cheapHash(t, testToken))
	assert.True(t, guard.Enabled())

	tests := []struct {
		name   string
		header string
		want   error
	}{
		{"valid", "Bearer " + testToken, nil},
		{"padded", "  Bearer " + testToken + " ", nil},
		{"missing scheme", testToken, ErrInvalidAdminToken},
		{"empty", "", ErrInvalidAdminToken},
		{"wrong token", "Bearer nope", ErrInvalidAdminToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := guard.Check(tt.header)
			if tt.want == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestAdminContext(t *testing.T) {
	ctx := context.Background()
	assert.False(t, IsAdmin(ctx))
	assert.True(t, IsAdmin(WithAdmin(ctx)))
}
