package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func signToken(t *testing.T, secret string, claims IdentityClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestNewValidatorRejectsShortSecret(t *testing.T) {
	_, err := NewValidator("short")
	require.Error(t, err)

	v, err := NewValidator(testSecret)
	require.NoError(t, err)
	assert.NotNil(t, v)
}

func TestValidateToken(t *testing.T) {
	v, err := NewValidator(testSecret)
	require.NoError(t, err)

	tokenString := signToken(t, testSecret, IdentityClaims{
		Provider:    "google",
		DisplayName: "Alice",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-42",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	identity, err := v.ValidateToken(tokenString)
	require.NoError(t, err)
	assert.Equal(t, "user-42", identity.UserID)
	assert.Equal(t, "google", identity.Provider)
	assert.Equal(t, "Alice", identity.DisplayName)
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	v, err := NewValidator(testSecret)
	require.NoError(t, err)

	tokenString := signToken(t, strings.Repeat("x", 32), IdentityClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-42"},
	})

	_, err = v.ValidateToken(tokenString)
	require.Error(t, err)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	v, err := NewValidator(testSecret)
	require.NoError(t, err)

	tokenString := signToken(t, testSecret, IdentityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-42",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})

	_, err = v.ValidateToken(tokenString)
	require.Error(t, err)
}

func TestValidateTokenRejectsWrongAlgorithm(t *testing.T) {
	v, err := NewValidator(testSecret)
	require.NoError(t, err)

	// "none" and other algorithms are refused even with a valid payload.
	token := jwt.NewWithClaims(jwt.SigningMethodNone, IdentityClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-42"},
	})
	tokenString, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = v.ValidateToken(tokenString)
	require.Error(t, err)
}

func TestValidateTokenRejectsMissingSubject(t *testing.T) {
	v, err := NewValidator(testSecret)
	require.NoError(t, err)

	tokenString := signToken(t, testSecret, IdentityClaims{Provider: "google"})

	_, err = v.ValidateToken(tokenString)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no subject")
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	v, err := NewValidator(testSecret)
	require.NoError(t, err)

	_, err = v.ValidateToken("not.a.token")
	require.Error(t, err)
}

func TestMockValidator(t *testing.T) {
	m := &MockValidator{}

	identity, err := m.ValidateToken("u1:Alice")
	require.NoError(t, err)
	assert.Equal(t, "u1", identity.UserID)
	assert.Equal(t, "Alice", identity.DisplayName)
	assert.Equal(t, "dev", identity.Provider)

	identity, err = m.ValidateToken("u2")
	require.NoError(t, err)
	assert.Equal(t, "u2", identity.UserID)
	assert.Empty(t, identity.DisplayName)

	identity, err = m.ValidateToken("")
	require.NoError(t, err)
	assert.Equal(t, "dev-user-123", identity.UserID)
}
