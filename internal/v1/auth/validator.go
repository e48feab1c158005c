// Package auth verifies the identity tokens minted by the external auth
// surface. The core only ever consumes the verified {userId, provider} pair.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/gambitlive/backend/internal/v1/logging"
)

// IdentityClaims are the claims carried by an identity token. The auth
// surface signs these with the shared HMAC secret.
type IdentityClaims struct {
	Provider    string `json:"provider,omitempty"`
	DisplayName string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Identity is the verified projection the rest of the core consumes.
type Identity struct {
	UserID      string
	Provider    string
	DisplayName string
}

// TokenValidator verifies an identity token string.
type TokenValidator interface {
	ValidateToken(tokenString string) (*Identity, error)
}

// Validator verifies HS256 identity tokens against the shared signing secret.
type Validator struct {
	secret []byte
}

// NewValidator returns a Validator for the given signing secret.
func NewValidator(secret string) (*Validator, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("signing secret too short: %d bytes", len(secret))
	}
	return &Validator{secret: []byte(secret)}, nil
}

// ValidateToken parses and verifies tokenString and returns the identity it
// carries. Any parse, signature or expiry failure is returned as an error.
func (v *Validator) ValidateToken(tokenString string) (*Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &IdentityClaims{},
		func(t *jwt.Token) (interface{}, error) { return v.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, errors.New("token is invalid")
	}

	claims, ok := token.Claims.(*IdentityClaims)
	if !ok {
		return nil, errors.New("failed to cast claims to IdentityClaims")
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}

	return &Identity{
		UserID:      claims.Subject,
		Provider:    claims.Provider,
		DisplayName: claims.DisplayName,
	}, nil
}

// GetAllowedOriginsFromEnv resolves the handshake origin allow-list.
// Example: FRONTEND_ORIGIN="http://localhost:3000,https://play.example.com"
func GetAllowedOriginsFromEnv(envVarName string, defaultEnvs []string) []string {
	originsStr := os.Getenv(envVarName)
	if originsStr == "" {
		logging.Warn(context.Background(), fmt.Sprintf("%s environment variable not set. Using default development origins:\n%s", envVarName, defaultEnvs))
		return defaultEnvs
	}
	return strings.Split(originsStr, ",")
}

// MockValidator is a development-only token validator that accepts any token
// and derives the identity from the raw string ("userId" or "userId:name").
type MockValidator struct{}

func (m *MockValidator) ValidateToken(tokenString string) (*Identity, error) {
	subject := tokenString
	name := ""
	if idx := strings.IndexByte(tokenString, ':'); idx >= 0 {
		subject = tokenString[:idx]
		name = tokenString[idx+1:]
	}
	if subject == "" {
		subject = "dev-user-123"
	}
	return &Identity{UserID: subject, Provider: "dev", DisplayName: name}, nil
}
