// Package auth validates platform-issued stream tokens using JWKS.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// Claims represents the JWT claims carried by a stream token.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
	Scope  string `json:"scope"`
}

// TokenValidator validates stream tokens against a remote JWKS endpoint.
type TokenValidator struct {
	jwks     keyfunc.Keyfunc
	audience string
	issuer   string
}

// NewTokenValidator creates a validator that fetches and caches signing keys
// from the JWKS endpoint.
func NewTokenValidator(jwksURL, audience, issuer string) (*TokenValidator, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	k, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS keyfunc: %w", err)
	}

	return &TokenValidator{
		jwks:     k,
		audience: audience,
		issuer:   issuer,
	}, nil
}

// Validate parses and verifies a stream token, returning its claims.
func (v *TokenValidator) Validate(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, v.jwks.Keyfunc, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, fmt.Errorf("invalid claims type")
	}
	return claims, nil
}

// UserID extracts the user identity from validated claims, preferring the
// explicit user_id claim over the subject.
func (v *TokenValidator) UserID(claims *Claims) string {
	if claims.UserID != "" {
		return claims.UserID
	}
	return claims.Subject
}

// Close cleans up resources used by the validator.
func (v *TokenValidator) Close() {
	// The keyfunc stops refreshing in the background.
}
