// Package auth inspects the realtime-channel credential before it is spent
// on a socket dial. The server is the verifier; this side only decodes the
// claims to reject obviously unusable tokens early.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenExpired   = errors.New("credential is expired")
	ErrTokenMalformed = errors.New("credential is malformed")
)

// Identity is the subject a credential claims to represent.
type Identity struct {
	UserID    string
	Email     string
	ExpiresAt time.Time
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// Introspect decodes a JWT credential without verifying its signature and
// rejects tokens that are expired or unparsable. now is injectable for tests;
// pass nil for the wall clock.
func Introspect(tokenString string, now func() time.Time) (*Identity, error) {
	if now == nil {
		now = time.Now
	}

	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	var claims tokenClaims
	if _, _, err := parser.ParseUnverified(tokenString, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}

	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
		if !expiresAt.After(now()) {
			return nil, fmt.Errorf("%w: expired at %s", ErrTokenExpired, expiresAt.Format(time.RFC3339))
		}
	}

	return &Identity{
		UserID:    claims.Subject,
		Email:     claims.Email,
		ExpiresAt: expiresAt,
	}, nil
}

// Usable reports whether the credential is worth attempting a socket connect
// with. A missing token is not usable; the coordinator then runs
// polling-only.
func Usable(tokenString string, now func() time.Time) bool {
	if tokenString == "" {
		return false
	}
	_, err := Introspect(tokenString, now)
	return err == nil
}
