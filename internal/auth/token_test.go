package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, sub, email string, expiresAt time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": sub, "email": email}
	if !expiresAt.IsZero() {
		claims["exp"] = expiresAt.Unix()
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestIntrospectValidToken(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tok := signedToken(t, "user-1", "user@example.com", now.Add(time.Hour))

	id, err := Introspect(tok, func() time.Time { return now })
	require.NoError(t, err)
	assert.Equal(t, "user-1", id.UserID)
	assert.Equal(t, "user@example.com", id.Email)
	assert.Equal(t, now.Add(time.Hour).Unix(), id.ExpiresAt.Unix())
}

func TestIntrospectExpiredToken(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tok := signedToken(t, "user-1", "user@example.com", now.Add(-time.Minute))

	_, err := Introspect(tok, func() time.Time { return now })
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestIntrospectNoExpiry(t *testing.T) {
	tok := signedToken(t, "user-1", "user@example.com", time.Time{})

	id, err := Introspect(tok, nil)
	require.NoError(t, err)
	assert.True(t, id.ExpiresAt.IsZero())
}

func TestIntrospectMalformed(t *testing.T) {
	_, err := Introspect("not-a-jwt", nil)
	require.ErrorIs(t, err, ErrTokenMalformed)
}

func TestUsable(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	assert.False(t, Usable("", clock))
	assert.False(t, Usable("garbage", clock))
	assert.False(t, Usable(signedToken(t, "u", "e@x.com", now.Add(-time.Second)), clock))
	assert.True(t, Usable(signedToken(t, "u", "e@x.com", now.Add(time.Hour)), clock))
}
