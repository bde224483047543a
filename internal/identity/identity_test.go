package identity

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = strings.Repeat("k", 32)

func TestJWTVerifier_RoundTrip(t *testing.T) {
	v := NewJWTVerifier(secret, "scanguard")

	token, err := v.Sign("user_1", "a@example.com", time.Hour)
	require.NoError(t, err)

	id, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user_1", id.UserID)
	assert.Equal(t, "a@example.com", id.Email)
}

func TestJWTVerifier_Rejects(t *testing.T) {
	v := NewJWTVerifier(secret, "scanguard")
	ctx := context.Background()

	expired, err := v.Sign("user_1", "", -time.Minute)
	require.NoError(t, err)

	otherSecret, err := NewJWTVerifier(strings.Repeat("x", 32), "scanguard").Sign("user_1", "", time.Hour)
	require.NoError(t, err)

	otherIssuer, err := NewJWTVerifier(secret, "someone-else").Sign("user_1", "", time.Hour)
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user_1", Issuer: "scanguard"},
	}).SignedString([]byte(secret))
	require.NoError(t, err)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "scanguard",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(secret))
	require.NoError(t, err)

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user_1",
			Issuer:    "scanguard",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(secret))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not.a.jwt"},
		{"expired", expired},
		{"wrong secret", otherSecret},
		{"wrong issuer", otherIssuer},
		{"no expiry", noExpiry},
		{"no subject", noSubject},
		{"wrong algorithm", hs512},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(ctx, tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestJWTVerifier_Empty(t *testing.T) {
	v := NewJWTVerifier(secret, "scanguard")
	_, err := v.Verify(context.Background(), "")
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestSign_RequiresUser(t *testing.T) {
	v := NewJWTVerifier(secret, "scanguard")
	_, err := v.Sign("", "", time.Hour)
	assert.Error(t, err)
}
