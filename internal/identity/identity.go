// Package identity verifies bearer tokens issued by the identity provider
// and resolves them to a stable user id.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("token is required")
	ErrInvalidToken = errors.New("invalid token")
)

// Identity is the verified subject of a token.
type Identity struct {
	UserID string
	Email  string
}

// Verifier turns a bearer token into an Identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// Claims are the claims scanguard reads from an identity token.
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier verifies HS256 tokens signed with a shared secret.
type JWTVerifier struct {
	secret []byte
	issuer string
}

func NewJWTVerifier(secret, issuer string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), issuer: issuer}
}

var _ Verifier = (*JWTVerifier)(nil)

func (v *JWTVerifier) Verify(_ context.Context, tokenString string) (*Identity, error) {
	if tokenString == "" {
		return nil, ErrMissingToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return &Identity{UserID: claims.Subject, Email: claims.Email}, nil
}

// Sign issues a token for userID. Used by tests and local tooling; production
// tokens come from the identity provider.
func (v *JWTVerifier) Sign(userID, email string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", errors.New("user id is required")
	}

	now := time.Now()
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    v.issuer,
			Subject:   userID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
