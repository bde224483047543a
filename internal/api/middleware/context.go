package middleware

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/scanguard/internal/apikey"
)

type contextKey string

const (
	principalKey contextKey = "principal"
	userIDKey    contextKey = "user_id"
)

// SetPrincipal attaches the validated API key principal to ctx.
func SetPrincipal(ctx context.Context, p *apikey.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func GetPrincipal(r *http.Request) (*apikey.Principal, bool) {
	p, ok := r.Context().Value(principalKey).(*apikey.Principal)
	return p, ok && p != nil
}

// SetUserID attaches the session user id to ctx.
func SetUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

func GetUserID(r *http.Request) (string, bool) {
	id, ok := r.Context().Value(userIDKey).(string)
	return id, ok && id != ""
}
