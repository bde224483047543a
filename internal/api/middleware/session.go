package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/kiranshivaraju/scanguard/internal/api/response"
	"github.com/kiranshivaraju/scanguard/internal/identity"
	"github.com/kiranshivaraju/scanguard/internal/store"
	"github.com/kiranshivaraju/scanguard/pkg/models"
)

// Session authenticates end users by identity token for the key management
// routes.
type Session struct {
	verifier identity.Verifier
	store    store.Store
}

func NewSession(v identity.Verifier, s store.Store) *Session {
	return &Session{verifier: v, store: s}
}

// RequireUser verifies the Bearer identity token, records the user, and sets
// the user id in the request context.
func (s *Session) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r)
		if token == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
			return
		}

		id, err := s.verifier.Verify(r.Context(), token)
		if err != nil {
			code := "INVALID_TOKEN"
			if errors.Is(err, identity.ErrMissingToken) {
				code = "MISSING_TOKEN"
			}
			slog.Info("identity token rejected", "error", err)
			response.Error(w, http.StatusUnauthorized, code, "Invalid or expired identity token", nil)
			return
		}

		user := &models.User{ID: id.UserID, Email: id.Email, Role: models.RoleUser}
		if err := s.store.EnsureUser(r.Context(), user); err != nil {
			slog.Warn("failed to record user", "user_id", id.UserID, "error", err)
		}

		next.ServeHTTP(w, r.WithContext(SetUserID(r.Context(), id.UserID)))
	})
}
