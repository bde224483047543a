package middleware

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kiranshivaraju/scanguard/internal/api/response"
	"github.com/kiranshivaraju/scanguard/internal/apikey"
	"github.com/kiranshivaraju/scanguard/internal/telemetry"
)

const retryBackoff = 50 * time.Millisecond

// Validator checks a presented API key and counts the request against its quota.
type Validator interface {
	Validate(ctx context.Context, candidate string) (*apikey.Principal, error)
}

// Auth provides API key authentication and scope-checking middleware.
type Auth struct {
	validator  Validator
	maxRetries int
	timeout    time.Duration
	backoff    time.Duration
}

// NewAuth creates a new Auth middleware. Transient store failures are retried
// up to maxRetries times, each attempt bounded by timeout.
func NewAuth(v Validator, maxRetries int, timeout time.Duration) *Auth {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Auth{validator: v, maxRetries: maxRetries, timeout: timeout, backoff: retryBackoff}
}

// Authenticate validates the presented API key and sets the principal in the
// request context. The X-API-Key header takes precedence over a Bearer token.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		candidate := extractAPIKey(r)
		if candidate == "" {
			telemetry.KeyValidationsTotal.WithLabelValues("missing").Inc()
			response.Error(w, http.StatusUnauthorized,
				"MISSING_API_KEY", "API key required. Provide it in the X-API-Key header or as a Bearer token", nil)
			return
		}

		principal, err := a.validate(r.Context(), candidate)
		reason := apikey.Reason(err)
		telemetry.KeyValidationsTotal.WithLabelValues(reason).Inc()

		if err != nil {
			writeValidationError(w, r, err, reason)
			return
		}

		setQuotaHeaders(w, principal.Usage.DailyLimit, principal.Remaining(), principal.ResetAt)
		next.ServeHTTP(w, r.WithContext(SetPrincipal(r.Context(), principal)))
	})
}

// RequireScope returns middleware that checks whether the authenticated
// API key has the specified scope.
func (a *Auth) RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := GetPrincipal(r)
			if !ok || !apikey.HasScope(p.Scopes, scope) {
				response.Error(w, http.StatusForbidden,
					"INSUFFICIENT_SCOPE", "API key lacks required scope: "+scope, nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (a *Auth) validate(ctx context.Context, candidate string) (*apikey.Principal, error) {
	var (
		p   *apikey.Principal
		err error
	)
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, err
			case <-time.After(a.backoff * time.Duration(attempt)):
			}
			slog.Warn("retrying api key validation", "attempt", attempt, "error", err)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, a.timeout)
		p, err = a.validator.Validate(attemptCtx, candidate)
		cancel()

		if !errors.Is(err, apikey.ErrStoreUnavailable) {
			return p, err
		}
	}
	return nil, err
}

func writeValidationError(w http.ResponseWriter, r *http.Request, err error, reason string) {
	var limitErr *apikey.LimitError

	switch {
	case errors.As(err, &limitErr):
		slog.Info("api key over quota", "reason", reason, "path", r.URL.Path)
		setQuotaHeaders(w, limitErr.Limit, 0, limitErr.ResetAt)
		w.Header().Set("Retry-After", strconv.FormatInt(secondsUntil(limitErr.ResetAt), 10))
		msg := "Daily rate limit exceeded"
		if errors.Is(err, apikey.ErrMonthlyLimitExceeded) {
			msg = "Monthly rate limit exceeded"
		}
		response.Error(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", msg,
			map[string]any{"limit": limitErr.Limit, "resetAt": limitErr.ResetAt})

	case errors.Is(err, apikey.ErrInvalidFormat):
		response.Error(w, http.StatusUnauthorized, "INVALID_API_KEY", "Invalid API key format", nil)
	case errors.Is(err, apikey.ErrNotFound):
		response.Error(w, http.StatusUnauthorized, "INVALID_API_KEY", "Invalid API key", nil)
	case errors.Is(err, apikey.ErrDeactivated):
		response.Error(w, http.StatusUnauthorized, "KEY_DEACTIVATED", "API key has been deactivated", nil)
	case errors.Is(err, apikey.ErrExpired):
		response.Error(w, http.StatusUnauthorized, "KEY_EXPIRED", "API key has expired", nil)

	case errors.Is(err, apikey.ErrStoreUnavailable):
		slog.Error("api key store unavailable", "error", err)
		response.Error(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Key validation is temporarily unavailable", nil)

	default:
		slog.Error("api key validation failed", "reason", reason, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to validate API key", nil)
	}
}

func setQuotaHeaders(w http.ResponseWriter, limit, remaining int64, resetAt time.Time) {
	w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(limit, 10))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
}

func secondsUntil(t time.Time) int64 {
	s := int64(math.Ceil(time.Until(t).Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

func extractAPIKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key
	}
	return extractBearerToken(r)
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
