package middleware

import (
	"net"
	"net/http"
	"time"

	"github.com/kiranshivaraju/scanguard/internal/api/response"
	"github.com/kiranshivaraju/scanguard/internal/cache"
)

const (
	defaultRequestsPerMinute = 120
	burstWindow              = 60 * time.Second
)

// RateLimit throttles request bursts per client IP with a fixed one-minute
// window counted in Redis. It runs ahead of API key validation so floods
// never reach the key store.
type RateLimit struct {
	cache          cache.Cache
	requestsPerMin int
}

// NewRateLimit creates a new RateLimit middleware.
func NewRateLimit(c cache.Cache, requestsPerMin int) *RateLimit {
	if requestsPerMin <= 0 {
		requestsPerMin = defaultRequestsPerMinute
	}
	return &RateLimit{cache: c, requestsPerMin: requestsPerMin}
}

func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count, err := rl.cache.IncrWithExpiry(r.Context(), cache.BurstKey(ClientIP(r)), burstWindow)
		if err != nil {
			// On Redis error, allow the request (fail open)
			next.ServeHTTP(w, r)
			return
		}

		if count > int64(rl.requestsPerMin) {
			response.TooManyRequests(w, int64(burstWindow.Seconds()),
				"TOO_MANY_REQUESTS", "Too many requests from this address")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ClientIP returns the client address without port. Forwarded headers are
// honored through chi's RealIP middleware, which rewrites RemoteAddr.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
