package handler

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	mw "github.com/kiranshivaraju/scanguard/internal/api/middleware"
	"github.com/kiranshivaraju/scanguard/internal/api/response"
	"github.com/kiranshivaraju/scanguard/internal/cache"
	"github.com/kiranshivaraju/scanguard/internal/ratelimit"
	"golang.org/x/crypto/bcrypt"
)

// AdminGate verifies the shared admin gate password. Attempts are limited
// per client IP and every wrong password is answered after a fixed delay.
type AdminGate struct {
	limiter      ratelimit.Limiter
	passwordHash []byte
	failureDelay time.Duration
}

// NewAdminGate creates the gate. An empty passwordHash disables it.
func NewAdminGate(l ratelimit.Limiter, passwordHash string, failureDelay time.Duration) *AdminGate {
	return &AdminGate{limiter: l, passwordHash: []byte(passwordHash), failureDelay: failureDelay}
}

// Verify handles POST /api/v1/admin/gate.
func (g *AdminGate) Verify(w http.ResponseWriter, r *http.Request) {
	if len(g.passwordHash) == 0 {
		response.Error(w, http.StatusServiceUnavailable, "GATE_DISABLED", "Admin gate is not configured", nil)
		return
	}

	ip := mw.ClientIP(r)
	decision, err := g.limiter.Allow(r.Context(), cache.AdminGateKey(ip))
	if err != nil {
		slog.Error("admin gate limiter failed", "client_ip", ip, "error", err)
		response.Error(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Admin gate is temporarily unavailable", nil)
		return
	}
	if !decision.Allowed {
		retryAfter := max(int(math.Ceil(decision.RetryAfter.Seconds())), 1)
		slog.Warn("admin gate attempts exhausted", "client_ip", ip)
		w.Header().Set("X-RateLimit-Remaining", "0")
		response.TooManyRequests(w, int64(retryAfter), "TOO_MANY_ATTEMPTS",
			"Too many attempts. Please try again in "+strconv.Itoa(retryAfter)+" seconds.")
		return
	}
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))

	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Password == "" {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Password is required", nil)
		return
	}

	if err := bcrypt.CompareHashAndPassword(g.passwordHash, []byte(req.Password)); err != nil {
		slog.Warn("admin gate password rejected", "client_ip", ip)
		t := time.NewTimer(g.failureDelay)
		defer t.Stop()
		select {
		case <-r.Context().Done():
		case <-t.C:
		}
		response.Error(w, http.StatusUnauthorized, "INVALID_PASSWORD", "Invalid password", nil)
		return
	}

	response.JSON(w, map[string]bool{"verified": true})
}
