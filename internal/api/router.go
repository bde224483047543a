package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	mw "github.com/kiranshivaraju/scanguard/internal/api/middleware"
	"github.com/kiranshivaraju/scanguard/internal/api/response"
	"github.com/kiranshivaraju/scanguard/internal/apikey"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Session   *mw.Session
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	CORSOrigins []string

	HealthHandler  http.HandlerFunc
	MetricsHandler http.Handler

	CreateKeyHandler http.HandlerFunc
	ListKeysHandler  http.HandlerFunc
	RevokeKeyHandler http.HandlerFunc

	ScanFileHandler     http.HandlerFunc
	ScanURLHandler      http.HandlerFunc
	ListReportsHandler  http.HandlerFunc
	GetReportHandler    http.HandlerFunc
	DeleteReportHandler http.HandlerFunc

	AdminListKeysHandler http.HandlerFunc
	AdminGateHandler     http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: deps.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		ExposedHeaders: []string{"Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		MaxAge:         300,
	}))
	r.Use(mw.Logger)
	r.Use(mw.Recovery)
	r.Use(mw.Metrics)

	// Public routes
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	r.Post("/api/v1/admin/gate", orNotImplemented(deps.AdminGateHandler))

	// Key management, authenticated by the user's identity token
	r.Group(func(r chi.Router) {
		r.Use(deps.Session.RequireUser)

		r.Post("/api/v1/keys", orNotImplemented(deps.CreateKeyHandler))
		r.Get("/api/v1/keys", orNotImplemented(deps.ListKeysHandler))
		r.Delete("/api/v1/keys/{keyID}", orNotImplemented(deps.RevokeKeyHandler))
	})

	// API-key protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimit.Limit)
		r.Use(deps.Auth.Authenticate)

		r.With(deps.Auth.RequireScope(apikey.ScopeScanFile)).
			Post("/api/v1/scan/file", orNotImplemented(deps.ScanFileHandler))
		r.With(deps.Auth.RequireScope(apikey.ScopeScanURL)).
			Post("/api/v1/scan/url", orNotImplemented(deps.ScanURLHandler))

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(apikey.ScopeReportsRead))

			r.Get("/api/v1/reports", orNotImplemented(deps.ListReportsHandler))
			r.Get("/api/v1/reports/{reportID}", orNotImplemented(deps.GetReportHandler))
		})
		r.With(deps.Auth.RequireScope(apikey.ScopeReportsWrite)).
			Delete("/api/v1/reports/{reportID}", orNotImplemented(deps.DeleteReportHandler))

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(apikey.ScopeAdmin))

			r.Get("/api/v1/admin/keys", orNotImplemented(deps.AdminListKeysHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
