// Package main is the entrypoint for the scanguard API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/scanguard/internal/api"
	"github.com/kiranshivaraju/scanguard/internal/api/handler"
	mw "github.com/kiranshivaraju/scanguard/internal/api/middleware"
	"github.com/kiranshivaraju/scanguard/internal/api/response"
	"github.com/kiranshivaraju/scanguard/internal/apikey"
	"github.com/kiranshivaraju/scanguard/internal/cache"
	"github.com/kiranshivaraju/scanguard/internal/config"
	"github.com/kiranshivaraju/scanguard/internal/identity"
	"github.com/kiranshivaraju/scanguard/internal/ratelimit"
	"github.com/kiranshivaraju/scanguard/internal/scanner"
	"github.com/kiranshivaraju/scanguard/internal/store"
	"github.com/kiranshivaraju/scanguard/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	shutdownTimeout   = 30 * time.Second
	poolStatsInterval = 15 * time.Second
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, failing fast on invalid values
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "admin_gate_limiter", cfg.AdminGate.Limiter)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")
	telemetry.StartPoolStatsCollector(ctx, pool, poolStatsInterval)

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Admin gate attempt limiter
	var gateLimiter ratelimit.Limiter
	switch cfg.AdminGate.Limiter {
	case "memory":
		ml := ratelimit.NewMemoryLimiter(cfg.AdminGate.MaxAttempts, cfg.AdminGate.Window)
		defer ml.Stop()
		gateLimiter = ml
		slog.Warn("admin gate uses the in-memory limiter; attempts are not shared between instances")
	default:
		gateLimiter = ratelimit.NewRedisLimiter(redisCache.Client(), "ratelimit:",
			cfg.AdminGate.MaxAttempts, cfg.AdminGate.Window)
	}

	// 6. Create scanners
	fileScanner := scanner.NewFileScanner(cfg.Scanner)
	urlScanner := scanner.NewURLScanner(cfg.Scanner, redisCache)
	slog.Info("scanners initialized", "file", fileScanner.Name(), "url", urlScanner.Name())

	// 7. Create store and key service
	pgStore := store.NewPostgresStore(pool)
	keys := apikey.NewService(pgStore)
	verifier := identity.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)

	// 8. Build router with dependencies
	deps := api.Dependencies{
		Session:     mw.NewSession(verifier, pgStore),
		Auth:        mw.NewAuth(keys, cfg.Auth.ValidationMaxRetries, cfg.Auth.ValidationTimeout),
		RateLimit:   mw.NewRateLimit(redisCache, cfg.Auth.BurstRequestsPerMinute),
		CORSOrigins: cfg.CORS.AllowedOrigins,

		HealthHandler:  healthHandler(pgStore, redisCache),
		MetricsHandler: promhttp.Handler(),

		CreateKeyHandler: handler.NewCreateKeyHandler(keys),
		ListKeysHandler:  handler.NewListKeysHandler(keys),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(keys),

		ScanFileHandler:     handler.NewScanFileHandler(fileScanner, pgStore),
		ScanURLHandler:      handler.NewScanURLHandler(urlScanner, pgStore),
		ListReportsHandler:  handler.NewListReportsHandler(pgStore),
		GetReportHandler:    handler.NewGetReportHandler(pgStore),
		DeleteReportHandler: handler.NewDeleteReportHandler(pgStore),

		AdminListKeysHandler: handler.NewAdminListKeysHandler(keys),
		AdminGateHandler: handler.NewAdminGate(gateLimiter, cfg.AdminGate.PasswordHash,
			cfg.AdminGate.FailureDelay).Verify,
	}

	router := api.NewRouter(deps)

	// 9. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.Scanner.BackendTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// healthHandler checks database and cache connectivity.
func healthHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
