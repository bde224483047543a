package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kiranshivaraju/scanguard/internal/api"
	"github.com/kiranshivaraju/scanguard/internal/api/handler"
	mw "github.com/kiranshivaraju/scanguard/internal/api/middleware"
	"github.com/kiranshivaraju/scanguard/internal/apikey"
	"github.com/kiranshivaraju/scanguard/internal/cache"
	"github.com/kiranshivaraju/scanguard/internal/identity"
	"github.com/kiranshivaraju/scanguard/internal/ratelimit"
	"github.com/kiranshivaraju/scanguard/internal/scanner/mock"
	"github.com/kiranshivaraju/scanguard/internal/store"
	"github.com/kiranshivaraju/scanguard/pkg/models"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// --- stub cache ---

type stubCache struct{}

func (c *stubCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error { return nil }
func (c *stubCache) Get(_ context.Context, _ string) ([]byte, bool, error)            { return nil, false, nil }
func (c *stubCache) Delete(_ context.Context, _ string) error                          { return nil }
func (c *stubCache) Ping(_ context.Context) error                                      { return nil }
func (c *stubCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 1, nil
}

var _ cache.Cache = (*stubCache)(nil)

// --- test environment ---

const testJWTSecret = "router-test-secret-0123456789abcdef"

type testEnv struct {
	router   http.Handler
	store    *store.MemoryStore
	verifier *identity.JWTVerifier
	scanner  *mock.MockScanner
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := store.NewMemoryStore()
	verifier := identity.NewJWTVerifier(testJWTSecret, "scanguard")
	svc := apikey.NewService(st)
	sc := mock.NewMockScanner()

	limiter := ratelimit.NewMemoryLimiter(5, time.Minute)
	t.Cleanup(limiter.Stop)
	hash, err := bcrypt.GenerateFromPassword([]byte("open-sesame"), bcrypt.MinCost)
	require.NoError(t, err)

	router := api.NewRouter(api.Dependencies{
		Session:     mw.NewSession(verifier, st),
		Auth:        mw.NewAuth(svc, 1, time.Second),
		RateLimit:   mw.NewRateLimit(&stubCache{}, 1000),
		CORSOrigins: []string{"https://app.example.com"},
		HealthHandler: func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		},
		MetricsHandler:       promhttp.Handler(),
		CreateKeyHandler:     handler.NewCreateKeyHandler(svc),
		ListKeysHandler:      handler.NewListKeysHandler(svc),
		RevokeKeyHandler:     handler.NewRevokeKeyHandler(svc),
		ScanFileHandler:      handler.NewScanFileHandler(sc, st),
		ScanURLHandler:       handler.NewScanURLHandler(sc, st),
		ListReportsHandler:   handler.NewListReportsHandler(st),
		GetReportHandler:     handler.NewGetReportHandler(st),
		DeleteReportHandler:  handler.NewDeleteReportHandler(st),
		AdminListKeysHandler: handler.NewAdminListKeysHandler(svc),
		AdminGateHandler:     handler.NewAdminGate(limiter, string(hash), time.Millisecond).Verify,
	})
	return &testEnv{router: router, store: st, verifier: verifier, scanner: sc}
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := e.verifier.Sign(userID, userID+"@example.com", time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// issueKey creates a key through the HTTP API and returns its secret and id.
func (e *testEnv) issueKey(t *testing.T, userID string, scopes ...string) (string, string) {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/keys",
		map[string]any{"keyName": "key-" + strings.Join(scopes, "-"), "scopes": scopes},
		map[string]string{"Authorization": "Bearer " + e.token(t, userID)})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	data := decodeData(t, w)
	return data["apiKey"].(string), data["keyId"].(string)
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body.Data
}

func errCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body.Error.Code
}

// --- router tests ---

func TestRouter_HealthEndpoint_Public(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/health", nil, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
}

func TestRouter_MetricsEndpoint_Public(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/api/v1/health", nil, nil)

	w := env.do(t, http.MethodGet, "/metrics", nil, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_requests_total")
}

func TestRouter_KeyRoutes_RequireIdentityToken(t *testing.T) {
	env := newTestEnv(t)

	endpoints := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/v1/keys"},
		{http.MethodGet, "/api/v1/keys"},
		{http.MethodDelete, "/api/v1/keys/7a0c3a5e-0f7e-4c1c-9f59-2f3c4b5d6e7f"},
	}
	for _, ep := range endpoints {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			w := env.do(t, ep.method, ep.path, nil, nil)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, "INVALID_TOKEN", errCode(t, w))
		})
	}
}

func TestRouter_KeyRoutes_RejectAPIKeyAsIdentity(t *testing.T) {
	env := newTestEnv(t)
	secret, _ := env.issueKey(t, "user-1", apikey.ScopeScanURL)

	w := env.do(t, http.MethodGet, "/api/v1/keys", nil, map[string]string{"Authorization": "Bearer " + secret})

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouter_ProtectedEndpoints_RequireAPIKey(t *testing.T) {
	env := newTestEnv(t)

	endpoints := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/v1/scan/file"},
		{http.MethodPost, "/api/v1/scan/url"},
		{http.MethodGet, "/api/v1/reports"},
		{http.MethodGet, "/api/v1/reports/7a0c3a5e-0f7e-4c1c-9f59-2f3c4b5d6e7f"},
		{http.MethodDelete, "/api/v1/reports/7a0c3a5e-0f7e-4c1c-9f59-2f3c4b5d6e7f"},
		{http.MethodGet, "/api/v1/admin/keys"},
	}
	for _, ep := range endpoints {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			w := env.do(t, ep.method, ep.path, nil, nil)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, "MISSING_API_KEY", errCode(t, w))
		})
	}
}

func TestRouter_ScopeEnforcement(t *testing.T) {
	env := newTestEnv(t)
	urlOnly, _ := env.issueKey(t, "user-1", apikey.ScopeScanURL)
	header := map[string]string{"X-API-Key": urlOnly}

	tests := []struct {
		method string
		path   string
		body   any
		want   int
	}{
		{http.MethodPost, "/api/v1/scan/url", map[string]string{"url": "https://example.com"}, http.StatusOK},
		{http.MethodPost, "/api/v1/scan/file", map[string]string{"fileDataUri": "data:;base64,AA==", "fileName": "a"}, http.StatusForbidden},
		{http.MethodGet, "/api/v1/reports", nil, http.StatusForbidden},
		{http.MethodDelete, "/api/v1/reports/7a0c3a5e-0f7e-4c1c-9f59-2f3c4b5d6e7f", nil, http.StatusForbidden},
		{http.MethodGet, "/api/v1/admin/keys?owner=user-1", nil, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := env.do(t, tt.method, tt.path, tt.body, header)

			assert.Equal(t, tt.want, w.Code, w.Body.String())
			if tt.want == http.StatusForbidden {
				assert.Equal(t, "INSUFFICIENT_SCOPE", errCode(t, w))
			}
		})
	}
}

func TestRouter_AdminKeysRequireAdminScope(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.EnsureUser(context.Background(), &models.User{ID: "root", Role: models.RoleAdmin}))
	adminKey, _ := env.issueKey(t, "root", apikey.ScopeAdmin)
	env.issueKey(t, "user-1", apikey.ScopeScanFile)

	w := env.do(t, http.MethodGet, "/api/v1/admin/keys?owner=user-1", nil, map[string]string{"X-API-Key": adminKey})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 1, decodeData(t, w)["total"])
}

func TestRouter_AdminGate_Public(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/admin/gate", map[string]string{"password": "open-sesame"}, nil)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_CORSPreflight(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/scan/url", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "X-API-Key")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_NotImplementedPlaceholder(t *testing.T) {
	router := api.NewRouter(api.Dependencies{
		Session:   mw.NewSession(identity.NewJWTVerifier(testJWTSecret, ""), store.NewMemoryStore()),
		Auth:      mw.NewAuth(apikey.NewService(store.NewMemoryStore()), 0, time.Second),
		RateLimit: mw.NewRateLimit(&stubCache{}, 60),
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestRouter_NotFound(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/nonexistent", nil, nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
