package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilis/sentinel/internal/config"
	"github.com/vigilis/sentinel/internal/infra/http/handler"
	"github.com/vigilis/sentinel/pkg/apierror"
	"github.com/vigilis/sentinel/pkg/domain/client"
	"github.com/vigilis/sentinel/pkg/logger"
)

type fakeSource struct {
	view client.PublicView
	err  error
}

func (f *fakeSource) View(context.Context) (client.PublicView, error) {
	return f.view, f.err
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "test"},
		Server: config.ServerConfig{
			Host:           "127.0.0.1",
			Port:           8080,
			RequestTimeout: 2 * time.Second,
		},
	}
}

func newTestServer(t *testing.T, cfg *config.Config, src handler.ViewSource, opts ...handler.HealthHandlerOption) http.Handler {
	t.Helper()
	log := logger.NewNop()
	s := NewServer(cfg, Handlers{
		Status:  handler.NewStatusHandler(src, nil, log),
		Health:  handler.NewHealthHandler(opts...),
		Metrics: promhttp.Handler(),
	}, log)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s.Handler()
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "203.0.113.7:5555"
	h.ServeHTTP(rec, req)
	return rec
}

func TestStatus_ServesPublicView(t *testing.T) {
	view := client.PublicView{
		{ID: client.NewNumericID(7), Name: "Shop Bot", Status: client.StatusSecure, Detail: "Neural Analysis: Verified", LastCheck: "2026-03-10T00:10:00Z"},
		{ID: client.NewID("b-2"), Name: "Help Bot", Status: client.StatusCompromised, Detail: "Neural Analysis: High Risk"},
	}
	h := newTestServer(t, testConfig(), &fakeSource{view: view})

	rec := get(h, "/api/v1/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `[
		{"id":7,"name":"Shop Bot","status":"SECURE","detail":"Neural Analysis: Verified","last_check":"2026-03-10T00:10:00Z"},
		{"id":"b-2","name":"Help Bot","status":"COMPROMISED","detail":"Neural Analysis: High Risk","last_check":""}
	]`, rec.Body.String())

	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatus_TrailingSlash(t *testing.T) {
	h := newTestServer(t, testConfig(), &fakeSource{view: client.PublicView{}})
	rec := get(h, "/api/v1/status/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestStatus_EmptyViewIsArray(t *testing.T) {
	h := newTestServer(t, testConfig(), &fakeSource{})
	rec := get(h, "/api/v1/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestStatus_NotPublished(t *testing.T) {
	h := newTestServer(t, testConfig(), &fakeSource{err: handler.ErrViewUnavailable})

	rec := get(h, "/api/v1/status")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body apierror.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, apierror.CodeServiceUnavailable, body.Code)
	assert.NotEmpty(t, body.RequestID)
}

func TestStatus_SourceErrorHidden(t *testing.T) {
	h := newTestServer(t, testConfig(), &fakeSource{err: errors.New("open /srv/secret/path.json: permission denied")})

	rec := get(h, "/api/v1/status")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "/srv/secret")
}

func TestStatus_Summary(t *testing.T) {
	view := client.PublicView{
		{ID: client.NewID("a"), Status: client.StatusSecure},
		{ID: client.NewID("b"), Status: client.StatusSecure},
		{ID: client.NewID("c"), Status: client.StatusOffline},
	}
	h := newTestServer(t, testConfig(), &fakeSource{view: view})

	rec := get(h, "/api/v1/status/summary")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"total":3,"by_status":{"SECURE":2,"OFFLINE":1}}`, rec.Body.String())
}

func TestHealthAndReady(t *testing.T) {
	h := newTestServer(t, testConfig(), &fakeSource{},
		handler.WithCheck("redis", fakePinger{}),
		handler.WithCheck("registry", fakePinger{err: errors.New("dial tcp 10.0.0.5:5432: refused")}),
	)

	rec := get(h, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"healthy"`)

	rec = get(h, "/ready")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var ready handler.ReadyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ready))
	assert.Equal(t, "not_ready", ready.Status)
	assert.Equal(t, "up", ready.Checks["redis"].Status)
	assert.Equal(t, "down", ready.Checks["registry"].Status)
	assert.NotContains(t, rec.Body.String(), "10.0.0.5")
}

func TestReady_NoChecks(t *testing.T) {
	h := newTestServer(t, testConfig(), &fakeSource{})
	rec := get(h, "/ready")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(t, testConfig(), &fakeSource{view: client.PublicView{}})
	_ = get(h, "/api/v1/status")

	rec := get(h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `vigilis_http_requests_total{code="200",route="/api/v1/status"}`)
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	h := newTestServer(t, testConfig(), &fakeSource{})

	rec := get(h, "/api/v1/clients")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), string(apierror.CodeNotFound))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/status", strings.NewReader("{}"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Server.RateLimitRPS = 0.001
	cfg.Server.RateLimitBurst = 2
	h := newTestServer(t, cfg, &fakeSource{view: client.PublicView{}})

	assert.Equal(t, http.StatusOK, get(h, "/api/v1/status").Code)
	assert.Equal(t, http.StatusOK, get(h, "/api/v1/status").Code)

	rec := get(h, "/api/v1/status")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestRecoveryFromPanic(t *testing.T) {
	h := newTestServer(t, testConfig(), panicSource{})
	rec := get(h, "/api/v1/status")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), string(apierror.CodeInternalError))
}

type panicSource struct{}

func (panicSource) View(context.Context) (client.PublicView, error) {
	panic("boom")
}

func TestRegisterRoutes_Walk(t *testing.T) {
	r := NewChiRouter()
	log := logger.NewNop()
	RegisterRoutes(r, Handlers{
		Status:  handler.NewStatusHandler(&fakeSource{}, nil, log),
		Health:  handler.NewHealthHandler(),
		Metrics: promhttp.Handler(),
	})

	var routes []string
	require.NoError(t, r.Walk(func(method, path string) error {
		routes = append(routes, method+" "+path)
		return nil
	}))
	sort.Strings(routes)
	assert.Contains(t, routes, "GET /api/v1/status")
	assert.Contains(t, routes, "GET /api/v1/status/summary")
	assert.Contains(t, routes, "GET /health")
	assert.Contains(t, routes, "GET /ready")
}
