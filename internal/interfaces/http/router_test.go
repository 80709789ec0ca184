package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/LexNER/internal/application/analysis"
	"github.com/turtacn/LexNER/internal/infrastructure/auth/keycloak"
	"github.com/turtacn/LexNER/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LexNER/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/LexNER/internal/intelligence/legal_ner"
	"github.com/turtacn/LexNER/internal/interfaces/http/handlers"
	"github.com/turtacn/LexNER/internal/interfaces/http/middleware"
)

// emailTagger returns no model entities; the rule engine still finds
// e-mail addresses.
type emailTagger struct{}

func (emailTagger) Tag(ctx context.Context, text string) (*legal_ner.TagOutput, error) {
	return &legal_ner.TagOutput{}, nil
}

func (emailTagger) Labels() legal_ner.LabelMap { return legal_ner.DefaultLabelMap() }

func newTestRouter(t *testing.T, rl *middleware.RateLimitConfig, opts ...func(*RouterConfig)) (*gin.Engine, prometheus.MetricsCollector) {
	t.Helper()
	collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{Namespace: "routertest"}, logging.NewNopLogger())
	require.NoError(t, err)
	metrics := prometheus.NewNERMetrics(collector)

	svc, err := analysis.NewService(analysis.Dependencies{
		Pipeline: legal_ner.NewPipeline(emailTagger{}),
		Metrics:  metrics,
	}, analysis.Config{}, logging.NewNopLogger())
	require.NoError(t, err)

	cors := middleware.DefaultCORSConfig()
	cors.AllowedOrigins = []string{"https://ui.example"}
	modelCheck := handlers.Optional("model", func(context.Context) error { return nil })
	cfg := RouterConfig{
		Mode:           gin.TestMode,
		NERHandler:     handlers.NewNERHandler(svc, nil),
		HealthHandler:  handlers.NewHealthHandler("test", modelCheck),
		MetricsHandler: collector.Handler(),
		Metrics:        metrics,
		CORS:           cors,
		RateLimit:      rl,
		MaxBodySize:    1 << 20,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return NewRouter(cfg), collector
}

func request(r http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestNewRouter_AnalyzeEndToEnd(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	w := request(r, http.MethodPost, "/api/v1/ner/analyze",
		`{"text":"Başvuru avukat@hukuk.com.tr adresine iletildi.","persist":false}`)

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `"text":"avukat@hukuk.com.tr"`)
	assert.Contains(t, body, `"type":"PHONE_EMAIL"`)
	assert.Contains(t, body, `"entity_count":1`)
	assert.NotEmpty(t, w.Header().Get(middleware.HeaderRequestID))
}

func TestNewRouter_ProbesAndMetrics(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	assert.Equal(t, http.StatusOK, request(r, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, request(r, http.MethodGet, "/readyz", "").Code)
	request(r, http.MethodGet, "/api/v1/ner/entity-types", "")

	w := request(r, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `routertest_http_requests_total{method="GET",path="/api/v1/ner/entity-types",status_code="200"} 1`)
}

func TestNewRouter_StorageEndpointsWithoutRepo(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	w := request(r, http.MethodGet, "/api/v1/ner/analyses/7f1c2d3e-0000-4000-8000-000000000001", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestNewRouter_UnknownRouteAndMethod(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	w := request(r, http.MethodGet, "/api/v2/nothing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "COMMON_005")

	w = request(r, http.MethodPut, "/api/v1/ner/analyze", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestNewRouter_CORSPreflight(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/ner/analyze", nil)
	req.Header.Set("Origin", "https://ui.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://ui.example", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestNewRouter_RateLimit(t *testing.T) {
	r, _ := newTestRouter(t, &middleware.RateLimitConfig{RequestsPerSecond: 0.001, BurstSize: 1})

	assert.Equal(t, http.StatusOK, request(r, http.MethodGet, "/api/v1/ner/entity-types", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, request(r, http.MethodGet, "/api/v1/ner/entity-types", "").Code)
}

type tokenVerifier map[string]*keycloak.TokenClaims

func (v tokenVerifier) VerifyToken(ctx context.Context, raw string) (*keycloak.TokenClaims, error) {
	if c, ok := v[raw]; ok {
		return c, nil
	}
	return nil, keycloak.ErrTokenInvalidSignature
}

func TestNewRouter_AuthProtectsAPIOnly(t *testing.T) {
	r, _ := newTestRouter(t, nil, func(cfg *RouterConfig) {
		cfg.Auth = &middleware.AuthConfig{Verifier: tokenVerifier{
			"svc":    {Subject: "ingest", Roles: []string{"lexner-service"}},
			"viewer": {Subject: "u-1", Roles: []string{"lexner-viewer"}},
		}}
	})
	body := `{"text":"avukat@hukuk.com.tr","persist":false}`

	w := request(r, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = request(r, http.MethodPost, "/api/v1/ner/analyze", body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	withToken := func(method, target, body, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, withToken(http.MethodPost, "/api/v1/ner/analyze", body, "svc").Code)
	assert.Equal(t, http.StatusForbidden, withToken(http.MethodPost, "/api/v1/ner/analyze", body, "viewer").Code)
	assert.Equal(t, http.StatusOK, withToken(http.MethodGet, "/api/v1/ner/entity-types", "", "viewer").Code)
	assert.Equal(t, http.StatusForbidden, withToken(http.MethodGet, "/api/v1/ner/entity-types", "", "svc").Code)
}
