package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudarshansudarshan/cal-sub001/internal/adapter/metrics"
	apperrors "github.com/sudarshansudarshan/cal-sub001/internal/platform/errors"
)

func serve(srv *Server, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = testRemoteAddr
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	return rec
}

func TestRoutes_SessionAndEvidence(t *testing.T) {
	srv := newTestServer(t, &mockAppService{})

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/api/session", http.StatusOK},
		{http.MethodDelete, "/api/session", http.StatusOK},
		{http.MethodGet, "/api/permissions", http.StatusOK},
		{http.MethodGet, "/api/evidence", http.StatusOK},
		{http.MethodDelete, "/api/evidence/3", http.StatusOK},
		{http.MethodDelete, "/api/evidence", http.StatusOK},
		{http.MethodGet, "/health/live", http.StatusOK},
		{http.MethodGet, "/health/ready", http.StatusOK},
		{http.MethodGet, "/version", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := serve(srv, tt.method, tt.path)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestRoutes_UnknownPathIsStructured404(t *testing.T) {
	srv := newTestServer(t, &mockAppService{})

	rec := serve(srv, http.MethodGet, "/api/nope")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	var resp apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, apperrors.TypeNotFound, resp.Type)
}

func TestRoutes_CorrelationHeader(t *testing.T) {
	srv := newTestServer(t, &mockAppService{})

	rec := serve(srv, http.MethodGet, "/api/session")

	assert.NotEmpty(t, rec.Header().Get(correlationHeader))
}

func TestRoutes_APIRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.APIRateLimit = 0.01
	cfg.APIRateBurst = 1
	srv := NewServer(cfg, &mockAppService{}, nil, nil)

	assert.Equal(t, http.StatusOK, serve(srv, http.MethodGet, "/api/session").Code)

	rec := serve(srv, http.MethodGet, "/api/session")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "100", rec.Header().Get("Retry-After"))

	// Health probes are not rate limited.
	assert.Equal(t, http.StatusOK, serve(srv, http.MethodGet, "/health/live").Code)
}

func TestRoutes_Feed(t *testing.T) {
	feed := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	srv := newTestServer(t, &mockAppService{}, withFeed(feed))

	assert.Equal(t, http.StatusTeapot, serve(srv, http.MethodGet, "/ws/anomalies").Code)
}

func TestRoutes_MetricsOptional(t *testing.T) {
	srv := newTestServer(t, &mockAppService{})
	assert.Equal(t, http.StatusNotFound, serve(srv, http.MethodGet, "/metrics").Code)

	reg := prometheus.NewRegistry()
	httpMetrics := metrics.NewHTTPMetrics(reg)
	srv = newTestServer(t, &mockAppService{}, WithMetrics(metrics.Handler(reg), httpMetrics))

	assert.Equal(t, http.StatusOK, serve(srv, http.MethodGet, "/api/session").Code)

	rec := serve(srv, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestRoutes_SceneOnlyWhenConfigured(t *testing.T) {
	srv := newTestServer(t, &mockAppService{})
	assert.Equal(t, http.StatusNotFound, serve(srv, http.MethodGet, "/api/scene").Code)

	srv = newTestServer(t, &mockAppService{}, WithScene(&mockScene{}))
	assert.Equal(t, http.StatusOK, serve(srv, http.MethodGet, "/api/scene").Code)
}
