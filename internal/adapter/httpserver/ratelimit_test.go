package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/sudarshansudarshan/cal-sub001/internal/platform/errors"
)

const testRemoteAddr = "1.2.3.4:1234"

func limitedHandler(ratePerSecond float64, burst int) echo.HandlerFunc {
	return newRateLimiter(ratePerSecond, burst)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
}

func hit(t *testing.T, handler echo.HandlerFunc, remoteAddr string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	require.NoError(t, handler(echo.New().NewContext(req, rec)))
	return rec
}

func TestRateLimiter_AllowsBurst(t *testing.T) {
	handler := limitedHandler(10, 3)

	for range 3 {
		rec := hit(t, handler, testRemoteAddr)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("Retry-After"))
	}
}

func TestRateLimiter_DeniesWithStructuredError(t *testing.T) {
	handler := limitedHandler(0.5, 1)

	assert.Equal(t, http.StatusOK, hit(t, handler, testRemoteAddr).Code)

	rec := hit(t, handler, testRemoteAddr)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))

	var resp apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, apperrors.TypeRateLimited, resp.Type)
	assert.Equal(t, "rate limit exceeded", resp.Error)
	assert.Equal(t, "2", resp.Context["retry_after_seconds"])
}

func TestRateLimiter_ClientsAreIndependent(t *testing.T) {
	handler := limitedHandler(0.01, 1)

	assert.Equal(t, http.StatusOK, hit(t, handler, testRemoteAddr).Code)
	assert.Equal(t, http.StatusOK, hit(t, handler, "5.6.7.8:5678").Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(t, handler, testRemoteAddr).Code)
}

func TestRetryAfterSeconds(t *testing.T) {
	tests := []struct {
		rate float64
		want int
	}{
		{100, 1},
		{1, 1},
		{0.5, 2},
		{0.3, 4},
		{0.01, 100},
		{0, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, retryAfterSeconds(tt.rate), "rate %v", tt.rate)
	}
}
