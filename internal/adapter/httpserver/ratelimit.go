package httpserver

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	apperrors "github.com/sudarshansudarshan/cal-sub001/internal/platform/errors"
)

const rateLimiterExpiry = 5 * time.Minute

// newRateLimiter limits requests per client IP. Denied requests get a
// structured 429 with Retry-After set to the time one token takes to refill.
func newRateLimiter(ratePerSecond float64, burst int) echo.MiddlewareFunc {
	store := middleware.NewRateLimiterMemoryStoreWithConfig(
		middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(ratePerSecond),
			Burst:     burst,
			ExpiresIn: rateLimiterExpiry,
		},
	)
	retryAfter := strconv.Itoa(retryAfterSeconds(ratePerSecond))

	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		Store: store,
		DenyHandler: func(c echo.Context, identifier string, _ error) error {
			slog.DebugContext(c.Request().Context(), "API request rate limited", "client", identifier, "path", c.Path())
			c.Response().Header().Set("Retry-After", retryAfter)
			resp := apperrors.RateLimitedError("rate limit exceeded").
				WithField("retry_after_seconds", retryAfter).
				ToResponse()
			return c.JSON(http.StatusTooManyRequests, resp)
		},
	})
}

func retryAfterSeconds(ratePerSecond float64) int {
	if ratePerSecond <= 0 {
		return 1
	}
	// the epsilon keeps 1/0.01 from rounding up to 101
	return max(1, int(math.Ceil(1/ratePerSecond-1e-9)))
}
