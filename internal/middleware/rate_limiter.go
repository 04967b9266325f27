package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

// RateLimiter limits requests per caller to perSecond with the given burst.
// Authenticated callers are keyed by user id, others by client IP.
func RateLimiter(perSecond float64, burst int) echo.MiddlewareFunc {
	config := middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:  rate.Limit(perSecond),
			Burst: burst,
		}),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			if id, ok := IdentityFrom(c); ok {
				return "user:" + id.UserID, nil
			}
			return "ip:" + c.RealIP(), nil
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return echo.NewHTTPError(http.StatusTooManyRequests, "too many requests, try again later")
		},
	}
	return middleware.RateLimiterWithConfig(config)
}
