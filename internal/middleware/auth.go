package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/peerchat/internal/auth"
	"github.com/nfrund/peerchat/internal/domain"
)

const (
	// IdentityContextKey holds the caller's domain.Identity.
	IdentityContextKey = "identity"
	// AuthCookieName is the cookie read when no Authorization header is sent.
	AuthCookieName = "auth_token"
)

// Auth protects routes that need a caller identity. The token comes from
// "Authorization: Bearer ..." or the auth_token cookie. Failures answer 401
// with a JSON error body.
func Auth(verifier auth.Verifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := tokenFrom(c)
			if token == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, domain.ErrNotAuthenticated.Error())
			}

			identity, err := verifier.Verify(token)
			if err != nil {
				FromContext(c.Request().Context()).Debug("Rejected token", "error", err)
				return echo.NewHTTPError(http.StatusUnauthorized, domain.ErrNotAuthenticated.Error())
			}

			c.Set(IdentityContextKey, identity)
			return next(c)
		}
	}
}

func tokenFrom(c echo.Context) string {
	if h := c.Request().Header.Get(echo.HeaderAuthorization); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if cookie, err := c.Cookie(AuthCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// IdentityFrom returns the identity stored by Auth.
func IdentityFrom(c echo.Context) (domain.Identity, bool) {
	id, ok := c.Get(IdentityContextKey).(domain.Identity)
	return id, ok
}
