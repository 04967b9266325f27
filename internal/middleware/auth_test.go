package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/peerchat/internal/auth"
	"github.com/nfrund/peerchat/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuthEcho(t *testing.T) (*echo.Echo, string) {
	t.Helper()
	tokens := auth.NewTokenService("middleware-test-secret", time.Hour)
	token, err := tokens.Mint(domain.Identity{UserID: "u1", DisplayName: "Ada"})
	require.NoError(t, err)

	e := echo.New()
	e.GET("/me", func(c echo.Context) error {
		id, ok := IdentityFrom(c)
		if !ok {
			return c.NoContent(http.StatusInternalServerError)
		}
		return c.String(http.StatusOK, id.UserID+"/"+id.DisplayName)
	}, Auth(tokens))
	return e, token
}

func TestAuthMiddleware(t *testing.T) {
	e, token := newAuthEcho(t)

	t.Run("missing token is rejected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/me", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("bearer token is accepted", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "u1/Ada", rec.Body.String())
	})

	t.Run("cookie token is accepted", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.AddCookie(&http.Cookie{Name: AuthCookieName, Value: token})
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("garbage token is rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set(echo.HeaderAuthorization, "Bearer not-a-jwt")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("non-bearer scheme is rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set(echo.HeaderAuthorization, "Basic dTE6cHc=")
		req.AddCookie(&http.Cookie{Name: AuthCookieName, Value: token})
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
