package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/peerchat/internal/auth"
	"github.com/nfrund/peerchat/internal/config"
	"github.com/nfrund/peerchat/internal/domain"
	"github.com/nfrund/peerchat/internal/handlers"
	"github.com/nfrund/peerchat/internal/module"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "server-test-secret-0123456789"

func testConfig() *config.Config {
	return &config.Config{
		HTTPAddr:           "127.0.0.1:0",
		RateLimitPerSecond: 100,
		RateLimitBurst:     100,
		ShutdownTimeout:    time.Second,
		JWTSecret:          testSecret,
	}
}

type pingModule struct {
	module.BaseModule
	booted   bool
	shutdown *[]string
	name     string
}

func (m *pingModule) Name() string { return m.name }

func (m *pingModule) Boot(_ context.Context, r module.Routes) error {
	m.booted = true
	r.API.GET("/ping/"+m.name, func(c echo.Context) error {
		return c.String(http.StatusOK, "pong")
	})
	r.API.GET("/fail/"+m.name, func(c echo.Context) error {
		return domain.Invalid("no good")
	})
	return nil
}

func (m *pingModule) Shutdown(context.Context) error {
	*m.shutdown = append(*m.shutdown, m.name)
	return nil
}

func serve(s *Server, method, target, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.E.ServeHTTP(rec, req)
	return rec
}

func TestHTTPErrorHandler_WithStackTrace(t *testing.T) {
	var logBuffer bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuffer, &slog.HandlerOptions{AddSource: true}))
	originalLogger := slog.Default()
	slog.SetDefault(logger)
	defer slog.SetDefault(originalLogger)

	e := echo.New()
	setupErrorHandling(e)
	e.GET("/test-unhandled-error", func(c echo.Context) error {
		return errors.New("a deliberate unhandled error occurred")
	})

	req := httptest.NewRequest(http.MethodGet, "/test-unhandled-error", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)

	logOutput := logBuffer.String()
	assert.Contains(t, logOutput, "Internal Server Error (Unhandled)")
	assert.Contains(t, logOutput, "error=\"a deliberate unhandled error occurred\"")
	assert.Contains(t, logOutput, "stack_trace=")
	assert.Contains(t, logOutput, "runtime/debug/stack.go")
	assert.Contains(t, logOutput, "internal/server/server_test.go")

	var body handlers.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "internal", body.Code)
	assert.NotContains(t, body.Message, "deliberate", "internal errors are not leaked to clients")
}

func TestHTTPErrorHandler_MapsDomainErrors(t *testing.T) {
	e := echo.New()
	setupErrorHandling(e)
	errs := map[string]error{
		"/validation": domain.Invalid("bad"),
		"/auth":       domain.ErrNotAuthenticated,
		"/transient":  domain.Transient("bus", errors.New("down")),
		"/notfound":   echo.ErrNotFound,
	}
	for path, err := range errs {
		err := err
		e.GET(path, func(echo.Context) error { return err })
	}

	want := map[string]int{
		"/validation": http.StatusBadRequest,
		"/auth":       http.StatusUnauthorized,
		"/transient":  http.StatusServiceUnavailable,
		"/notfound":   http.StatusNotFound,
	}
	for path, code := range want {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, code, rec.Code, path)
	}
}

func TestHealth(t *testing.T) {
	s := New(testConfig())
	s.RegisterRoutes()

	rec := serve(s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	s.AddHealthCheck("database", func() error { return errors.New("unreachable") })
	rec = serve(s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "unreachable")
}

func TestMetrics(t *testing.T) {
	s := New(testConfig())
	s.RegisterRoutes()
	s.E.GET("/hello", func(c echo.Context) error { return c.String(http.StatusOK, "hi") })

	serve(s, http.MethodGet, "/hello", "")
	rec := serve(s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "peerchat_http_requests_total")
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestBoot_MountsModulesBehindAuth(t *testing.T) {
	tokens := auth.NewTokenService(testSecret, time.Hour)
	token, err := tokens.Mint(domain.Identity{UserID: "alice", DisplayName: "Alice"})
	require.NoError(t, err)

	var order []string
	first := &pingModule{name: "first", shutdown: &order}
	second := &pingModule{name: "second", shutdown: &order}

	s := New(testConfig())
	s.RegisterRoutes()
	require.NoError(t, s.Boot(context.Background(), tokens, first, second))
	assert.True(t, first.booted)
	assert.True(t, second.booted)

	assert.Equal(t, http.StatusUnauthorized, serve(s, http.MethodGet, "/api/ping/first", "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(s, http.MethodGet, "/api/ping/first", "garbage").Code)

	rec := serve(s, http.MethodGet, "/api/ping/second", token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pong", rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, serve(s, http.MethodGet, "/api/fail/first", token).Code)

	require.NoError(t, s.Shutdown(context.Background()))
	assert.Equal(t, []string{"second", "first"}, order)
}

type failingModule struct{ module.BaseModule }

func (*failingModule) Name() string { return "broken" }
func (*failingModule) Boot(context.Context, module.Routes) error {
	return errors.New("no database")
}

func TestBoot_FailureNamesModule(t *testing.T) {
	s := New(testConfig())
	err := s.Boot(context.Background(), auth.NewTokenService(testSecret, time.Hour), &failingModule{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestStart_StopsOnContextCancel(t *testing.T) {
	s := New(testConfig())
	s.RegisterRoutes()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}
