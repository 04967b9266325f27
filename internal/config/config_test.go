package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "0123456789abcdef")

	cfg, err := Parse()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "memory", cfg.StoreDriver)
	assert.Equal(t, "gochannel", cfg.PubSubDriver)
	assert.Equal(t, 90*time.Second, cfg.PresenceStaleThreshold)
	assert.Equal(t, time.Duration(0), cfg.PresenceOfflineDebounce)
	assert.Equal(t, 5, cfg.AttachMaxRetries)
	assert.Equal(t, 5.0, cfg.RateLimitPerSecond)
	assert.Equal(t, 20, cfg.RateLimitBurst)
	assert.Empty(t, cfg.AllowedOrigins)
	assert.False(t, cfg.IsProduction())
}

func TestParse_AllowedOrigins(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "0123456789abcdef")
	t.Setenv("WS_ALLOWED_ORIGINS", "chat.example.com,*.example.org")

	cfg, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, []string{"chat.example.com", "*.example.org"}, cfg.AllowedOrigins)
}

func TestParse_SurrealRequiresConnection(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "0123456789abcdef")
	t.Setenv("STORE_DRIVER", "surreal")

	_, err := Parse()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DBUrl")

	t.Setenv("SURREAL_URL", "ws://localhost:8000")
	t.Setenv("SURREAL_NS", "app")
	t.Setenv("SURREAL_DB", "chat")
	cfg, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8000", cfg.DBUrl)
}

func TestParse_RejectsShortSecret(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "short")

	_, err := Parse()
	assert.Error(t, err)
}

func TestParse_RedisRequiresURL(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "0123456789abcdef")
	t.Setenv("PUBSUB_DRIVER", "redis")

	_, err := Parse()
	require.Error(t, err)

	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	cfg, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.PubSubDriver)
}
