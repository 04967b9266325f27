package config

import (
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080" validate:"required"`
	AppEnv   string `env:"APP_ENV" envDefault:"development" validate:"oneof=development test production"`

	LogFormat string `env:"LOG_FORMAT" envDefault:"text" validate:"oneof=text json"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"debug"`

	// Storage
	StoreDriver      string        `env:"STORE_DRIVER" envDefault:"memory" validate:"oneof=memory surreal"`
	DBUrl            string        `env:"SURREAL_URL" validate:"required_if=StoreDriver surreal"`
	DBUser           string        `env:"SURREAL_USER"`
	DBPass           string        `env:"SURREAL_PASS"`
	DBNs             string        `env:"SURREAL_NS" validate:"required_if=StoreDriver surreal"`
	DBDb             string        `env:"SURREAL_DB" validate:"required_if=StoreDriver surreal"`
	DBQueryTimeout   time.Duration `env:"DB_QUERY_TIMEOUT" envDefault:"10s"`
	DBExecuteTimeout time.Duration `env:"DB_EXECUTE_TIMEOUT" envDefault:"30s"`
	MessageEvents    string        `env:"MESSAGE_EVENTS" envDefault:"store" validate:"oneof=store livequery"`

	// Bus
	PubSubDriver string `env:"PUBSUB_DRIVER" envDefault:"gochannel" validate:"oneof=gochannel redis"`
	RedisURL     string `env:"REDIS_URL" validate:"required_if=PubSubDriver redis"`

	TracingEnabled     bool   `env:"PUBSUB_TRACING_ENABLED" envDefault:"false"`
	TracingServiceName string `env:"PUBSUB_TRACING_SERVICE_NAME" envDefault:"peerchat"`
	TracingZipkinURL   string `env:"PUBSUB_TRACING_ZIPKIN_URL" envDefault:"http://localhost:9411/api/v2/spans"`

	// Presence and sessions
	PresenceStaleThreshold  time.Duration `env:"PRESENCE_STALE_THRESHOLD" envDefault:"90s" validate:"gt=0"`
	PresenceCleanupInterval time.Duration `env:"PRESENCE_CLEANUP_INTERVAL" envDefault:"30s" validate:"gt=0"`
	PresenceOfflineDebounce time.Duration `env:"PRESENCE_OFFLINE_DEBOUNCE" envDefault:"0s" validate:"gte=0"`
	HeartbeatInterval       time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"30s" validate:"gt=0"`
	FetchTimeout            time.Duration `env:"FETCH_TIMEOUT" envDefault:"5s" validate:"gt=0"`
	AttachMaxRetries        int           `env:"ATTACH_MAX_RETRIES" envDefault:"5" validate:"gte=0"`
	AttachBaseDelay         time.Duration `env:"ATTACH_BASE_DELAY" envDefault:"200ms" validate:"gt=0"`
	AttachMaxDelay          time.Duration `env:"ATTACH_MAX_DELAY" envDefault:"10s" validate:"gtefield=AttachBaseDelay"`

	// HTTP surface
	RateLimitPerSecond float64       `env:"RATE_LIMIT_RPS" envDefault:"5" validate:"gt=0"`
	RateLimitBurst     int           `env:"RATE_LIMIT_BURST" envDefault:"20" validate:"gt=0"`
	AllowedOrigins     []string      `env:"WS_ALLOWED_ORIGINS" envSeparator:","`
	ShutdownTimeout    time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s" validate:"gt=0"`

	// Auth
	JWTSecret string        `env:"AUTH_JWT_SECRET" validate:"required,min=16"`
	TokenTTL  time.Duration `env:"AUTH_TOKEN_TTL" envDefault:"12h"`
}

// Load reads a .env file when present, then parses and validates the
// environment into a Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}
	return Parse()
}

// Parse builds a Config from the current environment only.
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// New loads configuration and exits the process when it is invalid.
func New() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatal(err)
	}
	return cfg
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}
