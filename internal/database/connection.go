package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/nfrund/peerchat/internal/config"
	"github.com/nfrund/peerchat/internal/retry"
	"github.com/surrealdb/surrealdb.go"
)

// DBConnection is a managed SurrealDB connection. Stores use it instead of a
// raw *surrealdb.DB so they survive reconnects.
type DBConnection interface {
	WithConnection(ctx context.Context, fn func(*surrealdb.DB) error) error
	Close(ctx context.Context) error
	IsHealthy() bool
	QueryTimeout() time.Duration
	ExecuteTimeout() time.Duration
}

// Connection manages a SurrealDB connection with health checks and
// reconnect-with-backoff.
type Connection struct {
	cfg     *config.Config
	conn    *surrealdb.DB
	retryer *retry.ExponentialBackoffRetryer
	mu      sync.RWMutex
	healthy bool
	done    chan struct{}
	once    sync.Once
}

// NewConnection creates a connection manager. Call Connect before use.
func NewConnection(cfg *config.Config) *Connection {
	return &Connection{
		cfg: cfg,
		retryer: retry.NewExponentialBackoffRetryer(
			retry.WithRetryable(isConnectionError),
		),
		done: make(chan struct{}),
	}
}

// Connect establishes the initial connection.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}
	return c.reconnect(ctx)
}

// WithConnection runs fn with the live connection. When fn fails with a
// connection error the connection is rebuilt and fn retried with backoff.
func (c *Connection) WithConnection(ctx context.Context, fn func(*surrealdb.DB) error) error {
	conn := c.getConnection()
	if conn == nil {
		return NewDBError(ErrNotConnected, "with connection")
	}

	err := fn(conn)
	if err == nil || !isConnectionError(err) {
		return err
	}

	slog.WarnContext(ctx, "Database operation failed, reconnecting with backoff",
		"error", err, "db_url", redactDBURL(c.cfg.DBUrl))

	return c.retryer.Retry(ctx, func() error {
		if reconnectErr := c.forceReconnect(ctx); reconnectErr != nil {
			return fmt.Errorf("reconnection failed: %w (original error: %v)", reconnectErr, err)
		}
		return fn(c.getConnection())
	})
}

// StartMonitoring begins periodic health checks.
func (c *Connection) StartMonitoring() {
	go c.monitorConnection()
}

// Close stops monitoring and closes the connection.
func (c *Connection) Close(ctx context.Context) error {
	c.once.Do(func() { close(c.done) })

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close(ctx)
	c.conn = nil
	c.healthy = false
	return err
}

// IsHealthy returns the result of the last health check.
func (c *Connection) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.healthy
}

// QueryTimeout is the default deadline for reads.
func (c *Connection) QueryTimeout() time.Duration { return c.cfg.DBQueryTimeout }

// ExecuteTimeout is the default deadline for writes.
func (c *Connection) ExecuteTimeout() time.Duration { return c.cfg.DBExecuteTimeout }

func (c *Connection) getConnection() *surrealdb.DB {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

func (c *Connection) reconnect(ctx context.Context) error {
	if c.conn != nil {
		_ = c.conn.Close(ctx)
		c.conn = nil
	}

	dbURL := c.cfg.DBUrl
	slog.DebugContext(ctx, "Connecting to database", "db_url", redactDBURL(dbURL))

	conn, err := surrealdb.FromEndpointURLString(ctx, dbURL)
	if err != nil {
		c.healthy = false
		return NewDBError(fmt.Errorf("%w: %w", ErrNotConnected, err), "connect to "+redactDBURL(dbURL))
	}

	auth := &surrealdb.Auth{
		Username: c.cfg.DBUser,
		Password: c.cfg.DBPass,
	}
	if _, err = conn.SignIn(ctx, auth); err != nil {
		_ = conn.Close(ctx)
		c.healthy = false
		slog.ErrorContext(ctx, "Failed to sign in to database", "user", c.cfg.DBUser, "error", err)
		return NewDBError(err, "sign in")
	}

	if err = conn.Use(ctx, c.cfg.DBNs, c.cfg.DBDb); err != nil {
		_ = conn.Close(ctx)
		c.healthy = false
		return NewDBError(err, fmt.Sprintf("use %s/%s", c.cfg.DBNs, c.cfg.DBDb))
	}

	c.conn = conn
	c.healthy = true
	slog.InfoContext(ctx, "Database connection established",
		"db_url", redactDBURL(dbURL), "namespace", c.cfg.DBNs, "database", c.cfg.DBDb)
	return nil
}

func (c *Connection) forceReconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnect(ctx)
}

func (c *Connection) monitorConnection() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := c.checkHealth(ctx); err != nil {
				slog.WarnContext(ctx, "Database health check failed, reconnecting", "error", err)
				if reconnectErr := c.retryer.Retry(ctx, func() error {
					return c.forceReconnect(ctx)
				}); reconnectErr != nil {
					slog.ErrorContext(ctx, "Failed to reconnect to database", "error", reconnectErr)
				}
			}
			cancel()
		case <-c.done:
			return
		}
	}
}

func (c *Connection) checkHealth(ctx context.Context) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		c.setHealthy(false)
		return NewDBError(ErrNotConnected, "health check")
	}

	if _, err := conn.Version(ctx); err != nil {
		c.setHealthy(false)
		return NewDBError(fmt.Errorf("%w: %w", ErrNotConnected, err), "health check")
	}

	// sampled to keep the log quiet
	if rand.Float32() < 0.1 {
		slog.DebugContext(ctx, "Database health check successful")
	}
	c.setHealthy(true)
	return nil
}

func (c *Connection) setHealthy(v bool) {
	c.mu.Lock()
	c.healthy = v
	c.mu.Unlock()
}

// isConnectionError reports whether err looks like a lost connection rather
// than an application-level failure.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotConnected) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "unexpected eof") ||
		strings.Contains(msg, "use of closed network connection")
}

// redactDBURL returns dbURL with any password replaced.
func redactDBURL(dbURL string) string {
	parsed, err := url.Parse(dbURL)
	if err != nil {
		return "invalid-url"
	}
	return parsed.Redacted()
}
