package database

import (
	"context"
	"time"
)

// ContextKey is the type of the timeout override keys.
type ContextKey string

const (
	// ContextKeyQueryTimeout overrides the read timeout for one call.
	ContextKeyQueryTimeout ContextKey = "db_query_timeout"
	// ContextKeyExecuteTimeout overrides the write timeout for one call.
	ContextKeyExecuteTimeout ContextKey = "db_execute_timeout"
)

// WithQueryTimeout returns a context whose reads use d instead of the default.
func WithQueryTimeout(ctx context.Context, d time.Duration) context.Context {
	return context.WithValue(ctx, ContextKeyQueryTimeout, d)
}

// WithExecuteTimeout returns a context whose writes use d instead of the default.
func WithExecuteTimeout(ctx context.Context, d time.Duration) context.Context {
	return context.WithValue(ctx, ContextKeyExecuteTimeout, d)
}

// timeoutFromContext applies the override stored under key, or defaultTimeout.
// A deadline already on ctx that is sooner still wins.
func timeoutFromContext(ctx context.Context, defaultTimeout time.Duration, key ContextKey) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	timeout := defaultTimeout
	if v, ok := ctx.Value(key).(time.Duration); ok && v > 0 {
		timeout = v
	}
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
