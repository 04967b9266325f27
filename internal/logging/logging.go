package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New initializes a new slog logger and sets it as the default.
// LOG_FORMAT selects "text" (development, the default) or "json" and
// LOG_LEVEL selects debug, info, warn or error.
func New() {
	slog.SetDefault(NewLogger(os.Stdout, os.Getenv("LOG_FORMAT"), os.Getenv("LOG_LEVEL")))
}

// NewLogger builds a logger writing to w without touching the default.
func NewLogger(w io.Writer, format, level string) *slog.Logger {
	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: ParseLevel(level),
		})
	default:
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{
			Level:     ParseLevel(level),
			AddSource: true,
		})
	}
	return slog.New(handler)
}

// ParseLevel maps a level name to a slog.Level, defaulting to debug.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}

// Component returns the default logger tagged with a component name.
func Component(name string) *slog.Logger {
	return slog.Default().With("component", name)
}
