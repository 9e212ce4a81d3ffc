package logging

import (
	"log/slog"
	"os"
	"strings"
)

// New builds a JSON logger for production use. slog keeps the standard
// library feel while emitting structured logs any backend can ingest.
func New(level string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     levelFromString(level),
		AddSource: true,
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// WithComponent tags a child logger with the subsystem it serves.
func WithComponent(l *slog.Logger, name string) *slog.Logger {
	return l.With("component", name)
}

func levelFromString(level string) slog.Leveler {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
