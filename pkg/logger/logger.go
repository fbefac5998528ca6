// Package logger wraps log/slog with the configuration and redaction rules
// shared by the server, the workers and the admin CLI.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger is a slog.Logger whose With and WithContext keep the wrapper type.
type Logger struct {
	*slog.Logger
}

// Config holds logger configuration. Format is "json" (default) or "text".
type Config struct {
	Level  string
	Format string
	Output io.Writer
}

// New creates a logger. Debug level also records the source location.
func New(cfg Config) *Logger {
	level := parseLevel(cfg.Level)
	opts := &slog.HandlerOptions{
		Level:       level,
		AddSource:   level == slog.LevelDebug,
		ReplaceAttr: redact,
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	var h slog.Handler = slog.NewJSONHandler(out, opts)
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(out, opts)
	}
	return &Logger{Logger: slog.New(h)}
}

// NewDefault logs JSON at info level to stdout.
func NewDefault() *Logger {
	return New(Config{Level: "info", Format: "json"})
}

// NewDevelopment logs text at debug level to stdout.
func NewDevelopment() *Logger {
	return New(Config{Level: "debug", Format: "text"})
}

// NewNop discards everything.
func NewNop() *Logger {
	return New(Config{Level: "error", Output: io.Discard})
}

// SetDefault installs l as the slog default.
func (l *Logger) SetDefault() {
	slog.SetDefault(l.Logger)
}

func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// =============================================================================
// Request scope
// =============================================================================

// ContextKey is the type of the request-scoped values WithContext logs.
type ContextKey string

const (
	ContextKeyRequestID ContextKey = "request_id"
	// ContextKeyUploader is the identity a report was submitted under.
	ContextKeyUploader  ContextKey = "uploader"
	ContextKeyWorkspace ContextKey = "workspace"
)

var contextKeys = []ContextKey{ContextKeyRequestID, ContextKeyUploader, ContextKeyWorkspace}

// WithContext adds the request-scoped values found in ctx.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	var attrs []any
	for _, k := range contextKeys {
		if v, ok := ctx.Value(k).(string); ok && v != "" {
			attrs = append(attrs, slog.String(string(k), v))
		}
	}
	if len(attrs) == 0 {
		return l
	}
	return l.With(attrs...)
}

// =============================================================================
// Redaction
// =============================================================================

// sensitiveKeys are substrings of attribute keys whose values are never
// written. Imported credentials pass through ingestion, so password-like
// keys are included.
var sensitiveKeys = []string{
	"password",
	"passwd",
	"secret",
	"token",
	"authorization",
	"api_key",
	"apikey",
	"private_key",
	"cookie",
	"dsn",
	"database_url",
	"webhook_url",
	"access_key",
}

func redact(_ []string, a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)
	for _, s := range sensitiveKeys {
		if strings.Contains(key, s) {
			return slog.String(a.Key, "[REDACTED]")
		}
	}
	return a
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
