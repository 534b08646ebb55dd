package log

import (
	"context"
	"log/slog"
	"net/http"
)

// ContextKey type for context keys
type ContextKey string

const (
	// LoggerContextKey is the context key for the logger
	LoggerContextKey ContextKey = "logger"
)

// NewContext returns a copy of ctx carrying logger.
func NewContext(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, LoggerContextKey, logger)
}

// FromContext extracts a logger from the request context
func FromContext(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(LoggerContextKey).(*Logger); ok {
		return logger
	}
	return &Logger{
		Logger:    slog.Default(),
		component: "unknown",
	}
}

// CommandLogger writes the outcome of ledger commands in one consistent shape.
type CommandLogger struct {
	logger *Logger
}

func NewCommandLogger(logger *Logger) *CommandLogger {
	return &CommandLogger{logger: logger}
}

// Committed logs a command that changed the ledger.
func (cl *CommandLogger) Committed(ctx context.Context, op string, fields LogFields) {
	cl.logger.InfoContext(ctx, "ledger command committed", fields.WithOperation(op).ToSlice()...)
}

// Rejected logs a failed command. Caller errors go out at Warn, the rest at Error.
func (cl *CommandLogger) Rejected(ctx context.Context, op string, err error, fields LogFields) {
	fields = fields.WithOperation(op).WithError(err)
	level := slog.LevelError
	if t := ErrorType(err); t == ErrorTypeValidation || t == ErrorTypeNotFound {
		level = slog.LevelWarn
	}
	cl.logger.LogContext(ctx, level, "ledger command rejected", fields.ToSlice()...)
}

// LogHTTPEnd logs the completion of an HTTP request
func (cl *CommandLogger) LogHTTPEnd(ctx context.Context, r *http.Request, statusCode int, durationMs int64, clientIP string) {
	level := slog.LevelInfo
	if statusCode >= 400 && statusCode < 500 {
		level = slog.LevelWarn
	} else if statusCode >= 500 {
		level = slog.LevelError
	}

	fields := NewFields().
		WithHTTPRequest(r.Method, r.URL.Path, r.URL.RawQuery, "").
		WithHTTPResponse(statusCode, durationMs, statusCode < 400).
		WithClientIP(clientIP)

	cl.logger.LogContext(ctx, level, "HTTP request completed", fields.ToSlice()...)
}
