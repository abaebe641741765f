package logger

import (
	"context"
	"log/slog"
)

type ContextKey string

const (
	IdentityKey  ContextKey = "assistant.identity"
	SessionIDKey ContextKey = "assistant.session.id"
	StageKey     ContextKey = "assistant.pipeline.stage"
)

// ContextLogger adds identity, session and stage fields from the context.
type ContextLogger struct {
	logger      *slog.Logger
	serviceName string
}

// NewContextLogger wraps base.
func NewContextLogger(base *slog.Logger, serviceName string) *ContextLogger {
	return &ContextLogger{logger: base, serviceName: serviceName}
}

// WithContext returns a logger with context values added as fields.
func (cl *ContextLogger) WithContext(ctx context.Context) *slog.Logger {
	logger := cl.logger.With("service", cl.serviceName)

	var fields []any
	for _, key := range []ContextKey{IdentityKey, SessionIDKey, StageKey} {
		if v := ctx.Value(key); v != nil {
			fields = append(fields, string(key), v)
		}
	}

	if len(fields) > 0 {
		logger = logger.With(fields...)
	}
	return logger
}

// WithIdentity adds the caller identity to the context.
func WithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, IdentityKey, identity)
}

// WithSessionID adds the conversation session id to the context.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

// WithStage adds the pipeline stage to the context.
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, StageKey, stage)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug", "DEBUG":
		return slog.LevelDebug
	case "warn", "WARN", "warning", "WARNING":
		return slog.LevelWarn
	case "error", "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
