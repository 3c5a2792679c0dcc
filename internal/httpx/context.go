package httpx

import (
	"context"

	"github.com/elga-io/corgi/internal/logger"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	loggerKey    contextKey = "logger"
	userIDKey    contextKey = "user_id"
)

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func WithLogger(ctx context.Context, l *logger.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// LoggerFrom returns the request logger, or a no-op one.
func LoggerFrom(ctx context.Context) *logger.Logger {
	if l, ok := ctx.Value(loggerKey).(*logger.Logger); ok {
		return l
	}
	return logger.Nop()
}

func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

// UserIDFrom returns the authenticated user, or "" for anonymous requests.
func UserIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}
