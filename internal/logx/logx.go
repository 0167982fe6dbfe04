package logx

import (
	"context"

	"pkt.systems/fleetcon/schema"
	"pkt.systems/pslog"
)

type contextKey int

const tokenKey contextKey = 0

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithToken annotates the logger with the execution token if present.
func WithToken(log pslog.Logger, token schema.ExecutionToken) pslog.Logger {
	if token != "" {
		log = log.With("token", token)
	}
	return log
}

// WithKey annotates the logger with a stream key if present.
func WithKey(log pslog.Logger, key schema.StreamKey) pslog.Logger {
	if key != "" {
		log = log.With("key", key)
	}
	return log
}

// WithRun annotates the context logger with the token unless the context
// already carries the same token marker.
func WithRun(ctx context.Context, token schema.ExecutionToken) pslog.Logger {
	log := pslog.Ctx(ctx)
	if token == "" {
		return log
	}
	if current, ok := ctx.Value(tokenKey).(schema.ExecutionToken); ok && current == token {
		return log
	}
	return log.With("token", token)
}

// WithRunKey annotates the context logger with token and stream key.
func WithRunKey(ctx context.Context, token schema.ExecutionToken, key schema.StreamKey) pslog.Logger {
	return WithKey(WithRun(ctx, token), key)
}

// ContextWithToken stores the token marker on the context for log de-duplication.
func ContextWithToken(ctx context.Context, token schema.ExecutionToken) context.Context {
	if ctx == nil || token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenKey, token)
}

// ContextWithRunLogger attaches the logger and token marker to the context.
func ContextWithRunLogger(ctx context.Context, log pslog.Logger, token schema.ExecutionToken) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	return ContextWithToken(ctx, token)
}
