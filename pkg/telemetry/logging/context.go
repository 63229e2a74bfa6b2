package logging

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	negotiationIDKey contextKey = "negotiation_id"
	requestIDKey     contextKey = "request_id"
	attemptKey       contextKey = "attempt"
)

// WithNegotiationID adds a negotiation id to the context.
func WithNegotiationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, negotiationIDKey, id)
}

// NegotiationID returns the negotiation id stored in ctx.
func NegotiationID(ctx context.Context) string {
	id, _ := ctx.Value(negotiationIDKey).(string)
	return id
}

// WithRequestID adds a request id to the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the request id stored in ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithAttempt adds the current attempt number to the context.
func WithAttempt(ctx context.Context, attempt int) context.Context {
	return context.WithValue(ctx, attemptKey, attempt)
}

// Attempt returns the attempt number stored in ctx, or 0.
func Attempt(ctx context.Context) int {
	n, _ := ctx.Value(attemptKey).(int)
	return n
}

// contextAttrs returns the log fields carried by ctx.
func contextAttrs(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	var attrs []slog.Attr
	if id := NegotiationID(ctx); id != "" {
		attrs = append(attrs, slog.String(string(negotiationIDKey), id))
	}
	if id := RequestID(ctx); id != "" {
		attrs = append(attrs, slog.String(string(requestIDKey), id))
	}
	if n := Attempt(ctx); n > 0 {
		attrs = append(attrs, slog.Int(string(attemptKey), n))
	}
	return attrs
}
