package negotiation

import (
	"context"
	"log/slog"
)

// Sink observes negotiations as they progress. Calls are synchronous on the
// negotiating goroutine; implementations must not modify the record and
// should copy anything they keep past the call.
type Sink interface {
	NegotiationStarted(ctx context.Context, record *AuditRecord)
	AttemptCompleted(ctx context.Context, record *AuditRecord, attempt Attempt)
	NegotiationFinished(ctx context.Context, record *AuditRecord)
}

// NopSink ignores all events.
type NopSink struct{}

func (NopSink) NegotiationStarted(context.Context, *AuditRecord)        {}
func (NopSink) AttemptCompleted(context.Context, *AuditRecord, Attempt) {}
func (NopSink) NegotiationFinished(context.Context, *AuditRecord)       {}

// MultiSink fans events out to several sinks in order.
type MultiSink []Sink

// NegotiationStarted implements Sink.
func (m MultiSink) NegotiationStarted(ctx context.Context, record *AuditRecord) {
	for _, s := range m {
		safeCall("NegotiationStarted", func() { s.NegotiationStarted(ctx, record) })
	}
}

// AttemptCompleted implements Sink.
func (m MultiSink) AttemptCompleted(ctx context.Context, record *AuditRecord, attempt Attempt) {
	for _, s := range m {
		safeCall("AttemptCompleted", func() { s.AttemptCompleted(ctx, record, attempt) })
	}
}

// NegotiationFinished implements Sink.
func (m MultiSink) NegotiationFinished(ctx context.Context, record *AuditRecord) {
	for _, s := range m {
		safeCall("NegotiationFinished", func() { s.NegotiationFinished(ctx, record) })
	}
}

// safeCall keeps a misbehaving sink from aborting a negotiation.
func safeCall(event string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Default().With("component", "negotiation.sink").Error("sink panicked",
				"event", event,
				"panic", r,
			)
		}
	}()
	fn()
}
