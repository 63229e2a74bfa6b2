package tracing

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/parley/pkg/negotiation"
)

// Span attribute keys.
const (
	AttrNegotiationID  = "parley.negotiation.id"
	AttrRequestID      = "parley.request.id"
	AttrMaxAttempts    = "parley.max_attempts"
	AttrRuleSetVersion = "parley.ruleset.version"
	AttrStatus         = "parley.status"
	AttrAttempts       = "parley.attempts"
	AttrAttempt        = "parley.attempt"
	AttrPass           = "parley.attempt.pass"
	AttrViolations     = "parley.attempt.violations"
	AttrRuleID         = "parley.rule.id"
	AttrGenerationMS   = "parley.generation_ms"
	AttrValidationMS   = "parley.validation_ms"
)

// TraceSink records negotiations as spans. Open negotiation spans are kept
// by negotiation ID until NegotiationFinished ends them.
type TraceSink struct {
	tracer *Tracer
	spans  sync.Map // negotiation ID -> trace.Span
}

// NewTraceSink creates a TraceSink. A nil tracer records nothing.
func NewTraceSink(tracer *Tracer) *TraceSink {
	if tracer == nil {
		tracer = Noop()
	}
	return &TraceSink{tracer: tracer}
}

// NegotiationStarted implements negotiation.Sink.
func (s *TraceSink) NegotiationStarted(ctx context.Context, record *negotiation.AuditRecord) {
	_, span := s.tracer.Start(ctx, "negotiation",
		trace.WithTimestamp(record.StartedAt),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String(AttrNegotiationID, record.NegotiationID),
			attribute.String(AttrRequestID, record.Request.ID),
			attribute.Int(AttrMaxAttempts, record.MaxAttempts),
			attribute.String(AttrRuleSetVersion, record.RuleSetVersion),
		),
	)
	s.spans.Store(record.NegotiationID, span)
}

// AttemptCompleted implements negotiation.Sink.
func (s *TraceSink) AttemptCompleted(ctx context.Context, record *negotiation.AuditRecord, attempt negotiation.Attempt) {
	if parent, ok := s.span(record.NegotiationID); ok {
		ctx = trace.ContextWithSpan(ctx, parent)
	}

	_, span := s.tracer.Start(ctx, "attempt",
		trace.WithTimestamp(attempt.StartedAt),
		trace.WithAttributes(
			attribute.Int(AttrAttempt, attempt.Sequence),
			attribute.Bool(AttrPass, attempt.Verdict.Pass),
			attribute.StringSlice(AttrViolations, attempt.Verdict.RuleIDs()),
			attribute.Int64(AttrGenerationMS, attempt.GenerationDuration.Milliseconds()),
			attribute.Int64(AttrValidationMS, attempt.ValidationDuration.Milliseconds()),
		),
	)
	for _, v := range attempt.Verdict.Violations {
		span.AddEvent("violation", trace.WithAttributes(
			attribute.String(AttrRuleID, v.RuleID),
			attribute.String("description", v.Description),
		))
	}
	end := attempt.StartedAt.Add(attempt.GenerationDuration + attempt.ValidationDuration)
	span.End(trace.WithTimestamp(end))
}

// NegotiationFinished implements negotiation.Sink.
func (s *TraceSink) NegotiationFinished(_ context.Context, record *negotiation.AuditRecord) {
	v, ok := s.spans.LoadAndDelete(record.NegotiationID)
	if !ok {
		return
	}
	span := v.(trace.Span)

	outcome := record.Outcome
	span.SetAttributes(
		attribute.String(AttrStatus, string(outcome.Status)),
		attribute.Int(AttrAttempts, outcome.Attempts),
	)
	switch outcome.Status {
	case negotiation.StatusFailed, negotiation.StatusCancelled:
		span.SetStatus(codes.Error, outcome.Error)
	default:
		span.SetStatus(codes.Ok, "")
	}

	if record.FinishedAt.IsZero() {
		span.End()
		return
	}
	span.End(trace.WithTimestamp(record.FinishedAt))
}

// Open returns the number of negotiations with an unfinished span.
func (s *TraceSink) Open() int {
	n := 0
	s.spans.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (s *TraceSink) span(id string) (trace.Span, bool) {
	v, ok := s.spans.Load(id)
	if !ok {
		return nil, false
	}
	return v.(trace.Span), true
}
