package logging

import (
	"context"
	"log/slog"

	"mercator-hq/parley/pkg/negotiation"
)

// LogSink writes one structured event per negotiation step.
type LogSink struct {
	logger *slog.Logger

	// IncludeArtifacts adds generated artifacts to attempt events at
	// debug level.
	IncludeArtifacts bool
}

// NewLogSink creates a LogSink. A nil logger uses slog.Default().
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "negotiation")}
}

// NegotiationStarted implements negotiation.Sink.
func (s *LogSink) NegotiationStarted(ctx context.Context, record *negotiation.AuditRecord) {
	s.logger.InfoContext(s.context(ctx, record, 0), "negotiation started",
		"max_attempts", record.MaxAttempts,
		"ruleset_version", record.RuleSetVersion,
	)
}

// AttemptCompleted implements negotiation.Sink.
func (s *LogSink) AttemptCompleted(ctx context.Context, record *negotiation.AuditRecord, attempt negotiation.Attempt) {
	ctx = s.context(ctx, record, attempt.Sequence)

	if attempt.Verdict.Pass {
		s.logger.InfoContext(ctx, "attempt passed validation",
			"generation_ms", attempt.GenerationDuration.Milliseconds(),
			"validation_ms", attempt.ValidationDuration.Milliseconds(),
		)
	} else {
		s.logger.WarnContext(ctx, "attempt rejected",
			"violations", attempt.Verdict.RuleIDs(),
			"feedback_rules", len(attempt.Feedback),
			"generation_ms", attempt.GenerationDuration.Milliseconds(),
			"validation_ms", attempt.ValidationDuration.Milliseconds(),
		)
	}

	if s.IncludeArtifacts {
		s.logger.DebugContext(ctx, "attempt artifact", "artifact", attempt.Artifact)
	}
}

// NegotiationFinished implements negotiation.Sink.
func (s *LogSink) NegotiationFinished(ctx context.Context, record *negotiation.AuditRecord) {
	ctx = s.context(ctx, record, 0)
	outcome := record.Outcome
	attrs := []any{
		"status", string(outcome.Status),
		"attempts", outcome.Attempts,
		"duration_ms", record.Duration().Milliseconds(),
	}

	switch outcome.Status {
	case negotiation.StatusApproved:
		s.logger.InfoContext(ctx, "negotiation approved", attrs...)
	case negotiation.StatusBlocked:
		violations := make([]string, 0, len(outcome.Violations))
		for _, v := range outcome.Violations {
			violations = append(violations, v.RuleID)
		}
		s.logger.WarnContext(ctx, "negotiation blocked", append(attrs, "violations", violations)...)
	default:
		s.logger.ErrorContext(ctx, "negotiation ended without approval", append(attrs, "error", outcome.Error)...)
	}
}

func (s *LogSink) context(ctx context.Context, record *negotiation.AuditRecord, attempt int) context.Context {
	ctx = WithNegotiationID(ctx, record.NegotiationID)
	ctx = WithRequestID(ctx, record.Request.ID)
	if attempt > 0 {
		ctx = WithAttempt(ctx, attempt)
	}
	return ctx
}
