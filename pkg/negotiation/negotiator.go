package negotiation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"mercator-hq/parley/pkg/policy"
)

const (
	// DefaultMaxAttempts is the attempt budget when none is configured.
	DefaultMaxAttempts = 3

	// DefaultGenerateTimeout bounds a single generator call.
	DefaultGenerateTimeout = 30 * time.Second
)

// Generator produces a candidate artifact for a request.
//
// feedback is empty on the first attempt and holds the previous attempt's
// violations afterwards. Implementations must honour ctx.
type Generator interface {
	Generate(ctx context.Context, req Request, feedback []policy.Violation) (string, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, req Request, feedback []policy.Violation) (string, error)

// Generate implements Generator.
func (f GeneratorFunc) Generate(ctx context.Context, req Request, feedback []policy.Violation) (string, error) {
	return f(ctx, req, feedback)
}

// Config contains negotiation limits.
type Config struct {
	// MaxAttempts is the number of generate and validate cycles allowed.
	// Must be at least 1.
	// Default: 3
	MaxAttempts int

	// GenerateTimeout bounds each generator call.
	// Default: 30s
	GenerateTimeout time.Duration
}

// DefaultConfig returns the default negotiation limits.
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:     DefaultMaxAttempts,
		GenerateTimeout: DefaultGenerateTimeout,
	}
}

// Options wires a Negotiator's collaborators.
type Options struct {
	// Generator is required.
	Generator Generator

	// Validator evaluates artifacts. Nil uses policy.NewValidator(nil).
	Validator *policy.Validator

	// Rules supplies the rule set, snapshotted once per negotiation.
	// Nil uses policy.DefaultRuleSet().
	Rules policy.Source

	// Sink observes negotiations. Nil disables observation.
	Sink Sink

	// Config holds limits. Nil uses DefaultConfig().
	Config *Config
}

// Negotiator runs negotiations. It keeps no per-negotiation state and is
// safe for concurrent use.
type Negotiator struct {
	generator Generator
	validator *policy.Validator
	rules     policy.Source
	sink      Sink
	config    Config
	logger    *slog.Logger
}

// New creates a Negotiator.
func New(opts Options) (*Negotiator, error) {
	if opts.Generator == nil {
		return nil, &ConfigError{Field: "generator", Message: "is required"}
	}

	cfg := DefaultConfig()
	if opts.Config != nil {
		cfg = opts.Config
	}
	if cfg.MaxAttempts < 1 {
		return nil, &ConfigError{Field: "max_attempts", Message: fmt.Sprintf("must be at least 1, got %d", cfg.MaxAttempts)}
	}
	if cfg.GenerateTimeout <= 0 {
		return nil, &ConfigError{Field: "generate_timeout", Message: "must be positive"}
	}

	n := &Negotiator{
		generator: opts.Generator,
		validator: opts.Validator,
		rules:     opts.Rules,
		sink:      opts.Sink,
		config:    *cfg,
		logger:    slog.Default().With("component", "negotiation"),
	}
	if n.validator == nil {
		n.validator = policy.NewValidator(nil)
	}
	if n.rules == nil {
		n.rules = policy.DefaultRuleSet()
	}
	switch sink := opts.Sink.(type) {
	case nil:
		n.sink = NopSink{}
	case MultiSink:
		n.sink = sink
	default:
		n.sink = MultiSink{sink}
	}
	return n, nil
}

// MaxAttempts returns the configured attempt budget.
func (n *Negotiator) MaxAttempts() int {
	return n.config.MaxAttempts
}

// Negotiate runs one negotiation to a terminal state and returns its
// record. The returned record is never nil and its Outcome is always
// terminal.
func (n *Negotiator) Negotiate(ctx context.Context, req Request) *AuditRecord {
	if req.ID == "" {
		req = NewRequest("", req.Text, req.Metadata)
	}

	rules := n.rules.Snapshot()
	if rules == nil {
		rules = policy.DefaultRuleSet()
	}

	record := &AuditRecord{
		NegotiationID:  uuid.NewString(),
		Request:        req,
		MaxAttempts:    n.config.MaxAttempts,
		RuleSetVersion: rules.Version(),
		Attempts:       make([]Attempt, 0, n.config.MaxAttempts),
		StartedAt:      time.Now(),
	}

	logger := n.logger.With(
		"negotiation_id", record.NegotiationID,
		"request_id", req.ID,
	)
	logger.Debug("negotiation started",
		"max_attempts", record.MaxAttempts,
		"ruleset_version", record.RuleSetVersion,
	)
	n.sink.NegotiationStarted(ctx, record)

	var feedback []policy.Violation
	for seq := 1; seq <= n.config.MaxAttempts; seq++ {
		if err := ctx.Err(); err != nil {
			return n.finish(ctx, logger, record, cancelled(record, seq, err))
		}

		attempt := Attempt{
			Sequence:  seq,
			Feedback:  feedback,
			StartedAt: time.Now(),
		}

		artifact, err := n.generate(ctx, req, feedback)
		attempt.GenerationDuration = time.Since(attempt.StartedAt)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return n.finish(ctx, logger, record, cancelled(record, seq, ctxErr))
		}
		if err != nil {
			genErr := NewGenerationError(seq, err)
			return n.finish(ctx, logger, record, Outcome{
				Status:   StatusFailed,
				Attempts: len(record.Attempts),
				Error:    genErr.Error(),
				err:      genErr,
			})
		}
		attempt.Artifact = artifact

		validationStart := time.Now()
		attempt.Verdict = n.validator.Validate(ctx, artifact, rules)
		attempt.ValidationDuration = time.Since(validationStart)

		// A verdict reached while the caller was leaving may be a
		// fail-closed artifact of cancellation; it is not recorded.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return n.finish(ctx, logger, record, cancelled(record, seq, ctxErr))
		}

		record.Attempts = append(record.Attempts, attempt)
		n.sink.AttemptCompleted(ctx, record, attempt)

		logger.Debug("attempt completed",
			"attempt", seq,
			"pass", attempt.Verdict.Pass,
			"violations", attempt.Verdict.RuleIDs(),
		)

		if attempt.Verdict.Pass {
			return n.finish(ctx, logger, record, Outcome{
				Status:   StatusApproved,
				Artifact: artifact,
				Attempts: len(record.Attempts),
			})
		}

		feedback = attempt.Verdict.Violations
	}

	last, _ := record.LastAttempt()
	blockErr := NewMaxAttemptsExceededError(len(record.Attempts), last.Verdict.Violations)
	return n.finish(ctx, logger, record, Outcome{
		Status:     StatusBlocked,
		Attempts:   len(record.Attempts),
		Violations: last.Verdict.Violations,
		Error:      blockErr.Error(),
		err:        blockErr,
	})
}

// NegotiateAsync runs Negotiate on a new goroutine. The channel receives
// exactly one record and is then closed.
func (n *Negotiator) NegotiateAsync(ctx context.Context, req Request) <-chan *AuditRecord {
	ch := make(chan *AuditRecord, 1)
	go func() {
		defer close(ch)
		ch <- n.Negotiate(ctx, req)
	}()
	return ch
}

// generate calls the generator with the per-call timeout. Panics are
// converted to errors.
func (n *Negotiator) generate(ctx context.Context, req Request, feedback []policy.Violation) (artifact string, err error) {
	genCtx, cancel := context.WithTimeout(ctx, n.config.GenerateTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("generator panic: %v", r)
		}
	}()

	var fb []policy.Violation
	if len(feedback) > 0 {
		fb = make([]policy.Violation, len(feedback))
		copy(fb, feedback)
	}

	artifact, err = n.generator.Generate(genCtx, req, fb)
	if err != nil && ctx.Err() == nil && errors.Is(genCtx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %s: %w", ErrGenerateTimeout, n.config.GenerateTimeout, err)
	}
	return artifact, err
}

func (n *Negotiator) finish(ctx context.Context, logger *slog.Logger, record *AuditRecord, outcome Outcome) *AuditRecord {
	record.Outcome = outcome
	record.FinishedAt = time.Now()

	logger.Debug("negotiation finished",
		"status", outcome.Status,
		"attempts", outcome.Attempts,
		"duration_ms", record.Duration().Milliseconds(),
		"error", outcome.Error,
	)

	n.sink.NegotiationFinished(ctx, record)
	return record
}

func cancelled(record *AuditRecord, seq int, cause error) Outcome {
	err := &CancelledError{Attempt: seq, Cause: cause}
	return Outcome{
		Status:   StatusCancelled,
		Attempts: len(record.Attempts),
		Error:    err.Error(),
		err:      err,
	}
}

func ruleIDs(violations []policy.Violation) []string {
	ids := make([]string, 0, len(violations))
	for _, v := range violations {
		ids = append(ids, v.RuleID)
	}
	return ids
}
