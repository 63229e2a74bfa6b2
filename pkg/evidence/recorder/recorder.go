package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"mercator-hq/parley/pkg/evidence"
	"mercator-hq/parley/pkg/negotiation"
	"mercator-hq/parley/pkg/policy"
)

// Config contains configuration for the evidence recorder.
type Config struct {
	// Enabled enables evidence recording.
	Enabled bool

	// AsyncBuffer is the size of the write queue.
	// Default: 1000
	AsyncBuffer int

	// WriteTimeout bounds each storage write and the wait for queue space.
	// Default: 5 seconds
	WriteTimeout time.Duration

	// MaxFieldLength is the maximum stored prompt length.
	// Default: 2000
	MaxFieldLength int

	// StoreAudit keeps the full AuditRecord JSON, including rejected
	// artifacts, on each record.
	// Default: true
	StoreAudit bool

	// Redact, when set, is applied to the stored prompt and to prompts and
	// artifacts inside the audit JSON.
	Redact func(string) string
}

// DefaultConfig returns the default recorder configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled:        true,
		AsyncBuffer:    1000,
		WriteTimeout:   5 * time.Second,
		MaxFieldLength: 2000,
		StoreAudit:     true,
	}
}

// Recorder writes negotiation evidence asynchronously. It implements
// negotiation.Sink.
type Recorder struct {
	storage    evidence.Storage
	config     *Config
	recordChan chan *evidence.Record
	wg         sync.WaitGroup
	done       chan struct{}
	closeOnce  sync.Once
	logger     *slog.Logger

	// OnWrite, when set, is called after every storage write attempt.
	OnWrite func(record *evidence.Record, err error)
}

// NewRecorder creates a recorder and starts its write worker.
func NewRecorder(storage evidence.Storage, config *Config) *Recorder {
	if config == nil {
		config = DefaultConfig()
	}
	if config.AsyncBuffer <= 0 {
		config.AsyncBuffer = 1000
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 5 * time.Second
	}

	r := &Recorder{
		storage:    storage,
		config:     config,
		recordChan: make(chan *evidence.Record, config.AsyncBuffer),
		done:       make(chan struct{}),
		logger:     slog.Default().With("component", "evidence.recorder"),
	}

	r.wg.Add(1)
	go r.worker()

	r.logger.Info("evidence recorder initialized",
		"enabled", config.Enabled,
		"async_buffer", config.AsyncBuffer,
		"write_timeout", config.WriteTimeout,
		"store_audit", config.StoreAudit,
	)
	return r
}

// NegotiationStarted implements negotiation.Sink.
func (r *Recorder) NegotiationStarted(context.Context, *negotiation.AuditRecord) {}

// AttemptCompleted implements negotiation.Sink.
func (r *Recorder) AttemptCompleted(context.Context, *negotiation.AuditRecord, negotiation.Attempt) {}

// NegotiationFinished implements negotiation.Sink.
func (r *Recorder) NegotiationFinished(ctx context.Context, audit *negotiation.AuditRecord) {
	if err := r.Record(ctx, audit); err != nil {
		r.logger.Error("failed to queue evidence record",
			"negotiation_id", audit.NegotiationID,
			"error", err,
		)
	}
}

// Record converts audit and queues it for writing. It blocks for at most
// WriteTimeout when the queue is full.
func (r *Recorder) Record(_ context.Context, audit *negotiation.AuditRecord) error {
	if !r.config.Enabled {
		return nil
	}

	record, err := r.BuildRecord(audit)
	if err != nil {
		return evidence.NewRecorderError(audit.NegotiationID, err)
	}

	select {
	case <-r.done:
		return evidence.NewRecorderError(record.ID, context.Canceled)
	default:
	}

	timer := time.NewTimer(r.config.WriteTimeout)
	defer timer.Stop()

	select {
	case r.recordChan <- record:
		r.logger.Debug("evidence record enqueued",
			"record_id", record.ID,
			"status", record.Status,
		)
		return nil
	case <-timer.C:
		r.logger.Error("evidence queue full, dropping record",
			"record_id", record.ID,
			"queue_capacity", r.config.AsyncBuffer,
		)
		return evidence.NewRecorderError(record.ID, context.DeadlineExceeded)
	case <-r.done:
		return evidence.NewRecorderError(record.ID, context.Canceled)
	}
}

// BuildRecord converts an audit record into an evidence record.
func (r *Recorder) BuildRecord(audit *negotiation.AuditRecord) (*evidence.Record, error) {
	outcome := audit.Outcome
	prompt := audit.Request.Text

	record := &evidence.Record{
		ID:             audit.NegotiationID,
		RequestID:      audit.Request.ID,
		StartedAt:      audit.StartedAt,
		FinishedAt:     audit.FinishedAt,
		RecordedAt:     time.Now(),
		Duration:       audit.Duration(),
		Prompt:         TruncateString(r.redact(prompt), r.config.MaxFieldLength),
		PromptHash:     HashString(prompt),
		Metadata:       copyMetadata(audit.Request.Metadata),
		Status:         string(outcome.Status),
		Attempts:       outcome.Attempts,
		MaxAttempts:    audit.MaxAttempts,
		RuleSetVersion: audit.RuleSetVersion,
		Violations:     violationRecords(outcome.Violations),
		RuleIDs:        violatedRules(audit.Attempts),
		Error:          outcome.Error,
		ErrorType:      classifyOutcome(outcome),
	}

	if outcome.Status == negotiation.StatusApproved {
		record.Artifact = outcome.Artifact
		record.ArtifactHash = HashString(outcome.Artifact)
	}

	if r.config.StoreAudit {
		data, err := json.Marshal(r.redactAudit(audit))
		if err != nil {
			return nil, err
		}
		record.Audit = data
	}

	return record, nil
}

// Close stops accepting records, drains the queue and waits for pending
// writes. It is safe to call more than once.
func (r *Recorder) Close() error {
	r.closeOnce.Do(func() {
		r.logger.Info("shutting down evidence recorder")
		close(r.done)
		r.wg.Wait()
		r.logger.Info("evidence recorder shut down complete")
	})
	return nil
}

func (r *Recorder) worker() {
	defer r.wg.Done()

	for {
		select {
		case record := <-r.recordChan:
			r.writeRecord(record)

		case <-r.done:
			r.logger.Info("draining evidence queue before shutdown",
				"pending_count", len(r.recordChan),
			)
			for {
				select {
				case record := <-r.recordChan:
					r.writeRecord(record)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) writeRecord(record *evidence.Record) {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.WriteTimeout)
	defer cancel()

	start := time.Now()
	err := r.storage.Store(ctx, record)
	if r.OnWrite != nil {
		r.OnWrite(record, err)
	}
	if err != nil {
		r.logger.Error("failed to store evidence record",
			"record_id", record.ID,
			"error", err,
		)
		return
	}

	duration := time.Since(start)
	r.logger.Debug("evidence recorded",
		"record_id", record.ID,
		"status", record.Status,
		"duration_ms", duration.Milliseconds(),
	)
	if duration > r.config.WriteTimeout/2 {
		r.logger.Warn("slow evidence write",
			"record_id", record.ID,
			"duration_ms", duration.Milliseconds(),
			"threshold_ms", (r.config.WriteTimeout / 2).Milliseconds(),
		)
	}
}

func (r *Recorder) redact(s string) string {
	if r.config.Redact == nil {
		return s
	}
	return r.config.Redact(s)
}

// redactAudit returns a copy of audit with the prompt and artifacts passed
// through the redactor.
func (r *Recorder) redactAudit(audit *negotiation.AuditRecord) *negotiation.AuditRecord {
	if r.config.Redact == nil {
		return audit
	}
	cp := *audit
	cp.Request.Text = r.config.Redact(audit.Request.Text)
	cp.Attempts = make([]negotiation.Attempt, len(audit.Attempts))
	for i, a := range audit.Attempts {
		a.Artifact = r.config.Redact(a.Artifact)
		cp.Attempts[i] = a
	}
	cp.Outcome.Artifact = r.config.Redact(audit.Outcome.Artifact)
	return &cp
}

func classifyOutcome(outcome negotiation.Outcome) string {
	var cancelled *negotiation.CancelledError
	err := outcome.Err()
	switch outcome.Status {
	case negotiation.StatusApproved:
		return ""
	case negotiation.StatusBlocked:
		return "blocked"
	case negotiation.StatusCancelled:
		return "cancelled"
	}
	switch {
	case errors.As(err, &cancelled):
		return "cancelled"
	case errors.Is(err, negotiation.ErrGenerateTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "generation"
	}
}

func violationRecords(violations []policy.Violation) []evidence.ViolationRecord {
	if len(violations) == 0 {
		return nil
	}
	out := make([]evidence.ViolationRecord, 0, len(violations))
	for _, v := range violations {
		out = append(out, evidence.ViolationRecord{
			RuleID:      v.RuleID,
			Description: v.Description,
			Error:       v.Error,
		})
	}
	return out
}

// violatedRules returns the distinct rule IDs violated by any attempt, in
// first-seen order.
func violatedRules(attempts []negotiation.Attempt) []string {
	var ids []string
	seen := make(map[string]bool)
	for _, a := range attempts {
		for _, v := range a.Verdict.Violations {
			if !seen[v.RuleID] {
				seen[v.RuleID] = true
				ids = append(ids, v.RuleID)
			}
		}
	}
	return ids
}

func copyMetadata(md map[string]string) map[string]string {
	if len(md) == 0 {
		return nil
	}
	out := make(map[string]string, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}
