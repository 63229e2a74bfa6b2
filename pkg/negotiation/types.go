package negotiation

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"mercator-hq/parley/pkg/policy"
)

// Request is a caller's generation request. It is not modified during a
// negotiation.
type Request struct {
	// ID identifies the request. NewRequest assigns a UUID when empty.
	ID string `json:"id"`

	// Text is the prompt passed to the generator.
	Text string `json:"text"`

	// Metadata carries opaque caller-supplied labels.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// NewRequest creates a Request, generating an id when id is empty.
// The metadata map is copied.
func NewRequest(id, text string, metadata map[string]string) Request {
	if id == "" {
		id = uuid.NewString()
	}
	var md map[string]string
	if len(metadata) > 0 {
		md = make(map[string]string, len(metadata))
		for k, v := range metadata {
			md[k] = v
		}
	}
	return Request{ID: id, Text: text, Metadata: md}
}

// Attempt is one completed generate and validate cycle.
type Attempt struct {
	// Sequence is 1-based.
	Sequence int `json:"sequence"`

	// Artifact is the generated content.
	Artifact string `json:"artifact"`

	// Verdict is the validator's result for Artifact.
	Verdict policy.Verdict `json:"verdict"`

	// Feedback holds the violations passed to the generator for this
	// attempt: none for the first attempt, the previous attempt's
	// violations afterwards.
	Feedback []policy.Violation `json:"feedback,omitempty"`

	StartedAt          time.Time     `json:"started_at"`
	GenerationDuration time.Duration `json:"-"`
	ValidationDuration time.Duration `json:"-"`
}

// MarshalJSON encodes durations as milliseconds.
func (a Attempt) MarshalJSON() ([]byte, error) {
	type alias Attempt
	return json.Marshal(struct {
		alias
		GenerationMS int64 `json:"generation_ms"`
		ValidationMS int64 `json:"validation_ms"`
	}{
		alias:        alias(a),
		GenerationMS: a.GenerationDuration.Milliseconds(),
		ValidationMS: a.ValidationDuration.Milliseconds(),
	})
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (a *Attempt) UnmarshalJSON(data []byte) error {
	type alias Attempt
	var aux struct {
		alias
		GenerationMS int64 `json:"generation_ms"`
		ValidationMS int64 `json:"validation_ms"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*a = Attempt(aux.alias)
	a.GenerationDuration = time.Duration(aux.GenerationMS) * time.Millisecond
	a.ValidationDuration = time.Duration(aux.ValidationMS) * time.Millisecond
	return nil
}

// Status is the terminal state of a negotiation.
type Status string

const (
	StatusApproved  Status = "approved"
	StatusBlocked   Status = "blocked"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is one of the four terminal states.
func (s Status) Terminal() bool {
	switch s {
	case StatusApproved, StatusBlocked, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Outcome is the result delivered to the caller.
type Outcome struct {
	Status Status `json:"status"`

	// Artifact is set only when Status is approved.
	Artifact string `json:"artifact,omitempty"`

	// Attempts is the number of completed attempts.
	Attempts int `json:"attempts"`

	// Violations holds the final attempt's violations when blocked.
	Violations []policy.Violation `json:"violations,omitempty"`

	// Error describes why the negotiation did not approve.
	Error string `json:"error,omitempty"`

	err error
}

// Err returns the typed error for a non-approved outcome:
// *MaxAttemptsExceededError, *GenerationError or *CancelledError.
// Outcomes decoded from JSON only carry the message.
func (o Outcome) Err() error {
	if o.err != nil {
		return o.err
	}
	if o.Error != "" {
		return errors.New(o.Error)
	}
	return nil
}

// AuditRecord is the complete history of one negotiation.
type AuditRecord struct {
	NegotiationID  string    `json:"negotiation_id"`
	Request        Request   `json:"request"`
	MaxAttempts    int       `json:"max_attempts"`
	RuleSetVersion string    `json:"ruleset_version"`
	Attempts       []Attempt `json:"attempts"`
	Outcome        Outcome   `json:"outcome"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
}

// Duration returns the wall time of the negotiation.
func (r *AuditRecord) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// LastAttempt returns the most recent completed attempt.
func (r *AuditRecord) LastAttempt() (Attempt, bool) {
	if len(r.Attempts) == 0 {
		return Attempt{}, false
	}
	return r.Attempts[len(r.Attempts)-1], true
}
