package evidence

import (
	"context"
	"encoding/json"
	"io"
	"time"
)

// Record is the persisted audit trail of one negotiation.
type Record struct {
	// ID is the negotiation ID.
	ID        string `json:"id"`
	RequestID string `json:"request_id"`

	// Timestamps
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	RecordedAt time.Time     `json:"recorded_at"`
	Duration   time.Duration `json:"duration"`

	// Request
	Prompt     string            `json:"prompt"`      // truncated to MaxFieldLength
	PromptHash string            `json:"prompt_hash"` // SHA-256 of the full prompt
	Metadata   map[string]string `json:"metadata,omitempty"`

	// Outcome
	Status         string            `json:"status"`
	Attempts       int               `json:"attempts"`
	MaxAttempts    int               `json:"max_attempts"`
	RuleSetVersion string            `json:"ruleset_version"`
	Violations     []ViolationRecord `json:"violations,omitempty"` // final attempt, when blocked
	RuleIDs        []string          `json:"rule_ids,omitempty"`   // every rule violated during the negotiation

	// Artifact is only stored for approved negotiations.
	Artifact     string `json:"artifact,omitempty"`
	ArtifactHash string `json:"artifact_hash,omitempty"`

	Error     string `json:"error,omitempty"`
	ErrorType string `json:"error_type,omitempty"` // "blocked", "generation", "timeout", "cancelled"

	// Audit is the full AuditRecord JSON when the recorder keeps it.
	Audit json.RawMessage `json:"audit,omitempty"`
}

// ViolationRecord is a flattened policy violation.
type ViolationRecord struct {
	RuleID      string `json:"rule_id"`
	Description string `json:"description"`
	Error       string `json:"error,omitempty"`
}

// Query defines filter parameters for querying evidence records.
type Query struct {
	// Time range over StartedAt, both inclusive.
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`

	// Filters
	RequestID      string `json:"request_id,omitempty"`
	Status         string `json:"status,omitempty"` // "approved", "blocked", "failed", "cancelled"
	RuleID         string `json:"rule_id,omitempty"`
	RuleSetVersion string `json:"ruleset_version,omitempty"`

	// Attempt thresholds
	MinAttempts *int `json:"min_attempts,omitempty"`
	MaxAttempts *int `json:"max_attempts,omitempty"`

	// Pagination
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`

	// Sorting
	SortBy    string `json:"sort_by,omitempty"`    // "started_at", "recorded_at", "attempts", "duration"
	SortOrder string `json:"sort_order,omitempty"` // "asc", "desc"
}

// Storage defines the interface for evidence storage backends.
// Implementations must be safe for concurrent use.
type Storage interface {
	// Store persists a record. Storing an existing ID replaces it.
	Store(ctx context.Context, record *Record) error

	// Get returns the record with the given ID, or ErrNotFound.
	Get(ctx context.Context, id string) (*Record, error)

	// Query retrieves records matching the query filters.
	// Returns an empty slice if no records match.
	Query(ctx context.Context, query *Query) ([]*Record, error)

	// QueryStream streams matching records. Both channels are closed when
	// the query completes; errCh carries at most one error.
	QueryStream(ctx context.Context, query *Query) (<-chan *Record, <-chan error, error)

	// Count returns the number of records matching the query filters.
	Count(ctx context.Context, query *Query) (int64, error)

	// Delete removes records matching the query filters and returns the
	// number deleted.
	Delete(ctx context.Context, query *Query) (int64, error)

	// Close releases any resources held by the storage backend.
	Close() error
}

// Exporter writes evidence records in a specific format.
type Exporter interface {
	Export(ctx context.Context, records []*Record, w io.Writer) error
}
