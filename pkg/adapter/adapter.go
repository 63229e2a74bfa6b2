package adapter

import (
	"context"
	"log/slog"

	"mercator-hq/parley/pkg/negotiation"
)

// Placeholder texts returned in place of content for non-approved outcomes.
const (
	BlockedPlaceholder   = "# Code blocked due to safety issues"
	FailedPlaceholder    = "Error in processing"
	CancelledPlaceholder = "# Request cancelled"
)

// Negotiator runs one negotiation to completion.
type Negotiator interface {
	Negotiate(ctx context.Context, req negotiation.Request) *negotiation.AuditRecord
}

// Summary is the editor-facing view of a negotiation.
type Summary struct {
	Response string             `json:"response"`
	Safe     bool               `json:"safe"`
	Status   negotiation.Status `json:"status"`
	Attempts int                `json:"attempts"`
	Issues   []string           `json:"issues,omitempty"`
}

// Summarize builds a Summary from a finished audit record. Issues lists
// the descriptions of the final attempt's violations when blocked.
func Summarize(record *negotiation.AuditRecord) Summary {
	if record == nil {
		return Summary{Response: FailedPlaceholder, Status: negotiation.StatusFailed}
	}

	out := record.Outcome
	s := Summary{
		Status:   out.Status,
		Attempts: len(record.Attempts),
	}

	switch out.Status {
	case negotiation.StatusApproved:
		s.Response = out.Artifact
		s.Safe = true
	case negotiation.StatusBlocked:
		s.Response = BlockedPlaceholder
		for _, v := range out.Violations {
			s.Issues = append(s.Issues, v.Description)
		}
	case negotiation.StatusCancelled:
		s.Response = CancelledPlaceholder
	default:
		s.Response = FailedPlaceholder
	}
	return s
}

// CursorAdapter serves prompt-in, text-out integrations.
type CursorAdapter struct {
	negotiator Negotiator
	logger     *slog.Logger
}

// NewCursorAdapter creates a CursorAdapter.
func NewCursorAdapter(n Negotiator) *CursorAdapter {
	return &CursorAdapter{
		negotiator: n,
		logger:     slog.Default().With("component", "adapter.cursor"),
	}
}

// Intercept negotiates prompt and returns the approved text or a
// placeholder.
func (a *CursorAdapter) Intercept(ctx context.Context, prompt string) string {
	record := a.negotiator.Negotiate(ctx, negotiation.NewRequest("", prompt, map[string]string{"client": "cursor"}))
	s := Summarize(record)
	a.logger.Debug("intercepted request",
		"negotiation_id", record.NegotiationID,
		"status", s.Status,
		"attempts", s.Attempts,
	)
	return s.Response
}

// WindsurfAdapter serves map-based request/response integrations.
type WindsurfAdapter struct {
	negotiator Negotiator
	logger     *slog.Logger
}

// NewWindsurfAdapter creates a WindsurfAdapter.
func NewWindsurfAdapter(n Negotiator) *WindsurfAdapter {
	return &WindsurfAdapter{
		negotiator: n,
		logger:     slog.Default().With("component", "adapter.windsurf"),
	}
}

// Process reads "prompt" (and an optional "request_id") from request and
// returns "response", "safety_validated" and "attempts".
func (a *WindsurfAdapter) Process(ctx context.Context, request map[string]any) map[string]any {
	prompt, _ := request["prompt"].(string)
	id, _ := request["request_id"].(string)

	record := a.negotiator.Negotiate(ctx, negotiation.NewRequest(id, prompt, map[string]string{"client": "windsurf"}))
	s := Summarize(record)
	a.logger.Debug("processed request",
		"negotiation_id", record.NegotiationID,
		"status", s.Status,
		"attempts", s.Attempts,
	)

	return map[string]any{
		"response":         s.Response,
		"safety_validated": s.Safe,
		"attempts":         s.Attempts,
	}
}
