package query

import (
	"fmt"

	"mercator-hq/parley/pkg/evidence"
)

const (
	// DefaultLimit is the number of records returned when no limit is set.
	DefaultLimit = 100

	// MaxLimit is the largest page a single query may request.
	MaxLimit = 10000
)

// ValidSortFields contains the fields that can be used for sorting.
var ValidSortFields = map[string]bool{
	"started_at":  true,
	"recorded_at": true,
	"attempts":    true,
	"duration":    true,
}

// ValidSortOrders contains the valid sort orders.
var ValidSortOrders = map[string]bool{
	"asc":  true,
	"desc": true,
}

// ValidStatuses contains the negotiation statuses a query can filter on.
var ValidStatuses = map[string]bool{
	"approved":  true,
	"blocked":   true,
	"failed":    true,
	"cancelled": true,
}

// Validate returns a *evidence.QueryError describing the first invalid
// parameter of q.
func Validate(q *evidence.Query) error {
	if q.Limit < 0 {
		return evidence.NewQueryError(q, fmt.Errorf("limit must be >= 0, got %d", q.Limit))
	}
	if q.Limit > MaxLimit {
		return evidence.NewQueryError(q, fmt.Errorf("limit must be <= %d, got %d", MaxLimit, q.Limit))
	}
	if q.Offset < 0 {
		return evidence.NewQueryError(q, fmt.Errorf("offset must be >= 0, got %d", q.Offset))
	}
	if q.SortBy != "" && !ValidSortFields[q.SortBy] {
		return evidence.NewQueryError(q, fmt.Errorf("invalid sort field: %s", q.SortBy))
	}
	if q.SortOrder != "" && !ValidSortOrders[q.SortOrder] {
		return evidence.NewQueryError(q, fmt.Errorf("invalid sort order: %s (must be 'asc' or 'desc')", q.SortOrder))
	}
	if q.StartTime != nil && q.EndTime != nil && q.StartTime.After(*q.EndTime) {
		return evidence.NewQueryError(q, fmt.Errorf("start_time must be before end_time"))
	}
	if q.MinAttempts != nil && *q.MinAttempts < 0 {
		return evidence.NewQueryError(q, fmt.Errorf("min_attempts must be >= 0, got %d", *q.MinAttempts))
	}
	if q.MinAttempts != nil && q.MaxAttempts != nil && *q.MinAttempts > *q.MaxAttempts {
		return evidence.NewQueryError(q, fmt.Errorf("min_attempts must be <= max_attempts"))
	}
	if q.Status != "" && !ValidStatuses[q.Status] {
		return evidence.NewQueryError(q, fmt.Errorf("invalid status: %s (must be 'approved', 'blocked', 'failed' or 'cancelled')", q.Status))
	}
	return nil
}

// ApplyDefaults applies default paging and sorting to q.
func ApplyDefaults(q *evidence.Query) {
	if q.Limit == 0 {
		q.Limit = DefaultLimit
	}
	if q.SortBy == "" {
		q.SortBy = "started_at"
	}
	if q.SortOrder == "" {
		q.SortOrder = "desc"
	}
}
