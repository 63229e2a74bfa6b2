package query

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"mercator-hq/parley/pkg/evidence"
)

// FromValues builds a query from URL parameters: status, rule_id,
// request_id, ruleset_version, since and until (RFC 3339), min_attempts,
// max_attempts, limit, offset, sort_by and sort_order. The result is
// validated and has defaults applied.
func FromValues(v url.Values) (*evidence.Query, error) {
	q := &evidence.Query{
		Status:         v.Get("status"),
		RuleID:         v.Get("rule_id"),
		RequestID:      v.Get("request_id"),
		RuleSetVersion: v.Get("ruleset_version"),
		SortBy:         v.Get("sort_by"),
		SortOrder:      v.Get("sort_order"),
	}

	var err error
	if q.StartTime, err = parseTime(v, "since"); err != nil {
		return nil, err
	}
	if q.EndTime, err = parseTime(v, "until"); err != nil {
		return nil, err
	}
	if q.MinAttempts, err = parseIntPtr(v, "min_attempts"); err != nil {
		return nil, err
	}
	if q.MaxAttempts, err = parseIntPtr(v, "max_attempts"); err != nil {
		return nil, err
	}
	if n, err := parseIntPtr(v, "limit"); err != nil {
		return nil, err
	} else if n != nil {
		q.Limit = *n
	}
	if n, err := parseIntPtr(v, "offset"); err != nil {
		return nil, err
	} else if n != nil {
		q.Offset = *n
	}

	if err := Validate(q); err != nil {
		return nil, err
	}
	ApplyDefaults(q)
	return q, nil
}

func parseTime(v url.Values, key string) (*time.Time, error) {
	s := v.Get(key)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, evidence.NewQueryError(nil, fmt.Errorf("invalid %s: %w", key, err))
	}
	return &t, nil
}

func parseIntPtr(v url.Values, key string) (*int, error) {
	s := v.Get(key)
	if s == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, evidence.NewQueryError(nil, fmt.Errorf("invalid %s: %q is not an integer", key, s))
	}
	return &n, nil
}
