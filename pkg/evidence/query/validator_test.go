package query

import (
	"errors"
	"net/url"
	"testing"
	"time"

	"mercator-hq/parley/pkg/evidence"
)

func TestValidate(t *testing.T) {
	now := time.Now()
	earlier := now.Add(-time.Hour)
	one, three := 1, 3
	negative := -1

	tests := []struct {
		name    string
		query   evidence.Query
		wantErr bool
	}{
		{name: "empty", query: evidence.Query{}},
		{name: "full", query: evidence.Query{
			StartTime: &earlier, EndTime: &now, Status: "blocked", RuleID: "recursive-delete",
			MinAttempts: &one, MaxAttempts: &three, Limit: 50, SortBy: "attempts", SortOrder: "asc",
		}},
		{name: "negative limit", query: evidence.Query{Limit: -1}, wantErr: true},
		{name: "limit too large", query: evidence.Query{Limit: MaxLimit + 1}, wantErr: true},
		{name: "negative offset", query: evidence.Query{Offset: -5}, wantErr: true},
		{name: "bad sort field", query: evidence.Query{SortBy: "prompt"}, wantErr: true},
		{name: "bad sort order", query: evidence.Query{SortOrder: "up"}, wantErr: true},
		{name: "inverted time range", query: evidence.Query{StartTime: &now, EndTime: &earlier}, wantErr: true},
		{name: "inverted attempts", query: evidence.Query{MinAttempts: &three, MaxAttempts: &one}, wantErr: true},
		{name: "negative min attempts", query: evidence.Query{MinAttempts: &negative}, wantErr: true},
		{name: "unknown status", query: evidence.Query{Status: "success"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.query)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var qe *evidence.QueryError
				if !errors.As(err, &qe) {
					t.Errorf("error %T is not a *QueryError", err)
				}
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	q := &evidence.Query{}
	ApplyDefaults(q)
	if q.Limit != DefaultLimit || q.SortBy != "started_at" || q.SortOrder != "desc" {
		t.Errorf("unexpected defaults: %+v", q)
	}

	q = &evidence.Query{Limit: 5, SortBy: "attempts", SortOrder: "asc"}
	ApplyDefaults(q)
	if q.Limit != 5 || q.SortBy != "attempts" || q.SortOrder != "asc" {
		t.Errorf("defaults overwrote explicit values: %+v", q)
	}
}

func TestFromValues(t *testing.T) {
	v := url.Values{}
	v.Set("status", "blocked")
	v.Set("rule_id", "recursive-delete")
	v.Set("since", "2026-01-01T00:00:00Z")
	v.Set("min_attempts", "2")
	v.Set("limit", "10")
	v.Set("sort_by", "attempts")

	q, err := FromValues(v)
	if err != nil {
		t.Fatalf("FromValues() error = %v", err)
	}
	if q.Status != "blocked" || q.RuleID != "recursive-delete" || q.Limit != 10 || q.SortBy != "attempts" {
		t.Errorf("query = %+v", q)
	}
	if q.StartTime == nil || q.StartTime.Year() != 2026 {
		t.Errorf("StartTime = %v", q.StartTime)
	}
	if q.MinAttempts == nil || *q.MinAttempts != 2 {
		t.Errorf("MinAttempts = %v", q.MinAttempts)
	}
	if q.SortOrder != "desc" {
		t.Errorf("SortOrder = %q, want default desc", q.SortOrder)
	}
}

func TestFromValues_Errors(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"since", "yesterday"},
		{"limit", "ten"},
		{"max_attempts", "1.5"},
		{"status", "pending"},
		{"sort_order", "sideways"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			_, err := FromValues(url.Values{tt.key: {tt.value}})
			var qerr *evidence.QueryError
			if !errors.As(err, &qerr) {
				t.Errorf("FromValues(%s=%s) error = %v, want QueryError", tt.key, tt.value, err)
			}
		})
	}
}
