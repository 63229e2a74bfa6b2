package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"mercator-hq/parley/pkg/evidence"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testRecord(i int, status string, ruleIDs ...string) *evidence.Record {
	started := baseTime.Add(time.Duration(i) * time.Minute)
	return &evidence.Record{
		ID:             fmt.Sprintf("neg-%02d", i),
		RequestID:      fmt.Sprintf("req-%02d", i),
		StartedAt:      started,
		FinishedAt:     started.Add(250 * time.Millisecond),
		RecordedAt:     started.Add(time.Second),
		Duration:       250 * time.Millisecond,
		Prompt:         "Create a cleanup script",
		PromptHash:     "abc123",
		Metadata:       map[string]string{"client": "cursor"},
		Status:         status,
		Attempts:       len(ruleIDs) + 1,
		MaxAttempts:    3,
		RuleSetVersion: "builtin-1",
		RuleIDs:        ruleIDs,
	}
}

// seed stores five records:
//
//	neg-00 approved  no violations
//	neg-01 approved  recursive-delete
//	neg-02 blocked   recursive-delete, filesystem-search
//	neg-03 failed    no violations
//	neg-04 approved  privilege-escalation
func seed(t *testing.T, s evidence.Storage) {
	t.Helper()
	records := []*evidence.Record{
		testRecord(0, "approved"),
		testRecord(1, "approved", "recursive-delete"),
		testRecord(2, "blocked", "recursive-delete", "filesystem-search"),
		testRecord(3, "failed"),
		testRecord(4, "approved", "privilege-escalation"),
	}
	records[1].Artifact = "ls -la"
	records[2].Violations = []evidence.ViolationRecord{{RuleID: "filesystem-search", Description: "Filesystem search detected"}}
	records[2].Error = "blocked after 3 attempts: filesystem-search"
	records[2].ErrorType = "blocked"
	records[3].Error = "generation failed on attempt 1: boom"
	records[3].ErrorType = "generation"
	records[3].Audit = []byte(`{"negotiation_id":"neg-03"}`)

	for _, r := range records {
		if err := s.Store(context.Background(), r); err != nil {
			t.Fatalf("Store(%s) error = %v", r.ID, err)
		}
	}
}

func ids(records []*evidence.Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}

func intPtr(i int) *int { return &i }

func runStorageTests(t *testing.T, newStorage func(t *testing.T) evidence.Storage) {
	ctx := context.Background()

	t.Run("get round trip", func(t *testing.T) {
		s := newStorage(t)
		seed(t, s)

		got, err := s.Get(ctx, "neg-02")
		if err != nil {
			t.Fatal(err)
		}
		want := testRecord(2, "blocked", "recursive-delete", "filesystem-search")
		if !got.StartedAt.Equal(want.StartedAt) || !got.FinishedAt.Equal(want.FinishedAt) {
			t.Errorf("timestamps = %v/%v, want %v/%v", got.StartedAt, got.FinishedAt, want.StartedAt, want.FinishedAt)
		}
		if got.Duration != want.Duration {
			t.Errorf("Duration = %v, want %v", got.Duration, want.Duration)
		}
		if got.Status != "blocked" || got.ErrorType != "blocked" || got.Attempts != 3 {
			t.Errorf("unexpected record: %+v", got)
		}
		if len(got.RuleIDs) != 2 || got.RuleIDs[1] != "filesystem-search" {
			t.Errorf("RuleIDs = %v", got.RuleIDs)
		}
		if len(got.Violations) != 1 || got.Violations[0].Description != "Filesystem search detected" {
			t.Errorf("Violations = %+v", got.Violations)
		}
		if got.Metadata["client"] != "cursor" {
			t.Errorf("Metadata = %v", got.Metadata)
		}

		failed, err := s.Get(ctx, "neg-03")
		if err != nil {
			t.Fatal(err)
		}
		if string(failed.Audit) != `{"negotiation_id":"neg-03"}` {
			t.Errorf("Audit = %s", failed.Audit)
		}
	})

	t.Run("get missing", func(t *testing.T) {
		s := newStorage(t)
		if _, err := s.Get(ctx, "nope"); !errors.Is(err, evidence.ErrNotFound) {
			t.Errorf("Get() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("store replaces", func(t *testing.T) {
		s := newStorage(t)
		r := testRecord(1, "approved", "recursive-delete")
		if err := s.Store(ctx, r); err != nil {
			t.Fatal(err)
		}
		r.Status = "blocked"
		r.RuleIDs = []string{"shell-exec"}
		if err := s.Store(ctx, r); err != nil {
			t.Fatal(err)
		}

		n, _ := s.Count(ctx, &evidence.Query{})
		if n != 1 {
			t.Errorf("Count() = %d, want 1", n)
		}
		if n, _ := s.Count(ctx, &evidence.Query{RuleID: "recursive-delete"}); n != 0 {
			t.Errorf("stale rule index: Count(recursive-delete) = %d", n)
		}
		if n, _ := s.Count(ctx, &evidence.Query{RuleID: "shell-exec"}); n != 1 {
			t.Errorf("Count(shell-exec) = %d, want 1", n)
		}
	})

	t.Run("query filters", func(t *testing.T) {
		s := newStorage(t)
		seed(t, s)

		start := baseTime.Add(time.Minute)
		end := baseTime.Add(3 * time.Minute)
		tests := []struct {
			name  string
			query evidence.Query
			want  []string
		}{
			{name: "all newest first", query: evidence.Query{}, want: []string{"neg-04", "neg-03", "neg-02", "neg-01", "neg-00"}},
			{name: "status", query: evidence.Query{Status: "approved", SortOrder: "asc"}, want: []string{"neg-00", "neg-01", "neg-04"}},
			{name: "rule", query: evidence.Query{RuleID: "recursive-delete", SortOrder: "asc"}, want: []string{"neg-01", "neg-02"}},
			{name: "time range", query: evidence.Query{StartTime: &start, EndTime: &end, SortOrder: "asc"}, want: []string{"neg-01", "neg-02", "neg-03"}},
			{name: "request id", query: evidence.Query{RequestID: "req-03"}, want: []string{"neg-03"}},
			{name: "min attempts", query: evidence.Query{MinAttempts: intPtr(2), SortOrder: "asc"}, want: []string{"neg-01", "neg-02", "neg-04"}},
			{name: "max attempts", query: evidence.Query{MaxAttempts: intPtr(1), SortOrder: "asc"}, want: []string{"neg-00", "neg-03"}},
			{name: "limit offset", query: evidence.Query{Limit: 2, Offset: 1}, want: []string{"neg-03", "neg-02"}},
			{name: "offset past end", query: evidence.Query{Offset: 10}, want: []string{}},
			{name: "ruleset", query: evidence.Query{RuleSetVersion: "other"}, want: []string{}},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				q := tt.query
				got, err := s.Query(ctx, &q)
				if err != nil {
					t.Fatal(err)
				}
				if fmt.Sprint(ids(got)) != fmt.Sprint(tt.want) {
					t.Errorf("Query() = %v, want %v", ids(got), tt.want)
				}

				n, err := s.Count(ctx, &evidence.Query{
					StartTime: q.StartTime, EndTime: q.EndTime, RequestID: q.RequestID,
					Status: q.Status, RuleID: q.RuleID, RuleSetVersion: q.RuleSetVersion,
					MinAttempts: q.MinAttempts, MaxAttempts: q.MaxAttempts,
				})
				if err != nil {
					t.Fatal(err)
				}
				if q.Limit == 0 && q.Offset == 0 && n != int64(len(tt.want)) {
					t.Errorf("Count() = %d, want %d", n, len(tt.want))
				}
			})
		}
	})

	t.Run("query stream", func(t *testing.T) {
		s := newStorage(t)
		seed(t, s)

		recordsCh, errCh, err := s.QueryStream(ctx, &evidence.Query{Status: "approved"})
		if err != nil {
			t.Fatal(err)
		}
		var got []*evidence.Record
		for r := range recordsCh {
			got = append(got, r)
		}
		if err := <-errCh; err != nil {
			t.Fatal(err)
		}
		if len(got) != 3 {
			t.Errorf("streamed %d records, want 3", len(got))
		}
	})

	t.Run("delete", func(t *testing.T) {
		s := newStorage(t)
		seed(t, s)

		cutoff := baseTime.Add(90 * time.Second)
		n, err := s.Delete(ctx, &evidence.Query{EndTime: &cutoff})
		if err != nil {
			t.Fatal(err)
		}
		if n != 2 {
			t.Errorf("Delete() = %d, want 2", n)
		}
		if n, _ := s.Count(ctx, &evidence.Query{}); n != 3 {
			t.Errorf("Count() after delete = %d, want 3", n)
		}
		if n, _ := s.Count(ctx, &evidence.Query{RuleID: "recursive-delete"}); n != 1 {
			t.Errorf("Count(recursive-delete) after delete = %d, want 1", n)
		}
	})

	t.Run("returned records are copies", func(t *testing.T) {
		s := newStorage(t)
		seed(t, s)

		got, _ := s.Get(ctx, "neg-00")
		got.Metadata["client"] = "mutated"
		again, _ := s.Get(ctx, "neg-00")
		if again.Metadata["client"] != "cursor" {
			t.Error("mutating a returned record changed storage")
		}
	})
}

func TestMemoryStorage(t *testing.T) {
	runStorageTests(t, func(t *testing.T) evidence.Storage {
		s := NewMemoryStorage()
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestSQLiteStorage(t *testing.T) {
	for _, driver := range []string{DriverCGO, DriverPureGo} {
		t.Run(driver, func(t *testing.T) {
			runStorageTests(t, func(t *testing.T) evidence.Storage {
				s, err := NewSQLiteStorage(&SQLiteConfig{
					Path:    filepath.Join(t.TempDir(), "evidence.db"),
					Driver:  driver,
					WALMode: true,
				})
				if err != nil {
					t.Fatalf("NewSQLiteStorage() error = %v", err)
				}
				t.Cleanup(func() { s.Close() })
				return s
			})
		})
	}
}

func TestSQLiteStorage_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evidence.db")
	s, err := NewSQLiteStorage(&SQLiteConfig{Path: path, Driver: DriverPureGo})
	if err != nil {
		t.Fatal(err)
	}
	seed(t, s)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = NewSQLiteStorage(&SQLiteConfig{Path: path, Driver: DriverPureGo})
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()
	if n, _ := s.Count(context.Background(), &evidence.Query{}); n != 5 {
		t.Errorf("Count() after reopen = %d, want 5", n)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

func TestNewSQLiteStorage_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  *SQLiteConfig
	}{
		{name: "unknown driver", cfg: &SQLiteConfig{Path: filepath.Join(t.TempDir(), "x.db"), Driver: "postgres"}},
		{name: "empty path", cfg: &SQLiteConfig{Driver: DriverPureGo}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSQLiteStorage(tt.cfg)
			var storageErr *evidence.StorageError
			if !errors.As(err, &storageErr) {
				t.Fatalf("error = %v, want *StorageError", err)
			}
			if storageErr.Operation != "open" {
				t.Errorf("Operation = %q, want open", storageErr.Operation)
			}
		})
	}
}
