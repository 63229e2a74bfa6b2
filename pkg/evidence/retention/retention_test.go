package retention

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mercator-hq/parley/pkg/evidence"
	"mercator-hq/parley/pkg/evidence/storage"
)

var now = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

// seedDays stores one record per age, in days before now.
func seedDays(t *testing.T, s evidence.Storage, ages ...int) {
	t.Helper()
	for _, age := range ages {
		r := &evidence.Record{
			ID:        fmt.Sprintf("neg-%03d", age),
			RequestID: "req",
			StartedAt: now.AddDate(0, 0, -age),
			Status:    "approved",
			Attempts:  1,
		}
		if err := s.Store(context.Background(), r); err != nil {
			t.Fatal(err)
		}
	}
}

func newPruner(s evidence.Storage, cfg *Config) *Pruner {
	p := NewPruner(s, cfg)
	p.now = func() time.Time { return now }
	return p
}

func TestPrune(t *testing.T) {
	tests := []struct {
		name        string
		cfg         Config
		ages        []int
		wantDeleted int64
		wantLeft    []string
	}{
		{
			name:        "by age",
			cfg:         Config{RetentionDays: 30},
			ages:        []int{1, 10, 31, 90},
			wantDeleted: 2,
			wantLeft:    []string{"neg-001", "neg-010"},
		},
		{
			name:        "by count keeps newest",
			cfg:         Config{MaxRecords: 2},
			ages:        []int{1, 2, 3, 4},
			wantDeleted: 2,
			wantLeft:    []string{"neg-001", "neg-002"},
		},
		{
			name:        "age then count",
			cfg:         Config{RetentionDays: 30, MaxRecords: 1},
			ages:        []int{1, 5, 60},
			wantDeleted: 2,
			wantLeft:    []string{"neg-001"},
		},
		{
			name:        "within limits",
			cfg:         Config{RetentionDays: 30, MaxRecords: 10},
			ages:        []int{1, 2},
			wantDeleted: 0,
			wantLeft:    []string{"neg-001", "neg-002"},
		},
		{
			name:        "disabled",
			cfg:         Config{},
			ages:        []int{400},
			wantDeleted: 0,
			wantLeft:    []string{"neg-400"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := storage.NewMemoryStorage()
			seedDays(t, s, tt.ages...)
			cfg := tt.cfg

			deleted, err := newPruner(s, &cfg).Prune(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			if deleted != tt.wantDeleted {
				t.Errorf("Prune() = %d, want %d", deleted, tt.wantDeleted)
			}

			left, _ := s.Query(context.Background(), &evidence.Query{SortOrder: "desc"})
			var ids []string
			for _, r := range left {
				ids = append(ids, r.ID)
			}
			if fmt.Sprint(ids) != fmt.Sprint(tt.wantLeft) {
				t.Errorf("remaining = %v, want %v", ids, tt.wantLeft)
			}
		})
	}
}

func TestPrune_ArchivesBeforeDelete(t *testing.T) {
	dir := t.TempDir()
	s := storage.NewMemoryStorage()
	seedDays(t, s, 1, 45, 60)

	p := newPruner(s, &Config{RetentionDays: 30, ArchiveBeforeDelete: true, ArchivePath: dir})
	if _, err := p.Prune(context.Background()); err != nil {
		t.Fatal(err)
	}

	files, err := filepath.Glob(filepath.Join(dir, "evidence-age-*.json"))
	if err != nil || len(files) != 1 {
		t.Fatalf("archive files = %v (%v), want 1", files, err)
	}
	data, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatal(err)
	}
	var archived []evidence.Record
	if err := json.Unmarshal(data, &archived); err != nil {
		t.Fatal(err)
	}
	if len(archived) != 2 || archived[0].ID != "neg-060" {
		t.Errorf("archived = %+v", archived)
	}
}

type failingStorage struct {
	*storage.MemoryStorage
}

func (failingStorage) Delete(context.Context, *evidence.Query) (int64, error) {
	return 0, errors.New("disk I/O error")
}

func TestPrune_StorageErrorIsRetentionError(t *testing.T) {
	s := failingStorage{storage.NewMemoryStorage()}
	seedDays(t, s, 100)

	_, err := newPruner(s, &Config{RetentionDays: 30}).Prune(context.Background())
	var retErr *evidence.RetentionError
	if !errors.As(err, &retErr) {
		t.Fatalf("error = %v, want *RetentionError", err)
	}
	if retErr.RetentionDays != 30 {
		t.Errorf("RetentionDays = %d", retErr.RetentionDays)
	}
}

func TestScheduler(t *testing.T) {
	s := storage.NewMemoryStorage()

	t.Run("empty schedule is a no-op", func(t *testing.T) {
		p := newPruner(s, &Config{RetentionDays: 1})
		if err := p.Start(context.Background()); err != nil {
			t.Fatal(err)
		}
		if p.scheduler.IsRunning() || p.NextPruning() != nil {
			t.Error("scheduler should not run without a schedule")
		}
	})

	t.Run("invalid schedule", func(t *testing.T) {
		p := newPruner(s, &Config{PruneSchedule: "every day"})
		if err := p.Start(context.Background()); err == nil {
			t.Error("expected error for invalid cron expression")
		}
	})

	t.Run("start and stop", func(t *testing.T) {
		p := newPruner(s, &Config{RetentionDays: 1, PruneSchedule: "0 3 * * *"})
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := p.Start(ctx); err != nil {
			t.Fatal(err)
		}
		if !p.scheduler.IsRunning() {
			t.Fatal("scheduler not running")
		}
		next := p.NextPruning()
		if next == nil || next.Hour() != 3 || next.Minute() != 0 {
			t.Errorf("NextPruning() = %v, want 03:00", next)
		}

		p.Stop()
		if p.scheduler.IsRunning() {
			t.Error("scheduler still running after Stop")
		}
	})

	t.Run("runs job", func(t *testing.T) {
		p := newPruner(s, &Config{RetentionDays: 1})
		ran := make(chan int64, 1)
		p.scheduler.OnRun = func(deleted int64, err error) { ran <- deleted }
		p.scheduler.runPruning(context.Background())
		select {
		case <-ran:
		case <-time.After(time.Second):
			t.Fatal("OnRun not called")
		}
	})
}
