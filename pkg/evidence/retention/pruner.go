package retention

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"mercator-hq/parley/pkg/evidence"
	"mercator-hq/parley/pkg/evidence/export"
)

// Config contains configuration for the retention pruner.
type Config struct {
	// RetentionDays is the number of days to keep records.
	// 0 keeps records forever.
	RetentionDays int

	// MaxRecords caps the number of stored records, oldest deleted first.
	// 0 means unlimited.
	MaxRecords int64

	// PruneSchedule is a cron expression. Empty disables scheduling.
	PruneSchedule string

	// ArchiveBeforeDelete writes records to ArchivePath before deleting them.
	ArchiveBeforeDelete bool

	// ArchivePath is the archive directory.
	ArchivePath string
}

// DefaultConfig returns the default retention configuration.
func DefaultConfig() *Config {
	return &Config{
		RetentionDays: 90,
		PruneSchedule: "0 3 * * *",
		ArchivePath:   "data/archives/",
	}
}

// Pruner enforces retention on an evidence store.
type Pruner struct {
	storage   evidence.Storage
	config    *Config
	logger    *slog.Logger
	scheduler *Scheduler
	now       func() time.Time
}

// NewPruner creates a new retention pruner.
func NewPruner(storage evidence.Storage, config *Config) *Pruner {
	if config == nil {
		config = DefaultConfig()
	}

	p := &Pruner{
		storage: storage,
		config:  config,
		logger:  slog.Default().With("component", "evidence.retention"),
		now:     time.Now,
	}
	p.scheduler = NewScheduler(p)
	return p
}

// Prune deletes records older than RetentionDays, then the oldest records
// beyond MaxRecords, and returns the total number deleted.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	var total int64

	if p.config.RetentionDays > 0 {
		deleted, err := p.pruneByAge(ctx)
		if err != nil {
			return total, evidence.NewRetentionError(p.config.RetentionDays, fmt.Errorf("prune by age: %w", err))
		}
		total += deleted
	}

	if p.config.MaxRecords > 0 {
		deleted, err := p.pruneByCount(ctx)
		if err != nil {
			return total, evidence.NewRetentionError(p.config.RetentionDays, fmt.Errorf("prune by count: %w", err))
		}
		total += deleted
	}

	if total > 0 {
		p.logger.Info("evidence pruning completed",
			"total_deleted", total,
			"retention_days", p.config.RetentionDays,
			"max_records", p.config.MaxRecords,
		)
	} else {
		p.logger.Debug("no records pruned",
			"retention_days", p.config.RetentionDays,
			"max_records", p.config.MaxRecords,
		)
	}
	return total, nil
}

func (p *Pruner) pruneByAge(ctx context.Context) (int64, error) {
	cutoff := p.now().AddDate(0, 0, -p.config.RetentionDays)
	query := &evidence.Query{EndTime: &cutoff}

	if p.config.ArchiveBeforeDelete {
		records, err := p.storage.Query(ctx, &evidence.Query{EndTime: &cutoff, SortOrder: "asc"})
		if err != nil {
			return 0, fmt.Errorf("query records for archive: %w", err)
		}
		if err := p.archive(ctx, "age", records); err != nil {
			return 0, err
		}
	}

	return p.storage.Delete(ctx, query)
}

func (p *Pruner) pruneByCount(ctx context.Context) (int64, error) {
	count, err := p.storage.Count(ctx, &evidence.Query{})
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	if count <= p.config.MaxRecords {
		return 0, nil
	}

	excess := int(count - p.config.MaxRecords)
	oldest, err := p.storage.Query(ctx, &evidence.Query{SortBy: "started_at", SortOrder: "asc", Limit: excess})
	if err != nil {
		return 0, fmt.Errorf("query oldest records: %w", err)
	}
	if len(oldest) == 0 {
		return 0, nil
	}

	p.logger.Info("record count exceeds limit, pruning oldest",
		"current_count", count,
		"max_records", p.config.MaxRecords,
		"to_delete", len(oldest),
	)

	if p.config.ArchiveBeforeDelete {
		if err := p.archive(ctx, "count", oldest); err != nil {
			return 0, err
		}
	}

	// Records sharing the cutoff timestamp are deleted together.
	cutoff := oldest[len(oldest)-1].StartedAt
	return p.storage.Delete(ctx, &evidence.Query{EndTime: &cutoff})
}

// archive writes records to a timestamped JSON file in ArchivePath.
func (p *Pruner) archive(ctx context.Context, reason string, records []*evidence.Record) error {
	if len(records) == 0 {
		return nil
	}

	if err := os.MkdirAll(p.config.ArchivePath, 0o755); err != nil {
		return fmt.Errorf("create archive directory: %w", err)
	}

	name := fmt.Sprintf("evidence-%s-%s.json", reason, p.now().UTC().Format("20060102-150405.000000000"))
	path := filepath.Join(p.config.ArchivePath, name)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create archive file: %w", err)
	}
	defer f.Close()

	if err := export.NewJSONExporter(true).Export(ctx, records, f); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync archive: %w", err)
	}

	p.logger.Info("evidence archived",
		"archive_file", path,
		"record_count", len(records),
	)
	return nil
}

// Start starts scheduled pruning.
func (p *Pruner) Start(ctx context.Context) error {
	return p.scheduler.Start(ctx)
}

// Stop stops scheduled pruning and waits for a running prune.
func (p *Pruner) Stop() {
	p.scheduler.Stop()
}

// NextPruning returns the next scheduled run, or nil when not scheduled.
func (p *Pruner) NextPruning() *time.Time {
	return p.scheduler.NextRun()
}
