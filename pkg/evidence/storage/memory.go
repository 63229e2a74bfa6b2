package storage

import (
	"context"
	"sort"
	"sync"

	"mercator-hq/parley/pkg/evidence"
)

// MemoryStorage implements evidence.Storage with an in-memory map.
type MemoryStorage struct {
	records map[string]*evidence.Record
	mu      sync.RWMutex
}

// NewMemoryStorage creates a new in-memory storage backend.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{records: make(map[string]*evidence.Record)}
}

// Store implements evidence.Storage.
func (s *MemoryStorage) Store(_ context.Context, record *evidence.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[record.ID] = cloneRecord(record)
	return nil
}

// Get implements evidence.Storage.
func (s *MemoryStorage) Get(_ context.Context, id string) (*evidence.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[id]
	if !ok {
		return nil, evidence.ErrNotFound
	}
	return cloneRecord(record), nil
}

// Query implements evidence.Storage.
func (s *MemoryStorage) Query(_ context.Context, query *evidence.Query) ([]*evidence.Record, error) {
	return s.selectRecords(query), nil
}

// QueryStream implements evidence.Storage.
func (s *MemoryStorage) QueryStream(ctx context.Context, query *evidence.Query) (<-chan *evidence.Record, <-chan error, error) {
	records := s.selectRecords(query)
	recordsCh := make(chan *evidence.Record, 100)
	errCh := make(chan error, 1)

	go func() {
		defer close(recordsCh)
		defer close(errCh)

		for _, record := range records {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case recordsCh <- record:
			}
		}
	}()

	return recordsCh, errCh, nil
}

// Count implements evidence.Storage.
func (s *MemoryStorage) Count(_ context.Context, query *evidence.Query) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, record := range s.records {
		if matches(record, query) {
			count++
		}
	}
	return count, nil
}

// Delete implements evidence.Storage.
func (s *MemoryStorage) Delete(_ context.Context, query *evidence.Query) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, record := range s.records {
		if matches(record, query) {
			delete(s.records, id)
			deleted++
		}
	}
	return deleted, nil
}

// Close implements evidence.Storage.
func (s *MemoryStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string]*evidence.Record)
	return nil
}

// Size returns the number of stored records.
func (s *MemoryStorage) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.records)
}

// selectRecords filters, sorts and paginates a copy of the matching records.
func (s *MemoryStorage) selectRecords(query *evidence.Query) []*evidence.Record {
	s.mu.RLock()
	results := []*evidence.Record{}
	for _, record := range s.records {
		if matches(record, query) {
			results = append(results, cloneRecord(record))
		}
	}
	s.mu.RUnlock()

	sortBy, desc := sortSpec(query)
	sort.SliceStable(results, func(i, j int) bool {
		if desc {
			return less(results[j], results[i], sortBy)
		}
		return less(results[i], results[j], sortBy)
	})

	start := query.Offset
	if start > len(results) {
		return []*evidence.Record{}
	}
	results = results[start:]
	if query.Limit > 0 && query.Limit < len(results) {
		results = results[:query.Limit]
	}
	return results
}

func less(a, b *evidence.Record, sortBy string) bool {
	switch sortBy {
	case "recorded_at":
		return a.RecordedAt.Before(b.RecordedAt)
	case "attempts":
		return a.Attempts < b.Attempts
	case "duration":
		return a.Duration < b.Duration
	default:
		if a.StartedAt.Equal(b.StartedAt) {
			return a.ID < b.ID
		}
		return a.StartedAt.Before(b.StartedAt)
	}
}

func matches(record *evidence.Record, query *evidence.Query) bool {
	if query.StartTime != nil && record.StartedAt.Before(*query.StartTime) {
		return false
	}
	if query.EndTime != nil && record.StartedAt.After(*query.EndTime) {
		return false
	}
	if query.RequestID != "" && record.RequestID != query.RequestID {
		return false
	}
	if query.Status != "" && record.Status != query.Status {
		return false
	}
	if query.RuleSetVersion != "" && record.RuleSetVersion != query.RuleSetVersion {
		return false
	}
	if query.MinAttempts != nil && record.Attempts < *query.MinAttempts {
		return false
	}
	if query.MaxAttempts != nil && record.Attempts > *query.MaxAttempts {
		return false
	}
	if query.RuleID != "" {
		found := false
		for _, id := range record.RuleIDs {
			if id == query.RuleID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// sortSpec returns the sort field and direction, defaulting to newest first.
func sortSpec(query *evidence.Query) (string, bool) {
	sortBy := query.SortBy
	if sortBy == "" {
		sortBy = "started_at"
	}
	return sortBy, query.SortOrder != "asc"
}

func cloneRecord(r *evidence.Record) *evidence.Record {
	cp := *r
	if r.Metadata != nil {
		cp.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			cp.Metadata[k] = v
		}
	}
	cp.Violations = append([]evidence.ViolationRecord(nil), r.Violations...)
	cp.RuleIDs = append([]string(nil), r.RuleIDs...)
	cp.Audit = append([]byte(nil), r.Audit...)
	return &cp
}
