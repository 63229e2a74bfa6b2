package policy

import (
	"fmt"
	"log/slog"
	"sync/atomic"
)

// Store holds the current RuleSet and swaps it atomically on reload.
// Negotiations take a Snapshot when they start, so a reload never changes
// the rules of a negotiation already in progress.
type Store struct {
	current atomic.Pointer[RuleSet]
	loader  func() (*RuleSet, error)
	logger  *slog.Logger
}

// NewStore creates a Store seeded with initial. loader is used by Reload
// and may be nil for a fixed store.
func NewStore(initial *RuleSet, loader func() (*RuleSet, error)) *Store {
	if initial == nil {
		initial = DefaultRuleSet()
	}
	s := &Store{
		loader: loader,
		logger: slog.Default().With("component", "policy.store"),
	}
	s.current.Store(initial)
	return s
}

// NewFileStore loads path and returns a Store that reloads from it.
func NewFileStore(path string) (*Store, error) {
	loader := func() (*RuleSet, error) { return LoadFile(path) }
	rs, err := loader()
	if err != nil {
		return nil, err
	}
	return NewStore(rs, loader), nil
}

// Snapshot implements Source.
func (s *Store) Snapshot() *RuleSet {
	return s.current.Load()
}

// Set replaces the current rule set.
func (s *Store) Set(rs *RuleSet) {
	if rs == nil {
		return
	}
	prev := s.current.Swap(rs)
	s.logger.Info("Rule set replaced",
		"previous_version", prev.Version(),
		"version", rs.Version(),
		"rules", rs.Len(),
	)
}

// Reload re-runs the loader. On failure the current rule set is kept.
func (s *Store) Reload() error {
	if s.loader == nil {
		return fmt.Errorf("store has no loader")
	}
	rs, err := s.loader()
	if err != nil {
		s.logger.Error("Rule reload failed, keeping current rules",
			"version", s.Snapshot().Version(),
			"error", err,
		)
		return err
	}
	if rs.Version() == s.Snapshot().Version() {
		s.logger.Debug("Rule file unchanged", "version", rs.Version())
		return nil
	}
	s.Set(rs)
	return nil
}
