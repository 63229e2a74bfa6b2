package git

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"mercator-hq/parley/pkg/config"
	"mercator-hq/parley/pkg/policy"
)

// Source keeps a policy.Store in step with a rule file on a Git branch.
type Source struct {
	repo     *Repository
	file     string
	label    string
	interval time.Duration
	logger   *slog.Logger

	mu    sync.Mutex
	store *policy.Store

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewSource creates a Source for cfg. Call Open before Watch or Poll.
func NewSource(cfg *config.GitRulesConfig) (*Source, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("rule file path cannot be empty")
	}
	repo, err := NewRepository(cfg)
	if err != nil {
		return nil, err
	}
	file := path.Clean(cfg.Path)
	return &Source{
		repo:     repo,
		file:     file,
		label:    cfg.Repository + ":" + file,
		interval: cfg.PollInterval,
		logger:   slog.Default().With("component", "policy.git", "repository", cfg.Repository, "branch", cfg.Branch),
		stopCh:   make(chan struct{}),
	}, nil
}

// Open clones the repository and returns a Store seeded with the rule file
// at HEAD. Store.Reload re-reads the file from the working tree.
func (s *Source) Open(ctx context.Context) (*policy.Store, error) {
	if err := s.repo.Clone(ctx); err != nil {
		return nil, err
	}
	rs, err := s.load()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.store = policy.NewStore(rs, s.load)
	s.logger.Info("Rules loaded from repository", "file", s.file, "version", rs.Version(), "rules", rs.Len())
	return s.store, nil
}

// Poll pulls the branch once and reloads the store when the new commits
// touch the rule file. A rejected rule file leaves the store unchanged.
func (s *Source) Poll(ctx context.Context) error {
	s.mu.Lock()
	store := s.store
	s.mu.Unlock()
	if store == nil {
		return fmt.Errorf("source not opened, call Open() first")
	}

	res, err := s.repo.Pull(ctx)
	if err != nil {
		return err
	}
	if !res.HadChanges {
		return nil
	}

	if !res.Touches(s.file) {
		s.logger.Debug("New commits leave the rule file unchanged",
			"from_sha", shortSHA(res.FromSHA),
			"to_sha", shortSHA(res.ToSHA),
			"changed_files", len(res.ChangedFiles),
		)
		return nil
	}

	s.logger.Info("Rule file changed, reloading",
		"from_sha", shortSHA(res.FromSHA),
		"to_sha", shortSHA(res.ToSHA),
	)
	if err := store.Reload(); err != nil {
		return fmt.Errorf("rules at %s rejected: %w", shortSHA(res.ToSHA), err)
	}
	return nil
}

// Watch polls the branch every PollInterval until ctx is done or Stop is
// called. Poll errors are logged and polling continues.
func (s *Source) Watch(ctx context.Context) error {
	if s.interval <= 0 {
		return fmt.Errorf("polling disabled")
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Watching repository", "poll_interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.stopCh:
			return nil
		case <-ticker.C:
			if err := s.Poll(ctx); err != nil {
				s.logger.Error("Rule repository poll failed", "error", err)
			}
		}
	}
}

// Stop ends Watch. It is safe to call more than once.
func (s *Source) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// load parses the rule file in the working tree and tags its version with
// the checked out commit.
func (s *Source) load() (*policy.RuleSet, error) {
	head, err := s.repo.Head()
	if err != nil {
		return nil, err
	}
	data, err := s.repo.ReadFile(s.file)
	if err != nil {
		return nil, &policy.LoadError{Path: s.label, Cause: err}
	}
	rs, err := policy.Parse(data, s.label)
	if err != nil {
		return nil, err
	}
	tagged, err := policy.NewRuleSet(rs.Version()+"+git."+head.ShortSHA(), rs.Rules()...)
	if err != nil {
		return nil, &policy.LoadError{Path: s.label, Cause: err}
	}
	return tagged, nil
}
