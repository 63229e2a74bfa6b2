package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"mercator-hq/parley/pkg/config"
	"mercator-hq/parley/pkg/evidence"
	"mercator-hq/parley/pkg/guard"
	"mercator-hq/parley/pkg/negotiation"
)

func TestRunServer_DryRun(t *testing.T) {
	cfg := writeConfig(t, t.TempDir())
	out, err := execute(t, "", "run", "-c", cfg, "--dry-run", "--listen", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("dry run returned error: %v", err)
	}
	if !strings.Contains(out, "Configuration valid") {
		t.Errorf("output = %q", out)
	}
}

func TestRunServer_InvalidConfig(t *testing.T) {
	if _, err := execute(t, "", "run", "-c", "testdata/nonexistent.yaml", "--dry-run"); err == nil {
		t.Error("expected error for missing config file")
	}
	if _, err := execute(t, "", "run", "--dry-run", "--log-level", "loud"); err == nil {
		t.Error("expected error for invalid log level")
	}
}

func TestNewApp_RecordsEvidence(t *testing.T) {
	cfg := config.Default()
	cfg.Evidence.Backend = config.BackendMemory
	cfg.Guard.Enabled = false

	a, err := newApp(cfg)
	if err != nil {
		t.Fatalf("newApp returned error: %v", err)
	}
	store := a.storage

	record := a.negotiator.Negotiate(context.Background(), negotiation.NewRequest("req-1", "Generate a safe file listing script", nil))
	if record.Outcome.Status != negotiation.StatusApproved {
		t.Fatalf("Status = %s, want approved", record.Outcome.Status)
	}

	defer a.Close(context.Background())

	// Closing the recorder drains its queue.
	if err := a.recorder.Close(); err != nil {
		t.Fatalf("recorder Close returned error: %v", err)
	}
	got, err := store.Get(context.Background(), record.NegotiationID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.RequestID != "req-1" || got.Status != "approved" {
		t.Errorf("stored record = %+v", got)
	}
}

func TestNewApp_EvidenceDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.Evidence.Enabled = false

	a, err := newApp(cfg)
	if err != nil {
		t.Fatalf("newApp returned error: %v", err)
	}
	defer a.Close(context.Background())
	if a.storage != nil || a.recorder != nil {
		t.Error("storage and recorder should not be created when evidence is disabled")
	}
}

func TestNewApp_Errors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*config.Config)
	}{
		{"replay without file", func(c *config.Config) {
			c.Generator.Type = config.GeneratorReplay
			c.Generator.ReplayFile = "testdata/nonexistent.yaml"
		}},
		{"provider without model", func(c *config.Config) { c.Generator.Type = config.GeneratorProvider }},
		{"unknown generator", func(c *config.Config) { c.Generator.Type = "oracle" }},
		{"missing rule file", func(c *config.Config) { c.Rules.File = "testdata/nonexistent.yaml" }},
		{"unknown backend", func(c *config.Config) { c.Evidence.Backend = "postgres" }},
		{"zero attempts", func(c *config.Config) {
			c.Evidence.Backend = config.BackendMemory
			c.Negotiation.MaxAttempts = 0
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.modify(cfg)
			if _, err := newApp(cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestOpenRules(t *testing.T) {
	store, src, err := openRules(context.Background(), &config.RulesConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if store.Snapshot().Len() != 5 || src != nil {
		t.Errorf("built-in rules = %d, source = %v", store.Snapshot().Len(), src)
	}

	store, _, err = openRules(context.Background(), &config.RulesConfig{File: "testdata/rules.yaml"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := store.Snapshot().Rule("shell-true"); !ok {
		t.Error("rule file not loaded")
	}
}

func TestOpenRules_Git(t *testing.T) {
	repoDir := t.TempDir()
	rules, err := os.ReadFile("testdata/rules.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(repoDir, "rules.yaml"), rules, 0644); err != nil {
		t.Fatal(err)
	}
	repo, err := gogit.PlainInit(repoDir, false)
	if err != nil {
		t.Fatal(err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wt.Add("rules.yaml"); err != nil {
		t.Fatal(err)
	}
	sig := &object.Signature{Name: "Test User", Email: "test@example.com", When: time.Now()}
	if _, err := wt.Commit("add rules", &gogit.CommitOptions{Author: sig}); err != nil {
		t.Fatal(err)
	}

	cfg := &config.RulesConfig{Git: config.GitRulesConfig{
		Repository:  repoDir,
		Branch:      "master",
		Path:        "rules.yaml",
		LocalPath:   filepath.Join(t.TempDir(), "clone"),
		Auth:        config.GitAuthConfig{Type: config.GitAuthNone},
		PollTimeout: 10 * time.Second,
	}}
	store, src, err := openRules(context.Background(), cfg)
	if err != nil {
		t.Fatalf("openRules() error = %v", err)
	}
	defer src.Stop()
	if _, ok := store.Snapshot().Rule("shell-true"); !ok {
		t.Error("repository rules not loaded")
	}
	if !strings.Contains(store.Snapshot().Version(), "+git.") {
		t.Errorf("version = %q, want commit tag", store.Snapshot().Version())
	}

	cfg.Git.Branch = "does-not-exist"
	cfg.Git.LocalPath = filepath.Join(t.TempDir(), "other")
	if _, _, err := openRules(context.Background(), cfg); err == nil {
		t.Error("openRules() expected error for missing branch")
	}
}

func TestOpenStorage_Memory(t *testing.T) {
	s, err := openStorage(&config.EvidenceConfig{Backend: config.BackendMemory})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if _, err := s.Get(context.Background(), "missing"); err != evidence.ErrNotFound {
		t.Errorf("Get = %v, want ErrNotFound", err)
	}
}

func TestNewProber(t *testing.T) {
	p := newProber(&config.GuardConfig{Probe: config.ProbeHTTP, URL: "http://127.0.0.1:9/status"})
	if _, ok := p.(*guard.HTTPProber); !ok {
		t.Errorf("http probe = %T", p)
	}
	p = newProber(&config.GuardConfig{Probe: config.ProbeCommand, Command: "status"})
	if cp, ok := p.(*guard.CommandProber); !ok || cp.Command != "status" {
		t.Errorf("command probe = %#v", p)
	}
}
