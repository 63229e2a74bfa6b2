package policy

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

const unsafeCleanup = `#!/bin/bash
# Cleanup old files
find /tmp -type f -mtime +7 -delete
find /var/log -name "*.old" -delete
sudo rm -rf /tmp/cache/*
echo "Cleanup complete"`

const safeCleanup = `#!/bin/bash
# Safe cleanup script
rm -f /tmp/tempfile*.tmp
echo "Cleanup complete"`

func TestValidator_DefaultRules(t *testing.T) {
	tests := []struct {
		name     string
		artifact string
		wantPass bool
		wantIDs  []string
	}{
		{
			name:     "safe script",
			artifact: safeCleanup,
			wantPass: true,
		},
		{
			name:     "unsafe cleanup",
			artifact: unsafeCleanup,
			wantPass: false,
			wantIDs:  []string{"recursive-delete", "privilege-escalation", "filesystem-search"},
		},
		{
			name:     "shell execution",
			artifact: "subprocess.run(cmd, shell=True)",
			wantPass: false,
			wantIDs:  []string{"shell-exec"},
		},
		{
			name:     "world writable",
			artifact: "chmod 777 /srv/data",
			wantPass: false,
			wantIDs:  []string{"world-writable"},
		},
		{
			name:     "empty artifact",
			artifact: "",
			wantPass: true,
		},
	}

	v := NewValidator(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := v.Validate(context.Background(), tt.artifact, DefaultRuleSet())

			if verdict.Pass != tt.wantPass {
				t.Fatalf("Pass = %v, want %v (violations: %v)", verdict.Pass, tt.wantPass, verdict.Violations)
			}
			if got := strings.Join(verdict.RuleIDs(), ","); got != strings.Join(tt.wantIDs, ",") {
				t.Errorf("RuleIDs = %q, want %q", got, strings.Join(tt.wantIDs, ","))
			}
		})
	}
}

func TestValidator_Deterministic(t *testing.T) {
	v := NewValidator(nil)
	rules := DefaultRuleSet()

	first := v.Validate(context.Background(), unsafeCleanup, rules)
	for i := 0; i < 20; i++ {
		got := v.Validate(context.Background(), unsafeCleanup, rules)
		if got.Pass != first.Pass || strings.Join(got.RuleIDs(), ",") != strings.Join(first.RuleIDs(), ",") {
			t.Fatalf("run %d verdict = %+v, want %+v", i, got, first)
		}
	}
}

func TestValidator_FailClosed(t *testing.T) {
	tests := []struct {
		name      string
		rule      Rule
		wantError string
	}{
		{
			name: "error",
			rule: NewFuncRule("broken", "always errors", true, func(context.Context, string) (bool, error) {
				return false, errors.New("boom")
			}),
			wantError: "boom",
		},
		{
			name: "panic",
			rule: NewFuncRule("panics", "always panics", true, func(context.Context, string) (bool, error) {
				panic("unexpected")
			}),
			wantError: "panic: unexpected",
		},
		{
			name: "timeout",
			rule: NewFuncRule("slow", "never returns", true, func(ctx context.Context, _ string) (bool, error) {
				<-ctx.Done()
				time.Sleep(10 * time.Millisecond)
				return false, nil
			}),
			wantError: ErrRuleTimeout.Error(),
		},
	}

	v := NewValidator(&ValidatorConfig{RuleTimeout: 20 * time.Millisecond})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rules := MustRuleSet("test", tt.rule)
			verdict := v.Validate(context.Background(), "echo hi", rules)

			if verdict.Pass {
				t.Fatal("Pass = true, want false")
			}
			if len(verdict.Violations) != 1 {
				t.Fatalf("violations = %d, want 1", len(verdict.Violations))
			}
			if !strings.Contains(verdict.Violations[0].Error, tt.wantError) {
				t.Errorf("violation error = %q, want to contain %q", verdict.Violations[0].Error, tt.wantError)
			}
		})
	}
}

func TestValidator_ReportsInRuleSetOrder(t *testing.T) {
	// Later rules finish first; reporting must still follow RuleSet order.
	var rules []Rule
	for i, delay := range []time.Duration{30, 20, 10, 0} {
		d := delay * time.Millisecond
		rules = append(rules, NewFuncRule(
			string(rune('a'+i)), "slow rule", true,
			func(context.Context, string) (bool, error) {
				time.Sleep(d)
				return true, nil
			}))
	}

	verdict := NewValidator(nil).Validate(context.Background(), "x", MustRuleSet("order", rules...))

	if got := strings.Join(verdict.RuleIDs(), ""); got != "abcd" {
		t.Errorf("RuleIDs = %q, want %q", got, "abcd")
	}
}

func TestValidator_EmptyRuleSet(t *testing.T) {
	verdict := NewValidator(nil).Validate(context.Background(), "sudo rm -rf /", MustRuleSet("empty"))
	if !verdict.Pass {
		t.Errorf("Pass = false, want true for empty rule set")
	}
}

type recordingObserver struct {
	mu    sync.Mutex
	calls map[string]bool
}

func (o *recordingObserver) ObserveRule(ruleID string, violated bool, _ time.Duration, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls[ruleID] = violated
}

func TestValidator_Observer(t *testing.T) {
	obs := &recordingObserver{calls: make(map[string]bool)}
	v := NewValidator(&ValidatorConfig{Observer: obs})

	v.Validate(context.Background(), "sudo ls", DefaultRuleSet())

	if len(obs.calls) != DefaultRuleSet().Len() {
		t.Fatalf("observed %d rules, want %d", len(obs.calls), DefaultRuleSet().Len())
	}
	if !obs.calls["privilege-escalation"] {
		t.Error("privilege-escalation not observed as violated")
	}
	if obs.calls["recursive-delete"] {
		t.Error("recursive-delete observed as violated")
	}
}

func TestNewValidator_CopiesConfig(t *testing.T) {
	cfg := &ValidatorConfig{}
	v := NewValidator(cfg)

	if cfg.RuleTimeout != 0 {
		t.Errorf("caller config RuleTimeout = %v, want it left at 0", cfg.RuleTimeout)
	}
	if v.config.RuleTimeout != DefaultRuleTimeout {
		t.Errorf("validator RuleTimeout = %v, want %v", v.config.RuleTimeout, DefaultRuleTimeout)
	}

	cfg.RuleTimeout = time.Nanosecond
	if v.config.RuleTimeout != DefaultRuleTimeout {
		t.Errorf("validator RuleTimeout changed to %v after caller edit", v.config.RuleTimeout)
	}
}

func TestNewRuleSet_Errors(t *testing.T) {
	a := NewContainsRule("a", "a", "x")
	tests := []struct {
		name  string
		rules []Rule
	}{
		{"duplicate", []Rule{a, NewContainsRule("a", "again", "y")}},
		{"empty id", []Rule{NewContainsRule("", "none", "y")}},
		{"nil", []Rule{nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRuleSet("v", tt.rules...); err == nil {
				t.Error("NewRuleSet() error = nil, want error")
			}
		})
	}
}
