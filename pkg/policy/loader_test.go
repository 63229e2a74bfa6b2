package policy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadFile(t *testing.T) {
	rs, err := LoadFile(filepath.Join("testdata", "rules.yaml"))
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if rs.Len() != 6 {
		t.Fatalf("Len() = %d, want 6", rs.Len())
	}
	if !strings.HasPrefix(rs.Version(), "test@sha256:") {
		t.Errorf("Version() = %q, want test@sha256: prefix", rs.Version())
	}
	if !rs.Deterministic() {
		t.Error("Deterministic() = false, want true")
	}

	wantTypes := map[string]string{
		"privilege-escalation": "*policy.ContainsRule",
		"shell-true":           "*policy.RegexRule",
		"too-long":             "*policy.LengthRule",
		"rm-recursive":         "*policy.StructuralRule",
		"curl-pipe":            "*policy.StructuralRule",
		"world-writable":       "*policy.ExprRule",
	}
	for id, want := range wantTypes {
		rule, ok := rs.Rule(id)
		if !ok {
			t.Errorf("rule %q missing", id)
			continue
		}
		if got := typeName(rule); got != want {
			t.Errorf("rule %q type = %s, want %s", id, got, want)
		}
	}

	verdict := NewValidator(nil).Validate(context.Background(), "sudo rm -r /opt && chmod 777 x", rs)
	if got := strings.Join(verdict.RuleIDs(), ","); got != "privilege-escalation,rm-recursive,world-writable" {
		t.Errorf("RuleIDs = %q", got)
	}
}

func TestParse_VersionIsContentHash(t *testing.T) {
	doc := []byte("rules:\n  - id: a\n    contains: [x]\n")

	first, err := Parse(doc, "a.yaml")
	if err != nil {
		t.Fatal(err)
	}
	second, _ := Parse(doc, "b.yaml")
	changed, _ := Parse([]byte("rules:\n  - id: a\n    contains: [y]\n"), "a.yaml")

	if first.Version() != second.Version() {
		t.Errorf("same content gave versions %q and %q", first.Version(), second.Version())
	}
	if first.Version() == changed.Version() {
		t.Errorf("changed content kept version %q", first.Version())
	}
	if rule, _ := first.Rule("a"); rule.Description() != "a" {
		t.Errorf("Description() = %q, want id fallback", rule.Description())
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{"empty", "", "no rules defined"},
		{"invalid yaml", "rules: [", "failed to parse YAML"},
		{"unknown field", "rules:\n  - id: a\n    containz: [x]\n", "containz"},
		{"no kind", "rules:\n  - id: a\n", "exactly one of"},
		{"two kinds", "rules:\n  - id: a\n    contains: [x]\n    regex: y\n", "exactly one of"},
		{"missing id", "rules:\n  - contains: [x]\n", "rule id is required"},
		{"bad regex", "rules:\n  - id: a\n    regex: '('\n", "invalid pattern"},
		{"bad expr", "rules:\n  - id: a\n    expr: 'artifact +'\n", "CEL compile error"},
		{"duplicate", "rules:\n  - id: a\n    contains: [x]\n  - id: a\n    contains: [y]\n", "duplicate rule id"},
		{"scanner without url", "rules:\n  - id: a\n    scanner: {timeout: 1s}\n", "scanner url is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc), "test.yaml")
			if err == nil {
				t.Fatal("Parse() error = nil, want error")
			}
			var loadErr *LoadError
			if !errors.As(err, &loadErr) {
				t.Fatalf("error type = %T, want *LoadError", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoadFile_NotFound(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("error = %v, want os.ErrNotExist", err)
	}
}

func typeName(v interface{}) string {
	switch v.(type) {
	case *ContainsRule:
		return "*policy.ContainsRule"
	case *RegexRule:
		return "*policy.RegexRule"
	case *LengthRule:
		return "*policy.LengthRule"
	case *StructuralRule:
		return "*policy.StructuralRule"
	case *ExprRule:
		return "*policy.ExprRule"
	case *ScannerRule:
		return "*policy.ScannerRule"
	default:
		return "unknown"
	}
}
