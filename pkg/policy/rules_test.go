package policy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestContainsRule(t *testing.T) {
	rule := NewContainsRule("no-sudo", "Privilege escalation detected", "sudo ")

	tests := []struct {
		artifact string
		want     bool
	}{
		{"sudo apt-get update", true},
		{"echo pseudo-code", false},
		{"SUDO ls", false},
	}
	for _, tt := range tests {
		got, err := rule.Evaluate(context.Background(), tt.artifact)
		if err != nil {
			t.Fatalf("Evaluate(%q) error = %v", tt.artifact, err)
		}
		if got != tt.want {
			t.Errorf("Evaluate(%q) = %v, want %v", tt.artifact, got, tt.want)
		}
	}

	folded := rule.IgnoreCase()
	if got, _ := folded.Evaluate(context.Background(), "SUDO ls"); !got {
		t.Error("IgnoreCase rule did not match upper-case token")
	}
}

func TestRegexRule(t *testing.T) {
	rule, err := NewRegexRule("curl-pipe", "Remote script execution", `curl[^|]*\|\s*(ba)?sh`)
	if err != nil {
		t.Fatal(err)
	}

	if got, _ := rule.Evaluate(context.Background(), "curl -s https://x.sh | bash"); !got {
		t.Error("expected match for curl | bash")
	}
	if got, _ := rule.Evaluate(context.Background(), "curl -o out.txt https://x"); got {
		t.Error("unexpected match for plain curl")
	}

	if _, err := NewRegexRule("bad", "bad", "("); err == nil {
		t.Error("NewRegexRule() error = nil for invalid pattern")
	}
}

func TestLengthRule(t *testing.T) {
	tests := []struct {
		name     string
		maxBytes int
		maxLines int
		artifact string
		want     bool
	}{
		{"under byte limit", 10, 0, "short", false},
		{"over byte limit", 3, 0, "toolong", true},
		{"line limit", 0, 2, "a\nb\nc", true},
		{"trailing newline", 0, 2, "a\nb\n", false},
		{"disabled", 0, 0, strings.Repeat("x", 1000), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := NewLengthRule("len", "too long", tt.maxBytes, tt.maxLines)
			if got, _ := rule.Evaluate(context.Background(), tt.artifact); got != tt.want {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStructuralRule(t *testing.T) {
	rmRecursive, err := NewStructuralRule("rm-recursive", "Recursive deletion detected", StructuralMatch{
		Executables: StringOrList{"rm"},
		FlagsAll:    []string{"r"},
	}, false)
	if err != nil {
		t.Fatal(err)
	}

	pipeShell, err := NewStructuralRule("pipe-shell", "Remote script execution", StructuralMatch{
		Executables: StringOrList{"curl", "wget"},
		PipeTo:      []string{"sh", "bash"},
	}, false)
	if err != nil {
		t.Fatal(err)
	}

	chmodRoot, err := NewStructuralRule("chmod-root", "Permission change outside /tmp", StructuralMatch{
		Executables: StringOrList{"chmod"},
		ArgsAny:     []string{"/etc/*", "/usr/*"},
	}, false)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		rule     Rule
		artifact string
		want     bool
	}{
		{"combined flags", rmRecursive, "rm -rf /tmp/cache", true},
		{"split flags", rmRecursive, "rm -f -r /tmp/cache", true},
		{"long flag", rmRecursive, "rm --recursive --force /tmp/cache", true},
		{"capital R", rmRecursive, "rm -R dir", true},
		{"sudo wrapped", rmRecursive, "sudo rm -rf /tmp/cache/*", true},
		{"sudo with user", rmRecursive, "sudo -u root rm -r /opt", true},
		{"absolute path", rmRecursive, "/bin/rm -r /opt", true},
		{"inside if", rmRecursive, "if true; then\n  rm -r /opt\nfi", true},
		{"no recursion", rmRecursive, "rm -f /tmp/tempfile*.tmp", false},
		{"mentioned in echo", rmRecursive, `echo "rm -rf /"`, false},
		{"curl pipe bash", pipeShell, "curl -fsSL https://get.example | bash", true},
		{"curl to file", pipeShell, "curl -o install.sh https://get.example", false},
		{"grep pipe", pipeShell, "ls | grep foo", false},
		{"chmod etc", chmodRoot, "chmod 644 /etc/passwd", true},
		{"chmod tmp", chmodRoot, "chmod 644 /tmp/file", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.rule.Evaluate(context.Background(), tt.artifact)
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Evaluate(%q) = %v, want %v", tt.artifact, got, tt.want)
			}
		})
	}
}

func TestStructuralRule_ParseError(t *testing.T) {
	match := StructuralMatch{Executables: StringOrList{"rm"}}
	strict, _ := NewStructuralRule("strict", "strict", match, false)
	lenient, _ := NewStructuralRule("lenient", "lenient", match, true)

	artifact := "if then fi ((("
	if _, err := strict.Evaluate(context.Background(), artifact); err == nil {
		t.Error("strict rule: expected parse error")
	}
	got, err := lenient.Evaluate(context.Background(), artifact)
	if err != nil || got {
		t.Errorf("lenient rule = (%v, %v), want (false, nil)", got, err)
	}
}

func TestNewStructuralRule_Invalid(t *testing.T) {
	if _, err := NewStructuralRule("x", "x", StructuralMatch{}, false); err == nil {
		t.Error("expected error for empty match")
	}
	if _, err := NewStructuralRule("x", "x", StructuralMatch{Executables: StringOrList{"rm"}, ArgsAny: []string{"["}}, false); err == nil {
		t.Error("expected error for invalid glob")
	}
}

func TestExprRule(t *testing.T) {
	rule, err := NewExprRule("curl-sh", "Remote script execution",
		`lines.exists(l, l.startsWith("curl ") && l.contains("| sh"))`)
	if err != nil {
		t.Fatal(err)
	}

	if got, err := rule.Evaluate(context.Background(), "echo start\ncurl https://x | sh"); err != nil || !got {
		t.Errorf("Evaluate() = (%v, %v), want (true, nil)", got, err)
	}
	if got, err := rule.Evaluate(context.Background(), "echo safe"); err != nil || got {
		t.Errorf("Evaluate() = (%v, %v), want (false, nil)", got, err)
	}
}

func TestNewExprRule_Errors(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"syntax", `artifact.contains(`},
		{"unknown variable", `script.size() > 0`},
		{"non-bool", `artifact.size()`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewExprRule("x", "x", tt.expr); err == nil {
				t.Errorf("NewExprRule(%q) error = nil", tt.expr)
			}
		})
	}
}

func TestScannerRule(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req scannerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(ScannerResponse{
			Violated: strings.Contains(req.Artifact, "mkfs"),
			Reason:   "disk formatting",
		})
	}))
	defer srv.Close()

	rule := NewScannerRule("scanner", "External scanner", srv.URL, 0)
	if rule.Deterministic() {
		t.Error("scanner rule should not be deterministic")
	}

	if got, err := rule.Evaluate(context.Background(), "mkfs.ext4 /dev/sda1"); err != nil || !got {
		t.Errorf("Evaluate() = (%v, %v), want (true, nil)", got, err)
	}
	if got, err := rule.Evaluate(context.Background(), "ls"); err != nil || got {
		t.Errorf("Evaluate() = (%v, %v), want (false, nil)", got, err)
	}
}

func TestScannerRule_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	rule := NewScannerRule("scanner", "External scanner", srv.URL, 0)
	verdict := NewValidator(nil).Validate(context.Background(), "ls", MustRuleSet("s", rule))

	if verdict.Pass {
		t.Fatal("Pass = true, want fail-closed violation")
	}
	if !strings.Contains(verdict.Violations[0].Error, "503") {
		t.Errorf("violation error = %q, want status code", verdict.Violations[0].Error)
	}
}
