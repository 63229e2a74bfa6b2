package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestNew_Formats(t *testing.T) {
	tests := []struct {
		format string
		check  func(t *testing.T, out string)
	}{
		{"json", func(t *testing.T, out string) {
			var m map[string]interface{}
			if err := json.Unmarshal([]byte(out), &m); err != nil {
				t.Fatalf("output is not JSON: %v (%q)", err, out)
			}
			if m["msg"] != "hello" {
				t.Errorf("msg = %v", m["msg"])
			}
		}},
		{"text", func(t *testing.T, out string) {
			if !strings.Contains(out, "msg=hello") || !strings.Contains(out, "time=") {
				t.Errorf("text output = %q", out)
			}
		}},
		{"console", func(t *testing.T, out string) {
			if strings.Contains(out, "time=") {
				t.Errorf("console output has timestamp: %q", out)
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			logger, err := New(Config{Level: "info", Format: tt.format, Writer: &buf})
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			logger.Info("hello")
			tt.check(t, buf.String())
		})
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	if _, err := New(Config{Level: "verbose"}); err == nil {
		t.Error("expected error for unknown level")
	}
	if _, err := New(Config{Format: "xml"}); err == nil {
		t.Error("expected error for unknown format")
	}
	if _, err := New(Config{Redact: true, RedactPatterns: []RedactPattern{{Name: "bad", Pattern: "("}}}); err == nil {
		t.Error("expected error for invalid redact pattern")
	}
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := New(Config{Level: "warn", Writer: &buf})

	logger.Info("hidden")
	logger.Warn("shown")

	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestHandler_ContextFields(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := New(Config{Writer: &buf})

	ctx := WithNegotiationID(context.Background(), "neg-1")
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithAttempt(ctx, 2)
	logger.InfoContext(ctx, "attempt")

	var m map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatal(err)
	}
	if m["negotiation_id"] != "neg-1" || m["request_id"] != "req-1" || m["attempt"] != float64(2) {
		t.Errorf("context fields missing: %v", m)
	}
}

func TestHandler_Redaction(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := New(Config{Writer: &buf, Redact: true})

	logger.With("api_key", "sk-abcdefghijkl").Info("call",
		"prompt", "use key sk-1234567890abcdef please",
		"header", "Bearer eyJhbGciOi.abc",
		"error", errors.New("password=hunter2 rejected"),
		slog.Group("req", slog.String("token", "t0ps3cret")),
	)

	out := buf.String()
	for _, secret := range []string{"sk-abcdefghijkl", "sk-1234567890abcdef", "eyJhbGciOi", "hunter2", "t0ps3cret"} {
		if strings.Contains(out, secret) {
			t.Errorf("output leaks %q: %s", secret, out)
		}
	}
	if !strings.Contains(out, "use key sk-*** please") {
		t.Errorf("pattern replacement missing: %s", out)
	}
}

func TestRedactor_CustomPattern(t *testing.T) {
	r, err := NewRedactor([]RedactPattern{{Name: "ticket", Pattern: `TICKET-\d+`, Replacement: "TICKET-?"}})
	if err != nil {
		t.Fatal(err)
	}
	if got := r.RedactString("see TICKET-42"); got != "see TICKET-?" {
		t.Errorf("RedactString() = %q", got)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = (%v, %v), want %v", in, got, err, want)
		}
	}
}
