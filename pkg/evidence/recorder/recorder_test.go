package recorder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"mercator-hq/parley/pkg/evidence"
	"mercator-hq/parley/pkg/evidence/storage"
	"mercator-hq/parley/pkg/negotiation"
	"mercator-hq/parley/pkg/policy"
)

func negotiate(t *testing.T, sink negotiation.Sink, gen negotiation.GeneratorFunc, prompt string) *negotiation.AuditRecord {
	t.Helper()
	n, err := negotiation.New(negotiation.Options{Generator: gen, Sink: sink})
	if err != nil {
		t.Fatal(err)
	}
	return n.Negotiate(context.Background(), negotiation.NewRequest("", prompt, map[string]string{"client": "test"}))
}

func retryThenSafe(_ context.Context, _ negotiation.Request, fb []policy.Violation) (string, error) {
	if len(fb) == 0 {
		return "sudo rm -rf /tmp/cache", nil
	}
	return "ls -la /tmp", nil
}

func alwaysUnsafe(context.Context, negotiation.Request, []policy.Violation) (string, error) {
	return "find / -name '*.log'", nil
}

func TestRecorder_WritesApprovedNegotiation(t *testing.T) {
	store := storage.NewMemoryStorage()
	rec := NewRecorder(store, nil)

	audit := negotiate(t, rec, retryThenSafe, "Create a cleanup script")
	if err := rec.Close(); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(context.Background(), audit.NegotiationID)
	if err != nil {
		t.Fatalf("record not stored: %v", err)
	}
	if got.Status != "approved" || got.Attempts != 2 || got.MaxAttempts != 3 {
		t.Errorf("unexpected record: %+v", got)
	}
	if got.Artifact != "ls -la /tmp" || got.ArtifactHash != HashString("ls -la /tmp") {
		t.Errorf("artifact = %q hash = %q", got.Artifact, got.ArtifactHash)
	}
	if strings.Join(got.RuleIDs, ",") != "recursive-delete,privilege-escalation" {
		t.Errorf("RuleIDs = %v", got.RuleIDs)
	}
	if got.PromptHash != HashString("Create a cleanup script") {
		t.Errorf("PromptHash = %q", got.PromptHash)
	}
	if got.Metadata["client"] != "test" || got.RequestID != audit.Request.ID {
		t.Errorf("request fields not copied: %+v", got)
	}
	if got.ErrorType != "" {
		t.Errorf("ErrorType = %q, want empty", got.ErrorType)
	}

	var stored negotiation.AuditRecord
	if err := json.Unmarshal(got.Audit, &stored); err != nil {
		t.Fatalf("audit JSON: %v", err)
	}
	if len(stored.Attempts) != 2 || stored.Attempts[0].Artifact != "sudo rm -rf /tmp/cache" {
		t.Errorf("stored audit attempts = %+v", stored.Attempts)
	}
}

func TestRecorder_BlockedNeverStoresArtifact(t *testing.T) {
	store := storage.NewMemoryStorage()
	cfg := DefaultConfig()
	cfg.StoreAudit = false
	rec := NewRecorder(store, cfg)

	audit := negotiate(t, rec, alwaysUnsafe, "Search for logs")
	rec.Close()

	got, err := store.Get(context.Background(), audit.NegotiationID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != "blocked" || got.ErrorType != "blocked" {
		t.Errorf("status = %q error_type = %q", got.Status, got.ErrorType)
	}
	if got.Artifact != "" || got.ArtifactHash != "" || got.Audit != nil {
		t.Errorf("blocked record leaks artifact: %+v", got)
	}
	if len(got.Violations) != 1 || got.Violations[0].RuleID != "filesystem-search" {
		t.Errorf("Violations = %+v", got.Violations)
	}
}

func TestBuildRecord_ErrorTypes(t *testing.T) {
	rec := NewRecorder(storage.NewMemoryStorage(), nil)
	defer rec.Close()

	tests := []struct {
		name string
		gen  negotiation.GeneratorFunc
		want string
	}{
		{
			name: "generation",
			gen: func(context.Context, negotiation.Request, []policy.Violation) (string, error) {
				return "", errors.New("boom")
			},
			want: "generation",
		},
		{
			name: "timeout",
			gen: func(context.Context, negotiation.Request, []policy.Violation) (string, error) {
				return "", negotiation.ErrGenerateTimeout
			},
			want: "timeout",
		},
		{name: "blocked", gen: alwaysUnsafe, want: "blocked"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			audit := negotiate(t, negotiation.NopSink{}, tt.gen, "x")
			record, err := rec.BuildRecord(audit)
			if err != nil {
				t.Fatal(err)
			}
			if record.ErrorType != tt.want {
				t.Errorf("ErrorType = %q, want %q", record.ErrorType, tt.want)
			}
			if record.Error == "" {
				t.Error("Error should be set")
			}
		})
	}
}

func TestBuildRecord_Cancelled(t *testing.T) {
	rec := NewRecorder(storage.NewMemoryStorage(), nil)
	defer rec.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n, err := negotiation.New(negotiation.Options{Generator: negotiation.GeneratorFunc(retryThenSafe)})
	if err != nil {
		t.Fatal(err)
	}
	audit := n.Negotiate(ctx, negotiation.NewRequest("", "x", nil))

	record, err := rec.BuildRecord(audit)
	if err != nil {
		t.Fatal(err)
	}
	if record.Status != "cancelled" || record.ErrorType != "cancelled" {
		t.Errorf("status = %q error_type = %q", record.Status, record.ErrorType)
	}
}

func TestBuildRecord_RedactsAndTruncates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxFieldLength = 20
	cfg.Redact = func(s string) string { return strings.ReplaceAll(s, "hunter2", "[REDACTED]") }
	rec := NewRecorder(storage.NewMemoryStorage(), cfg)
	defer rec.Close()

	prompt := "password hunter2 and a long tail of text"
	audit := negotiate(t, negotiation.NopSink{}, func(context.Context, negotiation.Request, []policy.Violation) (string, error) {
		return "echo hunter2", nil
	}, prompt)

	record, err := rec.BuildRecord(audit)
	if err != nil {
		t.Fatal(err)
	}
	if len(record.Prompt) != 20 || strings.Contains(record.Prompt, "hunter2") {
		t.Errorf("Prompt = %q", record.Prompt)
	}
	if record.PromptHash != HashString(prompt) {
		t.Error("PromptHash must cover the original prompt")
	}
	if strings.Contains(string(record.Audit), "hunter2") {
		t.Errorf("audit JSON not redacted: %s", record.Audit)
	}
	if audit.Request.Text != prompt || audit.Attempts[0].Artifact != "echo hunter2" {
		t.Error("redaction modified the caller's audit record")
	}
}

func TestRecorder_Disabled(t *testing.T) {
	store := storage.NewMemoryStorage()
	cfg := DefaultConfig()
	cfg.Enabled = false
	rec := NewRecorder(store, cfg)

	negotiate(t, rec, retryThenSafe, "x")
	rec.Close()

	if store.Size() != 0 {
		t.Errorf("disabled recorder stored %d records", store.Size())
	}
}

func TestRecorder_RecordAfterClose(t *testing.T) {
	rec := NewRecorder(storage.NewMemoryStorage(), nil)
	rec.Close()
	rec.Close()

	audit := negotiate(t, negotiation.NopSink{}, retryThenSafe, "x")
	err := rec.Record(context.Background(), audit)
	var recErr *evidence.RecorderError
	if !errors.As(err, &recErr) || !errors.Is(err, context.Canceled) {
		t.Errorf("Record() after Close error = %v, want RecorderError wrapping context.Canceled", err)
	}
}

type blockingStorage struct {
	*storage.MemoryStorage
	release chan struct{}
}

func (b *blockingStorage) Store(ctx context.Context, r *evidence.Record) error {
	<-b.release
	return b.MemoryStorage.Store(ctx, r)
}

func TestRecorder_QueueFull(t *testing.T) {
	store := &blockingStorage{MemoryStorage: storage.NewMemoryStorage(), release: make(chan struct{})}
	cfg := DefaultConfig()
	cfg.AsyncBuffer = 1
	cfg.WriteTimeout = 50 * time.Millisecond
	rec := NewRecorder(store, cfg)

	audit := negotiate(t, negotiation.NopSink{}, retryThenSafe, "x")
	var errs []error
	for i := 0; i < 3; i++ {
		if err := rec.Record(context.Background(), audit); err != nil {
			errs = append(errs, err)
		}
	}

	close(store.release)
	rec.Close()

	// The worker holds one record and the queue one more; the third times out.
	if len(errs) == 0 {
		t.Fatal("expected a queue-full error")
	}
	if !errors.Is(errs[0], context.DeadlineExceeded) {
		t.Errorf("error = %v, want DeadlineExceeded", errs[0])
	}
}

func TestRecorder_OnWrite(t *testing.T) {
	store := storage.NewMemoryStorage()
	rec := NewRecorder(store, nil)

	var mu sync.Mutex
	var written []string
	rec.OnWrite = func(r *evidence.Record, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err == nil {
			written = append(written, r.ID)
		}
	}

	audit := negotiate(t, rec, retryThenSafe, "x")
	rec.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(written) != 1 || written[0] != audit.NegotiationID {
		t.Errorf("OnWrite saw %v", written)
	}
}

func TestHashAndTruncate(t *testing.T) {
	if HashString("") != "" {
		t.Error("empty input should hash to empty string")
	}
	if got := HashString("abc"); got != "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad" {
		t.Errorf("HashString(abc) = %s", got)
	}

	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is too long", 10, "this is..."},
		{"abcdef", 3, "abc"},
		{"unlimited", 0, "unlimited"},
		{"héllo wörld", 5, "h..."},
		{"日本語テキスト", 8, "日..."},
		{"日本語", 2, ""},
		{"aé", 2, "a"},
	}
	for _, tt := range tests {
		got := TruncateString(tt.in, tt.max)
		if got != tt.want {
			t.Errorf("TruncateString(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("TruncateString(%q, %d) = %q is not valid UTF-8", tt.in, tt.max, got)
		}
	}
}

func TestHashString_FullContent(t *testing.T) {
	base := strings.Repeat("a", 2<<20)
	if HashString(base+"x") == HashString(base+"y") {
		t.Error("inputs differing after 2 MiB hash the same")
	}
	sum := sha256.Sum256([]byte(base))
	if got := HashString(base); got != hex.EncodeToString(sum[:]) {
		t.Errorf("HashString(2 MiB) = %s, want the SHA-256 of the whole input", got)
	}
}
