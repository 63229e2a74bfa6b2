package generator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"mercator-hq/parley/pkg/negotiation"
	"mercator-hq/parley/pkg/policy"
)

func completion(content string) string {
	resp := map[string]interface{}{
		"id":    "chatcmpl-1",
		"model": "test-model",
		"choices": []map[string]interface{}{
			{"index": 0, "message": map[string]string{"role": "assistant", "content": content}, "finish_reason": "stop"},
		},
	}
	data, _ := json.Marshal(resp)
	return string(data)
}

func newTestProvider(t *testing.T, url string) *Provider {
	t.Helper()
	p, err := NewProvider(ProviderConfig{
		Name:         "test",
		BaseURL:      url,
		APIKey:       "sk-test",
		Model:        "test-model",
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	return p
}

func TestProvider_Generate(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(completion("```bash\necho safe\n```")))
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	feedback := []policy.Violation{{RuleID: "privilege-escalation", Description: "Privilege escalation detected"}}
	artifact, err := p.Generate(context.Background(), negotiation.NewRequest("req-1", "list files", nil), feedback)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if artifact != "echo safe" {
		t.Errorf("artifact = %q, want %q", artifact, "echo safe")
	}
	if got.Model != "test-model" || got.User != "req-1" {
		t.Errorf("request = %+v", got)
	}
	if len(got.Messages) != 3 || !strings.Contains(got.Messages[2].Content, "Privilege escalation detected") {
		t.Errorf("messages = %+v, want corrective message", got.Messages)
	}
}

func TestProvider_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, "unavailable", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(completion("echo ok")))
	}))
	defer srv.Close()

	artifact, err := newTestProvider(t, srv.URL).Generate(context.Background(), negotiation.Request{Text: "x"}, nil)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if artifact != "echo ok" || atomic.LoadInt32(&calls) != 3 {
		t.Errorf("artifact = %q after %d calls", artifact, calls)
	}
}

func TestProvider_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		check   func(t *testing.T, err error)
	}{
		{
			name: "rate limited",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Retry-After", "0")
				http.Error(w, "slow down", http.StatusTooManyRequests)
			},
			check: func(t *testing.T, err error) {
				var rl *RateLimitError
				if !errors.As(err, &rl) {
					t.Errorf("error = %T, want *RateLimitError", err)
				}
			},
		},
		{
			name: "unauthorized",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "bad key", http.StatusUnauthorized)
			},
			check: func(t *testing.T, err error) {
				var auth *AuthError
				if !errors.As(err, &auth) {
					t.Errorf("error = %T, want *AuthError", err)
				}
			},
		},
		{
			name: "bad request",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "bad", http.StatusBadRequest)
			},
			check: func(t *testing.T, err error) {
				var pe *ProviderError
				if !errors.As(err, &pe) || pe.StatusCode != http.StatusBadRequest {
					t.Errorf("error = %v, want ProviderError 400", err)
				}
			},
		},
		{
			name: "empty choices",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"choices":[]}`))
			},
			check: func(t *testing.T, err error) {
				var pe *ParseError
				if !errors.As(err, &pe) {
					t.Errorf("error = %T, want *ParseError", err)
				}
			},
		},
		{
			name: "malformed json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{not json`))
			},
			check: func(t *testing.T, err error) {
				var pe *ParseError
				if !errors.As(err, &pe) {
					t.Errorf("error = %T, want *ParseError", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := newTestProvider(t, srv.URL).Generate(context.Background(), negotiation.Request{Text: "x"}, nil)
			if err == nil {
				t.Fatal("Generate() error = nil")
			}
			tt.check(t, err)
		})
	}
}

func TestProvider_RateLimiterHonoursContext(t *testing.T) {
	p, err := NewProvider(ProviderConfig{BaseURL: "http://127.0.0.1:1", Model: "m", RateLimit: 0.001, Burst: 1})
	if err != nil {
		t.Fatal(err)
	}
	// Drain the single burst token.
	p.limiter.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := p.Generate(ctx, negotiation.Request{Text: "x"}, nil); err == nil {
		t.Fatal("Generate() error = nil, want limiter error")
	}
}

func TestNewProvider_RequiresModel(t *testing.T) {
	if _, err := NewProvider(ProviderConfig{}); err == nil {
		t.Error("NewProvider() error = nil, want missing model error")
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := parseRetryAfter("3"); got != 3*time.Second {
		t.Errorf("parseRetryAfter(3) = %v", got)
	}
	if got := parseRetryAfter(""); got != 0 {
		t.Errorf("parseRetryAfter(\"\") = %v", got)
	}
	if got := parseRetryAfter("soon"); got != 0 {
		t.Errorf("parseRetryAfter(soon) = %v", got)
	}
}
