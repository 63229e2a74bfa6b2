package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"mercator-hq/parley/pkg/generator"
	"mercator-hq/parley/pkg/negotiation"
	"mercator-hq/parley/pkg/policy"
)

func newTestNegotiator(t *testing.T, c *Collector, gen negotiation.Generator) *negotiation.Negotiator {
	t.Helper()
	n, err := negotiation.New(negotiation.Options{
		Generator: gen,
		Validator: policy.NewValidator(&policy.ValidatorConfig{Observer: c}),
		Sink:      c,
	})
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func TestCollector_NegotiationMetrics(t *testing.T) {
	c := NewCollector(DefaultConfig(), nil)
	n := newTestNegotiator(t, c, generator.NewSequence("sudo rm -rf /tmp/x", "echo ok"))

	n.Negotiate(context.Background(), negotiation.NewRequest("", "cleanup", nil))

	if got := testutil.ToFloat64(c.negotiations.total.WithLabelValues("approved")); got != 1 {
		t.Errorf("negotiations_total{approved} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.negotiations.inFlight); got != 0 {
		t.Errorf("negotiations_in_flight = %v, want 0", got)
	}
	if got := testutil.ToFloat64(c.rules.violations.WithLabelValues("privilege-escalation")); got != 1 {
		t.Errorf("rule_violations_total{privilege-escalation} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.rules.evaluations.WithLabelValues("recursive-delete", "violation")); got != 1 {
		t.Errorf("rule_evaluations_total{recursive-delete,violation} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.rules.evaluations.WithLabelValues("recursive-delete", "pass")); got != 1 {
		t.Errorf("rule_evaluations_total{recursive-delete,pass} = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(c.negotiations.attempts); got != 1 {
		t.Errorf("negotiation_attempts series = %d, want 1", got)
	}
}

func TestCollector_GenerationErrors(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&generator.RateLimitError{Provider: "p"}, "rate_limit"},
		{&generator.AuthError{Provider: "p"}, "auth"},
		{&generator.TimeoutError{Provider: "p"}, "timeout"},
		{&generator.ProviderError{Provider: "p", StatusCode: 502}, "provider"},
		{errors.New("boom"), "other"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			c := NewCollector(DefaultConfig(), nil)
			n := newTestNegotiator(t, c, generator.NewSequence("x").FailOn(1, tt.err))

			n.Negotiate(context.Background(), negotiation.NewRequest("", "x", nil))

			if got := testutil.ToFloat64(c.generation.errors.WithLabelValues(tt.want)); got != 1 {
				t.Errorf("generation_errors_total{%s} = %v, want 1", tt.want, got)
			}
			if got := testutil.ToFloat64(c.negotiations.total.WithLabelValues("failed")); got != 1 {
				t.Errorf("negotiations_total{failed} = %v, want 1", got)
			}
		})
	}
}

func TestCollector_Disabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	c := NewCollector(cfg, nil)

	c.ObserveRule("r", true, time.Millisecond, nil)
	c.SetGuardActive(true)

	if got := testutil.ToFloat64(c.rules.evaluations.WithLabelValues("r", "violation")); got != 0 {
		t.Errorf("disabled collector recorded %v evaluations", got)
	}
	if got := testutil.ToFloat64(c.guardActive); got != 0 {
		t.Errorf("guard_active = %v, want 0", got)
	}
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector(DefaultConfig(), nil)
	c.SetGuardActive(true)
	c.ObserveRule("no-sudo", false, time.Millisecond, errors.New("x"))

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		"parley_guard_active 1",
		`parley_rule_evaluations_total{result="error",rule_id="no-sudo"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
