package metrics

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/parley/pkg/generator"
	"mercator-hq/parley/pkg/negotiation"
)

// NegotiationMetrics tracks negotiation outcomes.
type NegotiationMetrics struct {
	total    *prometheus.CounterVec
	inFlight prometheus.Gauge
	attempts prometheus.Histogram
	duration *prometheus.HistogramVec
}

// NewNegotiationMetrics creates and registers negotiation metrics.
func NewNegotiationMetrics(cfg *Config, registry *prometheus.Registry) *NegotiationMetrics {
	m := &NegotiationMetrics{
		total: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "negotiations_total",
			Help:      "Total number of finished negotiations by outcome",
		}, []string{"status"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "negotiations_in_flight",
			Help:      "Number of negotiations currently running",
		}),
		attempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "negotiation_attempts",
			Help:      "Completed attempts per negotiation",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "negotiation_duration_seconds",
			Help:      "Negotiation wall time in seconds",
			Buckets:   cfg.DurationBuckets,
		}, []string{"status"}),
	}
	registry.MustRegister(m.total, m.inFlight, m.attempts, m.duration)
	return m
}

// NegotiationStarted implements negotiation.Sink.
func (c *Collector) NegotiationStarted(_ context.Context, _ *negotiation.AuditRecord) {
	if !c.config.Enabled {
		return
	}
	c.negotiations.inFlight.Inc()
}

// AttemptCompleted implements negotiation.Sink.
func (c *Collector) AttemptCompleted(_ context.Context, _ *negotiation.AuditRecord, attempt negotiation.Attempt) {
	if !c.config.Enabled {
		return
	}
	c.generation.duration.Observe(attempt.GenerationDuration.Seconds())
	c.rules.validation.Observe(attempt.ValidationDuration.Seconds())
	for _, v := range attempt.Verdict.Violations {
		c.rules.violations.WithLabelValues(v.RuleID).Inc()
	}
}

// NegotiationFinished implements negotiation.Sink.
func (c *Collector) NegotiationFinished(_ context.Context, record *negotiation.AuditRecord) {
	if !c.config.Enabled {
		return
	}
	status := string(record.Outcome.Status)

	c.negotiations.inFlight.Dec()
	c.negotiations.total.WithLabelValues(status).Inc()
	c.negotiations.attempts.Observe(float64(record.Outcome.Attempts))
	c.negotiations.duration.WithLabelValues(status).Observe(record.Duration().Seconds())

	if record.Outcome.Status == negotiation.StatusFailed {
		c.generation.errors.WithLabelValues(generationErrorType(record.Outcome.Err())).Inc()
	}
}

// generationErrorType classifies a generator failure for labelling.
func generationErrorType(err error) string {
	var (
		rateLimit *generator.RateLimitError
		auth      *generator.AuthError
		timeout   *generator.TimeoutError
		parse     *generator.ParseError
		provider  *generator.ProviderError
	)
	switch {
	case errors.Is(err, negotiation.ErrGenerateTimeout), errors.As(err, &timeout):
		return "timeout"
	case errors.As(err, &rateLimit):
		return "rate_limit"
	case errors.As(err, &auth):
		return "auth"
	case errors.As(err, &parse):
		return "parse"
	case errors.As(err, &provider):
		return "provider"
	default:
		return "other"
	}
}
