package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RuleMetrics tracks rule evaluations and validation latency.
type RuleMetrics struct {
	evaluations *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	violations  *prometheus.CounterVec
	validation  prometheus.Histogram
}

// NewRuleMetrics creates and registers rule metrics.
func NewRuleMetrics(cfg *Config, registry *prometheus.Registry) *RuleMetrics {
	m := &RuleMetrics{
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "rule_evaluations_total",
			Help:      "Rule evaluations by result (pass, violation, error)",
		}, []string{"rule_id", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "rule_evaluation_duration_seconds",
			Help:      "Duration of a single rule evaluation in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10), // 10µs to ~2.6s
		}, []string{"rule_id"}),
		violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "rule_violations_total",
			Help:      "Violations recorded in completed attempts",
		}, []string{"rule_id"}),
		validation: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "validation_duration_seconds",
			Help:      "Duration of validating one artifact against the rule set",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
	}
	registry.MustRegister(m.evaluations, m.duration, m.violations, m.validation)
	return m
}

// ObserveRule implements policy.RuleObserver.
func (c *Collector) ObserveRule(ruleID string, violated bool, duration time.Duration, err error) {
	if !c.config.Enabled {
		return
	}
	result := "pass"
	switch {
	case err != nil:
		result = "error"
	case violated:
		result = "violation"
	}
	c.rules.evaluations.WithLabelValues(ruleID, result).Inc()
	c.rules.duration.WithLabelValues(ruleID).Observe(duration.Seconds())
}
