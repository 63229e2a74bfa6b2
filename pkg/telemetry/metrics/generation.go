package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// GenerationMetrics tracks generator latency and failures.
type GenerationMetrics struct {
	duration prometheus.Histogram
	errors   *prometheus.CounterVec
}

// NewGenerationMetrics creates and registers generation metrics.
func NewGenerationMetrics(cfg *Config, registry *prometheus.Registry) *GenerationMetrics {
	m := &GenerationMetrics{
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "generation_duration_seconds",
			Help:      "Generator call latency in seconds",
			Buckets:   cfg.DurationBuckets,
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "generation_errors_total",
			Help:      "Negotiations failed by a generator error, by error type",
		}, []string{"type"}),
	}
	registry.MustRegister(m.duration, m.errors)
	return m
}
