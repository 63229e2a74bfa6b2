package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Config contains metrics configuration.
type Config struct {
	// Enabled turns recording on. A disabled collector still serves an
	// empty registry.
	Enabled bool

	// Namespace prefixes every metric name.
	// Default: "parley"
	Namespace string

	// Subsystem is inserted between namespace and name when set.
	Subsystem string

	// DurationBuckets are used for negotiation and generation latencies.
	// Default: 0.1s to 60s
	DurationBuckets []float64
}

// DefaultConfig returns an enabled configuration with default buckets.
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		Namespace:       "parley",
		DurationBuckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	}
}

// Collector records negotiation, rule and generation metrics.
// It implements negotiation.Sink and policy.RuleObserver.
type Collector struct {
	config   *Config
	registry *prometheus.Registry

	negotiations *NegotiationMetrics
	rules        *RuleMetrics
	generation   *GenerationMetrics
	guardActive  prometheus.Gauge
}

// NewCollector creates a collector. If registry is nil a new one is created.
func NewCollector(cfg *Config, registry *prometheus.Registry) *Collector {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "parley"
	}
	if len(cfg.DurationBuckets) == 0 {
		cfg.DurationBuckets = DefaultConfig().DurationBuckets
	}
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	c := &Collector{
		config:       cfg,
		registry:     registry,
		negotiations: NewNegotiationMetrics(cfg, registry),
		rules:        NewRuleMetrics(cfg, registry),
		generation:   NewGenerationMetrics(cfg, registry),
		guardActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "guard_active",
			Help:      "1 when the shell guard reports healthy, 0 otherwise",
		}),
	}
	registry.MustRegister(c.guardActive)

	return c
}

// Registry returns the registry metrics are registered in.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// SetGuardActive records the shell guard status.
func (c *Collector) SetGuardActive(active bool) {
	if !c.config.Enabled {
		return
	}
	if active {
		c.guardActive.Set(1)
	} else {
		c.guardActive.Set(0)
	}
}
