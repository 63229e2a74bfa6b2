// Package metrics exposes Prometheus metrics for negotiations.
//
// # Metrics
//
//   - parley_negotiations_total{status}: finished negotiations by outcome
//   - parley_negotiations_in_flight: negotiations currently running
//   - parley_negotiation_attempts: attempts per finished negotiation
//   - parley_negotiation_duration_seconds{status}: wall time per negotiation
//   - parley_rule_evaluations_total{rule_id,result}: per-rule results
//   - parley_rule_evaluation_duration_seconds{rule_id}
//   - parley_rule_violations_total{rule_id}: violations recorded in attempts
//   - parley_generation_duration_seconds: generator call latency
//   - parley_generation_errors_total{type}: generator failures by kind
//   - parley_validation_duration_seconds: whole-artifact validation latency
//   - parley_guard_active: 1 when the shell guard reports healthy
//
// # Usage
//
//	collector := metrics.NewCollector(metrics.DefaultConfig(), nil)
//	validator := policy.NewValidator(&policy.ValidatorConfig{Observer: collector})
//	negotiator, _ := negotiation.New(negotiation.Options{
//	    Generator: gen,
//	    Validator: validator,
//	    Sink:      collector,
//	})
//	http.Handle("/metrics", collector.Handler())
//
// The Collector registers into its own registry so several collectors can
// coexist in tests.
package metrics
