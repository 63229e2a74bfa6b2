// Package telemetry groups the observability packages used by parley.
//
// # Components
//
//   - logging: slog handler with context fields and secret redaction
//   - metrics: Prometheus collectors for negotiations, generation and rules
//   - tracing: OpenTelemetry spans for negotiations and attempts
//   - health: liveness, readiness and version endpoints
//
// The logging, metrics and tracing packages each provide a
// negotiation.Sink, so the orchestrator reports progress without knowing
// which backends are enabled.
//
// # Usage
//
//	logger, _ := logging.New(logging.Config{Level: "info", Format: "json", Redact: true})
//	collector := metrics.NewCollector(metrics.DefaultConfig(), prometheus.NewRegistry())
//	tracer, _ := tracing.New(cfg.Telemetry.Tracing)
//
//	n, _ := negotiation.New(negotiation.Options{
//		Generator: gen,
//		Rules:     store,
//		Sink: negotiation.MultiSink{
//			logging.NewLogSink(logger),
//			collector,
//			tracing.NewTraceSink(tracer),
//		},
//	})
//
// # Redaction
//
// Log attributes pass through a Redactor before they are written. Provider API keys,
// bearer tokens, passwords and private keys are masked by default; extra patterns
// come from configuration.
package telemetry
