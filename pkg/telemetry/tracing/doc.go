// Package tracing exports negotiations as OpenTelemetry traces.
//
// A Tracer owns the SDK provider and the OTLP gRPC exporter. TraceSink
// turns negotiation events into a "negotiation" span with one child
// "attempt" span per generate/validate cycle:
//
//	negotiation (parley.negotiation.id, parley.status, parley.attempts)
//	├── attempt 1 (parley.attempt.pass=false, violation events)
//	└── attempt 2 (parley.attempt.pass=true)
//
// Attempt spans carry the timestamps recorded by the orchestrator, so the
// trace lines up with the audit record even though spans are created after
// the fact.
//
// # Sampling
//
// Three sampling strategies are supported:
//   - always: sample every negotiation
//   - never: sample nothing
//   - ratio: sample a fraction based on the trace ID
//
// All of them respect the sampling decision of an incoming parent span, so
// a negotiation requested with a traceparent header joins the caller's
// trace.
//
// # Propagation
//
// HTTPMiddleware extracts W3C Trace Context from incoming requests and
// Transport injects it into outgoing provider calls.
package tracing
