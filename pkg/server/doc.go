// Package server exposes negotiations over HTTP.
//
// # Endpoints
//
//	POST /v1/negotiate             run a negotiation; ?audit=true adds the full audit record
//	GET  /v1/negotiations          list stored evidence records (filters as query parameters)
//	GET  /v1/negotiations/{id}     fetch one stored evidence record
//	POST /v1/adapters/cursor       prompt in, final text out
//	POST /v1/adapters/windsurf     {"prompt": ...} in, {"response", "safety_validated", "attempts"} out
//	GET  /health                   liveness
//	GET  /ready                    readiness, including the shell guard as informational
//	GET  /version                  build information
//	GET  /metrics                  Prometheus metrics (path configurable)
//
// The evidence endpoints are registered only when a storage backend is
// configured. Evidence is written asynchronously, so a record may not be
// visible immediately after its negotiation returns.
//
// # Status Codes
//
// Approved and blocked negotiations return 200: both are decisions. A
// failed negotiation returns 502 because the generator failed. A
// negotiation cancelled by the request deadline returns 504, and 503 for
// other cancellations.
//
// # Middleware
//
// Requests pass through panic recovery, request ID assignment (X-Request-ID),
// access logging, W3C trace context extraction and a per-request deadline,
// outermost first.
package server
