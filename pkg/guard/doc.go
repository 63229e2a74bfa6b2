// Package guard reports whether the sibling shell guard process is running.
//
// The guard is an independent command-execution monitor deployed next to
// the proxy. Its liveness is informational: it is surfaced by the CLI, the
// readiness report and the guard_active metric, and never consulted while
// negotiating.
//
// A Prober performs one check. CommandProber runs the guard's status
// command and looks for its health marker; HTTPProber queries a status
// endpoint. Monitor polls a Prober in the background and serves the cached
// Status without blocking.
package guard
