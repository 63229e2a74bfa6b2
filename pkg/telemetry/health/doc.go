// Package health provides liveness and readiness checks.
//
// Checks are registered by name and run concurrently with a per-check
// timeout. A check registered as informational is reported but never makes
// the service unready; Parley uses this for the shell guard status.
package health
