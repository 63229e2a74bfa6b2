// Package evidence persists the audit trail of negotiations.
//
// Every finished negotiation becomes one Record: the request, the terminal
// status, the rules that were violated along the way, hashes of the prompt
// and approved artifact, and optionally the full AuditRecord JSON.
//
// # Layout
//
//   - recorder: a negotiation.Sink that converts audit records and writes
//     them asynchronously
//   - storage: memory and SQLite backends
//   - query: query validation and defaults
//   - export: JSON, JSON Lines and CSV exporters
//   - retention: age and count based pruning on a cron schedule
//
// # Basic Usage
//
//	store, err := storage.NewSQLiteStorage(&storage.SQLiteConfig{Path: "data/evidence.db"})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	rec := recorder.NewRecorder(store, nil)
//	defer rec.Close()
//
//	n, err := negotiation.New(negotiation.Options{Generator: gen, Sink: rec})
//
// Blocked and failed negotiations never store the rejected artifacts
// outside the optional audit JSON.
package evidence
