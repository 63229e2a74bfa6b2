// Package storage provides backends for evidence records.
//
// MemoryStorage keeps records in a map and is meant for tests and one-shot
// CLI runs. SQLiteStorage persists records in a single SQLite file and can
// run on either of two drivers:
//
//   - "sqlite3": github.com/mattn/go-sqlite3 (cgo)
//   - "sqlite":  modernc.org/sqlite (pure Go)
//
// Both use WAL journaling and a busy timeout configured through the DSN so
// every pooled connection gets them. Timestamps are stored as UTC Unix
// nanoseconds, which keeps range filters identical across drivers.
//
// Violated rule IDs live in a separate evidence_rules table so rule
// filters are exact matches instead of substring scans.
package storage
