package storage

// SchemaVersion is the current database schema version.
const SchemaVersion = 1

// Schema creates the evidence tables. Timestamps are UTC Unix nanoseconds.
const Schema = `
CREATE TABLE IF NOT EXISTS evidence (
    id TEXT PRIMARY KEY,
    request_id TEXT NOT NULL,

    started_at INTEGER NOT NULL,
    finished_at INTEGER NOT NULL,
    recorded_at INTEGER NOT NULL,
    duration_ns INTEGER NOT NULL,

    prompt TEXT,
    prompt_hash TEXT,
    metadata TEXT,

    status TEXT NOT NULL,
    attempts INTEGER NOT NULL,
    max_attempts INTEGER NOT NULL,
    ruleset_version TEXT,
    violations TEXT,
    rule_ids TEXT,

    artifact TEXT,
    artifact_hash TEXT,
    error TEXT,
    error_type TEXT,

    audit TEXT
);

CREATE TABLE IF NOT EXISTS evidence_rules (
    evidence_id TEXT NOT NULL,
    rule_id TEXT NOT NULL,
    PRIMARY KEY (evidence_id, rule_id)
);

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_evidence_started_at ON evidence(started_at);
CREATE INDEX IF NOT EXISTS idx_evidence_status ON evidence(status);
CREATE INDEX IF NOT EXISTS idx_evidence_request_id ON evidence(request_id);
CREATE INDEX IF NOT EXISTS idx_evidence_ruleset_version ON evidence(ruleset_version);
CREATE INDEX IF NOT EXISTS idx_evidence_rules_rule_id ON evidence_rules(rule_id);
`

// InsertSchemaVersion records the schema version once.
const InsertSchemaVersion = `
INSERT INTO schema_version (version, applied_at)
VALUES (?, ?)
ON CONFLICT(version) DO NOTHING;
`

// GetSchemaVersion returns the newest applied schema version.
const GetSchemaVersion = `
SELECT version FROM schema_version ORDER BY version DESC LIMIT 1;
`

const selectColumns = `id, request_id, started_at, finished_at, recorded_at, duration_ns,
    prompt, prompt_hash, metadata, status, attempts, max_attempts, ruleset_version,
    violations, rule_ids, artifact, artifact_hash, error, error_type, audit`

const upsertRecord = `
INSERT INTO evidence (` + selectColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    request_id = excluded.request_id,
    started_at = excluded.started_at,
    finished_at = excluded.finished_at,
    recorded_at = excluded.recorded_at,
    duration_ns = excluded.duration_ns,
    prompt = excluded.prompt,
    prompt_hash = excluded.prompt_hash,
    metadata = excluded.metadata,
    status = excluded.status,
    attempts = excluded.attempts,
    max_attempts = excluded.max_attempts,
    ruleset_version = excluded.ruleset_version,
    violations = excluded.violations,
    rule_ids = excluded.rule_ids,
    artifact = excluded.artifact,
    artifact_hash = excluded.artifact_hash,
    error = excluded.error,
    error_type = excluded.error_type,
    audit = excluded.audit;
`
