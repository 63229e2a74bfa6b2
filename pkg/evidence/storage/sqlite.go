package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"mercator-hq/parley/pkg/evidence"
)

// Driver names accepted by SQLiteConfig.Driver.
const (
	DriverCGO    = "sqlite3" // github.com/mattn/go-sqlite3
	DriverPureGo = "sqlite"  // modernc.org/sqlite
)

// SQLiteConfig contains configuration for the SQLite storage backend.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// Driver selects the database/sql driver.
	// Default: "sqlite3"
	Driver string

	// MaxOpenConns is the maximum number of open connections.
	// Default: 10
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	// Default: 5
	MaxIdleConns int

	// WALMode enables Write-Ahead Logging.
	// Default: true
	WALMode bool

	// BusyTimeout is how long a connection waits on a locked database.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// DefaultSQLiteConfig returns the default SQLite configuration.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		Path:         "data/evidence.db",
		Driver:       DriverCGO,
		MaxOpenConns: 10,
		MaxIdleConns: 5,
		WALMode:      true,
		BusyTimeout:  5 * time.Second,
	}
}

// SQLiteStorage implements evidence.Storage using SQLite.
type SQLiteStorage struct {
	db     *sql.DB
	config *SQLiteConfig
	logger *slog.Logger
}

// NewSQLiteStorage opens the database and creates the schema.
func NewSQLiteStorage(config *SQLiteConfig) (*SQLiteStorage, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}
	if config.Driver == "" {
		config.Driver = DriverCGO
	}
	if config.MaxOpenConns <= 0 {
		config.MaxOpenConns = 10
	}
	if config.MaxIdleConns <= 0 {
		config.MaxIdleConns = 5
	}
	if config.BusyTimeout <= 0 {
		config.BusyTimeout = 5 * time.Second
	}
	if config.Path == "" {
		return nil, evidence.NewStorageError("sqlite", "open", errors.New("database path is required"))
	}

	dsn, err := buildDSN(config)
	if err != nil {
		return nil, evidence.NewStorageError("sqlite", "open", err)
	}

	logger := slog.Default().With("component", "evidence.storage.sqlite")

	db, err := sql.Open(config.Driver, dsn)
	if err != nil {
		return nil, evidence.NewStorageError("sqlite", "open", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)

	s := &SQLiteStorage{db: db, config: config, logger: logger}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("SQLite storage initialized",
		"path", config.Path,
		"driver", config.Driver,
		"wal_mode", config.WALMode,
		"max_open_conns", config.MaxOpenConns,
	)
	return s, nil
}

// buildDSN sets the journal mode and busy timeout in the driver's own DSN
// dialect so they apply to every pooled connection.
func buildDSN(config *SQLiteConfig) (string, error) {
	timeoutMs := config.BusyTimeout.Milliseconds()
	switch config.Driver {
	case DriverCGO:
		params := []string{fmt.Sprintf("_busy_timeout=%d", timeoutMs)}
		if config.WALMode {
			params = append(params, "_journal_mode=WAL")
		}
		return "file:" + config.Path + "?" + strings.Join(params, "&"), nil
	case DriverPureGo:
		params := []string{fmt.Sprintf("_pragma=busy_timeout(%d)", timeoutMs)}
		if config.WALMode {
			params = append(params, "_pragma=journal_mode(WAL)")
		}
		return "file:" + config.Path + "?" + strings.Join(params, "&"), nil
	default:
		return "", fmt.Errorf("unsupported sqlite driver %q (valid: %s, %s)", config.Driver, DriverCGO, DriverPureGo)
	}
}

func (s *SQLiteStorage) initialize() error {
	if _, err := s.db.Exec(Schema); err != nil {
		return evidence.NewStorageError("sqlite", "create_schema", err)
	}

	if _, err := s.db.Exec(InsertSchemaVersion, SchemaVersion, time.Now().UTC().UnixNano()); err != nil {
		return evidence.NewStorageError("sqlite", "insert_schema_version", err)
	}

	var version int
	err := s.db.QueryRow(GetSchemaVersion).Scan(&version)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return evidence.NewStorageError("sqlite", "get_schema_version", err)
	}
	if version != SchemaVersion {
		return evidence.NewStorageError("sqlite", "schema_version_mismatch",
			fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version))
	}

	s.logger.Debug("schema version verified", "version", version)
	return nil
}

// Store implements evidence.Storage.
func (s *SQLiteStorage) Store(ctx context.Context, record *evidence.Record) error {
	metadata, err := marshalJSON(record.Metadata)
	if err != nil {
		return evidence.NewStorageError("sqlite", "store", err)
	}
	violations, err := marshalJSON(record.Violations)
	if err != nil {
		return evidence.NewStorageError("sqlite", "store", err)
	}
	ruleIDs, err := marshalJSON(record.RuleIDs)
	if err != nil {
		return evidence.NewStorageError("sqlite", "store", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return evidence.NewStorageError("sqlite", "store", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, upsertRecord,
		record.ID, record.RequestID,
		unixNano(record.StartedAt), unixNano(record.FinishedAt), unixNano(record.RecordedAt), int64(record.Duration),
		record.Prompt, record.PromptHash, metadata,
		record.Status, record.Attempts, record.MaxAttempts, record.RuleSetVersion,
		violations, ruleIDs,
		nullString(record.Artifact), nullString(record.ArtifactHash),
		nullString(record.Error), nullString(record.ErrorType),
		nullString(string(record.Audit)),
	)
	if err != nil {
		return evidence.NewStorageError("sqlite", "store", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM evidence_rules WHERE evidence_id = ?`, record.ID); err != nil {
		return evidence.NewStorageError("sqlite", "store_rules", err)
	}
	for _, ruleID := range record.RuleIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO evidence_rules (evidence_id, rule_id) VALUES (?, ?)`,
			record.ID, ruleID,
		); err != nil {
			return evidence.NewStorageError("sqlite", "store_rules", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return evidence.NewStorageError("sqlite", "store", err)
	}
	return nil
}

// Get implements evidence.Storage.
func (s *SQLiteStorage) Get(ctx context.Context, id string) (*evidence.Record, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+selectColumns+" FROM evidence WHERE id = ?", id)
	if err != nil {
		return nil, evidence.NewStorageError("sqlite", "get", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, evidence.NewStorageError("sqlite", "get", err)
		}
		return nil, evidence.ErrNotFound
	}
	record, err := scanRecord(rows)
	if err != nil {
		return nil, evidence.NewStorageError("sqlite", "scan", err)
	}
	return record, nil
}

// Query implements evidence.Storage.
func (s *SQLiteStorage) Query(ctx context.Context, query *evidence.Query) ([]*evidence.Record, error) {
	sqlQuery, args := buildSelect(query)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, evidence.NewStorageError("sqlite", "query", err)
	}
	defer rows.Close()

	records := []*evidence.Record{}
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, evidence.NewStorageError("sqlite", "scan", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, evidence.NewStorageError("sqlite", "query", err)
	}
	return records, nil
}

// QueryStream implements evidence.Storage.
func (s *SQLiteStorage) QueryStream(ctx context.Context, query *evidence.Query) (<-chan *evidence.Record, <-chan error, error) {
	sqlQuery, args := buildSelect(query)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, nil, evidence.NewStorageError("sqlite", "query_stream", err)
	}

	recordsCh := make(chan *evidence.Record, 100)
	errCh := make(chan error, 1)

	go func() {
		defer close(recordsCh)
		defer close(errCh)
		defer rows.Close()

		for rows.Next() {
			record, err := scanRecord(rows)
			if err != nil {
				errCh <- evidence.NewStorageError("sqlite", "scan", err)
				return
			}
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case recordsCh <- record:
			}
		}
		if err := rows.Err(); err != nil {
			errCh <- evidence.NewStorageError("sqlite", "query_stream", err)
		}
	}()

	return recordsCh, errCh, nil
}

// Count implements evidence.Storage.
func (s *SQLiteStorage) Count(ctx context.Context, query *evidence.Query) (int64, error) {
	where, args := buildWhere(query)

	var count int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM evidence"+where, args...).Scan(&count); err != nil {
		return 0, evidence.NewStorageError("sqlite", "count", err)
	}
	return count, nil
}

// Delete implements evidence.Storage.
func (s *SQLiteStorage) Delete(ctx context.Context, query *evidence.Query) (int64, error) {
	where, args := buildWhere(query)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, evidence.NewStorageError("sqlite", "delete", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM evidence_rules WHERE evidence_id IN (SELECT id FROM evidence"+where+")", args...,
	); err != nil {
		return 0, evidence.NewStorageError("sqlite", "delete_rules", err)
	}

	result, err := tx.ExecContext(ctx, "DELETE FROM evidence"+where, args...)
	if err != nil {
		return 0, evidence.NewStorageError("sqlite", "delete", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, evidence.NewStorageError("sqlite", "delete", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, evidence.NewStorageError("sqlite", "delete", err)
	}
	return count, nil
}

// Ping checks that the database is reachable.
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return evidence.NewStorageError("sqlite", "ping", err)
	}
	return nil
}

// Close implements evidence.Storage.
func (s *SQLiteStorage) Close() error {
	if err := s.db.Close(); err != nil {
		return evidence.NewStorageError("sqlite", "close", err)
	}
	s.logger.Info("SQLite storage closed")
	return nil
}

// sortColumns maps query sort fields to columns.
var sortColumns = map[string]string{
	"started_at":  "started_at",
	"recorded_at": "recorded_at",
	"attempts":    "attempts",
	"duration":    "duration_ns",
}

func buildSelect(query *evidence.Query) (string, []interface{}) {
	where, args := buildWhere(query)

	column, ok := sortColumns[query.SortBy]
	if !ok {
		column = "started_at"
	}
	order := "DESC"
	if query.SortOrder == "asc" {
		order = "ASC"
	}

	limit := -1
	if query.Limit > 0 {
		limit = query.Limit
	}

	sqlQuery := fmt.Sprintf("SELECT %s FROM evidence%s ORDER BY %s %s, id %s LIMIT %d",
		selectColumns, where, column, order, order, limit)
	if query.Offset > 0 {
		sqlQuery += fmt.Sprintf(" OFFSET %d", query.Offset)
	}
	return sqlQuery, args
}

// buildWhere returns " WHERE ..." (or "") and its arguments.
func buildWhere(query *evidence.Query) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	if query.StartTime != nil {
		conditions = append(conditions, "started_at >= ?")
		args = append(args, unixNano(*query.StartTime))
	}
	if query.EndTime != nil {
		conditions = append(conditions, "started_at <= ?")
		args = append(args, unixNano(*query.EndTime))
	}
	if query.RequestID != "" {
		conditions = append(conditions, "request_id = ?")
		args = append(args, query.RequestID)
	}
	if query.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, query.Status)
	}
	if query.RuleSetVersion != "" {
		conditions = append(conditions, "ruleset_version = ?")
		args = append(args, query.RuleSetVersion)
	}
	if query.RuleID != "" {
		conditions = append(conditions, "id IN (SELECT evidence_id FROM evidence_rules WHERE rule_id = ?)")
		args = append(args, query.RuleID)
	}
	if query.MinAttempts != nil {
		conditions = append(conditions, "attempts >= ?")
		args = append(args, *query.MinAttempts)
	}
	if query.MaxAttempts != nil {
		conditions = append(conditions, "attempts <= ?")
		args = append(args, *query.MaxAttempts)
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func scanRecord(rows *sql.Rows) (*evidence.Record, error) {
	var record evidence.Record
	var startedAt, finishedAt, recordedAt, duration int64
	var prompt, promptHash, metadata, rulesetVersion sql.NullString
	var violations, ruleIDs, audit sql.NullString
	var artifact, artifactHash, errVal, errType sql.NullString

	err := rows.Scan(
		&record.ID, &record.RequestID,
		&startedAt, &finishedAt, &recordedAt, &duration,
		&prompt, &promptHash, &metadata,
		&record.Status, &record.Attempts, &record.MaxAttempts, &rulesetVersion,
		&violations, &ruleIDs,
		&artifact, &artifactHash, &errVal, &errType,
		&audit,
	)
	if err != nil {
		return nil, err
	}

	record.StartedAt = fromUnixNano(startedAt)
	record.FinishedAt = fromUnixNano(finishedAt)
	record.RecordedAt = fromUnixNano(recordedAt)
	record.Duration = time.Duration(duration)
	record.Prompt = prompt.String
	record.PromptHash = promptHash.String
	record.RuleSetVersion = rulesetVersion.String
	record.Artifact = artifact.String
	record.ArtifactHash = artifactHash.String
	record.Error = errVal.String
	record.ErrorType = errType.String
	if audit.Valid && audit.String != "" {
		record.Audit = json.RawMessage(audit.String)
	}

	if err := unmarshalJSON(metadata, &record.Metadata); err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}
	if err := unmarshalJSON(violations, &record.Violations); err != nil {
		return nil, fmt.Errorf("violations: %w", err)
	}
	if err := unmarshalJSON(ruleIDs, &record.RuleIDs); err != nil {
		return nil, fmt.Errorf("rule_ids: %w", err)
	}
	return &record, nil
}

func marshalJSON(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalJSON(s sql.NullString, v interface{}) error {
	if !s.Valid || s.String == "" || s.String == "null" {
		return nil
	}
	return json.Unmarshal([]byte(s.String), v)
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
