package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"strings"
	"time"

	"mercator-hq/parley/pkg/evidence"
)

// CSVExporter writes records as CSV.
type CSVExporter struct {
	// IncludeHeader writes a header row first.
	IncludeHeader bool
}

// NewCSVExporter creates a new CSV exporter.
func NewCSVExporter(includeHeader bool) *CSVExporter {
	return &CSVExporter{IncludeHeader: includeHeader}
}

// Header returns the CSV column names.
func Header() []string {
	return []string{
		"id", "request_id",
		"started_at", "finished_at", "recorded_at", "duration_ms",
		"status", "attempts", "max_attempts", "ruleset_version",
		"rule_ids", "violations",
		"prompt", "prompt_hash", "artifact_hash",
		"error", "error_type", "metadata",
	}
}

// Export implements evidence.Exporter.
func (e *CSVExporter) Export(_ context.Context, records []*evidence.Record, w io.Writer) error {
	writer := csv.NewWriter(w)

	if e.IncludeHeader {
		if err := writer.Write(Header()); err != nil {
			return evidence.NewExportError("csv", 0, err)
		}
	}
	for i, record := range records {
		if err := writer.Write(recordToRow(record)); err != nil {
			return evidence.NewExportError("csv", i, err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return evidence.NewExportError("csv", len(records), err)
	}
	return nil
}

// ExportStream writes records from recordsCh as CSV, flushing every 100
// rows.
func (e *CSVExporter) ExportStream(ctx context.Context, recordsCh <-chan *evidence.Record, w io.Writer) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if e.IncludeHeader {
		if err := writer.Write(Header()); err != nil {
			return evidence.NewExportError("csv", 0, err)
		}
	}

	count := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case record, ok := <-recordsCh:
			if !ok {
				writer.Flush()
				if err := writer.Error(); err != nil {
					return evidence.NewExportError("csv", count, err)
				}
				return nil
			}

			if err := writer.Write(recordToRow(record)); err != nil {
				return evidence.NewExportError("csv", count, err)
			}
			count++

			if count%100 == 0 {
				writer.Flush()
				if err := writer.Error(); err != nil {
					return evidence.NewExportError("csv", count, err)
				}
			}
		}
	}
}

func recordToRow(record *evidence.Record) []string {
	formatTime := func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.UTC().Format(time.RFC3339Nano)
	}

	violations := make([]string, 0, len(record.Violations))
	for _, v := range record.Violations {
		violations = append(violations, v.RuleID+": "+v.Description)
	}

	metadata := ""
	if len(record.Metadata) > 0 {
		data, _ := json.Marshal(record.Metadata)
		metadata = string(data)
	}

	return []string{
		record.ID,
		record.RequestID,
		formatTime(record.StartedAt),
		formatTime(record.FinishedAt),
		formatTime(record.RecordedAt),
		strconv.FormatInt(record.Duration.Milliseconds(), 10),
		record.Status,
		strconv.Itoa(record.Attempts),
		strconv.Itoa(record.MaxAttempts),
		record.RuleSetVersion,
		strings.Join(record.RuleIDs, ";"),
		strings.Join(violations, ";"),
		record.Prompt,
		record.PromptHash,
		record.ArtifactHash,
		record.Error,
		record.ErrorType,
		metadata,
	}
}

// StreamExporter writes records as they arrive on a channel.
type StreamExporter interface {
	evidence.Exporter
	ExportStream(ctx context.Context, recordsCh <-chan *evidence.Record, w io.Writer) error
}

// ForFormat returns the exporter for "json", "jsonl" or "csv".
func ForFormat(format string, pretty bool) (StreamExporter, bool) {
	switch format {
	case "json":
		return NewJSONExporter(pretty), true
	case "jsonl":
		return JSONLinesExporter{}, true
	case "csv":
		return NewCSVExporter(true), true
	default:
		return nil, false
	}
}
