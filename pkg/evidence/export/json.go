package export

import (
	"context"
	"encoding/json"
	"io"

	"mercator-hq/parley/pkg/evidence"
)

// JSONExporter writes records as a JSON array.
type JSONExporter struct {
	// Pretty enables indentation.
	Pretty bool
}

// NewJSONExporter creates a new JSON exporter.
func NewJSONExporter(pretty bool) *JSONExporter {
	return &JSONExporter{Pretty: pretty}
}

// Export implements evidence.Exporter. An empty slice is written as [].
func (e *JSONExporter) Export(_ context.Context, records []*evidence.Record, w io.Writer) error {
	if records == nil {
		records = []*evidence.Record{}
	}

	var data []byte
	var err error
	if e.Pretty {
		data, err = json.MarshalIndent(records, "", "  ")
	} else {
		data, err = json.Marshal(records)
	}
	if err != nil {
		return evidence.NewExportError("json", 0, err)
	}

	if _, err := w.Write(append(data, '\n')); err != nil {
		return evidence.NewExportError("json", 0, err)
	}
	return nil
}

// ExportStream writes records from recordsCh as a JSON array without
// holding them all in memory.
func (e *JSONExporter) ExportStream(ctx context.Context, recordsCh <-chan *evidence.Record, w io.Writer) error {
	if _, err := io.WriteString(w, "["); err != nil {
		return evidence.NewExportError("json", 0, err)
	}

	count := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case record, ok := <-recordsCh:
			if !ok {
				closing := "]\n"
				if e.Pretty && count > 0 {
					closing = "\n]\n"
				}
				if _, err := io.WriteString(w, closing); err != nil {
					return evidence.NewExportError("json", count, err)
				}
				return nil
			}

			sep := ","
			if count == 0 {
				sep = ""
			}
			if e.Pretty {
				sep += "\n  "
			}
			if _, err := io.WriteString(w, sep); err != nil {
				return evidence.NewExportError("json", count, err)
			}

			data, err := e.marshal(record)
			if err != nil {
				return evidence.NewExportError("json", count, err)
			}
			if _, err := w.Write(data); err != nil {
				return evidence.NewExportError("json", count, err)
			}
			count++
		}
	}
}

func (e *JSONExporter) marshal(record *evidence.Record) ([]byte, error) {
	if e.Pretty {
		return json.MarshalIndent(record, "  ", "  ")
	}
	return json.Marshal(record)
}

// JSONLinesExporter writes one JSON object per line.
type JSONLinesExporter struct{}

// Export implements evidence.Exporter.
func (JSONLinesExporter) Export(_ context.Context, records []*evidence.Record, w io.Writer) error {
	enc := json.NewEncoder(w)
	for i, record := range records {
		if err := enc.Encode(record); err != nil {
			return evidence.NewExportError("jsonl", i, err)
		}
	}
	return nil
}

// ExportStream writes records from recordsCh as JSON Lines.
func (JSONLinesExporter) ExportStream(ctx context.Context, recordsCh <-chan *evidence.Record, w io.Writer) error {
	enc := json.NewEncoder(w)
	count := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case record, ok := <-recordsCh:
			if !ok {
				return nil
			}
			if err := enc.Encode(record); err != nil {
				return evidence.NewExportError("jsonl", count, err)
			}
			count++
		}
	}
}
