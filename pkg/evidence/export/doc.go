// Package export writes evidence records as JSON, JSON Lines or CSV.
//
// Every exporter has a slice form (Export) and a channel form
// (ExportStream) for use with Storage.QueryStream. CSV flattens list
// fields: rule IDs are joined with ";" and the audit JSON is omitted.
package export
