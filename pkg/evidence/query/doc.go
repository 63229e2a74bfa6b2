// Package query validates evidence queries coming from the CLI and the
// HTTP API and fills in paging and sorting defaults.
package query
