package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/parley/pkg/cli"
	"mercator-hq/parley/pkg/evidence"
	"mercator-hq/parley/pkg/evidence/export"
	"mercator-hq/parley/pkg/evidence/query"
)

var evidenceFlags struct {
	backend        string
	since          string
	until          string
	status         string
	rule           string
	requestID      string
	rulesetVersion string
	minAttempts    int
	maxAttempts    int
	limit          int
	offset         int
	sortBy         string
	sortOrder      string
	format         string
	exportFormat   string
	output         string
	pretty         bool

	// prune
	days       int
	maxRecords int64
	archive    bool
	dryRun     bool
}

var evidenceCmd = &cobra.Command{
	Use:   "evidence",
	Short: "Query evidence database",
	Long: `Query, export and prune the audit records of finished negotiations.

Subcommands:
  query   - List records matching filters
  export  - Stream matching records as JSON, JSON lines or CSV
  report  - Summarise outcomes and violated rules
  prune   - Apply the retention policy now

Examples:
  # Blocked negotiations since the start of the month
  parley evidence query --status blocked --since 2026-10-01T00:00:00Z

  # Everything that violated a rule, as CSV
  parley evidence export --rule recursive-delete --format csv -o blocked.csv`,
}

var evidenceQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query evidence records",
	Long: `Query evidence records with filters.

Times are RFC 3339. --since and --until bound the negotiation start time and
are both inclusive.

Examples:
  parley evidence query --status blocked
  parley evidence query --min-attempts 2 --sort-by attempts
  parley evidence query --request-id req-42 --format json`,
	RunE: queryEvidence,
}

var evidenceExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export evidence records",
	Long: `Stream evidence records matching the filters to stdout or a file.

Formats: json (array), jsonl (one record per line) and csv.

Examples:
  parley evidence export --format jsonl -o evidence.jsonl
  parley evidence export --status approved --format csv`,
	RunE: exportEvidence,
}

var evidenceReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate audit report",
	Long:  `Summarise negotiation outcomes and the most frequently violated rules.`,
	RunE:  generateReport,
}

var evidencePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Prune old evidence records",
	Long: `Delete records beyond the retention policy.

Flags override the configured retention days and record cap.

Examples:
  parley evidence prune
  parley evidence prune --days 30 --archive
  parley evidence prune --max-records 10000 --dry-run`,
	RunE: pruneEvidence,
}

func init() {
	rootCmd.AddCommand(evidenceCmd)
	evidenceCmd.AddCommand(evidenceQueryCmd, evidenceExportCmd, evidenceReportCmd, evidencePruneCmd)

	evidenceCmd.PersistentFlags().StringVar(&evidenceFlags.backend, "backend", "", "backend: sqlite, memory (uses config if not specified)")

	for _, c := range []*cobra.Command{evidenceQueryCmd, evidenceExportCmd, evidenceReportCmd} {
		c.Flags().StringVar(&evidenceFlags.since, "since", "", "only negotiations started at or after this time (RFC3339)")
		c.Flags().StringVar(&evidenceFlags.until, "until", "", "only negotiations started at or before this time (RFC3339)")
		c.Flags().StringVar(&evidenceFlags.status, "status", "", "filter by status (approved, blocked, failed, cancelled)")
		c.Flags().StringVar(&evidenceFlags.rule, "rule", "", "filter by violated rule ID")
		c.Flags().StringVar(&evidenceFlags.requestID, "request-id", "", "filter by request ID")
		c.Flags().StringVar(&evidenceFlags.rulesetVersion, "ruleset-version", "", "filter by rule set version")
		c.Flags().IntVar(&evidenceFlags.minAttempts, "min-attempts", 0, "minimum attempts")
		c.Flags().IntVar(&evidenceFlags.maxAttempts, "max-attempts", 0, "maximum attempts")
	}

	evidenceQueryCmd.Flags().IntVar(&evidenceFlags.limit, "limit", query.DefaultLimit, "max results")
	evidenceQueryCmd.Flags().IntVar(&evidenceFlags.offset, "offset", 0, "pagination offset")
	evidenceQueryCmd.Flags().StringVar(&evidenceFlags.sortBy, "sort-by", "started_at", "sort field (started_at, recorded_at, attempts, duration)")
	evidenceQueryCmd.Flags().StringVar(&evidenceFlags.sortOrder, "sort-order", "desc", "sort order (asc, desc)")
	evidenceQueryCmd.Flags().StringVarP(&evidenceFlags.format, "format", "f", "auto", "output format: auto, text, json")

	evidenceExportCmd.Flags().IntVar(&evidenceFlags.limit, "limit", 0, "max records (0 exports everything)")
	evidenceExportCmd.Flags().StringVarP(&evidenceFlags.exportFormat, "format", "f", "json", "export format: json, jsonl, csv")
	evidenceExportCmd.Flags().StringVarP(&evidenceFlags.output, "output", "o", "", "output file (default: stdout)")
	evidenceExportCmd.Flags().BoolVar(&evidenceFlags.pretty, "pretty", false, "indent JSON output")

	evidenceReportCmd.Flags().StringVarP(&evidenceFlags.format, "format", "f", "auto", "output format: auto, text, json")

	evidencePruneCmd.Flags().IntVar(&evidenceFlags.days, "days", 0, "retention days (uses config if not specified)")
	evidencePruneCmd.Flags().Int64Var(&evidenceFlags.maxRecords, "max-records", 0, "record cap (uses config if not specified)")
	evidencePruneCmd.Flags().BoolVar(&evidenceFlags.archive, "archive", false, "archive records before deleting them")
	evidencePruneCmd.Flags().BoolVar(&evidenceFlags.dryRun, "dry-run", false, "report what would be deleted by age without deleting")
}

// openEvidence opens the evidence store named by --backend or the config.
func openEvidence() (evidence.Storage, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	evCfg := cfg.Evidence
	if evidenceFlags.backend != "" {
		evCfg.Backend = evidenceFlags.backend
	}
	return openStorage(&evCfg)
}

// buildQuery turns the filter flags of cmd into a validated query.
func buildQuery(cmd *cobra.Command) (*evidence.Query, error) {
	v := url.Values{}
	set := func(flag, key, value string) {
		if cmd.Flags().Changed(flag) && value != "" {
			v.Set(key, value)
		}
	}
	set("since", "since", evidenceFlags.since)
	set("until", "until", evidenceFlags.until)
	set("status", "status", evidenceFlags.status)
	set("rule", "rule_id", evidenceFlags.rule)
	set("request-id", "request_id", evidenceFlags.requestID)
	set("ruleset-version", "ruleset_version", evidenceFlags.rulesetVersion)
	set("min-attempts", "min_attempts", strconv.Itoa(evidenceFlags.minAttempts))
	set("max-attempts", "max_attempts", strconv.Itoa(evidenceFlags.maxAttempts))
	set("limit", "limit", strconv.Itoa(evidenceFlags.limit))
	set("offset", "offset", strconv.Itoa(evidenceFlags.offset))
	set("sort-by", "sort_by", evidenceFlags.sortBy)
	set("sort-order", "sort_order", evidenceFlags.sortOrder)
	return query.FromValues(v)
}

// queryResult is the output of evidence query.
type queryResult struct {
	Total   int64              `json:"total"`
	Records []*evidence.Record `json:"records"`
}

// RenderText implements cli.TextRenderer.
func (r *queryResult) RenderText(w io.Writer) error {
	fmt.Fprintf(w, "Total records: %d (showing %d)\n", r.Total, len(r.Records))
	if len(r.Records) == 0 {
		_, err := fmt.Fprintln(w, "No records found.")
		return err
	}
	fmt.Fprintln(w)
	for _, rec := range r.Records {
		fmt.Fprintf(w, "%s  %-9s  %d/%d  %s  %s\n",
			rec.StartedAt.Format(time.RFC3339),
			rec.Status,
			rec.Attempts,
			rec.MaxAttempts,
			rec.ID,
			truncate(rec.Prompt, 60),
		)
		if len(rec.RuleIDs) > 0 {
			fmt.Fprintf(w, "    rules: %s\n", strings.Join(rec.RuleIDs, ", "))
		}
		if rec.Error != "" {
			fmt.Fprintf(w, "    error: %s\n", rec.Error)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func queryEvidence(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(evidenceFlags.format)
	if err != nil {
		return cli.NewConfigError("format", err.Error())
	}
	q, err := buildQuery(cmd)
	if err != nil {
		return cli.NewCommandError("evidence query", err)
	}

	store, err := openEvidence()
	if err != nil {
		return cli.NewCommandError("evidence query", err)
	}
	defer store.Close()

	ctx, stop := cli.SetupSignalHandler()
	defer stop()

	records, err := store.Query(ctx, q)
	if err != nil {
		return cli.NewCommandError("evidence query", fmt.Errorf("query failed: %w", err))
	}
	total, err := store.Count(ctx, q)
	if err != nil {
		return cli.NewCommandError("evidence query", fmt.Errorf("count failed: %w", err))
	}

	out := cmd.OutOrStdout()
	return cli.NewFormatter(cli.ResolveFormat(format, out)).FormatTo(out, &queryResult{Total: total, Records: records})
}

func exportEvidence(cmd *cobra.Command, args []string) error {
	exporter, ok := export.ForFormat(evidenceFlags.exportFormat, evidenceFlags.pretty)
	if !ok {
		return cli.NewConfigError("format", fmt.Sprintf("unsupported export format %q (want json, jsonl or csv)", evidenceFlags.exportFormat))
	}
	q, err := buildQuery(cmd)
	if err != nil {
		return cli.NewCommandError("evidence export", err)
	}
	if !cmd.Flags().Changed("limit") {
		q.Limit = 0
	}

	store, err := openEvidence()
	if err != nil {
		return cli.NewCommandError("evidence export", err)
	}
	defer store.Close()

	out := cmd.OutOrStdout()
	if evidenceFlags.output != "" {
		f, err := os.Create(evidenceFlags.output)
		if err != nil {
			return cli.NewCommandError("evidence export", fmt.Errorf("failed to create output file: %w", err))
		}
		defer f.Close()
		out = f
	}

	sigCtx, stop := cli.SetupSignalHandler()
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	var progress cli.ProgressReporter = cli.NopProgress{}
	if evidenceFlags.output != "" && cli.IsTerminal(cmd.ErrOrStderr()) {
		progress = cli.NewProgressReporter(cmd.ErrOrStderr())
		total, err := store.Count(ctx, q)
		if err != nil {
			return cli.NewCommandError("evidence export", fmt.Errorf("count failed: %w", err))
		}
		if q.Limit > 0 && int64(q.Limit) < total {
			total = int64(q.Limit)
		}
		progress.Start(total)
	}

	recordsCh, errCh, err := store.QueryStream(ctx, q)
	if err != nil {
		progress.Error(err)
		return cli.NewCommandError("evidence export", fmt.Errorf("query failed: %w", err))
	}

	if err := exporter.ExportStream(ctx, withProgress(ctx, recordsCh, progress), out); err != nil {
		progress.Error(err)
		return cli.NewCommandError("evidence export", err)
	}
	if err := <-errCh; err != nil {
		progress.Error(err)
		return cli.NewCommandError("evidence export", fmt.Errorf("query failed: %w", err))
	}
	progress.Finish()
	return nil
}

// withProgress forwards records from in, reporting the running count.
func withProgress(ctx context.Context, in <-chan *evidence.Record, progress cli.ProgressReporter) <-chan *evidence.Record {
	out := make(chan *evidence.Record)
	go func() {
		defer close(out)
		var n int64
		for rec := range in {
			select {
			case out <- rec:
			case <-ctx.Done():
				return
			}
			n++
			progress.Update(n)
		}
	}()
	return out
}

// auditReport is the output of evidence report.
type auditReport struct {
	Generated  time.Time        `json:"generated"`
	Total      int64            `json:"total"`
	ByStatus   map[string]int64 `json:"by_status"`
	TopRules   []ruleCount      `json:"top_rules,omitempty"`
	MeanTries  float64          `json:"mean_attempts"`
	Recovered  int64            `json:"recovered"`
	Considered int              `json:"considered"`
}

type ruleCount struct {
	RuleID string `json:"rule_id"`
	Count  int    `json:"count"`
}

// RenderText implements cli.TextRenderer.
func (r *auditReport) RenderText(w io.Writer) error {
	fmt.Fprintln(w, "Evidence Audit Report")
	fmt.Fprintln(w, "=====================")
	fmt.Fprintf(w, "Generated: %s\n\n", r.Generated.Format(time.RFC3339))

	fmt.Fprintf(w, "Total negotiations: %d\n", r.Total)
	for _, status := range []string{"approved", "blocked", "failed", "cancelled"} {
		count := r.ByStatus[status]
		pct := 0.0
		if r.Total > 0 {
			pct = float64(count) / float64(r.Total) * 100
		}
		fmt.Fprintf(w, "  %-10s %6d (%.0f%%)\n", status, count, pct)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Approved after corrective feedback: %d\n", r.Recovered)
	fmt.Fprintf(w, "Mean attempts: %.2f (over %d records)\n", r.MeanTries, r.Considered)

	if len(r.TopRules) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Most violated rules:")
		for _, rc := range r.TopRules {
			fmt.Fprintf(w, "  %-24s %d\n", rc.RuleID, rc.Count)
		}
	}
	return nil
}

func generateReport(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(evidenceFlags.format)
	if err != nil {
		return cli.NewConfigError("format", err.Error())
	}
	q, err := buildQuery(cmd)
	if err != nil {
		return cli.NewCommandError("evidence report", err)
	}

	store, err := openEvidence()
	if err != nil {
		return cli.NewCommandError("evidence report", err)
	}
	defer store.Close()

	ctx, stop := cli.SetupSignalHandler()
	defer stop()

	report, err := buildReport(ctx, store, q)
	if err != nil {
		return cli.NewCommandError("evidence report", err)
	}

	out := cmd.OutOrStdout()
	return cli.NewFormatter(cli.ResolveFormat(format, out)).FormatTo(out, report)
}

// buildReport counts outcomes for q and tallies rules and attempts over
// up to query.MaxLimit of the matching records.
func buildReport(ctx context.Context, store evidence.Storage, q *evidence.Query) (*auditReport, error) {
	report := &auditReport{
		Generated: time.Now().UTC(),
		ByStatus:  make(map[string]int64),
	}

	base := *q
	base.Limit, base.Offset = 0, 0
	for status := range query.ValidStatuses {
		sq := base
		if sq.Status != "" && sq.Status != status {
			continue
		}
		sq.Status = status
		count, err := store.Count(ctx, &sq)
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", status, err)
		}
		report.ByStatus[status] = count
		report.Total += count
	}

	sample := base
	sample.Limit = query.MaxLimit
	records, err := store.Query(ctx, &sample)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	rules := make(map[string]int)
	attempts := 0
	for _, rec := range records {
		attempts += rec.Attempts
		if rec.Status == "approved" && rec.Attempts > 1 {
			report.Recovered++
		}
		for _, id := range rec.RuleIDs {
			rules[id]++
		}
	}
	report.Considered = len(records)
	if len(records) > 0 {
		report.MeanTries = float64(attempts) / float64(len(records))
	}

	for id, count := range rules {
		report.TopRules = append(report.TopRules, ruleCount{RuleID: id, Count: count})
	}
	sort.Slice(report.TopRules, func(i, j int) bool {
		if report.TopRules[i].Count != report.TopRules[j].Count {
			return report.TopRules[i].Count > report.TopRules[j].Count
		}
		return report.TopRules[i].RuleID < report.TopRules[j].RuleID
	})
	if len(report.TopRules) > 10 {
		report.TopRules = report.TopRules[:10]
	}
	return report, nil
}

func pruneEvidence(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	evCfg := cfg.Evidence
	if evidenceFlags.backend != "" {
		evCfg.Backend = evidenceFlags.backend
	}
	retCfg := evCfg.Retention
	if cmd.Flags().Changed("days") {
		retCfg.Days = evidenceFlags.days
	}
	if cmd.Flags().Changed("max-records") {
		retCfg.MaxRecords = evidenceFlags.maxRecords
	}
	if cmd.Flags().Changed("archive") {
		retCfg.ArchiveBeforeDelete = evidenceFlags.archive
	}
	retCfg.Schedule = ""

	store, err := openStorage(&evCfg)
	if err != nil {
		return cli.NewCommandError("evidence prune", err)
	}
	defer store.Close()

	ctx, stop := cli.SetupSignalHandler()
	defer stop()

	out := cmd.OutOrStdout()
	if evidenceFlags.dryRun {
		if retCfg.Days <= 0 {
			fmt.Fprintln(out, "Retention by age is disabled; nothing would be deleted.")
			return nil
		}
		cutoff := time.Now().AddDate(0, 0, -retCfg.Days)
		count, err := store.Count(ctx, &evidence.Query{EndTime: &cutoff})
		if err != nil {
			return cli.NewCommandError("evidence prune", err)
		}
		fmt.Fprintf(out, "%d record(s) older than %d days would be deleted\n", count, retCfg.Days)
		return nil
	}

	deleted, err := newPruner(store, &retCfg).Prune(ctx)
	if err != nil {
		return cli.NewCommandError("evidence prune", err)
	}
	fmt.Fprintf(out, "✓ Pruned %d record(s)\n", deleted)
	return nil
}
