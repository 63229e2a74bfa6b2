package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/parley/pkg/adapter"
	"mercator-hq/parley/pkg/cli"
	"mercator-hq/parley/pkg/config"
	"mercator-hq/parley/pkg/generator"
	"mercator-hq/parley/pkg/guard"
	"mercator-hq/parley/pkg/negotiation"
	"mercator-hq/parley/pkg/policy"
)

var negotiateFlags struct {
	demo        bool
	format      string
	audit       bool
	requestID   string
	maxAttempts int
	timeout     time.Duration
}

var negotiateCmd = &cobra.Command{
	Use:   "negotiate [prompt]",
	Short: "Negotiate a single prompt",
	Long: `Run one negotiation and print its outcome.

The prompt is taken from the arguments, or from stdin when none are given.
The exit code reflects the outcome: 0 approved, 2 blocked, 3 failed and
130 cancelled.

Examples:
  # Negotiate a prompt with the configured generator
  parley negotiate "Create a cleanup script for old files"

  # Read the prompt from stdin and print the full audit record
  echo "Write a backup script" | parley negotiate --audit --format json

  # Run the demonstration requests against the built-in generator
  parley negotiate --demo`,
	RunE: runNegotiate,
}

func init() {
	rootCmd.AddCommand(negotiateCmd)

	negotiateCmd.Flags().BoolVar(&negotiateFlags.demo, "demo", false, "run the demonstration requests with the demo generator")
	negotiateCmd.Flags().StringVarP(&negotiateFlags.format, "format", "f", "auto", "output format (auto, text, json)")
	negotiateCmd.Flags().BoolVar(&negotiateFlags.audit, "audit", false, "include the full audit record")
	negotiateCmd.Flags().StringVar(&negotiateFlags.requestID, "request-id", "", "request identifier (generated when empty)")
	negotiateCmd.Flags().IntVar(&negotiateFlags.maxAttempts, "max-attempts", 0, "override the attempt budget")
	negotiateCmd.Flags().DurationVar(&negotiateFlags.timeout, "timeout", 0, "cancel the negotiation after this long (0 disables)")
}

// negotiateResult is the printed outcome of one negotiation.
type negotiateResult struct {
	NegotiationID  string                   `json:"negotiation_id"`
	RequestID      string                   `json:"request_id"`
	Prompt         string                   `json:"prompt"`
	Status         negotiation.Status       `json:"status"`
	Response       string                   `json:"response"`
	Attempts       int                      `json:"attempts"`
	Violations     []policy.Violation       `json:"violations,omitempty"`
	Error          string                   `json:"error,omitempty"`
	RuleSetVersion string                   `json:"ruleset_version"`
	DurationMS     int64                    `json:"duration_ms"`
	Audit          *negotiation.AuditRecord `json:"audit,omitempty"`
}

func newNegotiateResult(record *negotiation.AuditRecord, withAudit bool) *negotiateResult {
	summary := adapter.Summarize(record)
	res := &negotiateResult{
		NegotiationID:  record.NegotiationID,
		RequestID:      record.Request.ID,
		Prompt:         record.Request.Text,
		Status:         record.Outcome.Status,
		Response:       summary.Response,
		Attempts:       record.Outcome.Attempts,
		Violations:     record.Outcome.Violations,
		Error:          record.Outcome.Error,
		RuleSetVersion: record.RuleSetVersion,
		DurationMS:     record.Duration().Milliseconds(),
	}
	if withAudit {
		res.Audit = record
	}
	return res
}

// RenderText implements cli.TextRenderer.
func (r *negotiateResult) RenderText(w io.Writer) error {
	fmt.Fprintf(w, "Request:  %s\n", r.Prompt)
	fmt.Fprintf(w, "Status:   %s after %d attempt(s) (rules %s)\n", r.Status, r.Attempts, r.RuleSetVersion)
	for _, v := range r.Violations {
		fmt.Fprintf(w, "  ✗ %s\n", v)
	}
	if r.Error != "" {
		fmt.Fprintf(w, "Error:    %s\n", r.Error)
	}
	if r.Audit != nil {
		for _, a := range r.Audit.Attempts {
			verdict := "pass"
			if !a.Verdict.Pass {
				verdict = "violates " + strings.Join(a.Verdict.RuleIDs(), ", ")
			}
			fmt.Fprintf(w, "  attempt %d: %s\n", a.Sequence, verdict)
		}
	}
	_, err := fmt.Fprintf(w, "\n%s\n", r.Response)
	return err
}

// demoReport is the output of --demo.
type demoReport struct {
	Guard   string             `json:"guard,omitempty"`
	Results []*negotiateResult `json:"results"`
}

// RenderText implements cli.TextRenderer.
func (d *demoReport) RenderText(w io.Writer) error {
	if d.Guard != "" {
		fmt.Fprintf(w, "ShellGuard %s\n\n", strings.ToUpper(d.Guard))
	}
	for i, r := range d.Results {
		fmt.Fprintf(w, "=== Request %d ===\n", i+1)
		if err := r.RenderText(w); err != nil {
			return err
		}
		fmt.Fprintln(w)
	}
	return nil
}

func runNegotiate(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(negotiateFlags.format)
	if err != nil {
		return cli.NewConfigError("format", err.Error())
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if negotiateFlags.demo {
		cfg.Generator.Type = config.GeneratorDemo
	}
	if negotiateFlags.maxAttempts > 0 {
		cfg.Negotiation.MaxAttempts = negotiateFlags.maxAttempts
	}
	if _, err := setupLogging(&cfg.Telemetry.Logging, cmd.ErrOrStderr()); err != nil {
		return err
	}

	ctx, stop := cli.SetupSignalHandler()
	defer stop()
	if negotiateFlags.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, negotiateFlags.timeout)
		defer cancel()
	}

	a, err := newApp(cfg)
	if err != nil {
		return cli.NewCommandError("negotiate", err)
	}
	defer a.Close(context.Background())

	out := cmd.OutOrStdout()
	formatter := cli.NewFormatter(cli.ResolveFormat(format, out))

	if negotiateFlags.demo {
		report := &demoReport{}
		if cfg.Guard.Enabled {
			snap := guard.NewMonitor(newProber(&cfg.Guard), cfg.Guard.Interval).Check(ctx)
			report.Guard = snap.Status.String()
		}
		for _, prompt := range generator.DemoRequests {
			record := a.negotiator.Negotiate(ctx, negotiation.NewRequest("", prompt, map[string]string{"client": "cli"}))
			report.Results = append(report.Results, newNegotiateResult(record, negotiateFlags.audit))
		}
		return formatter.FormatTo(out, report)
	}

	prompt, err := readPrompt(cmd, args)
	if err != nil {
		return cli.NewCommandError("negotiate", err)
	}

	record := a.negotiator.Negotiate(ctx, negotiation.NewRequest(negotiateFlags.requestID, prompt, map[string]string{"client": "cli"}))
	if err := formatter.FormatTo(out, newNegotiateResult(record, negotiateFlags.audit)); err != nil {
		return cli.NewCommandError("negotiate", err)
	}

	if code := outcomeExitCode(record.Outcome.Status); code != cli.ExitOK {
		return cli.NewCommandError("negotiate", record.Outcome.Err()).WithCode(code)
	}
	return nil
}

// readPrompt joins args, or reads stdin when there are none.
func readPrompt(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && cli.IsTerminal(f) {
		return "", fmt.Errorf("no prompt given")
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("failed to read prompt: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", fmt.Errorf("no prompt given")
	}
	return prompt, nil
}

// outcomeExitCode maps a negotiation status to a process exit code.
func outcomeExitCode(status negotiation.Status) int {
	switch status {
	case negotiation.StatusApproved:
		return cli.ExitOK
	case negotiation.StatusBlocked:
		return cli.ExitBlocked
	case negotiation.StatusCancelled:
		return cli.ExitCancelled
	default:
		return cli.ExitFailed
	}
}
