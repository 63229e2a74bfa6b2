package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/parley/pkg/cli"
	"mercator-hq/parley/pkg/guard"
)

var guardFlags struct {
	format string
}

var guardCmd = &cobra.Command{
	Use:   "guard",
	Short: "Inspect the shell guard",
	Long: `Inspect the shell guard that runs alongside Parley.

The guard is probed with its status command (or an HTTP endpoint) and is
active when the output carries the configured health marker.`,
}

var guardStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Probe the shell guard once",
	Long: `Probe the shell guard once and print the result.

Exits with a non-zero code when the guard is inactive.

Examples:
  parley guard status
  parley guard status --format json`,
	RunE: guardStatus,
}

func init() {
	rootCmd.AddCommand(guardCmd)
	guardCmd.AddCommand(guardStatusCmd)

	guardStatusCmd.Flags().StringVarP(&guardFlags.format, "format", "f", "auto", "output format (auto, text, json)")
}

// guardReport is the printed result of a probe.
type guardReport struct {
	Status    guard.Status `json:"status"`
	CheckedAt time.Time    `json:"checked_at"`
	Error     string       `json:"error,omitempty"`
}

// RenderText implements cli.TextRenderer.
func (r *guardReport) RenderText(w io.Writer) error {
	mark := "✓"
	if r.Status != guard.StatusActive {
		mark = "✗"
	}
	fmt.Fprintf(w, "%s ShellGuard %s\n", mark, r.Status)
	if r.Error != "" {
		fmt.Fprintf(w, "  %s\n", r.Error)
	}
	return nil
}

func guardStatus(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(guardFlags.format)
	if err != nil {
		return cli.NewConfigError("format", err.Error())
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := cli.SetupSignalHandler()
	defer stop()

	snap := guard.NewMonitor(newProber(&cfg.Guard), cfg.Guard.Interval).Check(ctx)
	report := &guardReport{
		Status:    snap.Status,
		CheckedAt: snap.CheckedAt,
		Error:     snap.Error,
	}

	out := cmd.OutOrStdout()
	if err := cli.NewFormatter(cli.ResolveFormat(format, out)).FormatTo(out, report); err != nil {
		return cli.NewCommandError("guard status", err)
	}
	if snap.Status != guard.StatusActive {
		return cli.NewCommandError("guard status", errors.New("shell guard is inactive"))
	}
	return nil
}
