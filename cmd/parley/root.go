package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/parley/pkg/cli"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Parley - output negotiation proxy for code generation",
	Long: `Parley sits between a caller and a content generator. Each generated
artifact is checked against a rule set; unsafe artifacts are sent back with
the violations as corrective feedback until one passes or the attempt budget
is exhausted.

Every negotiation ends as approved, blocked, failed or cancelled and leaves a
complete audit record.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits with the code matching the error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (defaults apply when empty)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
