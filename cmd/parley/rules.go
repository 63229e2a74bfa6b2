package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/parley/pkg/cli"
	"mercator-hq/parley/pkg/policy"
)

var rulesFlags struct {
	file   string
	format string
}

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Validate rule files and check artifacts",
	Long: `Work with rule sets offline.

Without --rules the rule file from the configuration is used, and without
one there the built-in rules.`,
}

var rulesLintCmd = &cobra.Command{
	Use:   "lint [file]",
	Short: "Validate a rule file",
	Long: `Parse a rule file and report every rule it defines.

Examples:
  parley rules lint rules.yaml
  parley rules lint --rules rules.yaml --format json`,
	Args: cobra.MaximumNArgs(1),
	RunE: lintRules,
}

var rulesCheckCmd = &cobra.Command{
	Use:   "check [artifact-file]",
	Short: "Check an artifact against the rules",
	Long: `Validate an artifact against the rule set and print the verdict.

The artifact is read from the given file, or from stdin when the file is
omitted or "-". Exits with code 2 when any rule is violated.

Examples:
  parley rules check cleanup.sh
  echo "sudo rm -rf /tmp" | parley rules check`,
	Args: cobra.MaximumNArgs(1),
	RunE: checkRules,
}

func init() {
	rootCmd.AddCommand(rulesCmd)
	rulesCmd.AddCommand(rulesLintCmd)
	rulesCmd.AddCommand(rulesCheckCmd)

	rulesCmd.PersistentFlags().StringVarP(&rulesFlags.file, "rules", "r", "", "rule file")
	rulesCmd.PersistentFlags().StringVarP(&rulesFlags.format, "format", "f", "auto", "output format (auto, text, json)")
}

// ruleInfo describes one rule in lint output.
type ruleInfo struct {
	ID            string `json:"id"`
	Description   string `json:"description"`
	Deterministic bool   `json:"deterministic"`
}

// lintReport is the output of rules lint.
type lintReport struct {
	Source  string     `json:"source"`
	Version string     `json:"version"`
	Rules   []ruleInfo `json:"rules"`
}

// RenderText implements cli.TextRenderer.
func (r *lintReport) RenderText(w io.Writer) error {
	fmt.Fprintf(w, "✓ %s is valid (%d rules, version %s)\n", r.Source, len(r.Rules), r.Version)
	for _, rule := range r.Rules {
		suffix := ""
		if !rule.Deterministic {
			suffix = " [external]"
		}
		fmt.Fprintf(w, "  %-24s %s%s\n", rule.ID, rule.Description, suffix)
	}
	return nil
}

// checkReport is the output of rules check.
type checkReport struct {
	Version string         `json:"version"`
	Verdict policy.Verdict `json:"verdict"`
}

// RenderText implements cli.TextRenderer.
func (r *checkReport) RenderText(w io.Writer) error {
	if r.Verdict.Pass {
		_, err := fmt.Fprintf(w, "✓ Artifact passes all rules (version %s)\n", r.Version)
		return err
	}
	fmt.Fprintf(w, "✗ Artifact violates %d rule(s) (version %s)\n", len(r.Verdict.Violations), r.Version)
	for _, v := range r.Verdict.Violations {
		fmt.Fprintf(w, "  - %s\n", v)
		if v.Error != "" {
			fmt.Fprintf(w, "    evaluation error: %s\n", v.Error)
		}
	}
	return nil
}

// resolveRuleSet loads the rule set named by --rules, then the configured
// rule repository or file, then the built-in rules. It returns the set and
// its source.
func resolveRuleSet(ctx context.Context, path string) (*policy.RuleSet, string, error) {
	if path == "" {
		cfg, err := loadConfig()
		if err != nil {
			return nil, "", err
		}
		if g := &cfg.Rules.Git; g.Enabled() {
			store, _, err := openRules(ctx, &cfg.Rules)
			if err != nil {
				return nil, g.Repository, err
			}
			return store.Snapshot(), g.Repository + ":" + g.Path, nil
		}
		path = cfg.Rules.File
	}
	if path == "" {
		return policy.DefaultRuleSet(), "built-in rules", nil
	}
	rs, err := policy.LoadFile(path)
	if err != nil {
		return nil, path, err
	}
	return rs, path, nil
}

func lintRules(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(rulesFlags.format)
	if err != nil {
		return cli.NewConfigError("format", err.Error())
	}
	path := rulesFlags.file
	if len(args) > 0 {
		path = args[0]
	}

	ctx, stop := cli.SetupSignalHandler()
	defer stop()

	rs, source, err := resolveRuleSet(ctx, path)
	if err != nil {
		return cli.NewCommandError("rules lint", err)
	}

	report := &lintReport{Source: source, Version: rs.Version()}
	for _, rule := range rs.Rules() {
		report.Rules = append(report.Rules, ruleInfo{
			ID:            rule.ID(),
			Description:   rule.Description(),
			Deterministic: rule.Deterministic(),
		})
	}

	out := cmd.OutOrStdout()
	return cli.NewFormatter(cli.ResolveFormat(format, out)).FormatTo(out, report)
}

func checkRules(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(rulesFlags.format)
	if err != nil {
		return cli.NewConfigError("format", err.Error())
	}

	ctx, stop := cli.SetupSignalHandler()
	defer stop()

	rs, _, err := resolveRuleSet(ctx, rulesFlags.file)
	if err != nil {
		return cli.NewCommandError("rules check", err)
	}

	var artifact []byte
	if len(args) == 0 || args[0] == "-" {
		artifact, err = io.ReadAll(cmd.InOrStdin())
	} else {
		artifact, err = os.ReadFile(args[0])
	}
	if err != nil {
		return cli.NewCommandError("rules check", fmt.Errorf("failed to read artifact: %w", err))
	}

	report := &checkReport{
		Version: rs.Version(),
		Verdict: policy.NewValidator(nil).Validate(ctx, string(artifact), rs),
	}

	out := cmd.OutOrStdout()
	if err := cli.NewFormatter(cli.ResolveFormat(format, out)).FormatTo(out, report); err != nil {
		return cli.NewCommandError("rules check", err)
	}
	if !report.Verdict.Pass {
		return cli.NewCommandError("rules check", errors.New("artifact violates rules")).WithCode(cli.ExitBlocked)
	}
	return nil
}
