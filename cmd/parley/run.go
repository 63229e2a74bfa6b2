package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/parley/pkg/cli"
	"mercator-hq/parley/pkg/config"
	"mercator-hq/parley/pkg/guard"
	"mercator-hq/parley/pkg/policy"
	"mercator-hq/parley/pkg/security/auth"
	sectls "mercator-hq/parley/pkg/security/tls"
	"mercator-hq/parley/pkg/server"
	"mercator-hq/parley/pkg/telemetry/health"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the Parley API server",
	Long: `Start the Parley API server with the specified configuration.

The server accepts negotiation requests over HTTP, records every finished
negotiation as evidence and exposes health, readiness and metrics endpoints.

Examples:
  # Start with defaults
  parley run

  # Start with a config file
  parley run --config /etc/parley/config.yaml

  # Override listen address
  parley run --listen 0.0.0.0:8080

  # Validate config without starting the server
  parley run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting server")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}

	logger, err := setupLogging(&cfg.Telemetry.Logging, os.Stderr)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if runFlags.dryRun {
		fmt.Fprintln(out, "✓ Configuration valid")
		return nil
	}

	printBanner(out, cfg)

	ctx, stop := cli.SetupSignalHandler()
	defer stop()

	a, err := newApp(cfg)
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}()
	fmt.Fprintf(out, "✓ Rules loaded (%d rules, version %s)\n", a.rules.Snapshot().Len(), a.rules.Snapshot().Version())
	fmt.Fprintf(out, "✓ Generator ready (%s)\n", cfg.Generator.Type)

	if cfg.Rules.File != "" && cfg.Rules.Watch {
		watcher, err := policy.NewFileWatcher(cfg.Rules.File, a.rules, cfg.Rules.WatchDebounce)
		if err != nil {
			return cli.NewCommandError("run", fmt.Errorf("failed to watch rules: %w", err))
		}
		go func() {
			if err := watcher.Watch(ctx); err != nil {
				logger.Error("rule watcher stopped", "error", err)
			}
		}()
		defer watcher.Stop()
		fmt.Fprintf(out, "✓ Watching %s for changes\n", cfg.Rules.File)
	}
	if a.ruleSource != nil && cfg.Rules.Git.PollInterval > 0 {
		go func() {
			if err := a.ruleSource.Watch(ctx); err != nil {
				logger.Error("rule repository watcher stopped", "error", err)
			}
		}()
		fmt.Fprintf(out, "✓ Polling %s (%s) every %s\n", cfg.Rules.Git.Repository, cfg.Rules.Git.Branch, cfg.Rules.Git.PollInterval)
	}

	checker := health.New(0)

	if a.storage != nil {
		if pinger, ok := a.storage.(interface{ Ping(context.Context) error }); ok {
			checker.Register("evidence", pinger.Ping)
		}
		fmt.Fprintf(out, "✓ Evidence recording enabled (%s)\n", cfg.Evidence.Backend)

		if cfg.Evidence.Retention.Schedule != "" {
			pruner := newPruner(a.storage, &cfg.Evidence.Retention)
			if err := pruner.Start(ctx); err != nil {
				return cli.NewCommandError("run", fmt.Errorf("failed to start retention pruner: %w", err))
			}
			defer pruner.Stop()
			if next := pruner.NextPruning(); next != nil {
				fmt.Fprintf(out, "✓ Retention pruning scheduled (next: %s)\n", next.Format(time.RFC3339))
			}
		}
	}

	if cfg.Guard.Enabled {
		monitor := guard.NewMonitor(newProber(&cfg.Guard), cfg.Guard.Interval)
		monitor.OnChange = func(old, next guard.Status) {
			a.metrics.SetGuardActive(next == guard.StatusActive)
			logger.Info("shell guard status changed", "from", old.String(), "to", next.String())
		}
		checker.RegisterInformational("shell_guard", monitor.HealthCheck)
		monitor.Start(ctx)
		defer func() {
			monitor.Stop()
			monitor.Wait()
		}()
		fmt.Fprintf(out, "✓ Shell guard monitor started (every %s)\n", cfg.Guard.Interval)
	}

	opts := server.Options{
		Negotiator: a.negotiator,
		Evidence:   a.storage,
		Health:     checker,
		Version:    Version,
		Commit:     GitCommit,
		BuildTime:  BuildDate,
	}
	if cfg.Telemetry.Metrics.Enabled {
		opts.Metrics = a.metrics.Handler()
		opts.MetricsPath = cfg.Telemetry.Metrics.Path
	}
	if n := len(cfg.Server.Auth.Keys); n > 0 {
		opts.Keys = auth.FromConfig(&cfg.Server.Auth)
		fmt.Fprintf(out, "✓ API key authentication enabled (%d key(s))\n", n)
	}

	tlsConfig, reloader, err := sectls.ServerConfig(&cfg.Server.TLS)
	if err != nil {
		return cli.NewCommandError("run", fmt.Errorf("failed to configure TLS: %w", err))
	}
	scheme := "http"
	if tlsConfig != nil {
		opts.TLS = tlsConfig
		scheme = "https"
		go reloader.Watch(ctx, cfg.Server.TLS.ReloadInterval)
		fmt.Fprintf(out, "✓ TLS enabled (min version %s)\n", cfg.Server.TLS.MinVersion)
	}

	srv, err := server.New(&cfg.Server, opts)
	if err != nil {
		return cli.NewCommandError("run", err)
	}

	fmt.Fprintf(out, "✓ Listening on %s://%s\n", scheme, cfg.Server.ListenAddress)
	if err := srv.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}

	slog.Info("server stopped")
	return nil
}

func printBanner(w io.Writer, cfg *config.Config) {
	fmt.Fprintf(w, "Parley %s\n", Version)
	fmt.Fprintf(w, "  max attempts: %d\n", cfg.Negotiation.MaxAttempts)
	switch {
	case cfg.Rules.Git.Enabled():
		fmt.Fprintf(w, "  rules:        %s@%s:%s\n", cfg.Rules.Git.Repository, cfg.Rules.Git.Branch, cfg.Rules.Git.Path)
	case cfg.Rules.File != "":
		fmt.Fprintf(w, "  rules:        %s\n", cfg.Rules.File)
	default:
		fmt.Fprintf(w, "  rules:        built-in\n")
	}
	fmt.Fprintln(w)
}
