package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"mercator-hq/parley/pkg/cli"
	"mercator-hq/parley/pkg/config"
	"mercator-hq/parley/pkg/evidence"
	"mercator-hq/parley/pkg/evidence/recorder"
	"mercator-hq/parley/pkg/evidence/retention"
	"mercator-hq/parley/pkg/evidence/storage"
	"mercator-hq/parley/pkg/generator"
	"mercator-hq/parley/pkg/guard"
	"mercator-hq/parley/pkg/negotiation"
	"mercator-hq/parley/pkg/policy"
	rulegit "mercator-hq/parley/pkg/policy/git"
	"mercator-hq/parley/pkg/telemetry/logging"
	"mercator-hq/parley/pkg/telemetry/metrics"
	"mercator-hq/parley/pkg/telemetry/tracing"
)

// loadConfig loads cfgFile with PARLEY_* environment overrides applied.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return nil, cli.NewConfigError("config", err.Error())
	}
	return cfg, nil
}

// setupLogging installs the configured logger as the slog default.
func setupLogging(cfg *config.LoggingConfig, w io.Writer) (*slog.Logger, error) {
	level := cfg.Level
	if verbose {
		level = "debug"
	}
	logger, err := logging.New(logging.Config{
		Level:          level,
		Format:         cfg.Format,
		AddSource:      cfg.AddSource,
		Redact:         cfg.Redact,
		RedactPatterns: cfg.RedactPatterns,
		Writer:         w,
	})
	if err != nil {
		return nil, cli.NewConfigError("telemetry.logging", err.Error())
	}
	slog.SetDefault(logger)
	return logger, nil
}

// app holds the components shared by the commands that negotiate.
type app struct {
	cfg        *config.Config
	tracer     *tracing.Tracer
	metrics    *metrics.Collector
	rules      *policy.Store
	ruleSource *rulegit.Source
	storage    evidence.Storage
	recorder   *recorder.Recorder
	negotiator *negotiation.Negotiator
}

// newApp builds the negotiation pipeline described by cfg. The caller must
// Close the result.
func newApp(cfg *config.Config) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()

	tracingCfg := cfg.Telemetry.Tracing
	tracingCfg.ServiceVersion = Version
	if a.tracer, err = tracing.New(tracingCfg); err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	a.metrics = metrics.NewCollector(&metrics.Config{
		Enabled:   cfg.Telemetry.Metrics.Enabled,
		Namespace: cfg.Telemetry.Metrics.Namespace,
	}, nil)

	if a.rules, a.ruleSource, err = openRules(context.Background(), &cfg.Rules); err != nil {
		return nil, err
	}

	gen, err := buildGenerator(&cfg.Generator)
	if err != nil {
		return nil, err
	}

	sinks := negotiation.MultiSink{
		logging.NewLogSink(slog.Default()),
		a.metrics,
		tracing.NewTraceSink(a.tracer),
	}

	if cfg.Evidence.Enabled {
		if a.storage, err = openStorage(&cfg.Evidence); err != nil {
			return nil, err
		}
		recCfg := &recorder.Config{
			Enabled:        true,
			AsyncBuffer:    cfg.Evidence.Recorder.AsyncBuffer,
			WriteTimeout:   cfg.Evidence.Recorder.WriteTimeout,
			MaxFieldLength: cfg.Evidence.Recorder.MaxFieldLength,
			StoreAudit:     cfg.Evidence.Recorder.StoreAudit,
		}
		if cfg.Evidence.Recorder.Redact {
			redactor, err := logging.NewRedactor(cfg.Telemetry.Logging.RedactPatterns)
			if err != nil {
				return nil, cli.NewConfigError("telemetry.logging.redact_patterns", err.Error())
			}
			recCfg.Redact = redactor.RedactString
		}
		a.recorder = recorder.NewRecorder(a.storage, recCfg)
		sinks = append(sinks, a.recorder)
	}

	a.negotiator, err = negotiation.New(negotiation.Options{
		Generator: gen,
		Validator: policy.NewValidator(&policy.ValidatorConfig{
			RuleTimeout: cfg.Rules.RuleTimeout,
			Observer:    a.metrics,
		}),
		Rules: a.rules,
		Sink:  sinks,
		Config: &negotiation.Config{
			MaxAttempts:     cfg.Negotiation.MaxAttempts,
			GenerateTimeout: cfg.Negotiation.GenerateTimeout,
		},
	})
	if err != nil {
		return nil, cli.NewConfigError("negotiation", err.Error())
	}
	return a, nil
}

// Close drains the recorder, then releases storage and flushes spans.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.ruleSource != nil {
		a.ruleSource.Stop()
	}
	if a.recorder != nil {
		errs = append(errs, a.recorder.Close())
	}
	if a.storage != nil {
		errs = append(errs, a.storage.Close())
	}
	if a.tracer != nil {
		errs = append(errs, a.tracer.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// openRules returns a store over the configured rule repository or rule
// file, or over the built-in rules when neither is set. The Source is
// non-nil only for a repository.
func openRules(ctx context.Context, cfg *config.RulesConfig) (*policy.Store, *rulegit.Source, error) {
	if cfg.Git.Enabled() {
		src, err := rulegit.NewSource(&cfg.Git)
		if err != nil {
			return nil, nil, cli.NewConfigError("rules.git", err.Error())
		}
		store, err := src.Open(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load rules from %s: %w", cfg.Git.Repository, err)
		}
		return store, src, nil
	}
	if cfg.File == "" {
		return policy.NewStore(policy.DefaultRuleSet(), nil), nil, nil
	}
	store, err := policy.NewFileStore(cfg.File)
	if err != nil {
		return nil, nil, cli.NewConfigError("rules.file", err.Error())
	}
	return store, nil, nil
}

// buildGenerator creates the configured content generator.
func buildGenerator(cfg *config.GeneratorConfig) (negotiation.Generator, error) {
	switch cfg.Type {
	case config.GeneratorDemo:
		return generator.Demo(), nil
	case config.GeneratorReplay:
		r, err := generator.LoadReplay(cfg.ReplayFile)
		if err != nil {
			return nil, cli.NewConfigError("generator.replay_file", err.Error())
		}
		return r, nil
	case config.GeneratorProvider:
		p, err := generator.NewProvider(generator.ProviderConfig{
			Name:         cfg.Provider.Name,
			BaseURL:      cfg.Provider.BaseURL,
			APIKey:       cfg.Provider.APIKey,
			Model:        cfg.Provider.Model,
			SystemPrompt: cfg.Provider.SystemPrompt,
			Temperature:  cfg.Provider.Temperature,
			MaxTokens:    cfg.Provider.MaxTokens,
			Timeout:      cfg.Provider.Timeout,
			MaxRetries:   cfg.Provider.MaxRetries,
			RetryBackoff: cfg.Provider.RetryBackoff,
			RateLimit:    cfg.Provider.RateLimit,
			Burst:        cfg.Provider.Burst,
			Transport:    tracing.Transport(nil),
		})
		if err != nil {
			return nil, cli.NewConfigError("generator.provider", err.Error())
		}
		return p, nil
	default:
		return nil, cli.NewConfigError("generator.type", fmt.Sprintf("unsupported generator %q", cfg.Type))
	}
}

// openStorage opens the configured evidence backend.
func openStorage(cfg *config.EvidenceConfig) (evidence.Storage, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		s, err := storage.NewSQLiteStorage(&storage.SQLiteConfig{
			Path:         cfg.SQLite.Path,
			Driver:       cfg.SQLite.Driver,
			MaxOpenConns: cfg.SQLite.MaxOpenConns,
			MaxIdleConns: cfg.SQLite.MaxIdleConns,
			WALMode:      cfg.SQLite.WALMode,
			BusyTimeout:  cfg.SQLite.BusyTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite storage: %w", err)
		}
		return s, nil
	case config.BackendMemory:
		return storage.NewMemoryStorage(), nil
	default:
		return nil, cli.NewConfigError("evidence.backend", fmt.Sprintf("unsupported evidence backend %q", cfg.Backend))
	}
}

// newPruner creates a retention pruner for s.
func newPruner(s evidence.Storage, cfg *config.RetentionConfig) *retention.Pruner {
	return retention.NewPruner(s, &retention.Config{
		RetentionDays:       cfg.Days,
		MaxRecords:          cfg.MaxRecords,
		PruneSchedule:       cfg.Schedule,
		ArchiveBeforeDelete: cfg.ArchiveBeforeDelete,
		ArchivePath:         cfg.ArchivePath,
	})
}

// newProber creates the configured shell guard prober.
func newProber(cfg *config.GuardConfig) guard.Prober {
	if cfg.Probe == config.ProbeHTTP {
		return &guard.HTTPProber{
			URL:     cfg.URL,
			Marker:  cfg.Marker,
			Timeout: cfg.Timeout,
		}
	}
	return &guard.CommandProber{
		Command: cfg.Command,
		Args:    cfg.Args,
		Marker:  cfg.Marker,
		Timeout: cfg.Timeout,
	}
}
