package config

import "time"

// Default values for configuration fields.
const (
	// Server defaults
	DefaultListenAddress   = "127.0.0.1:8080"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 5 * time.Minute
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultWriteMargin     = 5 * time.Second
	DefaultMaxHeaderBytes  = 1048576 // 1MB
	DefaultMaxBodyBytes    = int64(1048576)
	DefaultTLSMinVersion   = "1.3"
	DefaultTLSReload       = 5 * time.Minute

	// Negotiation defaults
	DefaultMaxAttempts     = 3
	DefaultGenerateTimeout = 30 * time.Second

	// Rules defaults
	DefaultWatchDebounce   = 500 * time.Millisecond
	DefaultRuleTimeout     = 2 * time.Second
	DefaultGitBranch       = "main"
	DefaultGitPath         = "rules.yaml"
	DefaultGitLocalPath    = "data/rules-repo"
	DefaultGitAuthType     = GitAuthNone
	DefaultGitPollInterval = 30 * time.Second
	DefaultGitPollTimeout  = 30 * time.Second

	// Generator defaults
	DefaultGeneratorType        = GeneratorDemo
	DefaultProviderName         = "openai"
	DefaultProviderBaseURL      = "https://api.openai.com/v1"
	DefaultProviderTimeout      = 60 * time.Second
	DefaultProviderMaxRetries   = 2
	DefaultProviderRetryBackoff = time.Second
	DefaultProviderBurst        = 1

	// Evidence defaults
	DefaultEvidenceEnabled              = true
	DefaultEvidenceBackend              = BackendSQLite
	DefaultEvidenceSQLitePath           = "data/evidence.db"
	DefaultEvidenceSQLiteDriver         = "sqlite3"
	DefaultEvidenceSQLiteMaxOpenConns   = 10
	DefaultEvidenceSQLiteMaxIdleConns   = 5
	DefaultEvidenceSQLiteWALMode        = true
	DefaultEvidenceSQLiteBusyTimeout    = 5 * time.Second
	DefaultEvidenceRecorderAsyncBuffer  = 1000
	DefaultEvidenceRecorderWriteTimeout = 5 * time.Second
	DefaultEvidenceRecorderMaxFieldLen  = 2000
	DefaultEvidenceRecorderStoreAudit   = true
	DefaultEvidenceRecorderRedact       = true
	DefaultEvidenceRetentionDays        = 90
	DefaultEvidenceRetentionSchedule    = "0 3 * * *"
	DefaultEvidenceRetentionArchivePath = "data/archives/"

	// Guard defaults
	DefaultGuardEnabled  = true
	DefaultGuardProbe    = ProbeCommand
	DefaultGuardCommand  = "status"
	DefaultGuardMarker   = "Health Score"
	DefaultGuardTimeout  = 3 * time.Second
	DefaultGuardInterval = 30 * time.Second

	// Telemetry defaults
	DefaultLoggingLevel     = "info"
	DefaultLoggingFormat    = "json"
	DefaultLoggingRedact    = true
	DefaultMetricsEnabled   = true
	DefaultMetricsPath      = "/metrics"
	DefaultMetricsNamespace = "parley"
)

// Default returns a configuration with every default applied, including
// the fields whose zero value is meaningful (booleans that default to true,
// retention and retry counts). LoadConfig decodes YAML on top of it, so
// keys absent from the file keep these values.
func Default() *Config {
	cfg := &Config{}
	cfg.Evidence.Enabled = DefaultEvidenceEnabled
	cfg.Evidence.SQLite.WALMode = DefaultEvidenceSQLiteWALMode
	cfg.Evidence.Recorder.MaxFieldLength = DefaultEvidenceRecorderMaxFieldLen
	cfg.Evidence.Recorder.StoreAudit = DefaultEvidenceRecorderStoreAudit
	cfg.Evidence.Recorder.Redact = DefaultEvidenceRecorderRedact
	cfg.Evidence.Retention.Days = DefaultEvidenceRetentionDays
	cfg.Evidence.Retention.Schedule = DefaultEvidenceRetentionSchedule
	cfg.Generator.Provider.MaxRetries = DefaultProviderMaxRetries
	cfg.Rules.Git.PollInterval = DefaultGitPollInterval
	cfg.Server.TLS.ReloadInterval = DefaultTLSReload
	cfg.Guard.Enabled = DefaultGuardEnabled
	cfg.Telemetry.Logging.Redact = DefaultLoggingRedact
	cfg.Telemetry.Metrics.Enabled = DefaultMetricsEnabled
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults sets defaults for fields that have zero values.
// It is idempotent. Fields whose zero value is meaningful are left alone;
// see Default.
func ApplyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.MaxHeaderBytes == 0 {
		cfg.Server.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.Server.TLS.MinVersion == "" {
		cfg.Server.TLS.MinVersion = DefaultTLSMinVersion
	}

	// Negotiation defaults
	if cfg.Negotiation.MaxAttempts == 0 {
		cfg.Negotiation.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Negotiation.GenerateTimeout == 0 {
		cfg.Negotiation.GenerateTimeout = DefaultGenerateTimeout
	}

	// Rules defaults
	if cfg.Rules.WatchDebounce == 0 {
		cfg.Rules.WatchDebounce = DefaultWatchDebounce
	}
	if cfg.Rules.RuleTimeout == 0 {
		cfg.Rules.RuleTimeout = DefaultRuleTimeout
	}
	if g := &cfg.Rules.Git; g.Enabled() {
		if g.Branch == "" {
			g.Branch = DefaultGitBranch
		}
		if g.Path == "" {
			g.Path = DefaultGitPath
		}
		if g.LocalPath == "" {
			g.LocalPath = DefaultGitLocalPath
		}
		if g.Auth.Type == "" {
			g.Auth.Type = DefaultGitAuthType
		}
		if g.PollTimeout == 0 {
			g.PollTimeout = DefaultGitPollTimeout
		}
	}

	applyGeneratorDefaults(&cfg.Generator)
	applyEvidenceDefaults(&cfg.Evidence)

	// Guard defaults
	if cfg.Guard.Probe == "" {
		cfg.Guard.Probe = DefaultGuardProbe
	}
	if cfg.Guard.Command == "" {
		cfg.Guard.Command = DefaultGuardCommand
	}
	if cfg.Guard.Marker == "" {
		cfg.Guard.Marker = DefaultGuardMarker
	}
	if cfg.Guard.Timeout == 0 {
		cfg.Guard.Timeout = DefaultGuardTimeout
	}
	if cfg.Guard.Interval == 0 {
		cfg.Guard.Interval = DefaultGuardInterval
	}

	// Telemetry defaults
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Telemetry.Metrics.Namespace == "" {
		cfg.Telemetry.Metrics.Namespace = DefaultMetricsNamespace
	}
	cfg.Telemetry.Tracing.ApplyDefaults()
}

func applyGeneratorDefaults(cfg *GeneratorConfig) {
	if cfg.Type == "" {
		cfg.Type = DefaultGeneratorType
	}
	p := &cfg.Provider
	if p.Name == "" {
		p.Name = DefaultProviderName
	}
	if p.BaseURL == "" {
		p.BaseURL = DefaultProviderBaseURL
	}
	if p.Timeout == 0 {
		p.Timeout = DefaultProviderTimeout
	}
	if p.RetryBackoff == 0 {
		p.RetryBackoff = DefaultProviderRetryBackoff
	}
	if p.Burst == 0 {
		p.Burst = DefaultProviderBurst
	}
}

func applyEvidenceDefaults(cfg *EvidenceConfig) {
	if cfg.Backend == "" {
		cfg.Backend = DefaultEvidenceBackend
	}

	sqlite := &cfg.SQLite
	if sqlite.Path == "" {
		sqlite.Path = DefaultEvidenceSQLitePath
	}
	if sqlite.Driver == "" {
		sqlite.Driver = DefaultEvidenceSQLiteDriver
	}
	if sqlite.MaxOpenConns == 0 {
		sqlite.MaxOpenConns = DefaultEvidenceSQLiteMaxOpenConns
	}
	if sqlite.MaxIdleConns == 0 {
		sqlite.MaxIdleConns = DefaultEvidenceSQLiteMaxIdleConns
	}
	if sqlite.BusyTimeout == 0 {
		sqlite.BusyTimeout = DefaultEvidenceSQLiteBusyTimeout
	}

	rec := &cfg.Recorder
	if rec.AsyncBuffer == 0 {
		rec.AsyncBuffer = DefaultEvidenceRecorderAsyncBuffer
	}
	if rec.WriteTimeout == 0 {
		rec.WriteTimeout = DefaultEvidenceRecorderWriteTimeout
	}

	if cfg.Retention.ArchivePath == "" {
		cfg.Retention.ArchivePath = DefaultEvidenceRetentionArchivePath
	}
}
