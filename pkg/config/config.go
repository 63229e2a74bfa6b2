package config

import (
	"time"

	"mercator-hq/parley/pkg/telemetry/logging"
	"mercator-hq/parley/pkg/telemetry/tracing"
)

// Config is the root configuration structure for Parley.
type Config struct {
	// Server contains the HTTP API listener configuration.
	Server ServerConfig `yaml:"server"`

	// Negotiation contains the attempt budget and generator timeout.
	Negotiation NegotiationConfig `yaml:"negotiation"`

	// Rules selects the rule set and its reload behaviour.
	Rules RulesConfig `yaml:"rules"`

	// Generator selects the content generator.
	Generator GeneratorConfig `yaml:"generator"`

	// Evidence contains persistence, recording and retention of audit records.
	Evidence EvidenceConfig `yaml:"evidence"`

	// Guard configures the shell guard liveness probe.
	Guard GuardConfig `yaml:"guard"`

	// Telemetry contains logging, metrics and tracing configuration.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains configuration for the HTTP API server.
type ServerConfig struct {
	// ListenAddress is the address and port to listen on.
	// Default: "127.0.0.1:8080"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request.
	// Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the
	// response. It must cover a full negotiation.
	// Default: 5m
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// NegotiateTimeout bounds each API request's context. It must be below
	// WriteTimeout so a deadline-cancelled negotiation can still be written.
	// Zero derives it from WriteTimeout (see RequestTimeout).
	NegotiateTimeout time.Duration `yaml:"negotiate_timeout"`

	// IdleTimeout is the keep-alive idle timeout.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxHeaderBytes limits request header size.
	// Default: 1048576 (1MB)
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// MaxBodyBytes limits request body size.
	// Default: 1048576 (1MB)
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// TLS serves HTTPS when enabled.
	TLS TLSConfig `yaml:"tls"`

	// Auth requires an API key on the /v1 endpoints once keys are configured.
	Auth AuthConfig `yaml:"auth"`
}

// RequestTimeout returns the context budget for an API request. An explicit
// NegotiateTimeout wins. Otherwise the budget is WriteTimeout less
// DefaultWriteMargin, or less a tenth of it for short write timeouts. Zero
// means no deadline.
func (c *ServerConfig) RequestTimeout() time.Duration {
	if c.NegotiateTimeout > 0 {
		return c.NegotiateTimeout
	}
	if c.WriteTimeout <= 0 {
		return 0
	}
	margin := DefaultWriteMargin
	if tenth := c.WriteTimeout / 10; tenth < margin {
		margin = tenth
	}
	return c.WriteTimeout - margin
}

// TLSConfig configures HTTPS serving.
type TLSConfig struct {
	// Enabled switches the listener to TLS.
	Enabled bool `yaml:"enabled"`

	// CertFile and KeyFile are PEM-encoded.
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`

	// MinVersion is "1.2" or "1.3".
	// Default: "1.3"
	MinVersion string `yaml:"min_version"`

	// ClientCAFile enables mutual TLS: clients must present a certificate
	// signed by this CA.
	ClientCAFile string `yaml:"client_ca_file"`

	// ReloadInterval is how often the certificate files are checked for
	// changes. 0 disables reloading.
	// Default: 5m
	ReloadInterval time.Duration `yaml:"reload_interval"`
}

// AuthConfig lists the API keys accepted by the server.
type AuthConfig struct {
	Keys []APIKeyConfig `yaml:"keys"`
}

// APIKeyConfig is one accepted API key.
type APIKeyConfig struct {
	// Name identifies the caller in logs and evidence.
	Name string `yaml:"name"`

	// Key is the secret presented as a bearer token or X-API-Key header.
	Key string `yaml:"key"`

	// Disabled rejects the key without removing it.
	Disabled bool `yaml:"disabled"`
}

// NegotiationConfig contains negotiation limits.
type NegotiationConfig struct {
	// MaxAttempts is the number of generate and validate cycles allowed.
	// Default: 3
	MaxAttempts int `yaml:"max_attempts"`

	// GenerateTimeout bounds each generator call.
	// Default: 30s
	GenerateTimeout time.Duration `yaml:"generate_timeout"`
}

// RulesConfig selects the rule set.
type RulesConfig struct {
	// File is a YAML rule file. Empty uses the built-in rules.
	File string `yaml:"file"`

	// Watch reloads File when it changes.
	// Default: false
	Watch bool `yaml:"watch"`

	// WatchDebounce coalesces bursts of file events.
	// Default: 500ms
	WatchDebounce time.Duration `yaml:"watch_debounce"`

	// RuleTimeout bounds a single rule evaluation.
	// Default: 2s
	RuleTimeout time.Duration `yaml:"rule_timeout"`

	// Git loads the rule file from a Git repository instead of File.
	Git GitRulesConfig `yaml:"git"`
}

// GitRulesConfig points at a rule file kept in a Git repository.
// The source is disabled while Repository is empty.
type GitRulesConfig struct {
	// Repository is the clone URL or a local path.
	Repository string `yaml:"repository"`

	// Branch to track.
	// Default: "main"
	Branch string `yaml:"branch"`

	// Path is the rule file relative to the repository root.
	// Default: "rules.yaml"
	Path string `yaml:"path"`

	// LocalPath is where the repository is cloned.
	// Default: "data/rules-repo"
	LocalPath string `yaml:"local_path"`

	// Depth limits clone history. 0 clones everything.
	Depth int `yaml:"depth"`

	// CleanOnStart removes LocalPath before cloning.
	CleanOnStart bool `yaml:"clean_on_start"`

	// Auth configures repository credentials.
	Auth GitAuthConfig `yaml:"auth"`

	// PollInterval is how often the branch is pulled. 0 disables polling.
	// Default: 30s
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollTimeout bounds each clone or pull.
	// Default: 30s
	PollTimeout time.Duration `yaml:"poll_timeout"`
}

// Enabled reports whether a repository is configured.
func (c *GitRulesConfig) Enabled() bool {
	return c.Repository != ""
}

// Git auth types.
const (
	GitAuthNone  = "none"
	GitAuthToken = "token"
	GitAuthSSH   = "ssh"
)

// GitAuthConfig holds repository credentials.
type GitAuthConfig struct {
	// Type is "none", "token" or "ssh".
	// Default: "none"
	Type string `yaml:"type"`

	// Token is an HTTPS access token.
	Token string `yaml:"token"`

	// SSHKeyPath is a private key file. It must not be group or world readable.
	SSHKeyPath string `yaml:"ssh_key_path"`

	// SSHKeyPassphrase unlocks SSHKeyPath.
	SSHKeyPassphrase string `yaml:"ssh_key_passphrase"`
}

// Generator types.
const (
	GeneratorDemo     = "demo"
	GeneratorReplay   = "replay"
	GeneratorProvider = "provider"
)

// GeneratorConfig selects the content generator.
type GeneratorConfig struct {
	// Type is one of "demo", "replay" or "provider".
	// Default: "demo"
	Type string `yaml:"type"`

	// ReplayFile is the fixture file used by the replay generator.
	ReplayFile string `yaml:"replay_file"`

	// Provider configures the OpenAI-compatible provider generator.
	Provider ProviderConfig `yaml:"provider"`
}

// ProviderConfig contains configuration for an OpenAI-compatible chat
// completions endpoint.
type ProviderConfig struct {
	// Name labels the provider in logs and errors.
	// Default: "openai"
	Name string `yaml:"name"`

	// BaseURL is the API base URL.
	// Default: "https://api.openai.com/v1"
	BaseURL string `yaml:"base_url"`

	// APIKey authenticates requests. Usually set via
	// PARLEY_GENERATOR_PROVIDER_API_KEY.
	APIKey string `yaml:"api_key"`

	// Model is required for the provider generator.
	Model string `yaml:"model"`

	// SystemPrompt replaces the built-in system prompt when set.
	SystemPrompt string `yaml:"system_prompt"`

	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`

	// Timeout bounds one HTTP request.
	// Default: 60s
	Timeout time.Duration `yaml:"timeout"`

	// MaxRetries is the number of retries on transient errors.
	// Default: 2
	MaxRetries int `yaml:"max_retries"`

	// RetryBackoff is the base backoff between retries.
	// Default: 1s
	RetryBackoff time.Duration `yaml:"retry_backoff"`

	// RateLimit is requests per second; 0 disables limiting.
	RateLimit float64 `yaml:"rate_limit"`

	// Burst is the rate limiter burst.
	// Default: 1
	Burst int `yaml:"burst"`
}

// Evidence storage backends.
const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// EvidenceConfig contains configuration for audit record persistence.
type EvidenceConfig struct {
	// Enabled controls whether finished negotiations are persisted.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Backend is "sqlite" or "memory".
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	SQLite    SQLiteConfig    `yaml:"sqlite"`
	Recorder  RecorderConfig  `yaml:"recorder"`
	Retention RetentionConfig `yaml:"retention"`
}

// SQLiteConfig contains SQLite storage configuration.
type SQLiteConfig struct {
	// Path is the database file.
	// Default: "data/evidence.db"
	Path string `yaml:"path"`

	// Driver is "sqlite3" (cgo) or "sqlite" (pure Go).
	// Default: "sqlite3"
	Driver string `yaml:"driver"`

	// Default: 10
	MaxOpenConns int `yaml:"max_open_conns"`

	// Default: 5
	MaxIdleConns int `yaml:"max_idle_conns"`

	// WALMode enables write-ahead logging.
	// Default: true
	WALMode bool `yaml:"wal_mode"`

	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// RecorderConfig contains asynchronous recorder configuration.
type RecorderConfig struct {
	// AsyncBuffer is the write queue size.
	// Default: 1000
	AsyncBuffer int `yaml:"async_buffer"`

	// WriteTimeout bounds enqueueing and each write.
	// Default: 5s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// MaxFieldLength truncates prompt and artifact text; 0 disables.
	// Default: 2000
	MaxFieldLength int `yaml:"max_field_length"`

	// StoreAudit stores the full audit record JSON alongside the summary.
	// Default: true
	StoreAudit bool `yaml:"store_audit"`

	// Redact masks secrets in stored text using the logging redactor.
	// Default: true
	Redact bool `yaml:"redact"`
}

// RetentionConfig contains evidence retention configuration.
type RetentionConfig struct {
	// Days is the retention period; 0 keeps records forever.
	// Default: 90
	Days int `yaml:"days"`

	// MaxRecords caps stored records; 0 disables the cap.
	MaxRecords int64 `yaml:"max_records"`

	// Schedule is a cron expression; empty disables scheduled pruning.
	// Default: "0 3 * * *"
	Schedule string `yaml:"schedule"`

	// ArchiveBeforeDelete writes pruned records to ArchivePath first.
	ArchiveBeforeDelete bool `yaml:"archive_before_delete"`

	// Default: "data/archives/"
	ArchivePath string `yaml:"archive_path"`
}

// Guard probe kinds.
const (
	ProbeCommand = "command"
	ProbeHTTP    = "http"
)

// GuardConfig configures the shell guard liveness probe.
type GuardConfig struct {
	// Enabled starts the background monitor.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Probe is "command" or "http".
	// Default: "command"
	Probe string `yaml:"probe"`

	// Command and Args run the guard's status command.
	// Default: "status"
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`

	// URL is queried by the http probe.
	URL string `yaml:"url"`

	// Marker must appear in the status output.
	// Default: "Health Score"
	Marker string `yaml:"marker"`

	// Timeout bounds one probe.
	// Default: 3s
	Timeout time.Duration `yaml:"timeout"`

	// Interval is the polling interval.
	// Default: 30s
	Interval time.Duration `yaml:"interval"`
}

// TelemetryConfig contains observability configuration.
type TelemetryConfig struct {
	Logging LoggingConfig  `yaml:"logging"`
	Metrics MetricsConfig  `yaml:"metrics"`
	Tracing tracing.Config `yaml:"tracing"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	// Default: "info"
	Level string `yaml:"level"`

	// Format is json, text or console.
	// Default: "json"
	Format string `yaml:"format"`

	AddSource bool `yaml:"add_source"`

	// Redact masks secrets in log output.
	// Default: true
	Redact bool `yaml:"redact"`

	// RedactPatterns are added to the built-in patterns.
	RedactPatterns []logging.RedactPattern `yaml:"redact_patterns"`
}

// MetricsConfig contains Prometheus configuration.
type MetricsConfig struct {
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace prefixes metric names.
	// Default: "parley"
	Namespace string `yaml:"namespace"`
}
