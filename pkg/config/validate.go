package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"

	"mercator-hq/parley/pkg/telemetry/logging"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "server.listen_address").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// HasField reports whether any error refers to field.
func (e ValidationError) HasField(field string) bool {
	for _, fe := range e.Errors {
		if fe.Field == field {
			return true
		}
	}
	return false
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. All errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateNegotiation(&cfg.Negotiation)...)
	errs = append(errs, validateRules(&cfg.Rules)...)
	errs = append(errs, validateGenerator(&cfg.Generator)...)
	errs = append(errs, validateEvidence(&cfg.Evidence)...)
	errs = append(errs, validateGuard(&cfg.Guard)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{Field: "server.listen_address", Message: "listen address is required"})
	}
	if cfg.ReadTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.read_timeout", Message: "read timeout must be positive"})
	}
	if cfg.WriteTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.write_timeout", Message: "write timeout must be positive"})
	}
	if cfg.NegotiateTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.negotiate_timeout", Message: "negotiate timeout must be positive"})
	} else if cfg.NegotiateTimeout > 0 && cfg.WriteTimeout > 0 && cfg.NegotiateTimeout >= cfg.WriteTimeout {
		errs = append(errs, FieldError{Field: "server.negotiate_timeout", Message: "negotiate timeout must be below write timeout"})
	}
	if cfg.IdleTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.idle_timeout", Message: "idle timeout must be positive"})
	}
	if cfg.ShutdownTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.shutdown_timeout", Message: "shutdown timeout must be positive"})
	}
	if cfg.MaxHeaderBytes < 0 {
		errs = append(errs, FieldError{Field: "server.max_header_bytes", Message: "max header bytes must be non-negative"})
	}
	if cfg.MaxBodyBytes < 0 {
		errs = append(errs, FieldError{Field: "server.max_body_bytes", Message: "max body bytes must be non-negative"})
	}

	if cfg.TLS.Enabled {
		if cfg.TLS.CertFile == "" {
			errs = append(errs, FieldError{Field: "server.tls.cert_file", Message: "cert_file is required when TLS is enabled"})
		}
		if cfg.TLS.KeyFile == "" {
			errs = append(errs, FieldError{Field: "server.tls.key_file", Message: "key_file is required when TLS is enabled"})
		}
	}
	if v := cfg.TLS.MinVersion; v != "1.2" && v != "1.3" {
		errs = append(errs, FieldError{Field: "server.tls.min_version", Message: fmt.Sprintf("unsupported TLS version %q (must be 1.2 or 1.3)", v)})
	}
	if cfg.TLS.ReloadInterval < 0 {
		errs = append(errs, FieldError{Field: "server.tls.reload_interval", Message: "reload interval must be non-negative"})
	}

	seen := make(map[string]bool, len(cfg.Auth.Keys))
	for i, k := range cfg.Auth.Keys {
		field := fmt.Sprintf("server.auth.keys[%d]", i)
		if k.Name == "" {
			errs = append(errs, FieldError{Field: field + ".name", Message: "name is required"})
		}
		if k.Key == "" {
			errs = append(errs, FieldError{Field: field + ".key", Message: "key is required"})
		} else if seen[k.Key] {
			errs = append(errs, FieldError{Field: field + ".key", Message: "duplicate key"})
		}
		seen[k.Key] = true
	}
	return errs
}

func validateNegotiation(cfg *NegotiationConfig) []FieldError {
	var errs []FieldError

	if cfg.MaxAttempts < 1 {
		errs = append(errs, FieldError{
			Field:   "negotiation.max_attempts",
			Message: fmt.Sprintf("must be at least 1, got %d", cfg.MaxAttempts),
		})
	}
	if cfg.GenerateTimeout <= 0 {
		errs = append(errs, FieldError{Field: "negotiation.generate_timeout", Message: "generate timeout must be positive"})
	}
	return errs
}

func validateRules(cfg *RulesConfig) []FieldError {
	var errs []FieldError

	if cfg.Watch && cfg.File == "" {
		errs = append(errs, FieldError{Field: "rules.watch", Message: "watch requires rules.file"})
	}
	if cfg.WatchDebounce < 0 {
		errs = append(errs, FieldError{Field: "rules.watch_debounce", Message: "debounce must be non-negative"})
	}
	if cfg.RuleTimeout <= 0 {
		errs = append(errs, FieldError{Field: "rules.rule_timeout", Message: "rule timeout must be positive"})
	}
	if cfg.Git.Enabled() {
		errs = append(errs, validateGitRules(cfg)...)
	}
	return errs
}

func validateGitRules(cfg *RulesConfig) []FieldError {
	var errs []FieldError
	g := &cfg.Git

	if cfg.File != "" {
		errs = append(errs, FieldError{Field: "rules.git.repository", Message: "rules.git and rules.file are mutually exclusive"})
	}
	if g.Branch == "" {
		errs = append(errs, FieldError{Field: "rules.git.branch", Message: "branch cannot be empty"})
	}
	if g.Path == "" {
		errs = append(errs, FieldError{Field: "rules.git.path", Message: "path cannot be empty"})
	}
	if g.Depth < 0 {
		errs = append(errs, FieldError{Field: "rules.git.depth", Message: "depth must be non-negative"})
	}
	if g.PollInterval < 0 {
		errs = append(errs, FieldError{Field: "rules.git.poll_interval", Message: "poll interval must be non-negative"})
	}
	if g.PollTimeout <= 0 {
		errs = append(errs, FieldError{Field: "rules.git.poll_timeout", Message: "poll timeout must be positive"})
	}

	switch g.Auth.Type {
	case GitAuthNone:
	case GitAuthToken:
		if g.Auth.Token == "" {
			errs = append(errs, FieldError{Field: "rules.git.auth.token", Message: "token auth requires a token"})
		}
	case GitAuthSSH:
		if g.Auth.SSHKeyPath == "" {
			errs = append(errs, FieldError{Field: "rules.git.auth.ssh_key_path", Message: "ssh auth requires ssh_key_path"})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "rules.git.auth.type",
			Message: fmt.Sprintf("invalid auth type %q (must be none, token or ssh)", g.Auth.Type),
		})
	}
	return errs
}

func validateGenerator(cfg *GeneratorConfig) []FieldError {
	var errs []FieldError

	switch cfg.Type {
	case GeneratorDemo:
	case GeneratorReplay:
		if cfg.ReplayFile == "" {
			errs = append(errs, FieldError{Field: "generator.replay_file", Message: "replay file is required for the replay generator"})
		}
	case GeneratorProvider:
		errs = append(errs, validateProvider(&cfg.Provider)...)
	default:
		errs = append(errs, FieldError{
			Field:   "generator.type",
			Message: fmt.Sprintf("invalid generator type %q (must be demo, replay or provider)", cfg.Type),
		})
	}
	return errs
}

func validateProvider(p *ProviderConfig) []FieldError {
	var errs []FieldError
	const prefix = "generator.provider"

	if p.Model == "" {
		errs = append(errs, FieldError{Field: prefix + ".model", Message: "model is required"})
	}
	if p.BaseURL == "" {
		errs = append(errs, FieldError{Field: prefix + ".base_url", Message: "base URL is required"})
	} else if u, err := url.Parse(p.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, FieldError{Field: prefix + ".base_url", Message: fmt.Sprintf("invalid URL %q", p.BaseURL)})
	}
	if p.Timeout < 0 {
		errs = append(errs, FieldError{Field: prefix + ".timeout", Message: "timeout must be positive"})
	}
	if p.MaxRetries < 0 {
		errs = append(errs, FieldError{Field: prefix + ".max_retries", Message: "max retries must be non-negative"})
	}
	if p.MaxRetries > 10 {
		errs = append(errs, FieldError{Field: prefix + ".max_retries", Message: "max retries exceeds reasonable limit (10)"})
	}
	if p.Temperature < 0 || p.Temperature > 2 {
		errs = append(errs, FieldError{Field: prefix + ".temperature", Message: "temperature must be between 0 and 2"})
	}
	if p.RateLimit < 0 {
		errs = append(errs, FieldError{Field: prefix + ".rate_limit", Message: "rate limit must be non-negative"})
	}
	return errs
}

func validateEvidence(cfg *EvidenceConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case BackendMemory:
	case BackendSQLite:
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{Field: "evidence.sqlite.path", Message: "path is required"})
		}
		if cfg.SQLite.Driver != "sqlite3" && cfg.SQLite.Driver != "sqlite" {
			errs = append(errs, FieldError{
				Field:   "evidence.sqlite.driver",
				Message: fmt.Sprintf("invalid driver %q (must be sqlite3 or sqlite)", cfg.SQLite.Driver),
			})
		}
		if cfg.SQLite.MaxOpenConns < 0 {
			errs = append(errs, FieldError{Field: "evidence.sqlite.max_open_conns", Message: "must be non-negative"})
		}
		if cfg.SQLite.MaxIdleConns > cfg.SQLite.MaxOpenConns && cfg.SQLite.MaxOpenConns > 0 {
			errs = append(errs, FieldError{Field: "evidence.sqlite.max_idle_conns", Message: "cannot exceed max_open_conns"})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "evidence.backend",
			Message: fmt.Sprintf("invalid backend %q (must be sqlite or memory)", cfg.Backend),
		})
	}

	if cfg.Recorder.AsyncBuffer < 0 {
		errs = append(errs, FieldError{Field: "evidence.recorder.async_buffer", Message: "must be non-negative"})
	}
	if cfg.Recorder.WriteTimeout <= 0 {
		errs = append(errs, FieldError{Field: "evidence.recorder.write_timeout", Message: "must be positive"})
	}
	if cfg.Recorder.MaxFieldLength < 0 {
		errs = append(errs, FieldError{Field: "evidence.recorder.max_field_length", Message: "must be non-negative"})
	}

	if cfg.Retention.Days < 0 {
		errs = append(errs, FieldError{Field: "evidence.retention.days", Message: "must be non-negative"})
	}
	if cfg.Retention.MaxRecords < 0 {
		errs = append(errs, FieldError{Field: "evidence.retention.max_records", Message: "must be non-negative"})
	}
	if cfg.Retention.Schedule != "" {
		if _, err := cron.ParseStandard(cfg.Retention.Schedule); err != nil {
			errs = append(errs, FieldError{
				Field:   "evidence.retention.schedule",
				Message: fmt.Sprintf("invalid cron expression: %v", err),
			})
		}
	}
	if cfg.Retention.ArchiveBeforeDelete && cfg.Retention.ArchivePath == "" {
		errs = append(errs, FieldError{Field: "evidence.retention.archive_path", Message: "archive path is required when archiving"})
	}
	return errs
}

func validateGuard(cfg *GuardConfig) []FieldError {
	var errs []FieldError

	switch cfg.Probe {
	case ProbeCommand:
		if cfg.Command == "" {
			errs = append(errs, FieldError{Field: "guard.command", Message: "command is required for the command probe"})
		}
	case ProbeHTTP:
		if u, err := url.Parse(cfg.URL); cfg.URL == "" || err != nil || u.Scheme == "" {
			errs = append(errs, FieldError{Field: "guard.url", Message: "a valid URL is required for the http probe"})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "guard.probe",
			Message: fmt.Sprintf("invalid probe %q (must be command or http)", cfg.Probe),
		})
	}
	if cfg.Timeout <= 0 {
		errs = append(errs, FieldError{Field: "guard.timeout", Message: "timeout must be positive"})
	}
	if cfg.Interval <= 0 {
		errs = append(errs, FieldError{Field: "guard.interval", Message: "interval must be positive"})
	}
	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, FieldError{Field: "telemetry.logging.level", Message: err.Error()})
	}
	if _, err := logging.ParseFormat(cfg.Logging.Format); err != nil {
		errs = append(errs, FieldError{Field: "telemetry.logging.format", Message: err.Error()})
	}
	if _, err := logging.NewRedactor(cfg.Logging.RedactPatterns); err != nil {
		errs = append(errs, FieldError{Field: "telemetry.logging.redact_patterns", Message: err.Error()})
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{Field: "telemetry.metrics.path", Message: "path must start with /"})
	}

	if err := cfg.Tracing.Validate(); err != nil {
		errs = append(errs, FieldError{Field: "telemetry.tracing", Message: err.Error()})
	}
	return errs
}
