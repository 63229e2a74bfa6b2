package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PARLEY_"

// LoadConfig loads configuration from a YAML file at the specified path,
// applies defaults and validates it. An empty path yields the defaults.
// Environment variables are not consulted; use LoadConfigWithEnvOverrides
// for that.
func LoadConfig(path string) (*Config, error) {
	cfg, err := load(path)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// PARLEY_SECTION_FIELD environment overrides, which take precedence over
// the file. Validation runs once, after the overrides.
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := load(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg, os.LookupEnv)
	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Parse decodes YAML configuration on top of the defaults without
// validating it.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	ApplyDefaults(cfg)
	return cfg, nil
}

func load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}
	return cfg, nil
}

type lookupFunc func(key string) (string, bool)

type envReader struct {
	lookup lookupFunc
}

func (e envReader) get(key string) (string, bool) {
	val, ok := e.lookup(EnvPrefix + key)
	if !ok || val == "" {
		return "", false
	}
	return val, true
}

func (e envReader) str(key string, dst *string) {
	if val, ok := e.get(key); ok {
		*dst = val
	}
}

func (e envReader) duration(key string, dst *time.Duration) {
	if val, ok := e.get(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}

func (e envReader) integer(key string, dst *int) {
	if val, ok := e.get(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func (e envReader) int64(key string, dst *int64) {
	if val, ok := e.get(key); ok {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			*dst = i
		}
	}
}

func (e envReader) boolean(key string, dst *bool) {
	if val, ok := e.get(key); ok {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func (e envReader) float(key string, dst *float64) {
	if val, ok := e.get(key); ok {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			*dst = f
		}
	}
}

// applyEnvOverrides applies PARLEY_SECTION_FIELD overrides to cfg.
func applyEnvOverrides(cfg *Config, lookup lookupFunc) {
	env := envReader{lookup: lookup}

	// Server overrides
	env.str("SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	env.duration("SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	env.duration("SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	env.duration("SERVER_NEGOTIATE_TIMEOUT", &cfg.Server.NegotiateTimeout)
	env.duration("SERVER_IDLE_TIMEOUT", &cfg.Server.IdleTimeout)
	env.duration("SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	env.integer("SERVER_MAX_HEADER_BYTES", &cfg.Server.MaxHeaderBytes)
	env.int64("SERVER_MAX_BODY_BYTES", &cfg.Server.MaxBodyBytes)
	env.boolean("SERVER_TLS_ENABLED", &cfg.Server.TLS.Enabled)
	env.str("SERVER_TLS_CERT_FILE", &cfg.Server.TLS.CertFile)
	env.str("SERVER_TLS_KEY_FILE", &cfg.Server.TLS.KeyFile)

	// Negotiation overrides
	env.integer("NEGOTIATION_MAX_ATTEMPTS", &cfg.Negotiation.MaxAttempts)
	env.duration("NEGOTIATION_GENERATE_TIMEOUT", &cfg.Negotiation.GenerateTimeout)

	// Rules overrides
	env.str("RULES_FILE", &cfg.Rules.File)
	env.boolean("RULES_WATCH", &cfg.Rules.Watch)
	env.duration("RULES_RULE_TIMEOUT", &cfg.Rules.RuleTimeout)
	env.str("RULES_GIT_REPOSITORY", &cfg.Rules.Git.Repository)
	env.str("RULES_GIT_BRANCH", &cfg.Rules.Git.Branch)
	env.str("RULES_GIT_PATH", &cfg.Rules.Git.Path)
	env.str("RULES_GIT_AUTH_TOKEN", &cfg.Rules.Git.Auth.Token)
	env.duration("RULES_GIT_POLL_INTERVAL", &cfg.Rules.Git.PollInterval)

	// Generator overrides
	env.str("GENERATOR_TYPE", &cfg.Generator.Type)
	env.str("GENERATOR_REPLAY_FILE", &cfg.Generator.ReplayFile)
	p := &cfg.Generator.Provider
	env.str("GENERATOR_PROVIDER_NAME", &p.Name)
	env.str("GENERATOR_PROVIDER_BASE_URL", &p.BaseURL)
	env.str("GENERATOR_PROVIDER_API_KEY", &p.APIKey)
	env.str("GENERATOR_PROVIDER_MODEL", &p.Model)
	env.duration("GENERATOR_PROVIDER_TIMEOUT", &p.Timeout)
	env.integer("GENERATOR_PROVIDER_MAX_RETRIES", &p.MaxRetries)
	env.float("GENERATOR_PROVIDER_RATE_LIMIT", &p.RateLimit)

	// Evidence overrides
	env.boolean("EVIDENCE_ENABLED", &cfg.Evidence.Enabled)
	env.str("EVIDENCE_BACKEND", &cfg.Evidence.Backend)
	env.str("EVIDENCE_SQLITE_PATH", &cfg.Evidence.SQLite.Path)
	env.str("EVIDENCE_SQLITE_DRIVER", &cfg.Evidence.SQLite.Driver)
	env.integer("EVIDENCE_RETENTION_DAYS", &cfg.Evidence.Retention.Days)
	env.int64("EVIDENCE_RETENTION_MAX_RECORDS", &cfg.Evidence.Retention.MaxRecords)
	env.str("EVIDENCE_RETENTION_SCHEDULE", &cfg.Evidence.Retention.Schedule)

	// Guard overrides
	env.boolean("GUARD_ENABLED", &cfg.Guard.Enabled)
	env.str("GUARD_PROBE", &cfg.Guard.Probe)
	env.str("GUARD_COMMAND", &cfg.Guard.Command)
	env.str("GUARD_URL", &cfg.Guard.URL)
	env.duration("GUARD_INTERVAL", &cfg.Guard.Interval)

	// Telemetry overrides
	env.str("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	env.str("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	env.boolean("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	env.str("TELEMETRY_METRICS_PATH", &cfg.Telemetry.Metrics.Path)
	env.boolean("TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	env.str("TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
	env.boolean("TELEMETRY_TRACING_INSECURE", &cfg.Telemetry.Tracing.Insecure)
	env.str("TELEMETRY_TRACING_SAMPLER", &cfg.Telemetry.Tracing.Sampler)
	env.float("TELEMETRY_TRACING_SAMPLE_RATIO", &cfg.Telemetry.Tracing.SampleRatio)
}
