// Package config provides configuration management for Parley.
//
// Configuration is loaded from a YAML file, completed with defaults and
// validated. Environment variables can override individual fields.
//
// # Configuration Loading
//
//	cfg, err := config.LoadConfig("parley.yaml")
//	cfg, err := config.LoadConfigWithEnvOverrides("parley.yaml")
//
// An empty path loads the defaults only.
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention PARLEY_SECTION_FIELD:
//
//   - PARLEY_SERVER_LISTEN_ADDRESS overrides server.listen_address
//   - PARLEY_NEGOTIATION_MAX_ATTEMPTS overrides negotiation.max_attempts
//   - PARLEY_GENERATOR_PROVIDER_API_KEY overrides generator.provider.api_key
//   - PARLEY_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// Values that fail to parse are ignored and the file value is kept.
//
// # Configuration Precedence
//
//  1. Default values (defined in defaults.go)
//  2. Values from the YAML file
//  3. Environment variable overrides
//  4. Validation (fails fast if invalid)
//
// Validation collects every problem before returning, as a ValidationError
// holding one FieldError per field.
package config
