package negotiation

import (
	"errors"
	"fmt"
	"strings"

	"mercator-hq/parley/pkg/policy"
)

// ErrGenerateTimeout is the cause of a GenerationError when the generator
// exceeded the per-call timeout.
var ErrGenerateTimeout = errors.New("generation timed out")

// GenerationError reports a generator failure. Negotiations are not retried
// after a generation error.
type GenerationError struct {
	Attempt int
	Cause   error
}

// Error implements the error interface.
func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed on attempt %d: %v", e.Attempt, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *GenerationError) Unwrap() error {
	return e.Cause
}

// NewGenerationError creates a new GenerationError.
func NewGenerationError(attempt int, cause error) *GenerationError {
	return &GenerationError{Attempt: attempt, Cause: cause}
}

// MaxAttemptsExceededError reports that every attempt failed validation.
type MaxAttemptsExceededError struct {
	Attempts   int
	Violations []policy.Violation
}

// Error implements the error interface.
func (e *MaxAttemptsExceededError) Error() string {
	return fmt.Sprintf("blocked after %d attempts: %s", e.Attempts, strings.Join(ruleIDs(e.Violations), ", "))
}

// NewMaxAttemptsExceededError creates a new MaxAttemptsExceededError.
func NewMaxAttemptsExceededError(attempts int, violations []policy.Violation) *MaxAttemptsExceededError {
	return &MaxAttemptsExceededError{Attempts: attempts, Violations: violations}
}

// CancelledError reports that the caller's context ended the negotiation.
// It unwraps to context.Canceled or context.DeadlineExceeded.
type CancelledError struct {
	// Attempt is the attempt in progress when cancellation was observed.
	Attempt int
	Cause   error
}

// Error implements the error interface.
func (e *CancelledError) Error() string {
	return fmt.Sprintf("negotiation cancelled during attempt %d: %v", e.Attempt, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *CancelledError) Unwrap() error {
	return e.Cause
}

// ConfigError represents an invalid negotiator configuration.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid negotiator config: %s: %s", e.Field, e.Message)
}
