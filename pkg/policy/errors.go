package policy

import (
	"errors"
	"fmt"
	"time"
)

// ErrRuleTimeout is returned when a rule does not finish within the
// validator's per-rule timeout.
var ErrRuleTimeout = errors.New("rule evaluation timed out")

// RuleEvaluationError represents a rule that could not be evaluated.
// The validator never skips such a rule; it is reported as a violation.
type RuleEvaluationError struct {
	RuleID string
	Cause  error
}

// Error implements the error interface.
func (e *RuleEvaluationError) Error() string {
	return fmt.Sprintf("rule %q evaluation failed: %v", e.RuleID, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *RuleEvaluationError) Unwrap() error {
	return e.Cause
}

// NewRuleEvaluationError creates a new RuleEvaluationError.
func NewRuleEvaluationError(ruleID string, cause error) *RuleEvaluationError {
	return &RuleEvaluationError{
		RuleID: ruleID,
		Cause:  cause,
	}
}

// LoadError represents a failure to load a rule file.
type LoadError struct {
	Path   string
	RuleID string
	Cause  error
}

// Error implements the error interface.
func (e *LoadError) Error() string {
	if e.RuleID != "" {
		return fmt.Sprintf("load rules %q [rule=%s]: %v", e.Path, e.RuleID, e.Cause)
	}
	return fmt.Sprintf("load rules %q: %v", e.Path, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *LoadError) Unwrap() error {
	return e.Cause
}

func timeoutError(timeout time.Duration) error {
	return fmt.Errorf("%w after %s", ErrRuleTimeout, timeout)
}
