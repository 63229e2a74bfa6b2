package policy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultRuleTimeout bounds a single rule evaluation when no timeout is configured.
const DefaultRuleTimeout = 2 * time.Second

// RuleObserver receives per-rule evaluation results, e.g. for metrics.
type RuleObserver interface {
	ObserveRule(ruleID string, violated bool, duration time.Duration, err error)
}

// ValidatorConfig contains configuration for the Validator.
type ValidatorConfig struct {
	// RuleTimeout bounds each rule evaluation. A rule that exceeds it is
	// reported as a violation.
	// Default: 2s
	RuleTimeout time.Duration

	// Observer is notified after each rule evaluation. Optional.
	Observer RuleObserver
}

// DefaultValidatorConfig returns the default validator configuration.
func DefaultValidatorConfig() *ValidatorConfig {
	return &ValidatorConfig{
		RuleTimeout: DefaultRuleTimeout,
	}
}

// Validator evaluates artifacts against rule sets. It holds no per-call
// state and is safe for concurrent use.
type Validator struct {
	config ValidatorConfig
	logger *slog.Logger
}

// NewValidator creates a new Validator. A nil config uses defaults. The
// config is copied; later changes to it have no effect.
func NewValidator(config *ValidatorConfig) *Validator {
	if config == nil {
		config = DefaultValidatorConfig()
	}
	cfg := *config
	if cfg.RuleTimeout <= 0 {
		cfg.RuleTimeout = DefaultRuleTimeout
	}

	return &Validator{
		config: cfg,
		logger: slog.Default().With("component", "policy.validator"),
	}
}

// ruleResult is the outcome of evaluating a single rule.
type ruleResult struct {
	violated bool
	err      error
}

// Validate evaluates every rule in rules against the artifact.
//
// Rules run concurrently and independently; violations are reported in
// RuleSet order. A rule that errors, panics or times out is reported as a
// violation (fail-closed). If ctx is cancelled, unfinished rules fail closed.
func (v *Validator) Validate(ctx context.Context, artifact string, rules *RuleSet) Verdict {
	if rules == nil || rules.Len() == 0 {
		return Verdict{Pass: true}
	}

	results := make([]ruleResult, len(rules.rules))
	var wg sync.WaitGroup

	for i, rule := range rules.rules {
		wg.Add(1)
		go func(i int, rule Rule) {
			defer wg.Done()
			results[i] = v.evaluate(ctx, rule, artifact)
		}(i, rule)
	}

	wg.Wait()

	verdict := Verdict{Pass: true}
	for i, rule := range rules.rules {
		result := results[i]
		if !result.violated && result.err == nil {
			continue
		}

		violation := Violation{
			RuleID:      rule.ID(),
			Description: rule.Description(),
		}
		if result.err != nil {
			violation.Error = result.err.Error()
			v.logger.Warn("rule evaluation failed, treating as violation",
				"rule_id", rule.ID(),
				"error", result.err,
			)
		}

		verdict.Pass = false
		verdict.Violations = append(verdict.Violations, violation)
	}

	return verdict
}

// evaluate runs a single rule with the configured timeout.
func (v *Validator) evaluate(ctx context.Context, rule Rule, artifact string) ruleResult {
	ruleCtx, cancel := context.WithTimeout(ctx, v.config.RuleTimeout)
	defer cancel()

	start := time.Now()

	resultChan := make(chan ruleResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultChan <- ruleResult{err: NewRuleEvaluationError(rule.ID(), fmt.Errorf("panic: %v", r))}
			}
		}()

		violated, err := rule.Evaluate(ruleCtx, artifact)
		if err != nil {
			err = NewRuleEvaluationError(rule.ID(), err)
		}
		resultChan <- ruleResult{violated: violated, err: err}
	}()

	var result ruleResult
	select {
	case result = <-resultChan:
	case <-ruleCtx.Done():
		cause := ruleCtx.Err()
		if ctx.Err() == nil {
			cause = timeoutError(v.config.RuleTimeout)
		}
		result = ruleResult{err: NewRuleEvaluationError(rule.ID(), cause)}
	}

	if v.config.Observer != nil {
		v.config.Observer.ObserveRule(rule.ID(), result.violated || result.err != nil, time.Since(start), result.err)
	}

	return result
}
