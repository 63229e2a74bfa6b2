package policy

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// ruleInfo carries the identity shared by all built-in rules.
type ruleInfo struct {
	id          string
	description string
}

func (r ruleInfo) ID() string          { return r.id }
func (r ruleInfo) Description() string { return r.description }

// ContainsRule rejects artifacts containing any of its tokens.
type ContainsRule struct {
	ruleInfo
	tokens     []string
	ignoreCase bool
}

// NewContainsRule creates a rule that is violated when the artifact contains
// any of the given tokens (exact, case-sensitive).
func NewContainsRule(id, description string, tokens ...string) *ContainsRule {
	return &ContainsRule{
		ruleInfo: ruleInfo{id: id, description: description},
		tokens:   append([]string(nil), tokens...),
	}
}

// IgnoreCase returns a copy of the rule that matches tokens case-insensitively.
func (r *ContainsRule) IgnoreCase() *ContainsRule {
	lowered := make([]string, len(r.tokens))
	for i, token := range r.tokens {
		lowered[i] = strings.ToLower(token)
	}
	return &ContainsRule{ruleInfo: r.ruleInfo, tokens: lowered, ignoreCase: true}
}

// Deterministic implements Rule.
func (r *ContainsRule) Deterministic() bool { return true }

// Evaluate implements Rule.
func (r *ContainsRule) Evaluate(_ context.Context, artifact string) (bool, error) {
	if r.ignoreCase {
		artifact = strings.ToLower(artifact)
	}
	for _, token := range r.tokens {
		if token != "" && strings.Contains(artifact, token) {
			return true, nil
		}
	}
	return false, nil
}

// RegexRule rejects artifacts matching a regular expression.
type RegexRule struct {
	ruleInfo
	pattern *regexp.Regexp
}

// NewRegexRule compiles pattern and returns a rule violated on any match.
func NewRegexRule(id, description, pattern string) (*RegexRule, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern for rule %q: %w", id, err)
	}
	return &RegexRule{
		ruleInfo: ruleInfo{id: id, description: description},
		pattern:  re,
	}, nil
}

// Deterministic implements Rule.
func (r *RegexRule) Deterministic() bool { return true }

// Evaluate implements Rule.
func (r *RegexRule) Evaluate(_ context.Context, artifact string) (bool, error) {
	return r.pattern.MatchString(artifact), nil
}

// LengthRule rejects artifacts exceeding a size limit.
// A zero limit disables that check.
type LengthRule struct {
	ruleInfo
	maxBytes int
	maxLines int
}

// NewLengthRule creates a rule violated when the artifact is longer than
// maxBytes bytes or has more than maxLines lines.
func NewLengthRule(id, description string, maxBytes, maxLines int) *LengthRule {
	return &LengthRule{
		ruleInfo: ruleInfo{id: id, description: description},
		maxBytes: maxBytes,
		maxLines: maxLines,
	}
}

// Deterministic implements Rule.
func (r *LengthRule) Deterministic() bool { return true }

// Evaluate implements Rule.
func (r *LengthRule) Evaluate(_ context.Context, artifact string) (bool, error) {
	if r.maxBytes > 0 && len(artifact) > r.maxBytes {
		return true, nil
	}
	if r.maxLines > 0 && countLines(artifact) > r.maxLines {
		return true, nil
	}
	return false, nil
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}

// FuncRule adapts a Go function to the Rule interface.
type FuncRule struct {
	ruleInfo
	fn            func(ctx context.Context, artifact string) (bool, error)
	deterministic bool
}

// NewFuncRule creates a rule from fn. deterministic declares whether fn
// always returns the same result for the same artifact.
func NewFuncRule(id, description string, deterministic bool, fn func(ctx context.Context, artifact string) (bool, error)) *FuncRule {
	return &FuncRule{
		ruleInfo:      ruleInfo{id: id, description: description},
		fn:            fn,
		deterministic: deterministic,
	}
}

// Deterministic implements Rule.
func (r *FuncRule) Deterministic() bool { return r.deterministic }

// Evaluate implements Rule.
func (r *FuncRule) Evaluate(ctx context.Context, artifact string) (bool, error) {
	return r.fn(ctx, artifact)
}
