package policy

import (
	"context"
	"fmt"
)

// Rule is a named, independently evaluable safety predicate.
//
// Implementations must be safe for concurrent use: a single Rule is shared by
// every negotiation using its RuleSet.
type Rule interface {
	// ID returns the stable rule identifier (e.g. "no-sudo").
	ID() string

	// Description returns a human-readable explanation of what the rule rejects.
	Description() string

	// Deterministic reports whether the same artifact always yields the same
	// result. Rules backed by external services return false.
	Deterministic() bool

	// Evaluate reports whether the artifact violates the rule.
	// A non-nil error means the rule could not be evaluated.
	Evaluate(ctx context.Context, artifact string) (bool, error)
}

// Violation records a single rule that rejected an artifact.
type Violation struct {
	// RuleID is the identifier of the violated rule.
	RuleID string `json:"rule_id"`

	// Description is the rule's human-readable description.
	Description string `json:"description"`

	// Error is set when the rule could not be evaluated and was failed closed.
	Error string `json:"error,omitempty"`
}

// String returns "rule-id: description".
func (v Violation) String() string {
	if v.Error != "" {
		return fmt.Sprintf("%s: %s (evaluation failed: %s)", v.RuleID, v.Description, v.Error)
	}
	return fmt.Sprintf("%s: %s", v.RuleID, v.Description)
}

// Verdict is the result of validating one artifact against a RuleSet.
type Verdict struct {
	// Pass is true iff no rule reported a violation.
	Pass bool `json:"pass"`

	// Violations lists violated rules in RuleSet order.
	Violations []Violation `json:"violations,omitempty"`
}

// RuleIDs returns the identifiers of the violated rules in order.
func (v Verdict) RuleIDs() []string {
	ids := make([]string, 0, len(v.Violations))
	for _, violation := range v.Violations {
		ids = append(ids, violation.RuleID)
	}
	return ids
}

// RuleSet is an ordered, immutable collection of rules.
// Order is insertion order and only affects violation reporting.
type RuleSet struct {
	version string
	rules   []Rule
}

// NewRuleSet creates a RuleSet. Rule identifiers must be non-empty and unique.
func NewRuleSet(version string, rules ...Rule) (*RuleSet, error) {
	seen := make(map[string]struct{}, len(rules))
	for i, rule := range rules {
		if rule == nil {
			return nil, fmt.Errorf("rule %d is nil", i)
		}
		id := rule.ID()
		if id == "" {
			return nil, fmt.Errorf("rule %d has an empty id", i)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("duplicate rule id %q", id)
		}
		seen[id] = struct{}{}
	}

	copied := make([]Rule, len(rules))
	copy(copied, rules)

	return &RuleSet{version: version, rules: copied}, nil
}

// MustRuleSet is like NewRuleSet but panics on error.
func MustRuleSet(version string, rules ...Rule) *RuleSet {
	rs, err := NewRuleSet(version, rules...)
	if err != nil {
		panic(err)
	}
	return rs
}

// Version returns the rule set version label.
func (rs *RuleSet) Version() string {
	return rs.version
}

// Len returns the number of rules.
func (rs *RuleSet) Len() int {
	return len(rs.rules)
}

// Rules returns a copy of the rules in order.
func (rs *RuleSet) Rules() []Rule {
	out := make([]Rule, len(rs.rules))
	copy(out, rs.rules)
	return out
}

// Rule returns the rule with the given id, if present.
func (rs *RuleSet) Rule(id string) (Rule, bool) {
	for _, rule := range rs.rules {
		if rule.ID() == id {
			return rule, true
		}
	}
	return nil, false
}

// Deterministic reports whether every rule in the set is deterministic.
func (rs *RuleSet) Deterministic() bool {
	for _, rule := range rs.rules {
		if !rule.Deterministic() {
			return false
		}
	}
	return true
}

// Snapshot returns the rule set itself, so a fixed RuleSet can be used
// wherever a Source is expected.
func (rs *RuleSet) Snapshot() *RuleSet {
	return rs
}

// Source provides the RuleSet to use for a negotiation.
type Source interface {
	Snapshot() *RuleSet
}
