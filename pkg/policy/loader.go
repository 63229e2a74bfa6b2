package policy

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RuleFile is the YAML document describing a rule set.
//
//	version: team-2024-06
//	rules:
//	  - id: no-sudo
//	    description: Privilege escalation detected
//	    contains: ["sudo "]
//	  - id: rm-recursive
//	    description: Recursive deletion detected
//	    structural:
//	      executable: rm
//	      flags_all: [r]
type RuleFile struct {
	Version string     `yaml:"version,omitempty"`
	Rules   []RuleSpec `yaml:"rules"`
}

// RuleSpec describes one rule. Exactly one kind field must be set.
type RuleSpec struct {
	ID          string `yaml:"id"`
	Description string `yaml:"description"`

	// contains
	Contains   []string `yaml:"contains,omitempty"`
	IgnoreCase bool     `yaml:"ignore_case,omitempty"`

	// regex
	Regex string `yaml:"regex,omitempty"`

	// length
	MaxBytes int `yaml:"max_bytes,omitempty"`
	MaxLines int `yaml:"max_lines,omitempty"`

	// structural
	Structural        *StructuralMatch `yaml:"structural,omitempty"`
	IgnoreParseErrors bool             `yaml:"ignore_parse_errors,omitempty"`

	// expr
	Expr string `yaml:"expr,omitempty"`

	// scanner
	Scanner *ScannerSpec `yaml:"scanner,omitempty"`
}

// ScannerSpec configures an external scanner rule.
type ScannerSpec struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// Kind returns the rule kind named by the spec, or "" when none or more
// than one kind is set.
func (s RuleSpec) Kind() string {
	var kinds []string
	if len(s.Contains) > 0 {
		kinds = append(kinds, "contains")
	}
	if s.Regex != "" {
		kinds = append(kinds, "regex")
	}
	if s.MaxBytes > 0 || s.MaxLines > 0 {
		kinds = append(kinds, "length")
	}
	if s.Structural != nil {
		kinds = append(kinds, "structural")
	}
	if s.Expr != "" {
		kinds = append(kinds, "expr")
	}
	if s.Scanner != nil {
		kinds = append(kinds, "scanner")
	}
	if len(kinds) != 1 {
		return ""
	}
	return kinds[0]
}

// Build constructs the rule described by the spec.
func (s RuleSpec) Build() (Rule, error) {
	if s.ID == "" {
		return nil, errors.New("rule id is required")
	}
	description := s.Description
	if description == "" {
		description = s.ID
	}

	switch s.Kind() {
	case "contains":
		rule := NewContainsRule(s.ID, description, s.Contains...)
		if s.IgnoreCase {
			rule = rule.IgnoreCase()
		}
		return rule, nil
	case "regex":
		return NewRegexRule(s.ID, description, s.Regex)
	case "length":
		return NewLengthRule(s.ID, description, s.MaxBytes, s.MaxLines), nil
	case "structural":
		return NewStructuralRule(s.ID, description, *s.Structural, s.IgnoreParseErrors)
	case "expr":
		return NewExprRule(s.ID, description, s.Expr)
	case "scanner":
		if s.Scanner.URL == "" {
			return nil, errors.New("scanner url is required")
		}
		return NewScannerRule(s.ID, description, s.Scanner.URL, s.Scanner.Timeout), nil
	default:
		return nil, errors.New("exactly one of contains, regex, max_bytes/max_lines, structural, expr, scanner must be set")
	}
}

// LoadFile reads and compiles a YAML rule file.
func LoadFile(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Cause: err}
	}
	return Parse(data, path)
}

// Parse compiles a YAML rule document. source is used in error messages.
//
// The rule set version is the file's version label (if any) followed by a
// short content hash, so an unchanged file always yields the same version.
func Parse(data []byte, source string) (*RuleSet, error) {
	var file RuleFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, &LoadError{Path: source, Cause: fmt.Errorf("failed to parse YAML: %w", err)}
	}
	if len(file.Rules) == 0 {
		return nil, &LoadError{Path: source, Cause: errors.New("no rules defined")}
	}

	rules := make([]Rule, 0, len(file.Rules))
	for i, spec := range file.Rules {
		rule, err := spec.Build()
		if err != nil {
			id := spec.ID
			if id == "" {
				id = fmt.Sprintf("#%d", i)
			}
			return nil, &LoadError{Path: source, RuleID: id, Cause: err}
		}
		rules = append(rules, rule)
	}

	rs, err := NewRuleSet(contentVersion(file.Version, data), rules...)
	if err != nil {
		return nil, &LoadError{Path: source, Cause: err}
	}
	return rs, nil
}

func contentVersion(label string, data []byte) string {
	sum := sha256.Sum256(data)
	hash := "sha256:" + hex.EncodeToString(sum[:])[:12]
	if label == "" {
		return hash
	}
	return label + "@" + hash
}
