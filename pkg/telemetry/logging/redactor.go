package logging

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// RedactPattern is a user-supplied redaction rule.
type RedactPattern struct {
	Name        string `yaml:"name"`
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
}

type compiledPattern struct {
	name        string
	regex       *regexp.Regexp
	replacement string
}

// builtinPatterns mask credentials that commonly leak into prompts,
// generated scripts and provider errors.
var builtinPatterns = []RedactPattern{
	{Name: "api_key", Pattern: `sk-[A-Za-z0-9_\-]{8,}`, Replacement: "sk-***"},
	{Name: "bearer_token", Pattern: `Bearer\s+[A-Za-z0-9\-._~+/]+=*`, Replacement: "Bearer ***"},
	{Name: "aws_access_key", Pattern: `AKIA[0-9A-Z]{16}`, Replacement: "AKIA***"},
	{Name: "password", Pattern: `(?i)(password|passwd|pwd)\s*[:=]\s*\S+`, Replacement: "$1=***"},
	{Name: "private_key", Pattern: `-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`, Replacement: "[private key redacted]"},
}

// sensitiveKeys are attribute keys whose values are always masked.
var sensitiveKeys = []string{"password", "secret", "token", "api_key", "apikey", "authorization", "private_key"}

// Redactor masks secrets in log attributes.
type Redactor struct {
	patterns []compiledPattern
}

// NewRedactor creates a Redactor with the built-in patterns plus extra.
func NewRedactor(extra []RedactPattern) (*Redactor, error) {
	r := &Redactor{}
	for _, p := range append(append([]RedactPattern(nil), builtinPatterns...), extra...) {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid redact pattern %q: %w", p.Name, err)
		}
		r.patterns = append(r.patterns, compiledPattern{name: p.Name, regex: re, replacement: p.Replacement})
	}
	return r, nil
}

// RedactString applies every pattern to s.
func (r *Redactor) RedactString(s string) string {
	if s == "" {
		return s
	}
	for _, p := range r.patterns {
		s = p.regex.ReplaceAllString(s, p.replacement)
	}
	return s
}

// RedactAttr masks a single attribute, descending into groups.
func (r *Redactor) RedactAttr(a slog.Attr) slog.Attr {
	if isSensitiveKey(a.Key) {
		return slog.String(a.Key, "***")
	}

	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return slog.String(a.Key, r.RedactString(v.String()))
	case slog.KindGroup:
		group := v.Group()
		redacted := make([]any, len(group))
		for i, ga := range group {
			redacted[i] = r.RedactAttr(ga)
		}
		return slog.Group(a.Key, redacted...)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return slog.String(a.Key, r.RedactString(err.Error()))
		}
	}
	return a
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
