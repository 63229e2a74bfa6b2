package policy

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// StructuralMatch describes shell commands a StructuralRule rejects.
// Matching is done on the parsed shell AST, so flag order, combined short
// flags (-rf), long flags (--recursive) and privilege wrappers (sudo) do not
// defeat it.
type StructuralMatch struct {
	// Executables lists command names to match (base name, e.g. "rm").
	Executables StringOrList `yaml:"executable,omitempty"`

	// FlagsAll requires every listed flag to be present.
	FlagsAll []string `yaml:"flags_all,omitempty"`

	// FlagsAny requires at least one listed flag to be present.
	FlagsAny []string `yaml:"flags_any,omitempty"`

	// ArgsAny requires a positional argument matching one of the glob patterns.
	ArgsAny []string `yaml:"args_any,omitempty"`

	// PipeTo matches pipelines whose right-hand command is one of these
	// executables. When set, Executables (if any) constrains the left side.
	PipeTo []string `yaml:"pipe_to,omitempty"`
}

// StringOrList allows YAML fields to accept either a single string or a list.
type StringOrList []string

// UnmarshalYAML implements the legacy yaml.v3 unmarshaler.
func (s *StringOrList) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var single string
	if err := unmarshal(&single); err == nil {
		*s = []string{single}
		return nil
	}
	var list []string
	if err := unmarshal(&list); err != nil {
		return err
	}
	*s = list
	return nil
}

// longFlagAliases maps long flags to their conventional short form.
var longFlagAliases = map[string]string{
	"recursive": "r",
	"force":     "f",
}

// commandWrappers are skipped when resolving the executable of a command.
var commandWrappers = map[string]bool{
	"sudo":    true,
	"doas":    true,
	"env":     true,
	"nohup":   true,
	"command": true,
	"exec":    true,
	"nice":    true,
	"time":    true,
}

// StructuralRule rejects shell artifacts containing commands that match a
// StructuralMatch.
type StructuralRule struct {
	ruleInfo
	match             StructuralMatch
	ignoreParseErrors bool
}

// NewStructuralRule creates a structural rule. Artifacts that do not parse
// as shell are treated as evaluation errors (and therefore violations)
// unless ignoreParseErrors is set, in which case they do not match.
func NewStructuralRule(id, description string, match StructuralMatch, ignoreParseErrors bool) (*StructuralRule, error) {
	if len(match.Executables) == 0 && len(match.PipeTo) == 0 {
		return nil, fmt.Errorf("structural rule %q needs executable or pipe_to", id)
	}
	for _, pattern := range match.ArgsAny {
		if _, err := path.Match(pattern, ""); err != nil {
			return nil, fmt.Errorf("structural rule %q has invalid glob %q: %w", id, pattern, err)
		}
	}
	return &StructuralRule{
		ruleInfo:          ruleInfo{id: id, description: description},
		match:             match,
		ignoreParseErrors: ignoreParseErrors,
	}, nil
}

// Deterministic implements Rule.
func (r *StructuralRule) Deterministic() bool { return true }

// Evaluate implements Rule.
func (r *StructuralRule) Evaluate(_ context.Context, artifact string) (bool, error) {
	parsed, err := parseShell(artifact)
	if err != nil {
		if r.ignoreParseErrors {
			return false, nil
		}
		return false, fmt.Errorf("parse shell: %w", err)
	}

	if len(r.match.PipeTo) > 0 {
		for _, p := range parsed.pipes {
			if contains(r.match.PipeTo, p.to) &&
				(len(r.match.Executables) == 0 || contains(r.match.Executables, p.from)) {
				return true, nil
			}
		}
		return false, nil
	}

	for _, seg := range parsed.segments {
		if r.matchSegment(seg) {
			return true, nil
		}
	}
	return false, nil
}

func (r *StructuralRule) matchSegment(seg commandSegment) bool {
	if !contains(r.match.Executables, seg.executable) {
		return false
	}
	for _, flag := range r.match.FlagsAll {
		if !seg.flags[normalizeFlag(flag)] {
			return false
		}
	}
	if len(r.match.FlagsAny) > 0 {
		found := false
		for _, flag := range r.match.FlagsAny {
			if seg.flags[normalizeFlag(flag)] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(r.match.ArgsAny) > 0 {
		for _, arg := range seg.args {
			for _, pattern := range r.match.ArgsAny {
				if ok, _ := path.Match(pattern, arg); ok {
					return true
				}
			}
		}
		return false
	}
	return true
}

// commandSegment is one simple command with its flags and positional args.
type commandSegment struct {
	executable string
	flags      map[string]bool
	args       []string
}

// pipe is a left | right pair of executables.
type pipe struct {
	from string
	to   string
}

type parsedScript struct {
	segments []commandSegment
	pipes    []pipe
}

func parseShell(script string) (*parsedScript, error) {
	parser := syntax.NewParser(syntax.KeepComments(false), syntax.Variant(syntax.LangBash))
	file, err := parser.Parse(strings.NewReader(script), "")
	if err != nil {
		return nil, err
	}

	parsed := &parsedScript{}
	syntax.Walk(file, func(node syntax.Node) bool {
		switch n := node.(type) {
		case *syntax.CallExpr:
			if seg, ok := callToSegment(n); ok {
				parsed.segments = append(parsed.segments, seg)
			}
		case *syntax.BinaryCmd:
			if n.Op == syntax.Pipe || n.Op == syntax.PipeAll {
				parsed.pipes = append(parsed.pipes, pipe{
					from: lastExecutable(n.X),
					to:   firstExecutable(n.Y),
				})
			}
		}
		return true
	})

	return parsed, nil
}

func callToSegment(call *syntax.CallExpr) (commandSegment, bool) {
	words := make([]string, 0, len(call.Args))
	for _, w := range call.Args {
		words = append(words, wordString(w))
	}

	i := 0
	for i < len(words) {
		name := filepath.Base(words[i])
		if !commandWrappers[name] {
			break
		}
		i++
		// Skip wrapper options and environment assignments.
		for i < len(words) && (strings.HasPrefix(words[i], "-") || strings.Contains(words[i], "=")) {
			if name == "sudo" && (words[i] == "-u" || words[i] == "-g") {
				i++
			}
			i++
		}
	}
	if i >= len(words) {
		return commandSegment{}, false
	}

	seg := commandSegment{
		executable: filepath.Base(words[i]),
		flags:      make(map[string]bool),
	}

	endOfFlags := false
	for _, word := range words[i+1:] {
		switch {
		case endOfFlags:
			seg.args = append(seg.args, word)
		case word == "--":
			endOfFlags = true
		case strings.HasPrefix(word, "--"):
			name, _, _ := strings.Cut(strings.TrimPrefix(word, "--"), "=")
			seg.flags[normalizeFlag(name)] = true
		case strings.HasPrefix(word, "-") && len(word) > 1:
			for _, c := range word[1:] {
				seg.flags[normalizeFlag(string(c))] = true
			}
		default:
			seg.args = append(seg.args, word)
		}
	}

	return seg, true
}

func firstExecutable(stmt *syntax.Stmt) string {
	if stmt == nil {
		return ""
	}
	switch cmd := stmt.Cmd.(type) {
	case *syntax.CallExpr:
		if seg, ok := callToSegment(cmd); ok {
			return seg.executable
		}
	case *syntax.BinaryCmd:
		return firstExecutable(cmd.X)
	}
	return ""
}

func lastExecutable(stmt *syntax.Stmt) string {
	if stmt == nil {
		return ""
	}
	switch cmd := stmt.Cmd.(type) {
	case *syntax.CallExpr:
		if seg, ok := callToSegment(cmd); ok {
			return seg.executable
		}
	case *syntax.BinaryCmd:
		return lastExecutable(cmd.Y)
	}
	return ""
}

// wordString flattens the literal parts of a shell word. Expansions are dropped.
func wordString(w *syntax.Word) string {
	var sb strings.Builder
	for _, part := range w.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			sb.WriteString(p.Value)
		case *syntax.SglQuoted:
			sb.WriteString(p.Value)
		case *syntax.DblQuoted:
			for _, inner := range p.Parts {
				if lit, ok := inner.(*syntax.Lit); ok {
					sb.WriteString(lit.Value)
				}
			}
		}
	}
	return sb.String()
}

func normalizeFlag(flag string) string {
	flag = strings.TrimLeft(flag, "-")
	if alias, ok := longFlagAliases[flag]; ok {
		return alias
	}
	if flag == "R" {
		return "r"
	}
	return flag
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
