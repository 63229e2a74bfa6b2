package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
)

// ExprRule rejects artifacts for which a CEL expression evaluates to true.
//
// The expression sees two variables:
//   - artifact: the artifact text (string)
//   - lines: the artifact split into lines (list of strings)
//
// Example: `artifact.size() > 20000 || lines.exists(l, l.startsWith("curl ") && l.contains("| sh"))`
type ExprRule struct {
	ruleInfo
	expression string
	program    cel.Program
}

// NewExprRule compiles expression into a rule.
func NewExprRule(id, description, expression string) (*ExprRule, error) {
	env, err := cel.NewEnv(
		cel.Variable("artifact", cel.StringType),
		cel.Variable("lines", cel.ListType(cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compile error in rule %q: %w", id, issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("rule %q expression must return bool, got %s", id, ast.OutputType())
	}

	program, err := env.Program(ast, cel.InterruptCheckFrequency(100))
	if err != nil {
		return nil, fmt.Errorf("CEL program error in rule %q: %w", id, err)
	}

	return &ExprRule{
		ruleInfo:   ruleInfo{id: id, description: description},
		expression: expression,
		program:    program,
	}, nil
}

// Expression returns the source expression.
func (r *ExprRule) Expression() string { return r.expression }

// Deterministic implements Rule.
func (r *ExprRule) Deterministic() bool { return true }

// Evaluate implements Rule.
func (r *ExprRule) Evaluate(ctx context.Context, artifact string) (bool, error) {
	out, _, err := r.program.ContextEval(ctx, map[string]interface{}{
		"artifact": artifact,
		"lines":    strings.Split(artifact, "\n"),
	})
	if err != nil {
		return false, fmt.Errorf("CEL eval error: %w", err)
	}

	violated, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("result not boolean")
	}
	return violated, nil
}
