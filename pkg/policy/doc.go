// Package policy evaluates generated artifacts against an ordered set of
// named safety rules.
//
// # Rules
//
// A Rule is a named predicate over an artifact. Rules report a violation by
// returning true from Evaluate. The package ships several rule kinds:
//
//   - ContainsRule: substring presence ("sudo ", " -rf ")
//   - RegexRule: regular expression match
//   - LengthRule: size limits in bytes or lines
//   - StructuralRule: shell AST matching (executable, flags, arguments)
//   - ExprRule: CEL expressions over the artifact text
//   - ScannerRule: external HTTP scanner (non-deterministic)
//   - FuncRule: arbitrary Go predicate
//
// # Validation
//
// The Validator evaluates every rule of a RuleSet independently and reports
// violations in RuleSet order:
//
//	rules, _ := policy.NewRuleSet("v1",
//	    policy.NewContainsRule("no-sudo", "Privilege escalation detected", "sudo "),
//	    policy.NewContainsRule("no-recursive-delete", "Recursive deletion detected", " -rf "),
//	)
//	verdict := policy.NewValidator(nil).Validate(ctx, artifact, rules)
//	if !verdict.Pass {
//	    fmt.Println(verdict.RuleIDs())
//	}
//
// Evaluation is fail-closed: a rule that errors, panics or exceeds its
// timeout is reported as a violation carrying the error text.
//
// # Loading and Reloading
//
// Rule sets are loaded from YAML files with LoadFile. A Store holds the
// active RuleSet and swaps it atomically on Reload; a FileWatcher triggers
// reloads when the file changes. Each negotiation snapshots the Store once,
// so reloads never affect a negotiation already in progress.
package policy
