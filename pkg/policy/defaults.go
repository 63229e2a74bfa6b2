package policy

// DefaultRuleSetVersion labels the built-in rule set.
const DefaultRuleSetVersion = "builtin-1"

// DefaultRules returns the built-in substring rules, in reporting order.
func DefaultRules() []Rule {
	return []Rule{
		NewContainsRule("recursive-delete", "Recursive deletion detected", " -rf "),
		NewContainsRule("shell-exec", "Shell execution detected", "shell=True"),
		NewContainsRule("privilege-escalation", "Privilege escalation detected", "sudo "),
		NewContainsRule("filesystem-search", "Filesystem search detected", "find /"),
		NewContainsRule("world-writable", "World-writable permissions detected", "chmod 777"),
	}
}

// DefaultRuleSet returns the built-in rule set used when no rule file is
// configured.
func DefaultRuleSet() *RuleSet {
	return MustRuleSet(DefaultRuleSetVersion, DefaultRules()...)
}
