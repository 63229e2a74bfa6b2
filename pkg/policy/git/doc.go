// Package git loads the rule file from a Git branch.
//
// A Source clones the repository, seeds a policy.Store with the rule file
// at HEAD and then polls the branch. When a pull brings commits that touch
// the rule file the store is reloaded; a file that no longer parses is
// logged and the store keeps serving the previous rules.
//
//	src, err := git.NewSource(&cfg.Rules.Git)
//	if err != nil {
//		return err
//	}
//	store, err := src.Open(ctx)
//	if err != nil {
//		return err
//	}
//	go src.Watch(ctx)
//
// Rule set versions carry the commit they were loaded from, for example
// "prod@sha256:3f2a9c01b7de+git.1a2b3c4d".
package git
