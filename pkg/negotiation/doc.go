// Package negotiation implements the bounded generate-validate-retry loop
// that sits between an untrusted content generator and a caller.
//
// A Negotiator asks its Generator for an artifact, validates it against a
// snapshot of the active policy.RuleSet and either approves it, retries with
// the violations as corrective feedback, or blocks once the attempt budget
// is spent. Every negotiation produces an AuditRecord describing each
// attempt and the terminal Outcome.
//
// # Outcomes
//
//   - approved: the last attempt passed; Outcome.Artifact holds it
//   - blocked: every attempt failed validation; no artifact is returned
//   - failed: the generator returned an error; no retry is made
//   - cancelled: the caller's context ended before a decision was reached
//
// # Usage
//
//	n, err := negotiation.New(negotiation.Options{
//	    Generator: gen,
//	    Rules:     policy.DefaultRuleSet(),
//	})
//	record := n.Negotiate(ctx, negotiation.NewRequest("", "Create a cleanup script", nil))
//	if record.Outcome.Status == negotiation.StatusApproved {
//	    fmt.Println(record.Outcome.Artifact)
//	}
//
// Observability is attached through Sink implementations, which receive
// the record as it progresses.
package negotiation
