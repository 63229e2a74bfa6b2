// Package recorder turns finished negotiations into evidence records.
//
// Recorder implements negotiation.Sink. NegotiationFinished converts the
// audit record synchronously, so the record is immutable by the time it is
// queued, and a background worker writes it to storage. Close drains the
// queue before returning.
//
// Prompts are truncated to MaxFieldLength and can be passed through a
// logging.Redactor before storage; the prompt hash is always taken over the
// original text.
package recorder
