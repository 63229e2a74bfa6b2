package generator

import (
	"context"
	"errors"
	"sync"

	"mercator-hq/parley/pkg/negotiation"
	"mercator-hq/parley/pkg/policy"
)

// ErrEmptySequence is returned by a Sequence with no artifacts.
var ErrEmptySequence = errors.New("sequence has no artifacts")

// Sequence returns its artifacts in order, one per call; the last artifact
// repeats once the sequence is exhausted. It records the feedback received
// on every call. Safe for concurrent use, but calls from concurrent
// negotiations share one position.
type Sequence struct {
	mu        sync.Mutex
	artifacts []string
	errs      map[int]error
	calls     int
	feedback  [][]policy.Violation
	prompts   []string
}

// NewSequence creates a Sequence.
func NewSequence(artifacts ...string) *Sequence {
	return &Sequence{
		artifacts: append([]string(nil), artifacts...),
		errs:      make(map[int]error),
	}
}

// FailOn makes the given 1-based call return err instead of an artifact.
func (s *Sequence) FailOn(call int, err error) *Sequence {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[call] = err
	return s
}

// Generate implements negotiation.Generator.
func (s *Sequence) Generate(ctx context.Context, req negotiation.Request, feedback []policy.Violation) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	s.feedback = append(s.feedback, feedback)
	s.prompts = append(s.prompts, req.Text)

	if err := s.errs[s.calls]; err != nil {
		return "", err
	}
	if len(s.artifacts) == 0 {
		return "", ErrEmptySequence
	}
	i := s.calls - 1
	if i >= len(s.artifacts) {
		i = len(s.artifacts) - 1
	}
	return s.artifacts[i], nil
}

// Calls returns the number of Generate calls so far.
func (s *Sequence) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Feedback returns the feedback passed to the given 1-based call.
func (s *Sequence) Feedback(call int) []policy.Violation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if call < 1 || call > len(s.feedback) {
		return nil
	}
	return s.feedback[call-1]
}

// Func adapts a prompt-level function to negotiation.Generator.
type Func func(ctx context.Context, prompt string, feedback []policy.Violation) (string, error)

// Generate implements negotiation.Generator.
func (f Func) Generate(ctx context.Context, req negotiation.Request, feedback []policy.Violation) (string, error) {
	return f(ctx, req.Text, feedback)
}
