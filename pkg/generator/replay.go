package generator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"mercator-hq/parley/pkg/negotiation"
	"mercator-hq/parley/pkg/policy"
)

// ErrNoFixture is returned when no fixture matches a request.
var ErrNoFixture = errors.New("no fixture matches request")

// Fixture is one recorded pair of responses.
type Fixture struct {
	// Match is a case-insensitive keyword looked up in the request text.
	// An empty Match only applies as the default fixture.
	Match string `yaml:"match,omitempty"`

	// Initial is returned on the first attempt.
	Initial string `yaml:"initial"`

	// Corrective is returned on attempts that carry feedback. Falls back
	// to Initial when empty.
	Corrective string `yaml:"corrective,omitempty"`
}

// FixtureFile is the YAML document read by LoadReplay.
type FixtureFile struct {
	Fixtures []Fixture `yaml:"fixtures"`
	Default  *Fixture  `yaml:"default,omitempty"`
}

// Replay answers requests from recorded fixtures. The first fixture whose
// keyword appears in the request wins.
type Replay struct {
	fixtures []Fixture
	fallback *Fixture

	mu    sync.Mutex
	calls map[string]int
}

// NewReplay creates a Replay from fixtures and an optional default.
func NewReplay(fixtures []Fixture, fallback *Fixture) (*Replay, error) {
	for i, f := range fixtures {
		if f.Match == "" {
			return nil, fmt.Errorf("fixture %d has no match keyword", i)
		}
		if f.Initial == "" {
			return nil, fmt.Errorf("fixture %q has no initial response", f.Match)
		}
	}
	if fallback != nil && fallback.Initial == "" {
		return nil, errors.New("default fixture has no initial response")
	}
	return &Replay{
		fixtures: append([]Fixture(nil), fixtures...),
		fallback: fallback,
		calls:    make(map[string]int),
	}, nil
}

// LoadReplay reads a fixture file.
func LoadReplay(path string) (*Replay, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixtures: %w", err)
	}
	return ParseReplay(data)
}

// ParseReplay parses a YAML fixture document.
func ParseReplay(data []byte) (*Replay, error) {
	var file FixtureFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse fixtures: %w", err)
	}
	return NewReplay(file.Fixtures, file.Default)
}

// Generate implements negotiation.Generator.
func (r *Replay) Generate(ctx context.Context, req negotiation.Request, feedback []policy.Violation) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	fixture, key := r.lookup(req.Text)
	if fixture == nil {
		return "", fmt.Errorf("%w: %q", ErrNoFixture, req.Text)
	}

	r.mu.Lock()
	r.calls[key]++
	r.mu.Unlock()

	if len(feedback) > 0 && fixture.Corrective != "" {
		return fixture.Corrective, nil
	}
	return fixture.Initial, nil
}

// Calls returns how often the fixture with the given keyword was used.
// The default fixture is counted under "".
func (r *Replay) Calls(match string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[match]
}

func (r *Replay) lookup(text string) (*Fixture, string) {
	lowered := strings.ToLower(text)
	for i := range r.fixtures {
		if strings.Contains(lowered, strings.ToLower(r.fixtures[i].Match)) {
			return &r.fixtures[i], r.fixtures[i].Match
		}
	}
	return r.fallback, ""
}
