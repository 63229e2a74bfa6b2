package guard

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"
	"time"
)

// Status is the guard's liveness.
type Status int

const (
	// StatusUnknown means no probe has completed yet.
	StatusUnknown Status = iota
	// StatusActive means the last probe found the guard running.
	StatusActive
	// StatusInactive means the last probe failed.
	StatusInactive
)

// String returns the lowercase status name.
func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusInactive:
		return "inactive"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Prober checks the guard once. A nil error means the guard is active.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context) error

// Probe implements Prober.
func (f ProberFunc) Probe(ctx context.Context) error {
	return f(ctx)
}

// DefaultMarker is the text the guard's status command prints when healthy.
const DefaultMarker = "Health Score"

// DefaultProbeTimeout bounds a single probe.
const DefaultProbeTimeout = 3 * time.Second

// ErrMarkerMissing is returned when the status output lacks the marker.
var ErrMarkerMissing = errors.New("health marker not found in guard status output")

// CommandProber runs a status command and checks its output for Marker.
type CommandProber struct {
	// Command is the executable; Args are passed to it.
	// Default: "status"
	Command string
	Args    []string

	// Marker must appear in stdout.
	// Default: "Health Score"
	Marker string

	// Timeout bounds the command.
	// Default: 3s
	Timeout time.Duration
}

// Probe implements Prober.
func (p *CommandProber) Probe(ctx context.Context) error {
	command := p.Command
	if command == "" {
		command = "status"
	}
	marker := p.Marker
	if marker == "" {
		marker = DefaultMarker
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, command, p.Args...)
	cmd.Stdout = &stdout
	cmd.WaitDelay = 100 * time.Millisecond
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("guard status command timed out after %s: %w", timeout, ctx.Err())
		}
		return fmt.Errorf("guard status command: %w", err)
	}
	if !strings.Contains(stdout.String(), marker) {
		return ErrMarkerMissing
	}
	return nil
}

// maxProbeRedirects bounds same-host redirects followed by the default
// probe client.
const maxProbeRedirects = 5

// probeClient follows redirects only within the probed host.
var probeClient = &http.Client{CheckRedirect: sameHostRedirect}

func sameHostRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxProbeRedirects {
		return fmt.Errorf("stopped after %d redirects", maxProbeRedirects)
	}
	if origin := via[0].URL.Host; req.URL.Host != origin {
		return fmt.Errorf("redirect from %s to %s refused", origin, req.URL.Host)
	}
	return nil
}

// HTTPProber GETs URL and expects a 2xx response, optionally containing
// Marker in the body.
type HTTPProber struct {
	URL    string
	Marker string

	// Timeout bounds the request.
	// Default: 3s
	Timeout time.Duration

	// Client defaults to a client without redirects to other hosts.
	Client *http.Client
}

// Probe implements Prober.
func (p *HTTPProber) Probe(ctx context.Context) error {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	client := p.Client
	if client == nil {
		client = probeClient
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return fmt.Errorf("guard status request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("guard status request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("guard status returned HTTP %d", resp.StatusCode)
	}
	if p.Marker == "" {
		return nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("read guard status: %w", err)
	}
	if !bytes.Contains(body, []byte(p.Marker)) {
		return ErrMarkerMissing
	}
	return nil
}
