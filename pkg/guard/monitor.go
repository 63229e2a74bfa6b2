package guard

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Snapshot is the cached result of the most recent probe.
type Snapshot struct {
	Status              Status    `json:"status"`
	CheckedAt           time.Time `json:"checked_at,omitempty"`
	Error               string    `json:"error,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
}

// Monitor polls a Prober and caches its result.
type Monitor struct {
	prober   Prober
	interval time.Duration
	logger   *slog.Logger

	mu       sync.RWMutex
	snapshot Snapshot

	// OnChange, when set, is called whenever the status changes.
	OnChange func(old, new Status)

	stop    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// DefaultInterval is the polling interval used when none is configured.
const DefaultInterval = 30 * time.Second

// NewMonitor creates a Monitor. Call Start to begin polling.
func NewMonitor(prober Prober, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		prober:   prober,
		interval: interval,
		logger:   slog.Default().With("component", "guard.monitor"),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Start probes once immediately, then on every interval, until ctx is done
// or Stop is called. Repeated failures back off up to ten intervals.
func (m *Monitor) Start(ctx context.Context) {
	go m.run(ctx)
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.stopped)

	m.Check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("guard monitor started", "interval", m.interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			snap := m.Check(ctx)
			ticker.Reset(backoff(snap.ConsecutiveFailures, m.interval))
		}
	}
}

// Stop ends polling. It is safe to call more than once.
func (m *Monitor) Stop() {
	m.once.Do(func() { close(m.stop) })
}

// Wait blocks until a started monitor's loop has exited.
func (m *Monitor) Wait() {
	<-m.stopped
}

// Check probes synchronously and updates the cached snapshot.
func (m *Monitor) Check(ctx context.Context) Snapshot {
	err := m.prober.Probe(ctx)

	m.mu.Lock()
	old := m.snapshot.Status
	next := Snapshot{CheckedAt: time.Now()}
	if err != nil {
		next.Status = StatusInactive
		next.Error = err.Error()
		next.ConsecutiveFailures = m.snapshot.ConsecutiveFailures + 1
	} else {
		next.Status = StatusActive
	}
	m.snapshot = next
	m.mu.Unlock()

	if old != next.Status {
		m.logger.Info("guard status changed",
			"from", old.String(),
			"to", next.Status.String(),
			"error", next.Error,
		)
		if m.OnChange != nil {
			m.OnChange(old, next.Status)
		}
	}
	return next
}

// Status returns the cached status without probing.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot.Status
}

// Snapshot returns the cached probe result.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// HealthCheck reports the cached status as an error, for use as an
// informational readiness check.
func (m *Monitor) HealthCheck(context.Context) error {
	snap := m.Snapshot()
	switch snap.Status {
	case StatusActive:
		return nil
	case StatusInactive:
		return &InactiveError{Reason: snap.Error}
	default:
		return &InactiveError{Reason: "not checked yet"}
	}
}

// InactiveError reports that the guard is not running.
type InactiveError struct {
	Reason string
}

// Error implements the error interface.
func (e *InactiveError) Error() string {
	return "shell guard inactive: " + e.Reason
}

// backoff doubles the interval per consecutive failure, capped at ten
// intervals.
func backoff(failures int, interval time.Duration) time.Duration {
	if failures <= 0 {
		return interval
	}
	multiplier := 1
	for i := 0; i < failures && multiplier < 10; i++ {
		multiplier *= 2
	}
	if multiplier > 10 {
		multiplier = 10
	}
	return interval * time.Duration(multiplier)
}
