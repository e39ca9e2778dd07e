package discovery

import (
	"sync"
	"time"
)

// HealthMonitor tracks transport check outcomes and flips a degraded
// flag after consecutive failures. It observes, it does not act: the
// operator (or a supervisor) decides whether to fall back to the local
// transport.
type HealthMonitor struct {
	latencyWarn      time.Duration
	failureThreshold int

	mu                  sync.Mutex
	totalChecks         int
	totalFailures       int
	consecutiveFailures int
	latencyWarnCount    int
	lastLatency         time.Duration
	lastError           string
	degraded            bool
}

// NewHealthMonitor creates a monitor. latencyWarn counts slow successes;
// failureThreshold consecutive failures mark the transport degraded.
func NewHealthMonitor(latencyWarn time.Duration, failureThreshold int) *HealthMonitor {
	return &HealthMonitor{
		latencyWarn:      latencyWarn,
		failureThreshold: failureThreshold,
	}
}

// RecordSuccess notes a successful check and clears the degraded flag.
func (m *HealthMonitor) RecordSuccess(latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalChecks++
	m.consecutiveFailures = 0
	m.lastError = ""
	m.lastLatency = latency
	if latency > m.latencyWarn {
		m.latencyWarnCount++
	}
	m.degraded = false
}

// RecordFailure notes a failed check; enough in a row flip degraded.
func (m *HealthMonitor) RecordFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalChecks++
	m.totalFailures++
	m.consecutiveFailures++
	if err != nil {
		m.lastError = err.Error()
	}
	if m.consecutiveFailures >= m.failureThreshold {
		m.degraded = true
	}
}

// Degraded reports whether the transport is currently degraded.
func (m *HealthMonitor) Degraded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.degraded
}

// HealthStats is the read-only view of the monitor.
type HealthStats struct {
	TotalChecks         int
	TotalFailures       int
	ConsecutiveFailures int
	LatencyWarnCount    int
	LastLatency         time.Duration
	LastError           string
	Degraded            bool
}

// Stats returns a snapshot of the monitor's counters.
func (m *HealthMonitor) Stats() HealthStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return HealthStats{
		TotalChecks:         m.totalChecks,
		TotalFailures:       m.totalFailures,
		ConsecutiveFailures: m.consecutiveFailures,
		LatencyWarnCount:    m.latencyWarnCount,
		LastLatency:         m.lastLatency,
		LastError:           m.lastError,
		Degraded:            m.degraded,
	}
}
