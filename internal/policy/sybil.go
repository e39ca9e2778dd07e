package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

// SybilGuard applies lightweight anti-abuse limits per node: a minimum
// interval between dispatched tasks and suppression of duplicate task
// payloads inside a window.
//
// The guard is advisory - the orchestrator consults it before
// dispatching and records a rejection as a denied outcome for that
// node. It does not replace the policy gate.
//
// Thread-safety: Evaluate is safe for concurrent use.
type SybilGuard struct {
	minInterval     time.Duration
	duplicateWindow time.Duration
	now             func() time.Time

	mu           sync.Mutex
	lastDispatch map[string]time.Time
	taskLastSeen map[string]time.Time
}

// SybilGuardOption configures a SybilGuard.
type SybilGuardOption func(*SybilGuard)

// WithSybilNow overrides the wall clock for tests.
func WithSybilNow(now func() time.Time) SybilGuardOption {
	return func(g *SybilGuard) {
		g.now = now
	}
}

// NewSybilGuard creates a guard. Zero durations disable the respective
// check.
func NewSybilGuard(minInterval, duplicateWindow time.Duration, opts ...SybilGuardOption) *SybilGuard {
	g := &SybilGuard{
		minInterval:     minInterval,
		duplicateWindow: duplicateWindow,
		now:             time.Now,
		lastDispatch:    make(map[string]time.Time),
		taskLastSeen:    make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Evaluate checks a (node, task payload) dispatch attempt. An allowed
// attempt is recorded; a rejected one is not.
func (g *SybilGuard) Evaluate(nodeID, taskPayload string) Decision {
	d := Decision{Actor: nodeID, Action: "task_execute", Tier: TierLow}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()

	if g.minInterval > 0 {
		if last, ok := g.lastDispatch[nodeID]; ok {
			if elapsed := now.Sub(last); elapsed < g.minInterval {
				d.Reason = "rate limited by anti-sybil guard"
				return d
			}
		}
	}

	// Duplicate suppression is per node: the same task fanning out to
	// many nodes in one round is not a duplicate.
	key := nodeID + "\x00" + taskHash(taskPayload)
	if g.duplicateWindow > 0 {
		if seen, ok := g.taskLastSeen[key]; ok && now.Sub(seen) < g.duplicateWindow {
			d.Reason = "duplicate task inside anti-sybil window"
			return d
		}
	}

	g.lastDispatch[nodeID] = now
	g.taskLastSeen[key] = now
	d.Allowed = true
	d.Reason = "allowed by anti-sybil guard"
	return d
}

func taskHash(payload string) string {
	normalized := strings.ToLower(strings.TrimSpace(payload))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
