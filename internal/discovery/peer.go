package discovery

import (
	"sort"
	"sync"
	"time"

	"github.com/omniswarm/omniswarm/internal/telemetry"
)

// PeerState is the derived liveness of a peer.
type PeerState int

const (
	// StateUnknown means no verified heartbeat has been seen yet.
	StateUnknown PeerState = iota
	// StateAlive means a heartbeat arrived within interval*missedThreshold.
	StateAlive
	// StateStale means the peer missed its threshold but is not yet dead.
	StateStale
	// StateDead means the peer passed the dead timeout and is eligible
	// for eviction.
	StateDead
)

// String returns the log spelling of the state.
func (s PeerState) String() string {
	switch s {
	case StateAlive:
		return "alive"
	case StateStale:
		return "stale"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// PeerRecord is one peer's discovery state. Owned exclusively by the
// Table; mutated only by heartbeat ingestion.
type PeerRecord struct {
	NodeID   string
	Addr     string
	LastSeen time.Time
	Verified bool
}

// PeerInfo is the read-only view handed to callers.
type PeerInfo struct {
	NodeID   string
	Addr     string
	LastSeen time.Time
	State    PeerState
}

// DefaultMissedThreshold is how many heartbeat intervals a peer may
// miss before going stale.
const DefaultMissedThreshold = 3

// Table tracks peers and derives their liveness from heartbeat age.
//
// Thread-safety: all methods are safe for concurrent use. Per-peer
// updates are independent; there is no cross-peer coordination.
type Table struct {
	interval        time.Duration
	missedThreshold int
	deadAfter       time.Duration
	now             func() time.Time
	metrics         *telemetry.Metrics

	mu    sync.RWMutex
	peers map[string]*PeerRecord
}

// TableOption configures a Table.
type TableOption func(*Table)

// WithTableNow overrides the wall clock for tests.
func WithTableNow(now func() time.Time) TableOption {
	return func(t *Table) {
		t.now = now
	}
}

// WithMissedThreshold sets how many intervals a peer may miss before
// going stale.
func WithMissedThreshold(n int) TableOption {
	return func(t *Table) {
		t.missedThreshold = n
	}
}

// WithMetrics wires the alive-peer gauge.
func WithMetrics(m *telemetry.Metrics) TableOption {
	return func(t *Table) {
		t.metrics = m
	}
}

// NewTable creates a peer table. interval is the expected heartbeat
// cadence; a peer is stale after interval*missedThreshold and dead
// after twice that.
func NewTable(interval time.Duration, opts ...TableOption) *Table {
	t := &Table{
		interval:        interval,
		missedThreshold: DefaultMissedThreshold,
		now:             time.Now,
		peers:           make(map[string]*PeerRecord),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.deadAfter = 2 * t.staleAfter()
	return t
}

func (t *Table) staleAfter() time.Duration {
	return t.interval * time.Duration(t.missedThreshold)
}

// Touch refreshes a peer to alive from a verified heartbeat.
func (t *Table) Touch(nodeID, addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.peers[nodeID]
	if !ok {
		rec = &PeerRecord{NodeID: nodeID}
		t.peers[nodeID] = rec
	}
	rec.Addr = addr
	rec.LastSeen = t.now()
	rec.Verified = true
}

func (t *Table) stateOf(rec *PeerRecord, now time.Time) PeerState {
	if !rec.Verified {
		return StateUnknown
	}
	age := now.Sub(rec.LastSeen)
	switch {
	case age < t.staleAfter():
		return StateAlive
	case age < t.deadAfter:
		return StateStale
	default:
		return StateDead
	}
}

// AlivePeers returns the sorted IDs of peers currently alive.
// Non-blocking, in-memory; the orchestrator calls this per round.
func (t *Table) AlivePeers() []string {
	t.mu.RLock()
	now := t.now()
	alive := make([]string, 0, len(t.peers))
	for id, rec := range t.peers {
		if t.stateOf(rec, now) == StateAlive {
			alive = append(alive, id)
		}
	}
	t.mu.RUnlock()

	sort.Strings(alive)
	if t.metrics != nil {
		t.metrics.AlivePeers.Set(float64(len(alive)))
	}
	return alive
}

// Snapshot returns the full table view, sorted by node ID.
func (t *Table) Snapshot() []PeerInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := t.now()
	infos := make([]PeerInfo, 0, len(t.peers))
	for _, rec := range t.peers {
		infos = append(infos, PeerInfo{
			NodeID:   rec.NodeID,
			Addr:     rec.Addr,
			LastSeen: rec.LastSeen,
			State:    t.stateOf(rec, now),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].NodeID < infos[j].NodeID })
	return infos
}

// State returns the derived state for one peer.
func (t *Table) State(nodeID string) PeerState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, ok := t.peers[nodeID]
	if !ok {
		return StateUnknown
	}
	return t.stateOf(rec, t.now())
}

// Prune evicts dead peers and returns their IDs.
func (t *Table) Prune() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	var evicted []string
	for id, rec := range t.peers {
		if t.stateOf(rec, now) == StateDead {
			delete(t.peers, id)
			evicted = append(evicted, id)
		}
	}
	sort.Strings(evicted)
	return evicted
}

// Len returns the number of tracked peers, dead or alive.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.peers)
}
