package discovery

import (
	"sort"
	"sync"
	"time"
)

// RendezvousRecord is one registered node in the rendezvous registry.
type RendezvousRecord struct {
	NodeID   string
	Addr     string
	LastSeen time.Time
}

// Rendezvous is a TTL registry for NAT-friendly peer bootstrapping:
// nodes register their dialable addresses, joiners fetch a recent
// subset to seed gossip connections.
//
// Thread-safety: all methods are safe for concurrent use.
type Rendezvous struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	records map[string]*RendezvousRecord
}

// RendezvousOption configures a Rendezvous.
type RendezvousOption func(*Rendezvous)

// WithRendezvousNow overrides the wall clock for tests.
func WithRendezvousNow(now func() time.Time) RendezvousOption {
	return func(r *Rendezvous) {
		r.now = now
	}
}

// NewRendezvous creates a registry whose entries expire after ttl.
func NewRendezvous(ttl time.Duration, opts ...RendezvousOption) *Rendezvous {
	r := &Rendezvous{
		ttl:     ttl,
		now:     time.Now,
		records: make(map[string]*RendezvousRecord),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds or refreshes a node's entry.
func (r *Rendezvous) Register(nodeID, addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[nodeID]
	if !ok {
		rec = &RendezvousRecord{NodeID: nodeID}
		r.records[nodeID] = rec
	}
	rec.Addr = addr
	rec.LastSeen = r.now()
}

// Peers returns up to limit fresh records, newest first, excluding the
// given node. Stale records are swept first.
func (r *Rendezvous) Peers(excludeNodeID string, limit int) []RendezvousRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sweepLocked()

	out := make([]RendezvousRecord, 0, len(r.records))
	for _, rec := range r.records {
		if rec.NodeID == excludeNodeID {
			continue
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeen.After(out[j].LastSeen) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Size returns the number of fresh records.
func (r *Rendezvous) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked()
	return len(r.records)
}

func (r *Rendezvous) sweepLocked() {
	threshold := r.now().Add(-r.ttl)
	for id, rec := range r.records {
		if rec.LastSeen.Before(threshold) {
			delete(r.records, id)
		}
	}
}
