package envelope

import (
	"sync"
)

// ReplayGuard tracks the highest accepted nonce per signer for one
// logical stream.
//
// An envelope whose nonce is not strictly greater than the last
// accepted nonce for its signer is rejected as a replay REGARDLESS of
// signature validity. Because nonces are monotonic counters, keeping
// only the highest value per signer is a complete replay window: the
// state is bounded at O(signers).
//
// Heartbeats and receipts use separate guards - a nonce accepted on one
// stream never affects the other.
//
// Thread-safety: all methods are safe for concurrent use.
type ReplayGuard struct {
	stream string

	mu   sync.Mutex
	last map[string]uint64

	rejections uint64
}

// NewReplayGuard creates a guard for the named stream.
// The stream name appears in rejection errors for diagnostics.
func NewReplayGuard(stream string) *ReplayGuard {
	return &ReplayGuard{
		stream: stream,
		last:   make(map[string]uint64),
	}
}

// Accept records (signer, nonce) if the nonce advances the signer's
// window. Returns ReplayError if the pair was already covered.
func (g *ReplayGuard) Accept(signerID string, nonce uint64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if nonce <= g.last[signerID] {
		g.rejections++
		return &ReplayError{
			Stream:   g.stream,
			SignerID: signerID,
			Nonce:    nonce,
			LastSeen: g.last[signerID],
		}
	}
	g.last[signerID] = nonce
	return nil
}

// Seen reports whether a (signer, nonce) pair would be rejected,
// without mutating the window. Used by read-only consumers.
func (g *ReplayGuard) Seen(signerID string, nonce uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return nonce <= g.last[signerID]
}

// Rejections returns the number of replays rejected so far.
func (g *ReplayGuard) Rejections() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rejections
}

// Forget drops a signer's window, e.g. when a peer is evicted.
func (g *ReplayGuard) Forget(signerID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.last, signerID)
}
