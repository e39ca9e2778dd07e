package envelope

import "sync/atomic"

// NonceSource issues strictly monotonic nonces for one signer stream.
//
// Monotonic counters were chosen over random nonces deliberately: the
// replay window collapses to "highest nonce seen per signer", with no
// clock dependency and no unbounded seen-set.
//
// Thread-safety: safe for concurrent use (atomic operations).
type NonceSource struct {
	last atomic.Uint64
}

// NewNonceSource creates a source starting at 0.
// The first call to Next returns 1.
func NewNonceSource() *NonceSource {
	return &NonceSource{}
}

// NewNonceSourceAt creates a source resuming after a known nonce.
// Used when a signer restarts and must not reuse issued nonces.
func NewNonceSourceAt(last uint64) *NonceSource {
	ns := &NonceSource{}
	ns.last.Store(last)
	return ns
}

// Next returns the next nonce. Each call returns a unique, strictly
// increasing value.
func (ns *NonceSource) Next() uint64 {
	return ns.last.Add(1)
}

// Current returns the most recently issued nonce without advancing.
func (ns *NonceSource) Current() uint64 {
	return ns.last.Load()
}

// Advance moves the source forward to at least last, so nonces issued
// before a restart are never reissued. Never moves backward.
func (ns *NonceSource) Advance(last uint64) {
	for {
		cur := ns.last.Load()
		if cur >= last || ns.last.CompareAndSwap(cur, last) {
			return
		}
	}
}
