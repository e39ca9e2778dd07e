// Package discovery maintains the set of alive peers via signed
// heartbeats over a pluggable transport.
//
// Per-peer state machine: unknown -> alive -> stale -> dead. A verified,
// non-replayed heartbeat refreshes the peer to alive; silence degrades
// it on a schedule derived from the heartbeat interval. Dead peers are
// evicted.
//
// Two transports implement the broadcast capability: GossipTransport
// (libp2p gossipsub, network-dependent, eventually consistent) and
// LocalBus (in-process, synchronous, used when the network backend is
// unavailable or explicitly selected).
//
// Reads never block: AlivePeers is an in-memory snapshot, so the
// orchestrator is never stalled by discovery.
package discovery
