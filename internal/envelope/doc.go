// Package envelope implements the signing and replay-protection layer
// for omniswarm wire messages.
//
// Every message that crosses a node boundary (heartbeats, receipts)
// travels inside an Envelope: payload bytes plus a per-signer monotonic
// nonce and an ed25519 signature over a domain-separated digest.
//
// Replay protection is per logical stream: heartbeats and receipts each
// get their own ReplayGuard, so a nonce accepted on one stream can never
// suppress a message on another.
//
// Canonical JSON (MarshalCanonical) is the only serialization used for
// content-addressed identity. It forbids floats and nulls and NFC
// normalizes strings, so recomputed hashes are byte-stable across
// processes and replays.
package envelope
