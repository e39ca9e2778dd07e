// Package settlement converts a combined swarm round into a royalty
// distribution over the token ledger.
//
// The split is fixed: 60% of the round's pool to contributing nodes in
// proportion to their contribution value, 20% to the reserve account,
// 20% to the ecosystem account. All arithmetic is exact over int64
// base units; fractional remainders from proportional division sweep
// into the unclaimed reserve, never dropped and never double counted.
//
// Conservation is checked before anything touches the ledger: the sum
// of receipt amounts plus the reserve, ecosystem, and unclaimed deltas
// must equal the pool exactly, or the settlement aborts with zero
// receipts issued and the ledger unchanged. Every receipt is signed
// through the envelope layer with a fresh monotonic nonce, resumed
// from the ledger on restart; a reused (node, nonce) pair is rejected
// by the ledger's unique index and rolls the whole commit back.
//
// Commits are serialized through one mutex and land as one SQLite
// transaction, so a reader never observes a half-applied settlement.
package settlement
