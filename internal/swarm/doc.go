// Package swarm drives one task across a fixed set of nodes and folds
// the per-node contributions into a single deterministic result.
//
// A round moves pending -> collecting -> combined -> settled, or to
// failed from any non-terminal state. Membership is the alive-peer
// snapshot taken at round start; a node joining mid-round does not
// retroactively join. Every node dispatch passes the policy gate
// first, and a denied node stays in the membership denominator so the
// contributed/total report reflects who was asked, not who answered.
//
// Combination is an int64 sum over the contribution set, so the
// combined value is invariant under any permutation of arrival order.
// Node completion order is never guaranteed and never matters.
package swarm
