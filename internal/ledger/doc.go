// Package ledger provides durable storage for token balances, payout
// receipts, and committed settlements.
//
// Uses SQLite with WAL mode and a single-writer connection. All
// mutation goes through ApplySettlement, which writes balances,
// receipts, and the settlement record in one transaction - either the
// whole settlement lands or none of it does. Receipts are append-only
// and protected by a UNIQUE(node_id, nonce) index, so a replayed
// receipt nonce is rejected at the storage layer as the last line of
// defense.
package ledger
