package settlement

import (
	"context"
	"fmt"

	"github.com/omniswarm/omniswarm/internal/envelope"
	"github.com/omniswarm/omniswarm/internal/ledger"
)

// Snapshot is a deterministic view of the ledger for the claim oracle
// and for dispute recomputation. Two snapshots over the same committed
// state are byte-identical, hash included.
type Snapshot struct {
	Balances    []ledger.AccountBalance `json:"balances"`
	ReceiptIDs  []string                `json:"receipt_ids"`
	TotalMinted int64                   `json:"total_minted"`
	Settlements int64                   `json:"settlements"`
	Hash        string                  `json:"hash"`
}

// Snapshot captures the current ledger state under the settlement
// mutex, so it never interleaves with a half-applied commit.
func (e *Engine) Snapshot(ctx context.Context) (*Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return TakeSnapshot(ctx, e.store)
}

// TakeSnapshot reads a snapshot directly from a ledger store. Callers
// that hold a live settlement engine should prefer Engine.Snapshot,
// which serializes against in-flight commits.
func TakeSnapshot(ctx context.Context, store *ledger.Store) (*Snapshot, error) {
	balances, err := store.Balances(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot balances: %w", err)
	}
	receiptIDs, err := store.AllReceiptIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot receipts: %w", err)
	}
	total, err := store.TotalMinted(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot total: %w", err)
	}
	count, err := store.SettlementCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot settlement count: %w", err)
	}

	snap := &Snapshot{
		Balances:    balances,
		ReceiptIDs:  receiptIDs,
		TotalMinted: total,
		Settlements: count,
	}
	canonical, err := snapshotPayload(snap)
	if err != nil {
		return nil, err
	}
	snap.Hash = envelope.HashWithDomain(envelope.DomainSnapshot, canonical)
	return snap, nil
}

// snapshotPayload is the canonical byte form the snapshot hash covers.
// The hash itself is excluded.
func snapshotPayload(snap *Snapshot) ([]byte, error) {
	balances := make([]any, 0, len(snap.Balances))
	for _, b := range snap.Balances {
		balances = append(balances, map[string]any{
			"account": b.Account,
			"balance": b.Balance,
		})
	}
	receiptIDs := make([]any, 0, len(snap.ReceiptIDs))
	for _, id := range snap.ReceiptIDs {
		receiptIDs = append(receiptIDs, id)
	}

	canonical, err := envelope.MarshalCanonical(map[string]any{
		"balances":     balances,
		"receipt_ids":  receiptIDs,
		"total_minted": snap.TotalMinted,
		"settlements":  snap.Settlements,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return canonical, nil
}
