package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// SettlementRecord captures the accounting of one committed settlement.
// All amounts are in base token units and must satisfy
// TotalAmount == NodeAmount + ReserveAmount + EcosystemAmount + UnclaimedAmount.
type SettlementRecord struct {
	TaskID          string
	TotalAmount     int64
	NodeAmount      int64
	ReserveAmount   int64
	EcosystemAmount int64
	UnclaimedAmount int64
	SnapshotHash    string
	CommittedAt     time.Time
}

// Credit is a single balance adjustment applied during settlement.
type Credit struct {
	Account string
	Amount  int64
}

// Receipt is a signed payout record persisted alongside the settlement
// that produced it.
type Receipt struct {
	ReceiptID string
	TaskID    string
	NodeID    string
	Amount    int64
	Nonce     uint64
	Signature []byte
	IssuedAt  time.Time
}

// ApplySettlement persists a settlement, its balance credits, and its
// signed receipts in a single transaction. Either everything commits or
// nothing does.
//
// A settlement with a task_id already present in the settlements table
// is rejected with DuplicateSettlementError. A receipt whose (node_id,
// nonce) pair was already stored is rejected with DuplicateReceiptError.
// In both cases no balances change.
func (s *Store) ApplySettlement(ctx context.Context, rec SettlementRecord, credits []Credit, receipts []Receipt) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin settlement tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO settlements (task_id, total_amount, node_amount, reserve_amount, ecosystem_amount, unclaimed_amount, snapshot_hash, committed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.TaskID, rec.TotalAmount, rec.NodeAmount, rec.ReserveAmount, rec.EcosystemAmount, rec.UnclaimedAmount, rec.SnapshotHash, rec.CommittedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		if isUniqueViolation(err) {
			return &DuplicateSettlementError{TaskID: rec.TaskID}
		}
		return fmt.Errorf("insert settlement %s: %w", rec.TaskID, err)
	}

	for _, c := range credits {
		if err := creditAccount(ctx, tx, c.Account, c.Amount); err != nil {
			return err
		}
	}

	for _, r := range receipts {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO receipts (receipt_id, task_id, node_id, amount, nonce, signature, issued_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, r.ReceiptID, r.TaskID, r.NodeID, r.Amount, r.Nonce, r.Signature, r.IssuedAt.UTC().Format(time.RFC3339Nano))
		if err != nil {
			if isUniqueViolation(err) {
				return &DuplicateReceiptError{NodeID: r.NodeID, Nonce: r.Nonce}
			}
			return fmt.Errorf("insert receipt %s: %w", r.ReceiptID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit settlement %s: %w", rec.TaskID, err)
	}
	return nil
}

// creditAccount adds amount to an account balance, creating the row if
// it does not exist yet.
func creditAccount(ctx context.Context, tx *sql.Tx, account string, amount int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO accounts (account, balance) VALUES (?, ?)
		ON CONFLICT(account) DO UPDATE SET balance = balance + excluded.balance
	`, account, amount)
	if err != nil {
		return fmt.Errorf("credit account %s: %w", account, err)
	}
	return nil
}

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint
// failure. Matched on the error text so callers don't depend on driver
// error types.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
