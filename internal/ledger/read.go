package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Balance returns the current balance for an account. Accounts that
// have never been credited report zero.
func (s *Store) Balance(ctx context.Context, account string) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx, `
		SELECT balance FROM accounts WHERE account = ?
	`, account).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query balance %s: %w", account, err)
	}
	return balance, nil
}

// AccountBalance pairs an account with its balance.
type AccountBalance struct {
	Account string `json:"account"`
	Balance int64  `json:"balance"`
}

// Balances returns all account balances ordered by account name.
func (s *Store) Balances(ctx context.Context) ([]AccountBalance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account, balance FROM accounts ORDER BY account
	`)
	if err != nil {
		return nil, fmt.Errorf("query balances: %w", err)
	}
	defer rows.Close()

	var out []AccountBalance
	for rows.Next() {
		var ab AccountBalance
		if err := rows.Scan(&ab.Account, &ab.Balance); err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		out = append(out, ab)
	}
	return out, rows.Err()
}

// TotalMinted returns the sum of all account balances. Because every
// credit flows through ApplySettlement, this equals the sum of all
// committed settlement pools.
func (s *Store) TotalMinted(ctx context.Context) (int64, error) {
	var total sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT SUM(balance) FROM accounts
	`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("query total minted: %w", err)
	}
	return total.Int64, nil
}

// Settlement returns the settlement record for a task, or
// sql.ErrNoRows wrapped if none was committed.
func (s *Store) Settlement(ctx context.Context, taskID string) (*SettlementRecord, error) {
	var rec SettlementRecord
	var committedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT task_id, total_amount, node_amount, reserve_amount, ecosystem_amount, unclaimed_amount, snapshot_hash, committed_at
		FROM settlements WHERE task_id = ?
	`, taskID).Scan(&rec.TaskID, &rec.TotalAmount, &rec.NodeAmount, &rec.ReserveAmount, &rec.EcosystemAmount, &rec.UnclaimedAmount, &rec.SnapshotHash, &committedAt)
	if err != nil {
		return nil, fmt.Errorf("query settlement %s: %w", taskID, err)
	}
	rec.CommittedAt, err = time.Parse(time.RFC3339Nano, committedAt)
	if err != nil {
		return nil, fmt.Errorf("parse committed_at for %s: %w", taskID, err)
	}
	return &rec, nil
}

// SettlementCount returns the number of committed settlements.
func (s *Store) SettlementCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM settlements`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count settlements: %w", err)
	}
	return n, nil
}

// Receipts returns all receipts for a task ordered by node id.
func (s *Store) Receipts(ctx context.Context, taskID string) ([]Receipt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT receipt_id, task_id, node_id, amount, nonce, signature, issued_at
		FROM receipts WHERE task_id = ? ORDER BY node_id
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("query receipts %s: %w", taskID, err)
	}
	defer rows.Close()

	var out []Receipt
	for rows.Next() {
		var r Receipt
		var issuedAt string
		if err := rows.Scan(&r.ReceiptID, &r.TaskID, &r.NodeID, &r.Amount, &r.Nonce, &r.Signature, &issuedAt); err != nil {
			return nil, fmt.Errorf("scan receipt: %w", err)
		}
		r.IssuedAt, err = time.Parse(time.RFC3339Nano, issuedAt)
		if err != nil {
			return nil, fmt.Errorf("parse issued_at: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// AllReceiptIDs returns every persisted receipt id in bytewise order.
// Used by the deterministic settlement snapshot.
func (s *Store) AllReceiptIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT receipt_id FROM receipts ORDER BY receipt_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query receipt ids: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan receipt id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// HasReceiptNonce reports whether a receipt with the given signer nonce
// was already persisted for the node.
func (s *Store) HasReceiptNonce(ctx context.Context, nodeID string, nonce uint64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM receipts WHERE node_id = ? AND nonce = ?
	`, nodeID, nonce).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query receipt nonce: %w", err)
	}
	return n > 0, nil
}

// HighestNonce returns the highest nonce across all persisted
// receipts, used to resume the receipt signer after a restart. Returns
// zero on an empty ledger.
func (s *Store) HighestNonce(ctx context.Context) (uint64, error) {
	var nonce sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(nonce) FROM receipts`).Scan(&nonce)
	if err != nil {
		return 0, fmt.Errorf("query highest nonce: %w", err)
	}
	return uint64(nonce.Int64), nil
}

// HighestReceiptNonce returns the highest persisted receipt nonce for a
// node, used to rebuild replay guards after restart. Returns zero when
// the node has no receipts.
func (s *Store) HighestReceiptNonce(ctx context.Context, nodeID string) (uint64, error) {
	var nonce sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(nonce) FROM receipts WHERE node_id = ?
	`, nodeID).Scan(&nonce)
	if err != nil {
		return 0, fmt.Errorf("query highest nonce %s: %w", nodeID, err)
	}
	return uint64(nonce.Int64), nil
}
