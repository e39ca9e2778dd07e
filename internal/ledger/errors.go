package ledger

import (
	"errors"
	"fmt"
)

// DuplicateSettlementError indicates a settlement was already committed
// for the task. Settlements are keyed by task id, so a retried commit
// is rejected rather than double-crediting balances.
type DuplicateSettlementError struct {
	TaskID string
}

func (e *DuplicateSettlementError) Error() string {
	return fmt.Sprintf("settlement already committed for task %s", e.TaskID)
}

// DuplicateReceiptError indicates a receipt reused a signer nonce that
// was already persisted for the node.
type DuplicateReceiptError struct {
	NodeID string
	Nonce  uint64
}

func (e *DuplicateReceiptError) Error() string {
	return fmt.Sprintf("receipt nonce %d already persisted for node %s", e.Nonce, e.NodeID)
}

// IsDuplicateSettlement returns true if the error is a DuplicateSettlementError.
func IsDuplicateSettlement(err error) bool {
	var dupErr *DuplicateSettlementError
	return errors.As(err, &dupErr)
}

// IsDuplicateReceipt returns true if the error is a DuplicateReceiptError.
func IsDuplicateReceipt(err error) bool {
	var dupErr *DuplicateReceiptError
	return errors.As(err, &dupErr)
}
