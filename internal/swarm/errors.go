package swarm

import (
	"errors"
	"fmt"
)

// Terminal round failure reasons.
const (
	ReasonAllNodesDenied    = "all_nodes_denied"
	ReasonZeroContributions = "zero_contributions"
)

// RoundFailedError indicates a round terminated in the failed state.
// Terminal: the round mutated neither evolution fitness nor the ledger.
type RoundFailedError struct {
	TaskID string
	Reason string
}

func (e *RoundFailedError) Error() string {
	return fmt.Sprintf("round for task %s failed: %s", e.TaskID, e.Reason)
}

// IsRoundFailed returns true if the error is a RoundFailedError.
func IsRoundFailed(err error) bool {
	var roundErr *RoundFailedError
	return errors.As(err, &roundErr)
}
