package settlement

import (
	"errors"
	"fmt"
)

// ConservationError indicates a settlement attempt whose accounting
// did not sum back to the pool. Fatal for the attempt: nothing was
// written and no receipts exist. Never silently corrected.
type ConservationError struct {
	TaskID    string
	Pool      int64
	Accounted int64
}

func (e *ConservationError) Error() string {
	return fmt.Sprintf(
		"conservation violation for task %s: pool %d, accounted %d (delta %d)",
		e.TaskID, e.Pool, e.Accounted, e.Accounted-e.Pool,
	)
}

// IsConservationViolation returns true if the error is a ConservationError.
func IsConservationViolation(err error) bool {
	var consErr *ConservationError
	return errors.As(err, &consErr)
}
