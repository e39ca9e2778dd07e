package policy

import (
	"errors"
	"fmt"
)

// DeniedError is returned by callers that convert a deny Decision into
// an error (e.g. the settlement engine refusing to commit).
// Non-fatal, per-action: it is logged, counted, and absorbed.
type DeniedError struct {
	Actor  string
	Action string
	Tier   RiskTier
	Reason string
}

// Error implements the error interface.
func (e *DeniedError) Error() string {
	return fmt.Sprintf("POLICY_DENIED: %s (actor=%s, action=%s, tier=%s)",
		e.Reason, e.Actor, e.Action, e.Tier)
}

// Denied converts a Decision into an error: nil for allows,
// DeniedError otherwise.
func Denied(d Decision) error {
	if d.Allowed {
		return nil
	}
	return &DeniedError{Actor: d.Actor, Action: d.Action, Tier: d.Tier, Reason: d.Reason}
}

// IsPolicyDenied returns true if the error is a policy denial.
// Uses errors.As to handle wrapped errors.
func IsPolicyDenied(err error) bool {
	var de *DeniedError
	return errors.As(err, &de)
}
