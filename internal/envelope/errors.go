package envelope

import (
	"errors"
	"fmt"
)

// SignatureError indicates an envelope failed signature or identity
// verification. Non-fatal per-envelope: callers discard the envelope
// and count the failure.
type SignatureError struct {
	SignerID string
	Reason   string
}

// Error implements the error interface.
func (e *SignatureError) Error() string {
	return fmt.Sprintf("SIGNATURE_INVALID: %s (signer=%s)", e.Reason, e.SignerID)
}

// ReplayError indicates a (signer, nonce) pair was already accepted on
// a stream. Non-fatal per-envelope: callers discard the envelope and
// count the rejection.
type ReplayError struct {
	Stream   string
	SignerID string
	Nonce    uint64
	LastSeen uint64
}

// Error implements the error interface.
func (e *ReplayError) Error() string {
	return fmt.Sprintf("REPLAY_REJECTED: nonce %d <= last accepted %d (stream=%s, signer=%s)",
		e.Nonce, e.LastSeen, e.Stream, e.SignerID)
}

// IsSignatureInvalid returns true if the error is a signature failure.
// Uses errors.As to handle wrapped errors.
func IsSignatureInvalid(err error) bool {
	var se *SignatureError
	return errors.As(err, &se)
}

// IsReplayRejected returns true if the error is a replay rejection.
// Uses errors.As to handle wrapped errors.
func IsReplayRejected(err error) bool {
	var re *ReplayError
	return errors.As(err, &re)
}
