package policy

import "fmt"

// RiskTier classifies how much damage an action could do.
//
// Ordering matters: a rule permitting TierMedium also permits TierLow.
// TierHigh is never permitted in pilot mode, rule or no rule.
type RiskTier int

const (
	// TierLow covers local simulation tasks, signed heartbeats, and
	// telemetry writes.
	TierLow RiskTier = iota
	// TierMedium covers actions with external side effects; requires the
	// operator's runtime opt-in.
	TierMedium
	// TierHigh is hard-denied in pilot mode.
	TierHigh
)

// String returns the wire/config spelling of the tier.
func (t RiskTier) String() string {
	switch t {
	case TierLow:
		return "low"
	case TierMedium:
		return "medium"
	case TierHigh:
		return "high"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// ParseTier parses the config spelling of a risk tier.
func ParseTier(s string) (RiskTier, error) {
	switch s {
	case "low":
		return TierLow, nil
	case "medium":
		return TierMedium, nil
	case "high":
		return TierHigh, nil
	default:
		return TierLow, fmt.Errorf("unknown risk tier %q (want low|medium|high)", s)
	}
}
