package policy

import (
	"log/slog"
	"sync/atomic"

	"github.com/omniswarm/omniswarm/internal/telemetry"
)

// Decision is the outcome of one gate evaluation. Ephemeral: it is
// logged to telemetry and returned to the caller, never persisted as
// mutable state.
type Decision struct {
	Actor   string
	Action  string
	Tier    RiskTier
	Allowed bool
	Reason  string
}

// Switches are the operator controls read at decision time, not cached
// at startup - a runtime flip takes effect on the next evaluation.
type Switches struct {
	kill        atomic.Bool
	mediumOptIn atomic.Bool
}

// EngageKillSwitch forces deny for every subsequent evaluation.
func (s *Switches) EngageKillSwitch() { s.kill.Store(true) }

// ReleaseKillSwitch restores normal evaluation.
func (s *Switches) ReleaseKillSwitch() { s.kill.Store(false) }

// KillSwitchEngaged reports the current kill switch state.
func (s *Switches) KillSwitchEngaged() bool { return s.kill.Load() }

// AllowMediumRisk sets the medium-risk opt-in flag.
func (s *Switches) AllowMediumRisk(v bool) { s.mediumOptIn.Store(v) }

// MediumRiskAllowed reports the current opt-in state.
func (s *Switches) MediumRiskAllowed() bool { return s.mediumOptIn.Load() }

// Gate is the deny-by-default authorization point.
//
// Thread-safety: Evaluate is safe for concurrent use; the rule set is
// immutable after construction and the switches are atomic.
type Gate struct {
	rules     RuleSet
	switches  *Switches
	collector *telemetry.Collector
	metrics   *telemetry.Metrics
}

// NewGate creates a gate over the given rule set and switches.
// collector and metrics may be nil (tests); decisions are then only
// returned, not recorded.
func NewGate(rules RuleSet, switches *Switches, collector *telemetry.Collector, metrics *telemetry.Metrics) *Gate {
	if switches == nil {
		switches = &Switches{}
	}
	return &Gate{
		rules:     rules,
		switches:  switches,
		collector: collector,
		metrics:   metrics,
	}
}

// Switches returns the gate's operator controls.
func (g *Gate) Switches() *Switches {
	return g.switches
}

// Evaluate decides whether actor may perform action at the given risk
// tier. Default is deny: an action passes only when an explicit allow
// rule covers its tier.
//
// Every decision, allows included, is appended to telemetry - this is
// the audit trail consumed by dispute resolution.
func (g *Gate) Evaluate(actor, action string, tier RiskTier) Decision {
	d := g.decide(actor, action, tier)
	g.record(d)
	return d
}

func (g *Gate) decide(actor, action string, tier RiskTier) Decision {
	d := Decision{Actor: actor, Action: action, Tier: tier}

	// Kill switch short-circuits everything, including round creation
	// and settlement commit.
	if g.switches.KillSwitchEngaged() {
		d.Reason = "kill switch engaged"
		return d
	}

	// High risk is hard-denied in pilot mode, flags notwithstanding.
	if tier == TierHigh {
		d.Reason = "high-risk action blocked in pilot mode"
		return d
	}

	maxTier, ok := g.rules[action]
	if !ok {
		d.Reason = "action not allowlisted"
		return d
	}
	if tier > maxTier {
		d.Reason = "risk tier exceeds allow rule"
		return d
	}

	if tier == TierMedium && !g.switches.MediumRiskAllowed() {
		d.Reason = "medium-risk action requires operator opt-in"
		return d
	}

	d.Allowed = true
	d.Reason = "allowed by policy"
	return d
}

func (g *Gate) record(d Decision) {
	outcome := "deny"
	if d.Allowed {
		outcome = "allow"
	} else {
		if g.metrics != nil {
			g.metrics.PolicyBlocks.Inc()
		}
		slog.Debug("policy denied",
			"actor", d.Actor,
			"action", d.Action,
			"risk_tier", d.Tier.String(),
			"reason", d.Reason,
		)
	}
	if g.collector != nil {
		g.collector.Decision("policy_decision", d.Actor, d.Action, outcome, d.Reason)
	}
}
