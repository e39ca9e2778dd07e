// Package policy implements the deny-by-default action gate.
//
// Every mutating path in the node - task dispatch, round creation,
// settlement commit - is forced through Gate.Evaluate. An action is
// allowed only if it matches an explicit allow rule for its risk tier;
// high-risk actions are hard-denied in pilot mode regardless of flags,
// and the global kill switch forces deny for everything.
//
// Allow rules are CUE values compiled into a RuleSet so the allowlist
// is data, not branching logic scattered across callers.
package policy
