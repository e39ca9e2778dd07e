package policy

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// RuleSet maps an action name to the highest risk tier an explicit
// allow rule covers. Absence means deny - there is no wildcard.
type RuleSet map[string]RiskTier

// DefaultRules is the pilot allowlist. Everything here is TierLow: the
// pilot cohort only runs local simulation work, heartbeats, and
// settlement over the local ledger.
const DefaultRules = `
rules: {
	swarm_round_create: "low"
	task_execute:       "low"
	p2p_heartbeat:      "low"
	telemetry_emit:     "low"
	evolution_step:     "low"
	settlement_commit:  "low"
	read_result:        "low"
}
`

// CompileRules parses a CUE value into a RuleSet.
// Uses the CUE SDK's Go API directly (not CLI subprocess).
//
// The value must contain a "rules" struct mapping action names to tier
// strings:
//
//	rules: { task_execute: "low", api_write: "medium" }
func CompileRules(v cue.Value) (RuleSet, error) {
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("invalid rules value: %w", err)
	}

	rulesVal := v.LookupPath(cue.ParsePath("rules"))
	if !rulesVal.Exists() {
		return nil, fmt.Errorf("rules struct is required")
	}

	iter, err := rulesVal.Fields()
	if err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}

	rs := make(RuleSet)
	for iter.Next() {
		action := iter.Selector().String()
		tierStr, err := iter.Value().String()
		if err != nil {
			return nil, fmt.Errorf("rule %s: tier must be a string: %w", action, err)
		}
		tier, err := ParseTier(tierStr)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", action, err)
		}
		if tier == TierHigh {
			// A rule cannot open the high tier; reject the config rather
			// than silently capping it.
			return nil, fmt.Errorf("rule %s: high-risk actions cannot be allowlisted in pilot mode", action)
		}
		rs[action] = tier
	}
	return rs, nil
}

// LoadRules compiles a CUE source string into a RuleSet.
func LoadRules(src string) (RuleSet, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src)
	return CompileRules(v)
}

// LoadRulesFile compiles a CUE rules file into a RuleSet.
func LoadRulesFile(path string) (RuleSet, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	rs, err := LoadRules(string(src))
	if err != nil {
		return nil, fmt.Errorf("rules file %s: %w", path, err)
	}
	return rs, nil
}

// MustDefaultRules returns the compiled pilot allowlist.
// Panics only on a broken embedded constant, which is a build defect.
func MustDefaultRules() RuleSet {
	rs, err := LoadRules(DefaultRules)
	if err != nil {
		panic(fmt.Sprintf("policy: default rules failed to compile: %v", err))
	}
	return rs
}
