package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omniswarm/omniswarm/internal/telemetry"
)

func newTestGate(t *testing.T) (*Gate, *telemetry.Collector) {
	t.Helper()
	c, err := telemetry.NewCollector("node-test", "")
	require.NoError(t, err)
	return NewGate(MustDefaultRules(), &Switches{}, c, telemetry.NewMetrics()), c
}

func TestGate_DenyByDefault(t *testing.T) {
	g, _ := newTestGate(t)

	d := g.Evaluate("node-a", "format_disk", TierLow)
	assert.False(t, d.Allowed)
	assert.Equal(t, "action not allowlisted", d.Reason)
}

func TestGate_AllowsAllowlistedLowRisk(t *testing.T) {
	g, _ := newTestGate(t)

	for _, action := range []string{
		"swarm_round_create", "task_execute", "p2p_heartbeat",
		"telemetry_emit", "evolution_step", "settlement_commit",
	} {
		d := g.Evaluate("node-a", action, TierLow)
		assert.True(t, d.Allowed, "action %s should be allowed at low tier", action)
	}
}

func TestGate_HighRiskAlwaysDenied(t *testing.T) {
	g, _ := newTestGate(t)

	// Even with medium opt-in enabled, high is a hard deny.
	g.Switches().AllowMediumRisk(true)

	d := g.Evaluate("node-a", "task_execute", TierHigh)
	assert.False(t, d.Allowed)
	assert.Equal(t, "high-risk action blocked in pilot mode", d.Reason)
}

func TestGate_MediumRequiresOptIn(t *testing.T) {
	rules, err := LoadRules(`rules: { api_write: "medium" }`)
	require.NoError(t, err)
	g := NewGate(rules, &Switches{}, nil, nil)

	d := g.Evaluate("node-a", "api_write", TierMedium)
	assert.False(t, d.Allowed)
	assert.Equal(t, "medium-risk action requires operator opt-in", d.Reason)

	// Opt-in takes effect on the next evaluation, no restart needed.
	g.Switches().AllowMediumRisk(true)
	d = g.Evaluate("node-a", "api_write", TierMedium)
	assert.True(t, d.Allowed)
}

func TestGate_MediumTierExceedsLowRule(t *testing.T) {
	g, _ := newTestGate(t)
	g.Switches().AllowMediumRisk(true)

	// task_execute is allowlisted at low only.
	d := g.Evaluate("node-a", "task_execute", TierMedium)
	assert.False(t, d.Allowed)
	assert.Equal(t, "risk tier exceeds allow rule", d.Reason)
}

func TestGate_KillSwitchDeniesEverything(t *testing.T) {
	g, _ := newTestGate(t)
	g.Switches().EngageKillSwitch()

	for _, action := range []string{"swarm_round_create", "task_execute", "settlement_commit"} {
		d := g.Evaluate("node-a", action, TierLow)
		assert.False(t, d.Allowed, "kill switch must deny %s", action)
		assert.Equal(t, "kill switch engaged", d.Reason)
	}

	// Release takes effect immediately.
	g.Switches().ReleaseKillSwitch()
	assert.True(t, g.Evaluate("node-a", "task_execute", TierLow).Allowed)
}

func TestGate_EveryDecisionReachesTelemetry(t *testing.T) {
	g, c := newTestGate(t)

	g.Evaluate("node-a", "task_execute", TierLow)   // allow
	g.Evaluate("node-b", "format_disk", TierLow)    // deny
	g.Evaluate("node-c", "task_execute", TierHigh)  // deny

	events := c.Events("policy_decision", 0)
	require.Len(t, events, 3, "allows are audited too")
	assert.Equal(t, "allow", events[0].Outcome)
	assert.Equal(t, "deny", events[1].Outcome)
	assert.Equal(t, "deny", events[2].Outcome)
	assert.Equal(t, "high-risk action blocked in pilot mode", events[2].Reason)
}

func TestCompileRules_RejectsHighAllowlist(t *testing.T) {
	_, err := LoadRules(`rules: { wipe_disk: "high" }`)
	require.Error(t, err)
}

func TestCompileRules_RejectsUnknownTier(t *testing.T) {
	_, err := LoadRules(`rules: { task_execute: "extreme" }`)
	require.Error(t, err)
}

func TestCompileRules_RequiresRulesStruct(t *testing.T) {
	_, err := LoadRules(`other: {}`)
	require.Error(t, err)
}

func TestDenied_Conversion(t *testing.T) {
	g, _ := newTestGate(t)

	err := Denied(g.Evaluate("node-a", "task_execute", TierLow))
	assert.NoError(t, err)

	err = Denied(g.Evaluate("node-a", "format_disk", TierLow))
	require.Error(t, err)
	assert.True(t, IsPolicyDenied(err))
}

func TestSybilGuard_RateLimit(t *testing.T) {
	now := time.Unix(1000, 0)
	g := NewSybilGuard(10*time.Second, 0, WithSybilNow(func() time.Time { return now }))

	assert.True(t, g.Evaluate("node-a", "task one").Allowed)

	now = now.Add(5 * time.Second)
	d := g.Evaluate("node-a", "task two")
	assert.False(t, d.Allowed)
	assert.Equal(t, "rate limited by anti-sybil guard", d.Reason)

	now = now.Add(6 * time.Second)
	assert.True(t, g.Evaluate("node-a", "task three").Allowed)
}

func TestSybilGuard_DuplicateWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	g := NewSybilGuard(0, time.Minute, WithSybilNow(func() time.Time { return now }))

	assert.True(t, g.Evaluate("node-a", "Explore The Graph").Allowed)

	// Same payload modulo case/whitespace, same node: a dupe.
	d := g.Evaluate("node-a", "  explore the graph ")
	assert.False(t, d.Allowed)
	assert.Equal(t, "duplicate task inside anti-sybil window", d.Reason)

	// A different node asked the same task is not a dupe. One task
	// fans out to every member node per round.
	assert.True(t, g.Evaluate("node-b", "explore the graph").Allowed)

	now = now.Add(2 * time.Minute)
	assert.True(t, g.Evaluate("node-a", "explore the graph").Allowed)
}
