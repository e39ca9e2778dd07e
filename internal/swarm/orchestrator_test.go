package swarm

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omniswarm/omniswarm/internal/discovery"
	"github.com/omniswarm/omniswarm/internal/policy"
)

// stubExecutor returns canned per-node values or errors. A node absent
// from both maps blocks until the context expires.
type stubExecutor struct {
	values map[string]int64
	errs   map[string]error
}

func (e *stubExecutor) Execute(ctx context.Context, task Task, nodeID string) (Contribution, error) {
	if err, ok := e.errs[nodeID]; ok {
		return Contribution{}, err
	}
	if v, ok := e.values[nodeID]; ok {
		return Contribution{TaskID: task.ID, NodeID: nodeID, Value: v, Timestamp: time.Unix(0, 0)}, nil
	}
	<-ctx.Done()
	return Contribution{}, ctx.Err()
}

type fakeEvolver struct {
	mu         sync.Mutex
	generation uint64
	updates    int
	failures   int
}

func (e *fakeEvolver) Update(result *RoundResult) (uint64, float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.updates++
	e.generation++
	return e.generation, 0.5
}

func (e *fakeEvolver) RecordFailure(result *RoundResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures++
}

type fakeSettler struct {
	mu      sync.Mutex
	settled []string
	err     error
}

func (s *fakeSettler) Settle(ctx context.Context, result *RoundResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.settled = append(s.settled, result.TaskID)
	return nil
}

func aliveTable(t *testing.T, nodes ...string) *discovery.Table {
	t.Helper()
	now := time.Unix(5000, 0)
	table := discovery.NewTable(30*time.Second, discovery.WithTableNow(func() time.Time { return now }))
	for _, n := range nodes {
		table.Touch(n, "")
	}
	return table
}

func newTestGate() *policy.Gate {
	return policy.NewGate(policy.MustDefaultRules(), &policy.Switches{}, nil, nil)
}

func TestRunRoundAllContribute(t *testing.T) {
	gate := newTestGate()
	table := aliveTable(t, "node-a", "node-b", "node-c")
	exec := &stubExecutor{values: map[string]int64{"node-a": 10, "node-b": 20, "node-c": 30}}
	evolver := &fakeEvolver{}
	settler := &fakeSettler{}

	o := NewOrchestrator("node-a", gate, table, exec,
		WithEvolver(evolver),
		WithSettler(settler),
	)

	task := NewTask("explore", policy.TierLow, 1000)
	result, err := o.RunRound(context.Background(), task)
	require.NoError(t, err)

	assert.Equal(t, StateSettled, result.State)
	assert.Equal(t, 3, result.Contributed)
	assert.Equal(t, 3, result.Total)
	assert.Equal(t, int64(60), result.Combined)
	assert.Equal(t, uint64(1), result.Generation)
	assert.Equal(t, []string{task.ID}, settler.settled)
	assert.Equal(t, 1, evolver.updates)
	for _, n := range []string{"node-a", "node-b", "node-c"} {
		assert.Equal(t, OutcomeContributed, result.Outcomes[n])
	}
}

func TestCombineIsOrderIndependent(t *testing.T) {
	base := []Contribution{
		{NodeID: "a", Value: 7},
		{NodeID: "b", Value: 13},
		{NodeID: "c", Value: 101},
		{NodeID: "d", Value: 1},
	}
	want := Combine(base)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		shuffled := make([]Contribution, len(base))
		copy(shuffled, base)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		assert.Equal(t, want, Combine(shuffled))
	}
}

func TestRunRoundDeniedNodeStaysInTotal(t *testing.T) {
	gate := newTestGate()
	table := aliveTable(t, "node-a", "node-b", "node-c")
	exec := &stubExecutor{values: map[string]int64{"node-a": 10, "node-b": 20, "node-c": 30}}

	// Pre-dispatch to node-b so the guard's rate limit denies it
	// inside the round.
	now := time.Unix(9000, 0)
	sybil := policy.NewSybilGuard(time.Minute, 0, policy.WithSybilNow(func() time.Time { return now }))
	sybil.Evaluate("node-b", "warmup")

	o := NewOrchestrator("node-a", gate, table, exec,
		WithEvolver(&fakeEvolver{}),
		WithSettler(&fakeSettler{}),
		WithSybilGuard(sybil),
	)

	result, err := o.RunRound(context.Background(), NewTask("explore", policy.TierLow, 1000))
	require.NoError(t, err)

	assert.Equal(t, 2, result.Contributed)
	assert.Equal(t, 3, result.Total)
	assert.Equal(t, int64(40), result.Combined)
	assert.Equal(t, OutcomeDenied, result.Outcomes["node-b"])
}

func TestRunRoundAllNodesDenied(t *testing.T) {
	gate := newTestGate()
	table := aliveTable(t, "node-a", "node-b")
	exec := &stubExecutor{values: map[string]int64{"node-a": 10, "node-b": 20}}
	evolver := &fakeEvolver{}
	settler := &fakeSettler{}

	o := NewOrchestrator("node-a", gate, table, exec,
		WithEvolver(evolver),
		WithSettler(settler),
	)

	// Medium tier without the operator opt-in denies every node.
	result, err := o.RunRound(context.Background(), NewTask("explore", policy.TierMedium, 1000))
	require.Error(t, err)
	assert.True(t, IsRoundFailed(err))

	var roundErr *RoundFailedError
	require.ErrorAs(t, err, &roundErr)
	assert.Equal(t, ReasonAllNodesDenied, roundErr.Reason)

	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, 0, result.Contributed)
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 0, evolver.updates)
	assert.Equal(t, 1, evolver.failures)
	assert.Empty(t, settler.settled)
}

func TestRunRoundZeroContributions(t *testing.T) {
	gate := newTestGate()
	table := aliveTable(t, "node-a", "node-b")
	exec := &stubExecutor{errs: map[string]error{
		"node-a": errors.New("sandbox crashed"),
		"node-b": errors.New("sandbox crashed"),
	}}
	evolver := &fakeEvolver{}
	settler := &fakeSettler{}

	o := NewOrchestrator("node-a", gate, table, exec,
		WithEvolver(evolver),
		WithSettler(settler),
	)

	result, err := o.RunRound(context.Background(), NewTask("explore", policy.TierLow, 1000))
	require.Error(t, err)

	var roundErr *RoundFailedError
	require.ErrorAs(t, err, &roundErr)
	assert.Equal(t, ReasonZeroContributions, roundErr.Reason)

	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, OutcomeErrored, result.Outcomes["node-a"])
	assert.Equal(t, 0, evolver.updates)
	assert.Equal(t, 1, evolver.failures)
	assert.Empty(t, settler.settled)
}

func TestRunRoundToleratesPartialFailure(t *testing.T) {
	gate := newTestGate()
	table := aliveTable(t, "node-a", "node-b", "node-c")
	exec := &stubExecutor{
		values: map[string]int64{"node-a": 10, "node-c": 30},
		errs:   map[string]error{"node-b": errors.New("sandbox crashed")},
	}

	o := NewOrchestrator("node-a", gate, table, exec, WithEvolver(&fakeEvolver{}))

	result, err := o.RunRound(context.Background(), NewTask("explore", policy.TierLow, 1000))
	require.NoError(t, err)

	assert.Equal(t, 2, result.Contributed)
	assert.Equal(t, 3, result.Total)
	assert.Equal(t, int64(40), result.Combined)
	assert.Equal(t, OutcomeErrored, result.Outcomes["node-b"])
}

func TestRunRoundNodeTimeout(t *testing.T) {
	gate := newTestGate()
	table := aliveTable(t, "node-a", "node-b")
	// node-b has no canned value or error, so it blocks until the
	// per-node timeout fires.
	exec := &stubExecutor{values: map[string]int64{"node-a": 10}}

	o := NewOrchestrator("node-a", gate, table, exec,
		WithEvolver(&fakeEvolver{}),
		WithNodeTimeout(20*time.Millisecond),
	)

	result, err := o.RunRound(context.Background(), NewTask("explore", policy.TierLow, 1000))
	require.NoError(t, err)

	assert.Equal(t, 1, result.Contributed)
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, OutcomeTimedOut, result.Outcomes["node-b"])
	assert.Equal(t, OutcomeContributed, result.Outcomes["node-a"])
}

func TestRunRoundKillSwitchBlocksNewRounds(t *testing.T) {
	gate := newTestGate()
	gate.Switches().EngageKillSwitch()
	table := aliveTable(t, "node-a")
	settler := &fakeSettler{}

	o := NewOrchestrator("node-a", gate, table,
		&stubExecutor{values: map[string]int64{"node-a": 10}},
		WithSettler(settler),
	)

	result, err := o.RunRound(context.Background(), NewTask("explore", policy.TierLow, 1000))
	require.Error(t, err)
	assert.True(t, policy.IsPolicyDenied(err))
	assert.Nil(t, result)
	assert.Empty(t, settler.settled)
}

func TestRunRoundSettlementFailureLeavesRoundCombined(t *testing.T) {
	gate := newTestGate()
	table := aliveTable(t, "node-a")
	settler := &fakeSettler{err: fmt.Errorf("ledger unavailable")}

	o := NewOrchestrator("node-a", gate, table,
		&stubExecutor{values: map[string]int64{"node-a": 10}},
		WithEvolver(&fakeEvolver{}),
		WithSettler(settler),
	)

	result, err := o.RunRound(context.Background(), NewTask("explore", policy.TierLow, 1000))
	require.Error(t, err)
	require.NotNil(t, result)
	assert.Equal(t, StateCombined, result.State)
	assert.Empty(t, settler.settled)
}

func TestRunRoundFallsBackToSelf(t *testing.T) {
	gate := newTestGate()
	table := discovery.NewTable(30 * time.Second)
	exec := &stubExecutor{values: map[string]int64{"node-self": 42}}

	o := NewOrchestrator("node-self", gate, table, exec, WithEvolver(&fakeEvolver{}))

	result, err := o.RunRound(context.Background(), NewTask("explore", policy.TierLow, 1000))
	require.NoError(t, err)
	assert.Equal(t, []string{"node-self"}, result.Members)
	assert.Equal(t, 1, result.Contributed)
	assert.Equal(t, int64(42), result.Combined)
}

func TestSimExecutorIsDeterministic(t *testing.T) {
	exec := NewSimExecutor(100, WithSimNow(func() time.Time { return time.Unix(0, 0) }))
	task := Task{ID: "task-fixed", Payload: "explore"}

	first, err := exec.Execute(context.Background(), task, "node-a")
	require.NoError(t, err)
	second, err := exec.Execute(context.Background(), task, "node-a")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.GreaterOrEqual(t, first.Value, int64(1))
	assert.LessOrEqual(t, first.Value, int64(100))

	other, err := exec.Execute(context.Background(), task, "node-b")
	require.NoError(t, err)
	assert.NotEqual(t, first.Value, other.Value)
}
