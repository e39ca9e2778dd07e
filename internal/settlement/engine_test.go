package settlement

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omniswarm/omniswarm/internal/envelope"
	"github.com/omniswarm/omniswarm/internal/ledger"
	"github.com/omniswarm/omniswarm/internal/policy"
	"github.com/omniswarm/omniswarm/internal/swarm"
	"github.com/omniswarm/omniswarm/internal/telemetry"
)

func newTestSigner(t *testing.T) *envelope.Signer {
	t.Helper()
	priv, _, err := crypto.GenerateEd25519Key(nil)
	require.NoError(t, err)
	signer, err := envelope.NewSigner(priv, envelope.DomainReceipt)
	require.NoError(t, err)
	return signer
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *ledger.Store, *telemetry.Metrics) {
	t.Helper()
	store, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	metrics := telemetry.NewMetrics()
	gate := policy.NewGate(policy.MustDefaultRules(), &policy.Switches{}, nil, nil)
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	base := []Option{
		WithTelemetry(nil, metrics),
		WithEngineNow(func() time.Time { return fixed }),
	}
	e := NewEngine(gate, store, newTestSigner(t), append(base, opts...)...)
	return e, store, metrics
}

func combinedRound(taskID string, pool int64, values map[string]int64) *swarm.RoundResult {
	r := &swarm.RoundResult{
		TaskID:      taskID,
		State:       swarm.StateCombined,
		RoyaltyPool: pool,
	}
	for node, v := range values {
		r.Contributions = append(r.Contributions, swarm.Contribution{
			TaskID: taskID, NodeID: node, Value: v,
		})
	}
	return r
}

func TestSettleCommitsSplitAndReceipts(t *testing.T) {
	e, store, metrics := newTestEngine(t)
	ctx := context.Background()

	round := combinedRound("task-1", 1000, map[string]int64{
		"node-a": 10, "node-b": 20, "node-c": 30,
	})
	require.NoError(t, e.Settle(ctx, round))

	for account, want := range map[string]int64{
		"node-a":         100,
		"node-b":         200,
		"node-c":         300,
		ReserveAccount:   200,
		EcosystemAccount: 200,
	} {
		got, err := store.Balance(ctx, account)
		require.NoError(t, err)
		assert.Equal(t, want, got, account)
	}

	total, err := store.TotalMinted(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), total)

	receipts, err := store.Receipts(ctx, "task-1")
	require.NoError(t, err)
	require.Len(t, receipts, 3)
	for _, r := range receipts {
		assert.NotEmpty(t, r.Signature)
		wantID, err := envelope.ReceiptID(r.TaskID, r.NodeID, r.Amount, r.Nonce)
		require.NoError(t, err)
		assert.Equal(t, wantID, r.ReceiptID)
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ConservationPass))
}

func TestSettleReceiptSignaturesVerify(t *testing.T) {
	signer := newTestSigner(t)
	store, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	gate := policy.NewGate(policy.MustDefaultRules(), &policy.Switches{}, nil, nil)
	e := NewEngine(gate, store, signer)

	ctx := context.Background()
	require.NoError(t, e.Settle(ctx, combinedRound("task-1", 1000, map[string]int64{"node-a": 1, "node-b": 3})))

	receipts, err := store.Receipts(ctx, "task-1")
	require.NoError(t, err)
	for _, r := range receipts {
		payload, err := envelope.MarshalCanonical(map[string]any{
			"task_id": r.TaskID,
			"node_id": r.NodeID,
			"amount":  r.Amount,
		})
		require.NoError(t, err)
		env := &envelope.Envelope{
			SignerID:  signer.ID(),
			Nonce:     r.Nonce,
			Payload:   payload,
			Signature: r.Signature,
		}
		assert.NoError(t, envelope.Verify(envelope.DomainReceipt, env, signer.PublicKey()))
	}
}

func TestSettleRejectsRetriedRound(t *testing.T) {
	e, store, _ := newTestEngine(t)
	ctx := context.Background()

	round := combinedRound("task-1", 1000, map[string]int64{"node-a": 10})
	require.NoError(t, e.Settle(ctx, round))

	err := e.Settle(ctx, round)
	require.Error(t, err)
	assert.True(t, ledger.IsDuplicateSettlement(err))

	// The retry credited nothing.
	total, err := store.TotalMinted(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), total)
}

func TestSettleUnresumedSignerRejectedByLedger(t *testing.T) {
	store, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	gate := policy.NewGate(policy.MustDefaultRules(), &policy.Switches{}, nil, nil)
	ctx := context.Background()

	first := NewEngine(gate, store, newTestSigner(t))
	require.NoError(t, first.Settle(ctx, combinedRound("task-1", 1000, map[string]int64{"node-a": 10})))

	// A restarted engine whose signer did not resume the persisted
	// sequence reissues nonce 1 for node-a; the ledger's unique
	// (node_id, nonce) index rejects the whole commit.
	metrics := telemetry.NewMetrics()
	stale := NewEngine(gate, store, newTestSigner(t), WithTelemetry(nil, metrics))
	err = stale.Settle(ctx, combinedRound("task-2", 1000, map[string]int64{"node-a": 10}))
	require.Error(t, err)
	assert.True(t, ledger.IsDuplicateReceipt(err))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ReceiptReplayRejections))

	total, err := store.TotalMinted(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), total)

	// Resuming from the ledger's highest nonce lets the restarted
	// engine settle cleanly.
	signer := newTestSigner(t)
	last, err := store.HighestNonce(ctx)
	require.NoError(t, err)
	signer.ResumeNonce(last)
	resumed := NewEngine(gate, store, signer)
	require.NoError(t, resumed.Settle(ctx, combinedRound("task-2", 1000, map[string]int64{"node-a": 10})))
}

func TestSettleKillSwitchBlocksCommit(t *testing.T) {
	e, store, _ := newTestEngine(t)
	e.gate.Switches().EngageKillSwitch()

	err := e.Settle(context.Background(), combinedRound("task-1", 1000, map[string]int64{"node-a": 10}))
	require.Error(t, err)
	assert.True(t, policy.IsPolicyDenied(err))

	total, err := store.TotalMinted(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
}

func TestSettleInjectedRoundingBugAborts(t *testing.T) {
	// A splitter that loses one unit reproduces the classic rounding
	// bug the conservation check exists for.
	brokenSplit := func(pool int64, contributions []swarm.Contribution) (*Split, error) {
		split, err := ComputeSplit(pool, contributions)
		if err != nil {
			return nil, err
		}
		split.Unclaimed--
		return split, nil
	}

	e, store, metrics := newTestEngine(t, WithSplitter(brokenSplit))
	ctx := context.Background()

	err := e.Settle(ctx, combinedRound("task-1", 1000, map[string]int64{"node-a": 10, "node-b": 20}))
	require.Error(t, err)
	assert.True(t, IsConservationViolation(err))

	// Zero receipts issued, ledger untouched.
	receipts, err := store.Receipts(ctx, "task-1")
	require.NoError(t, err)
	assert.Empty(t, receipts)

	total, err := store.TotalMinted(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)

	count, err := store.SettlementCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.ConservationPass))
}

func TestSnapshotIsDeterministic(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.Settle(ctx, combinedRound("task-1", 1000, map[string]int64{
		"node-a": 10, "node-b": 20, "node-c": 30,
	})))

	first, err := e.Snapshot(ctx)
	require.NoError(t, err)
	second, err := e.Snapshot(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.NotEmpty(t, first.Hash)

	// Recomputing the hash from the snapshot content yields the same
	// value, the dispute-resolution path.
	canonical, err := snapshotPayload(first)
	require.NoError(t, err)
	assert.Equal(t, envelope.HashWithDomain(envelope.DomainSnapshot, canonical), first.Hash)
}

func TestSnapshotGolden(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.Settle(ctx, combinedRound("task-golden", 1000, map[string]int64{
		"node-a": 10, "node-b": 20, "node-c": 30,
	})))

	snap, err := e.Snapshot(ctx)
	require.NoError(t, err)
	canonical, err := snapshotPayload(snap)
	require.NoError(t, err)

	g := goldie.New(t)
	g.Assert(t, "settlement_snapshot", canonical)
}

func TestSettlementDigestExcludesSignatures(t *testing.T) {
	split, err := ComputeSplit(1000, []swarm.Contribution{
		{TaskID: "t", NodeID: "node-a", Value: 10},
		{TaskID: "t", NodeID: "node-b", Value: 30},
	})
	require.NoError(t, err)

	// Same accounting, same digest, independent of who computed it.
	assert.Equal(t, settlementDigest("t", split), settlementDigest("t", split))
	assert.NotEqual(t, settlementDigest("t", split), settlementDigest("other", split))
}
