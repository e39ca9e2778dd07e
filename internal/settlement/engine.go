package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/omniswarm/omniswarm/internal/envelope"
	"github.com/omniswarm/omniswarm/internal/ledger"
	"github.com/omniswarm/omniswarm/internal/policy"
	"github.com/omniswarm/omniswarm/internal/swarm"
	"github.com/omniswarm/omniswarm/internal/telemetry"
)

// Splitter computes the royalty split for a pool. Replaceable for
// tests; production always uses ComputeSplit.
type Splitter func(pool int64, contributions []swarm.Contribution) (*Split, error)

// Engine is the single writer over the token ledger.
//
// Thread-safety: Settle serializes through one mutex, so at most one
// settlement is in flight regardless of how many rounds complete
// concurrently.
type Engine struct {
	gate      *policy.Gate
	store     *ledger.Store
	signer    *envelope.Signer
	collector *telemetry.Collector
	metrics   *telemetry.Metrics
	split     Splitter
	now       func() time.Time

	mu sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithTelemetry attaches the telemetry sink and metric set.
func WithTelemetry(c *telemetry.Collector, m *telemetry.Metrics) Option {
	return func(e *Engine) {
		e.collector = c
		e.metrics = m
	}
}

// WithSplitter replaces the split computation.
func WithSplitter(s Splitter) Option {
	return func(e *Engine) { e.split = s }
}

// WithEngineNow overrides the wall clock for deterministic receipts.
func WithEngineNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a settlement engine. The signer must be bound to
// the receipt domain; its nonce sequence belongs to this engine alone,
// resumed from the ledger's highest persisted nonce on restart. Replay
// of a persisted (node, nonce) pair is rejected by the ledger's unique
// index at commit.
func NewEngine(gate *policy.Gate, store *ledger.Store, signer *envelope.Signer, opts ...Option) *Engine {
	e := &Engine{
		gate:   gate,
		store:  store,
		signer: signer,
		split:  ComputeSplit,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Settle converts a combined round into balance credits and signed
// receipts, committed atomically.
//
// The kill switch is consulted immediately before commit, so a switch
// engaged mid-round stops the round from ever reaching settled. A
// conservation failure aborts before any ledger write and is surfaced
// as a hard alert, never corrected in place.
func (e *Engine) Settle(ctx context.Context, result *swarm.RoundResult) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if d := e.gate.Evaluate(e.signer.ID(), "settlement_commit", policy.TierLow); !d.Allowed {
		e.emit(result.TaskID, "blocked", d.Reason, nil)
		return policy.Denied(d)
	}

	split, err := e.split(result.RoyaltyPool, result.Contributions)
	if err != nil {
		return fmt.Errorf("compute split for task %s: %w", result.TaskID, err)
	}

	if !split.Conserves() {
		return e.failConservation(result.TaskID, split)
	}

	receipts, credits, err := e.buildReceipts(result.TaskID, split)
	if err != nil {
		return err
	}

	// Re-derive the accounted total from the receipts that will
	// actually be persisted. Belt over the split's own check.
	var receiptTotal int64
	for _, r := range receipts {
		receiptTotal += r.Amount
	}
	if receiptTotal+split.Reserve+split.Ecosystem+split.Unclaimed != split.Pool {
		return e.failConservation(result.TaskID, split)
	}

	rec := ledger.SettlementRecord{
		TaskID:          result.TaskID,
		TotalAmount:     split.Pool,
		NodeAmount:      receiptTotal,
		ReserveAmount:   split.Reserve,
		EcosystemAmount: split.Ecosystem,
		UnclaimedAmount: split.Unclaimed,
		SnapshotHash:    settlementDigest(result.TaskID, split),
		CommittedAt:     e.now().UTC(),
	}

	if err := e.store.ApplySettlement(ctx, rec, credits, receipts); err != nil {
		if ledger.IsDuplicateReceipt(err) && e.metrics != nil {
			e.metrics.ReceiptReplayRejections.Inc()
		}
		e.emit(result.TaskID, "failed", err.Error(), nil)
		return fmt.Errorf("commit settlement for task %s: %w", result.TaskID, err)
	}

	if e.metrics != nil {
		e.metrics.ConservationPass.Set(1)
	}
	slog.Info("settlement committed",
		"task_id", result.TaskID,
		"pool", split.Pool,
		"nodes", len(split.Shares),
		"node_total", receiptTotal,
		"reserve", split.Reserve,
		"ecosystem", split.Ecosystem,
		"unclaimed", split.Unclaimed,
	)
	e.emit(result.TaskID, "committed", "", map[string]any{
		"pool":      split.Pool,
		"receipts":  len(receipts),
		"unclaimed": split.Unclaimed,
	})
	return nil
}

// buildReceipts signs one receipt per node share and assembles the
// balance credits. Zero-amount buckets get no credit row; zero-amount
// shares still get a receipt so the node has proof it was settled.
func (e *Engine) buildReceipts(taskID string, split *Split) ([]ledger.Receipt, []ledger.Credit, error) {
	issuedAt := e.now().UTC()

	var receipts []ledger.Receipt
	var credits []ledger.Credit
	for _, share := range split.Shares {
		payload, err := envelope.MarshalCanonical(map[string]any{
			"task_id": taskID,
			"node_id": share.NodeID,
			"amount":  share.Amount,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("marshal receipt payload: %w", err)
		}

		env, err := e.signer.Sign(payload)
		if err != nil {
			return nil, nil, fmt.Errorf("sign receipt for node %s: %w", share.NodeID, err)
		}

		receiptID, err := envelope.ReceiptID(taskID, share.NodeID, share.Amount, env.Nonce)
		if err != nil {
			return nil, nil, err
		}

		receipts = append(receipts, ledger.Receipt{
			ReceiptID: receiptID,
			TaskID:    taskID,
			NodeID:    share.NodeID,
			Amount:    share.Amount,
			Nonce:     env.Nonce,
			Signature: env.Signature,
			IssuedAt:  issuedAt,
		})
		if share.Amount > 0 {
			credits = append(credits, ledger.Credit{Account: share.NodeID, Amount: share.Amount})
		}
	}

	for _, bucket := range []ledger.Credit{
		{Account: ReserveAccount, Amount: split.Reserve},
		{Account: EcosystemAccount, Amount: split.Ecosystem},
		{Account: UnclaimedAccount, Amount: split.Unclaimed},
	} {
		if bucket.Amount > 0 {
			credits = append(credits, bucket)
		}
	}
	return receipts, credits, nil
}

func (e *Engine) failConservation(taskID string, split *Split) error {
	accounted := split.NodeTotal() + split.Reserve + split.Ecosystem + split.Unclaimed
	if e.metrics != nil {
		e.metrics.ConservationPass.Set(0)
	}
	slog.Error("conservation violation, settlement aborted",
		"task_id", taskID,
		"pool", split.Pool,
		"accounted", accounted,
	)
	e.emit(taskID, "failed", "conservation_violation", map[string]any{
		"pool":      split.Pool,
		"accounted": accounted,
	})
	return &ConservationError{TaskID: taskID, Pool: split.Pool, Accounted: accounted}
}

func (e *Engine) emit(taskID, outcome, reason string, fields map[string]any) {
	if e.collector == nil {
		return
	}
	if fields == nil {
		fields = map[string]any{}
	}
	fields["task_id"] = taskID
	e.collector.Emit(telemetry.Event{
		Name:    "settlement",
		Actor:   e.signer.ID(),
		Action:  "settlement_commit",
		Outcome: outcome,
		Reason:  reason,
		Fields:  fields,
	})
}

// settlementDigest is the content-addressed identity of one settlement.
// Covers the task, pool, bucket deltas, and every share; excludes
// signatures so dispute recomputation can derive it independently.
func settlementDigest(taskID string, split *Split) string {
	shares := make([]any, 0, len(split.Shares))
	for _, s := range split.Shares {
		shares = append(shares, map[string]any{
			"node_id": s.NodeID,
			"amount":  s.Amount,
		})
	}
	canonical, err := envelope.MarshalCanonical(map[string]any{
		"task_id":   taskID,
		"pool":      split.Pool,
		"reserve":   split.Reserve,
		"ecosystem": split.Ecosystem,
		"unclaimed": split.Unclaimed,
		"shares":    shares,
	})
	if err != nil {
		// Split contents are ints and strings only; this cannot fail
		// at runtime.
		panic(fmt.Sprintf("settlement digest: %v", err))
	}
	return envelope.HashWithDomain(envelope.DomainSnapshot, canonical)
}
