package swarm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/omniswarm/omniswarm/internal/discovery"
	"github.com/omniswarm/omniswarm/internal/policy"
	"github.com/omniswarm/omniswarm/internal/telemetry"
)

// DefaultNodeTimeout bounds one node's task execution. Exceeding it
// counts as that node's non-contribution, never as a round failure.
const DefaultNodeTimeout = 10 * time.Second

// Orchestrator runs swarm rounds over the alive peer set.
//
// Thread-safety: RunRound may be called from one goroutine at a time;
// the orchestrator holds no cross-round state of its own, all durable
// state lives in the evolver and settler it hands results to.
type Orchestrator struct {
	selfID      string
	gate        *policy.Gate
	table       *discovery.Table
	executor    Executor
	evolver     Evolver
	settler     Settler
	sybil       *policy.SybilGuard
	collector   *telemetry.Collector
	metrics     *telemetry.Metrics
	nodeTimeout time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithEvolver attaches the evolution engine.
func WithEvolver(e Evolver) Option {
	return func(o *Orchestrator) { o.evolver = e }
}

// WithSettler attaches the settlement engine.
func WithSettler(s Settler) Option {
	return func(o *Orchestrator) { o.settler = s }
}

// WithSybilGuard attaches per-node dispatch rate limiting.
func WithSybilGuard(g *policy.SybilGuard) Option {
	return func(o *Orchestrator) { o.sybil = g }
}

// WithNodeTimeout overrides the per-node execution timeout.
func WithNodeTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.nodeTimeout = d }
}

// WithTelemetry attaches the telemetry sink and metric set.
func WithTelemetry(c *telemetry.Collector, m *telemetry.Metrics) Option {
	return func(o *Orchestrator) {
		o.collector = c
		o.metrics = m
	}
}

// NewOrchestrator creates an orchestrator for the node selfID.
func NewOrchestrator(selfID string, gate *policy.Gate, table *discovery.Table, executor Executor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		selfID:      selfID,
		gate:        gate,
		table:       table,
		executor:    executor,
		nodeTimeout: DefaultNodeTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type nodeResult struct {
	nodeID       string
	contribution Contribution
	err          error
}

// RunRound executes one task across the current alive peer set.
//
// The returned result is always non-nil once the round was created.
// A terminal round failure returns the failed result together with a
// RoundFailedError; a settlement failure returns the combined result
// and the settlement error, with the round left in the combined state.
func (o *Orchestrator) RunRound(ctx context.Context, task Task) (*RoundResult, error) {
	// Round creation itself goes through the gate so the kill switch
	// stops new rounds at the door.
	if d := o.gate.Evaluate(o.selfID, "swarm_round_create", policy.TierLow); !d.Allowed {
		return nil, policy.Denied(d)
	}

	members := o.table.AlivePeers()
	if len(members) == 0 {
		// Zero alive peers: run a single-node round with ourselves
		// rather than block on discovery.
		members = []string{o.selfID}
	}

	result := &RoundResult{
		TaskID:      task.ID,
		State:       StateCollecting,
		Members:     members,
		Outcomes:    make(map[string]NodeOutcome, len(members)),
		Total:       len(members),
		RoyaltyPool: task.RoyaltyPool,
	}

	// Membership is fixed for the round. Denied nodes stay in the
	// total denominator; they were asked and refused.
	var permitted []string
	for _, nodeID := range members {
		d := o.gate.Evaluate(nodeID, "task_execute", task.Tier)
		if !d.Allowed {
			result.Outcomes[nodeID] = OutcomeDenied
			continue
		}
		if o.sybil != nil {
			if sd := o.sybil.Evaluate(nodeID, task.Payload); !sd.Allowed {
				result.Outcomes[nodeID] = OutcomeDenied
				o.recordDecision(sd)
				continue
			}
		}
		permitted = append(permitted, nodeID)
	}

	if len(permitted) == 0 {
		return o.failRound(result, ReasonAllNodesDenied)
	}

	o.collect(ctx, task, permitted, result)

	if len(result.Contributions) == 0 {
		return o.failRound(result, ReasonZeroContributions)
	}

	result.Combined = Combine(result.Contributions)
	result.Contributed = len(result.Contributions)
	result.State = StateCombined

	if o.evolver != nil {
		result.Generation, result.FitnessAvg = o.evolver.Update(result)
	}

	slog.Info("swarm round combined",
		"task_id", task.ID,
		"contributed", result.Contributed,
		"total", result.Total,
		"combined", result.Combined,
		"generation", result.Generation,
	)
	if o.metrics != nil {
		o.metrics.SwarmCompletions.Inc()
	}
	o.emitRound(result, "completed", "")

	if o.settler != nil {
		if err := o.settler.Settle(ctx, result); err != nil {
			// Settlement refused; the round stays combined, never
			// settled, and the ledger is untouched.
			slog.Warn("settlement refused", "task_id", task.ID, "error", err)
			return result, err
		}
		result.State = StateSettled
	}

	return result, nil
}

// collect fans the task out to the permitted nodes and gathers the
// per-node results in arrival order.
func (o *Orchestrator) collect(ctx context.Context, task Task, permitted []string, result *RoundResult) {
	results := make(chan nodeResult, len(permitted))
	for _, nodeID := range permitted {
		go func(nodeID string) {
			nodeCtx, cancel := context.WithTimeout(ctx, o.nodeTimeout)
			defer cancel()
			c, err := o.executor.Execute(nodeCtx, task, nodeID)
			results <- nodeResult{nodeID: nodeID, contribution: c, err: err}
		}(nodeID)
	}

	for range permitted {
		r := <-results
		switch {
		case r.err == nil:
			result.Outcomes[r.nodeID] = OutcomeContributed
			result.Contributions = append(result.Contributions, r.contribution)
		case errors.Is(r.err, context.DeadlineExceeded) || errors.Is(r.err, context.Canceled):
			result.Outcomes[r.nodeID] = OutcomeTimedOut
			slog.Debug("node timed out", "task_id", task.ID, "node_id", r.nodeID)
		default:
			result.Outcomes[r.nodeID] = OutcomeErrored
			slog.Debug("node execution failed", "task_id", task.ID, "node_id", r.nodeID, "error", r.err)
		}
	}
}

// failRound marks a terminal round failure. Evolution records the
// outcome for audit but neither fitness nor the generation counter
// moves, and settlement is never reached.
func (o *Orchestrator) failRound(result *RoundResult, reason string) (*RoundResult, error) {
	result.State = StateFailed
	result.FailReason = reason
	result.Contributed = len(result.Contributions)

	if o.evolver != nil {
		o.evolver.RecordFailure(result)
	}
	if o.metrics != nil {
		o.metrics.SwarmFailures.Inc()
	}
	slog.Warn("swarm round failed", "task_id", result.TaskID, "reason", reason)
	o.emitRound(result, "failed", reason)

	return result, &RoundFailedError{TaskID: result.TaskID, Reason: reason}
}

func (o *Orchestrator) emitRound(result *RoundResult, outcome, reason string) {
	if o.collector == nil {
		return
	}
	o.collector.Emit(telemetry.Event{
		Name:    "swarm_round",
		Actor:   o.selfID,
		Action:  "swarm_round_create",
		Outcome: outcome,
		Reason:  reason,
		Fields: map[string]any{
			"task_id":     result.TaskID,
			"contributed": result.Contributed,
			"total":       result.Total,
			"combined":    result.Combined,
			"state":       result.State.String(),
		},
	})
}

func (o *Orchestrator) recordDecision(d policy.Decision) {
	if o.collector == nil {
		return
	}
	o.collector.Decision("policy_decision", d.Actor, d.Action, "deny", d.Reason)
}
