package swarm

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/omniswarm/omniswarm/internal/policy"
)

// RoundState tracks a round through its lifecycle.
type RoundState int

const (
	StatePending RoundState = iota
	StateCollecting
	StateCombined
	StateSettled
	StateFailed
)

// String returns the lifecycle name of the state.
func (s RoundState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateCollecting:
		return "collecting"
	case StateCombined:
		return "combined"
	case StateSettled:
		return "settled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// NodeOutcome tags what happened to one member node during a round.
type NodeOutcome int

const (
	OutcomeContributed NodeOutcome = iota
	OutcomeDenied
	OutcomeTimedOut
	OutcomeErrored
)

// String returns the outcome tag name.
func (o NodeOutcome) String() string {
	switch o {
	case OutcomeContributed:
		return "contributed"
	case OutcomeDenied:
		return "denied"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Task is one unit of swarm work. Immutable once created.
type Task struct {
	ID          string
	Payload     string
	Tier        policy.RiskTier
	RoyaltyPool int64
}

// NewTask creates a task with a fresh UUIDv7 identifier.
func NewTask(payload string, tier policy.RiskTier, royaltyPool int64) Task {
	return Task{
		ID:          uuid.Must(uuid.NewV7()).String(),
		Payload:     payload,
		Tier:        tier,
		RoyaltyPool: royaltyPool,
	}
}

// Contribution is one node's output for a round. Produced at most once
// per (task, node) pair and immutable after creation.
type Contribution struct {
	TaskID    string
	NodeID    string
	Value     int64
	Metadata  map[string]string
	Timestamp time.Time
}

// RoundResult is the machine-checkable outcome of one round.
// Contributions are kept in arrival order for audit, but nothing
// downstream may depend on that order.
type RoundResult struct {
	TaskID        string
	State         RoundState
	Members       []string
	Outcomes      map[string]NodeOutcome
	Contributions []Contribution
	Combined      int64
	Contributed   int
	Total         int
	Generation    uint64
	FitnessAvg    float64
	RoyaltyPool   int64
	FailReason    string
}

// Combine folds a contribution set into the round's combined value.
// Integer sum: associative and commutative, so arrival order is
// irrelevant.
func Combine(contributions []Contribution) int64 {
	var total int64
	for _, c := range contributions {
		total += c.Value
	}
	return total
}

// Evolver consumes completed rounds and advances the strategy
// population. Update runs once per successful round; RecordFailure
// records a failed round for audit without touching fitness or the
// generation counter.
type Evolver interface {
	Update(result *RoundResult) (generation uint64, fitnessAvg float64)
	RecordFailure(result *RoundResult)
}

// Settler converts a combined round into ledger-mutating payouts.
type Settler interface {
	Settle(ctx context.Context, result *RoundResult) error
}
