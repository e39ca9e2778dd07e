package evolution

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/omniswarm/omniswarm/internal/swarm"
	"github.com/omniswarm/omniswarm/internal/telemetry"
)

// Variant is one strategy in the population, keyed by the node that
// runs it. Fitness is a running average over the rounds the variant
// participated in.
type Variant struct {
	ID      string
	Fitness float64
	Rounds  int
}

// Engine owns the population state.
//
// Thread-safety: all methods are safe for concurrent use; a single
// mutex guards the population, the generation counter, and the task
// tally together so a reader never observes a half-applied round.
type Engine struct {
	scorer  Scorer
	metrics *telemetry.Metrics

	mu         sync.Mutex
	variants   map[string]*Variant
	generation uint64
	totalTasks uint64
}

// Option configures an Engine.
type Option func(*Engine)

// WithScorer replaces the default proportional scorer.
func WithScorer(s Scorer) Option {
	return func(e *Engine) { e.scorer = s }
}

// WithMetrics attaches the metric set.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an engine with an empty population at generation
// zero.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		scorer:   ProportionalScorer(),
		variants: make(map[string]*Variant),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Update applies one successful round: every contributing variant's
// fitness folds in its score for this round, then the generation
// counter advances exactly once. Returns the post-update generation
// and the population fitness average.
func (e *Engine) Update(result *swarm.RoundResult) (uint64, float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	roundMax := int64(0)
	for _, c := range result.Contributions {
		if c.Value > roundMax {
			roundMax = c.Value
		}
	}

	for _, c := range result.Contributions {
		v, ok := e.variants[c.NodeID]
		if !ok {
			v = &Variant{ID: c.NodeID}
			e.variants[c.NodeID] = v
		}
		score := e.scorer.Score(c.Value, roundMax)
		v.Fitness = (v.Fitness*float64(v.Rounds) + score) / float64(v.Rounds+1)
		v.Rounds++
	}

	e.generation++
	e.totalTasks++

	avg := e.fitnessAvgLocked()
	e.publishLocked(avg)

	slog.Debug("evolution step applied",
		"task_id", result.TaskID,
		"generation", e.generation,
		"fitness_avg", avg,
		"population", len(e.variants),
	)
	return e.generation, avg
}

// RecordFailure records a failed round for audit. The task tally
// advances; fitness and the generation counter do not.
func (e *Engine) RecordFailure(result *swarm.RoundResult) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.totalTasks++
	if e.metrics != nil {
		e.metrics.EvolutionTotalTasks.Inc()
	}
}

// Generation returns the current generation counter.
func (e *Engine) Generation() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.generation
}

// TotalTasks returns the count of recorded round outcomes, failures
// included.
func (e *Engine) TotalTasks() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalTasks
}

// FitnessAvg returns the average fitness across the population, zero
// when the population is empty.
func (e *Engine) FitnessAvg() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fitnessAvgLocked()
}

// Population returns a copy of the population sorted by variant id.
func (e *Engine) Population() []Variant {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Variant, 0, len(e.variants))
	for _, v := range e.variants {
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (e *Engine) fitnessAvgLocked() float64 {
	if len(e.variants) == 0 {
		return 0
	}
	var sum float64
	for _, v := range e.variants {
		sum += v.Fitness
	}
	return sum / float64(len(e.variants))
}

func (e *Engine) publishLocked(avg float64) {
	if e.metrics == nil {
		return
	}
	e.metrics.EvolutionGeneration.Set(float64(e.generation))
	e.metrics.EvolutionTotalTasks.Inc()
	e.metrics.FitnessAvg.Set(avg)
}
