package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the operational metric set for one node, registered on a
// private registry so tests get fresh counters per instance.
type Metrics struct {
	registry *prometheus.Registry

	PolicyBlocks            prometheus.Counter
	SwarmCompletions        prometheus.Counter
	SwarmFailures           prometheus.Counter
	SignatureFailures       prometheus.Counter
	ReceiptReplayRejections prometheus.Counter
	ConservationPass        prometheus.Gauge
	EvolutionGeneration     prometheus.Gauge
	EvolutionTotalTasks     prometheus.Counter
	FitnessAvg              prometheus.Gauge
	AlivePeers              prometheus.Gauge
	RendezvousSyncFailures  prometheus.Counter
}

// NewMetrics creates and registers the metric set.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		PolicyBlocks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "policy_block_count",
			Help: "Actions denied by the policy gate.",
		}),
		SwarmCompletions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "swarm_completion_count",
			Help: "Swarm rounds that reached a combined result.",
		}),
		SwarmFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "swarm_failure_count",
			Help: "Swarm rounds that terminated in failed state.",
		}),
		SignatureFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signature_failure_count",
			Help: "Envelopes discarded for invalid signatures or replays.",
		}),
		ReceiptReplayRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "receipt_replay_rejections",
			Help: "Receipts rejected for a previously seen (node, nonce) pair.",
		}),
		ConservationPass: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "token_conservation_pass",
			Help: "1 if the last settlement conservation check passed, 0 if it failed.",
		}),
		EvolutionGeneration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "evolution_generation",
			Help: "Current evolution generation counter.",
		}),
		EvolutionTotalTasks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "evolution_total_tasks",
			Help: "Round outcomes recorded by the evolution engine, failures included.",
		}),
		FitnessAvg: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fitness_avg",
			Help: "Average fitness across the strategy population.",
		}),
		AlivePeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "p2p_alive_peers",
			Help: "Peers currently considered alive by discovery.",
		}),
		RendezvousSyncFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rendezvous_sync_failures",
			Help: "Failed rendezvous registry sync attempts.",
		}),
	}

	m.registry.MustRegister(
		m.PolicyBlocks,
		m.SwarmCompletions,
		m.SwarmFailures,
		m.SignatureFailures,
		m.ReceiptReplayRejections,
		m.ConservationPass,
		m.EvolutionGeneration,
		m.EvolutionTotalTasks,
		m.FitnessAvg,
		m.AlivePeers,
		m.RendezvousSyncFailures,
	)
	return m
}

// Registry exposes the private registry for scraping.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
