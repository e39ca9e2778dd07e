package cli

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/omniswarm/omniswarm/internal/discovery"
	"github.com/omniswarm/omniswarm/internal/envelope"
	"github.com/omniswarm/omniswarm/internal/evolution"
	"github.com/omniswarm/omniswarm/internal/ledger"
	"github.com/omniswarm/omniswarm/internal/node"
	"github.com/omniswarm/omniswarm/internal/policy"
	"github.com/omniswarm/omniswarm/internal/settlement"
	"github.com/omniswarm/omniswarm/internal/swarm"
	"github.com/omniswarm/omniswarm/internal/telemetry"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	Rounds int
	Nodes  int
	Pool   int64
}

// RoundReport is one row of the run summary.
type RoundReport struct {
	Round       int    `json:"round"`
	TaskID      string `json:"task_id"`
	State       string `json:"state"`
	Contributed int    `json:"contributed"`
	Total       int    `json:"total"`
	Combined    int64  `json:"combined"`
	Generation  uint64 `json:"generation"`
}

// RunSummary is the run command's result payload.
type RunSummary struct {
	Rounds       []RoundReport `json:"rounds"`
	TotalMinted  int64         `json:"total_minted"`
	SnapshotHash string        `json:"snapshot_hash"`
}

func (s RunSummary) String() string {
	out := ""
	for _, r := range s.Rounds {
		out += fmt.Sprintf("round %d: task=%s state=%s contributed=%d/%d combined=%d generation=%d\n",
			r.Round, r.TaskID, r.State, r.Contributed, r.Total, r.Combined, r.Generation)
	}
	out += fmt.Sprintf("total minted: %d\nsnapshot: %s", s.TotalMinted, s.SnapshotHash)
	return out
}

// NewRunCommand creates the run command: N swarm rounds over the
// configured transport, each one settled against the ledger.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run simulated swarm rounds and settle them",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := &OutputFormatter{
				Format:    rootOpts.Format,
				Writer:    cmd.OutOrStdout(),
				ErrWriter: cmd.ErrOrStderr(),
				Verbose:   rootOpts.Verbose,
			}
			summary, err := runRounds(cmd.Context(), rootOpts, opts, f)
			if err != nil {
				f.Error("E_RUN", err.Error(), nil)
				return WrapExitError(ExitFailure, "run failed", err)
			}
			return f.Success(summary)
		},
	}

	cmd.Flags().IntVar(&opts.Rounds, "rounds", 1, "number of rounds to run")
	cmd.Flags().IntVar(&opts.Nodes, "nodes", 3, "number of simulated peer nodes (local transport only)")
	cmd.Flags().Int64Var(&opts.Pool, "pool", 0, "royalty pool per round (default from config)")

	return cmd
}

func runRounds(ctx context.Context, rootOpts *RootOptions, opts *RunOptions, f *OutputFormatter) (*RunSummary, error) {
	if opts.Rounds < 1 {
		return nil, fmt.Errorf("rounds must be at least 1")
	}
	if opts.Nodes < 1 {
		return nil, fmt.Errorf("nodes must be at least 1")
	}

	cfg, err := node.LoadConfig(rootOpts.Config)
	if err != nil {
		return nil, err
	}
	pool := cfg.RoyaltyPool
	if opts.Pool > 0 {
		pool = opts.Pool
	}

	self, err := node.LoadOrCreateIdentity(filepath.Join(cfg.DataDir, "identity.json"))
	if err != nil {
		return nil, err
	}
	f.VerboseLog("node identity: %s", self.NodeID)

	collector, err := telemetry.NewCollector(self.NodeID, cfg.DataDir)
	if err != nil {
		return nil, err
	}
	defer collector.Close()
	metrics := telemetry.NewMetrics()

	rules, err := loadRules(cfg)
	if err != nil {
		return nil, err
	}
	switches := &policy.Switches{}
	switches.AllowMediumRisk(cfg.AllowMediumRisk)
	gate := policy.NewGate(rules, switches, collector, metrics)

	store, err := ledger.Open(filepath.Join(cfg.DataDir, "ledger.db"))
	if err != nil {
		return nil, err
	}
	defer store.Close()

	table, peers, cleanup, err := assembleSwarm(ctx, self, cfg, opts.Nodes, collector, metrics)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	f.VerboseLog("alive peers: %d", len(peers))

	receiptSigner, err := envelope.NewSigner(self.PrivateKey(), envelope.DomainReceipt)
	if err != nil {
		return nil, err
	}
	// Resume past nonces issued in earlier runs on this ledger.
	lastNonce, err := store.HighestNonce(ctx)
	if err != nil {
		return nil, err
	}
	receiptSigner.ResumeNonce(lastNonce)
	evolver := evolution.NewEngine(evolution.WithMetrics(metrics))
	settler := settlement.NewEngine(gate, store, receiptSigner,
		settlement.WithTelemetry(collector, metrics))

	orchestrator := swarm.NewOrchestrator(self.NodeID, gate, table,
		swarm.NewSimExecutor(100),
		swarm.WithEvolver(evolver),
		swarm.WithSettler(settler),
		swarm.WithTelemetry(collector, metrics),
		swarm.WithNodeTimeout(cfg.NodeTimeout),
	)

	summary := &RunSummary{}
	for i := 1; i <= opts.Rounds; i++ {
		task := swarm.NewTask(fmt.Sprintf("exploration round %d", i), policy.TierLow, pool)
		result, err := orchestrator.RunRound(ctx, task)
		if err != nil {
			return nil, fmt.Errorf("round %d: %w", i, err)
		}
		summary.Rounds = append(summary.Rounds, RoundReport{
			Round:       i,
			TaskID:      result.TaskID,
			State:       result.State.String(),
			Contributed: result.Contributed,
			Total:       result.Total,
			Combined:    result.Combined,
			Generation:  result.Generation,
		})
	}

	snap, err := settler.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	summary.TotalMinted = snap.TotalMinted
	summary.SnapshotHash = snap.Hash
	return summary, nil
}

// assembleSwarm builds the peer table over the configured transport.
// Gossip mode joins the pubsub topic, dials bootstrap peers, and keeps
// heartbeating in the background; the local bus serves when configured
// and as the fallback when the gossip host cannot start. Simulated
// peers exist only on the local bus.
func assembleSwarm(
	ctx context.Context,
	self *node.Identity,
	cfg node.Config,
	peerCount int,
	collector *telemetry.Collector,
	metrics *telemetry.Metrics,
) (*discovery.Table, []string, func(), error) {
	if cfg.Transport == node.TransportGossip {
		table, peers, cleanup, err := assembleGossipSwarm(ctx, self, cfg, collector, metrics)
		if err == nil {
			return table, peers, cleanup, nil
		}
		slog.Warn("gossip transport unavailable, falling back to local bus", "error", err)
	}
	table, peers, err := assembleLocalSwarm(ctx, self, cfg, peerCount, collector, metrics)
	return table, peers, func() {}, err
}

// assembleGossipSwarm stands up the distributed transport: a libp2p
// gossipsub host under a health-monitored wrapper, with this node's
// heartbeater running until cleanup.
func assembleGossipSwarm(
	ctx context.Context,
	self *node.Identity,
	cfg node.Config,
	collector *telemetry.Collector,
	metrics *telemetry.Metrics,
) (*discovery.Table, []string, func(), error) {
	gossip, err := discovery.NewGossipTransport(ctx, self.PrivateKey(), discovery.DefaultTopic, cfg.ListenAddrs...)
	if err != nil {
		return nil, nil, nil, err
	}
	if len(cfg.BootstrapPeers) > 0 {
		connected := discovery.Bootstrap(ctx, gossip, cfg.BootstrapPeers, metrics)
		slog.Info("bootstrap dial complete",
			"connected", connected,
			"configured", len(cfg.BootstrapPeers),
		)
	}

	monitor := discovery.NewHealthMonitor(time.Second, cfg.MissedThreshold)
	transport := discovery.NewMonitoredTransport(gossip, monitor)

	table := discovery.NewTable(cfg.HeartbeatInterval,
		discovery.WithMissedThreshold(cfg.MissedThreshold),
		discovery.WithMetrics(metrics),
	)
	signer, err := envelope.NewSigner(self.PrivateKey(), envelope.DomainHeartbeat)
	if err != nil {
		transport.Close()
		return nil, nil, nil, err
	}

	addr := ""
	if addrs := gossip.Addrs(); len(addrs) > 0 {
		addr = addrs[0]
	}
	hb, err := discovery.NewHeartbeater(signer, transport, table,
		envelope.NewReplayGuard("heartbeats"), cfg.HeartbeatInterval, addr, collector, metrics)
	if err != nil {
		transport.Close()
		return nil, nil, nil, err
	}

	// The orchestrator participates in its own rounds.
	table.Touch(self.NodeID, addr)

	hbCtx, cancel := context.WithCancel(ctx)
	go hb.Run(hbCtx)

	cleanup := func() {
		cancel()
		transport.Close()
	}
	return table, table.AlivePeers(), cleanup, nil
}

// assembleLocalSwarm stands up a local-bus swarm: the orchestrator's
// peer table plus N simulated peers, each announcing itself with one
// signed heartbeat.
func assembleLocalSwarm(
	ctx context.Context,
	self *node.Identity,
	cfg node.Config,
	peerCount int,
	collector *telemetry.Collector,
	metrics *telemetry.Metrics,
) (*discovery.Table, []string, error) {
	bus := discovery.NewLocalBus()
	table := discovery.NewTable(cfg.HeartbeatInterval,
		discovery.WithMissedThreshold(cfg.MissedThreshold),
		discovery.WithMetrics(metrics),
	)

	selfSigner, err := envelope.NewSigner(self.PrivateKey(), envelope.DomainHeartbeat)
	if err != nil {
		return nil, nil, err
	}
	selfEndpoint := bus.Endpoint()
	hb, err := discovery.NewHeartbeater(selfSigner, selfEndpoint, table,
		envelope.NewReplayGuard("heartbeats"), cfg.HeartbeatInterval, "", collector, metrics)
	if err != nil {
		return nil, nil, err
	}

	// The orchestrator participates in its own rounds.
	table.Touch(self.NodeID, "")

	for i := 0; i < peerCount; i++ {
		if _, err := simulatedPeer(ctx, bus, cfg.HeartbeatInterval); err != nil {
			return nil, nil, err
		}
	}

	// Drain the announcements the simulated peers just broadcast.
	deadline := time.After(time.Second)
	for i := 0; i < peerCount; i++ {
		select {
		case msg := <-selfEndpoint.Messages():
			if err := hb.Ingest(msg.Data); err != nil {
				return nil, nil, fmt.Errorf("ingest peer heartbeat: %w", err)
			}
		case <-deadline:
			return nil, nil, fmt.Errorf("timed out waiting for peer heartbeats")
		}
	}

	return table, table.AlivePeers(), nil
}

// simulatedPeer creates an in-memory peer identity and broadcasts its
// first heartbeat on the bus.
func simulatedPeer(ctx context.Context, bus *discovery.LocalBus, interval time.Duration) (string, error) {
	id, err := node.EphemeralIdentity()
	if err != nil {
		return "", err
	}
	signer, err := envelope.NewSigner(id.PrivateKey(), envelope.DomainHeartbeat)
	if err != nil {
		return "", err
	}
	hb, err := discovery.NewHeartbeater(signer, bus.Endpoint(),
		discovery.NewTable(interval), envelope.NewReplayGuard("heartbeats"),
		interval, "", nil, nil)
	if err != nil {
		return "", err
	}
	if err := hb.Beat(ctx); err != nil {
		return "", fmt.Errorf("peer heartbeat: %w", err)
	}
	return id.NodeID, nil
}

// loadRules returns the configured rule set, defaulting to the
// built-in allowlist.
func loadRules(cfg node.Config) (policy.RuleSet, error) {
	if cfg.RulesFile == "" {
		return policy.MustDefaultRules(), nil
	}
	return policy.LoadRulesFile(cfg.RulesFile)
}
