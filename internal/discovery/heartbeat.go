package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"

	"github.com/omniswarm/omniswarm/internal/envelope"
	"github.com/omniswarm/omniswarm/internal/telemetry"
)

// Heartbeat is the payload inside a heartbeat envelope. The marshaled
// public key rides along so receivers can verify without a prior key
// exchange; the envelope layer binds the key to the signer ID before
// trusting it.
type Heartbeat struct {
	NodeID string `json:"node_id"`
	Addr   string `json:"addr"`
	SentAt int64  `json:"sent_at"`
	PubKey []byte `json:"pub_key"`
}

// Heartbeater publishes this node's signed heartbeats and ingests
// inbound ones into the peer table.
type Heartbeater struct {
	signer    *envelope.Signer
	transport Transport
	table     *Table
	guard     *envelope.ReplayGuard
	interval  time.Duration
	addr      string
	pubKeyRaw []byte
	collector *telemetry.Collector
	metrics   *telemetry.Metrics
}

// NewHeartbeater wires a heartbeater. The signer must be on the
// heartbeat domain; guard must be the heartbeat-stream replay guard.
func NewHeartbeater(
	signer *envelope.Signer,
	transport Transport,
	table *Table,
	guard *envelope.ReplayGuard,
	interval time.Duration,
	addr string,
	collector *telemetry.Collector,
	metrics *telemetry.Metrics,
) (*Heartbeater, error) {
	raw, err := crypto.MarshalPublicKey(signer.PublicKey())
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	h := &Heartbeater{
		signer:    signer,
		transport: transport,
		table:     table,
		guard:     guard,
		interval:  interval,
		addr:      addr,
		pubKeyRaw: raw,
		collector: collector,
		metrics:   metrics,
	}
	if collector != nil {
		collector.Emit(telemetry.Event{
			Name:    "transport_selected",
			Outcome: transport.Mode(),
		})
	}
	slog.Info("discovery transport selected", "mode", transport.Mode())
	return h, nil
}

// Run publishes heartbeats on the interval and ingests inbound messages
// until the context is cancelled. Ingest failures are absorbed and
// counted; they never stop the loop.
func (h *Heartbeater) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	// First beat immediately so peers learn about us without waiting a
	// full interval.
	if err := h.Beat(ctx); err != nil {
		slog.Warn("initial heartbeat failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
			if err := h.Beat(ctx); err != nil {
				slog.Warn("heartbeat publish failed", "error", err)
			}
			h.table.Prune()

		case msg, ok := <-h.transport.Messages():
			if !ok {
				return nil
			}
			if err := h.Ingest(msg.Data); err != nil {
				slog.Debug("heartbeat discarded", "error", err)
			}
		}
	}
}

// Beat signs and broadcasts one heartbeat.
func (h *Heartbeater) Beat(ctx context.Context) error {
	payload, err := json.Marshal(Heartbeat{
		NodeID: h.signer.ID(),
		Addr:   h.addr,
		SentAt: time.Now().UnixMilli(),
		PubKey: h.pubKeyRaw,
	})
	if err != nil {
		return fmt.Errorf("marshal heartbeat: %w", err)
	}

	env, err := h.signer.Sign(payload)
	if err != nil {
		return fmt.Errorf("sign heartbeat: %w", err)
	}

	wire, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return h.transport.Broadcast(ctx, wire)
}

// Ingest verifies one inbound heartbeat and refreshes its peer.
//
// Rejection order matters: replay is checked AFTER the signature so an
// attacker cannot poison a peer's replay window with forged nonces.
// Every rejection is counted; the envelope is discarded either way.
func (h *Heartbeater) Ingest(data []byte) error {
	var env envelope.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		h.countSignatureFailure()
		return fmt.Errorf("decode envelope: %w", err)
	}

	var hb Heartbeat
	if err := json.Unmarshal(env.Payload, &hb); err != nil {
		h.countSignatureFailure()
		return fmt.Errorf("decode heartbeat: %w", err)
	}

	if hb.NodeID != env.SignerID {
		h.countSignatureFailure()
		return &envelope.SignatureError{SignerID: env.SignerID, Reason: "heartbeat node_id does not match signer"}
	}

	pub, err := crypto.UnmarshalPublicKey(hb.PubKey)
	if err != nil {
		h.countSignatureFailure()
		return &envelope.SignatureError{SignerID: env.SignerID, Reason: fmt.Sprintf("unmarshal public key: %v", err)}
	}

	if err := envelope.Verify(envelope.DomainHeartbeat, &env, pub); err != nil {
		h.countSignatureFailure()
		return err
	}

	if err := h.guard.Accept(env.SignerID, env.Nonce); err != nil {
		h.countSignatureFailure()
		return err
	}

	h.table.Touch(hb.NodeID, hb.Addr)
	return nil
}

func (h *Heartbeater) countSignatureFailure() {
	if h.metrics != nil {
		h.metrics.SignatureFailures.Inc()
	}
}
