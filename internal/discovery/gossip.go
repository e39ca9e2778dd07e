package discovery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/omniswarm/omniswarm/internal/telemetry"
)

// DefaultTopic is the gossipsub topic heartbeats travel on.
const DefaultTopic = "omniswarm/heartbeats/v1"

// GossipTransport broadcasts over a libp2p gossipsub topic.
//
// The view it provides is eventually consistent: messages may arrive
// late or not at all, which the peer table tolerates by design (a
// missed heartbeat only ages the peer toward stale).
type GossipTransport struct {
	host  host.Host
	ps    *pubsub.PubSub
	topic *pubsub.Topic
	sub   *pubsub.Subscription
	ch    chan Incoming
}

// NewGossipTransport starts a libp2p host with the given identity key,
// joins the topic, and begins pumping inbound messages.
//
// listenAddrs are multiaddr strings; empty means the libp2p defaults.
func NewGossipTransport(ctx context.Context, priv crypto.PrivKey, topicName string, listenAddrs ...string) (*GossipTransport, error) {
	opts := []libp2p.Option{libp2p.Identity(priv)}
	if len(listenAddrs) > 0 {
		opts = append(opts, libp2p.ListenAddrStrings(listenAddrs...))
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("start libp2p host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("start gossipsub: %w", err)
	}

	topic, err := ps.Join(topicName)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("join topic %s: %w", topicName, err)
	}

	sub, err := topic.Subscribe()
	if err != nil {
		topic.Close()
		h.Close()
		return nil, fmt.Errorf("subscribe topic %s: %w", topicName, err)
	}

	t := &GossipTransport{
		host:  h,
		ps:    ps,
		topic: topic,
		sub:   sub,
		ch:    make(chan Incoming, 64),
	}
	go t.pump(ctx)

	slog.Info("gossip transport started",
		"peer_id", h.ID().String(),
		"topic", topicName,
	)
	return t, nil
}

func (t *GossipTransport) pump(ctx context.Context) {
	defer close(t.ch)
	for {
		msg, err := t.sub.Next(ctx)
		if err != nil {
			// Context cancelled or subscription closed.
			return
		}
		if msg.ReceivedFrom == t.host.ID() {
			continue
		}
		select {
		case t.ch <- Incoming{Data: msg.Data}:
		case <-ctx.Done():
			return
		}
	}
}

// Broadcast implements Transport.
func (t *GossipTransport) Broadcast(ctx context.Context, data []byte) error {
	if err := t.topic.Publish(ctx, data); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Messages implements Transport.
func (t *GossipTransport) Messages() <-chan Incoming {
	return t.ch
}

// Mode implements Transport.
func (t *GossipTransport) Mode() string {
	return "gossip"
}

// Close implements Transport.
func (t *GossipTransport) Close() error {
	t.sub.Cancel()
	t.topic.Close()
	return t.host.Close()
}

// Addrs returns the host's dialable multiaddrs including the peer ID
// suffix, for rendezvous registration.
func (t *GossipTransport) Addrs() []string {
	var out []string
	for _, a := range t.host.Addrs() {
		out = append(out, fmt.Sprintf("%s/p2p/%s", a.String(), t.host.ID().String()))
	}
	return out
}

// Connect dials a bootstrap peer by multiaddr.
func (t *GossipTransport) Connect(ctx context.Context, addr string) error {
	maddr, err := ma.NewMultiaddr(addr)
	if err != nil {
		return fmt.Errorf("parse multiaddr %s: %w", addr, err)
	}
	info, err := peer.AddrInfoFromP2pAddr(maddr)
	if err != nil {
		return fmt.Errorf("peer info from %s: %w", addr, err)
	}
	if err := t.host.Connect(ctx, *info); err != nil {
		return fmt.Errorf("connect %s: %w", info.ID, err)
	}
	return nil
}

// Bootstrap dials the rendezvous-provided addresses, counting failures
// without aborting: a subset of reachable bootstrap peers is enough for
// gossip to converge.
func Bootstrap(ctx context.Context, t *GossipTransport, addrs []string, metrics *telemetry.Metrics) int {
	connected := 0
	for _, addr := range addrs {
		if err := t.Connect(ctx, addr); err != nil {
			if metrics != nil {
				metrics.RendezvousSyncFailures.Inc()
			}
			slog.Warn("bootstrap dial failed", "addr", addr, "error", err)
			continue
		}
		connected++
	}
	return connected
}
