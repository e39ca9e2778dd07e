package discovery

import "context"

// Incoming is one message received from the transport.
type Incoming struct {
	Data []byte
}

// Transport is the single capability discovery needs from the network:
// broadcast signed bytes, receive signed bytes. Authentication lives in
// the envelope layer, not here.
type Transport interface {
	// Broadcast sends data to all reachable peers.
	Broadcast(ctx context.Context, data []byte) error

	// Messages returns the inbound message channel. Closed when the
	// transport closes.
	Messages() <-chan Incoming

	// Mode identifies the backend ("gossip" or "local") for logs and
	// telemetry.
	Mode() string

	// Close releases transport resources.
	Close() error
}
