package discovery

import (
	"context"
	"sync"
)

// LocalBus is the in-process transport fallback: endpoints on the same
// bus see each other's broadcasts synchronously. Used when the network
// backend is unavailable or explicitly selected, and by tests.
type LocalBus struct {
	mu        sync.Mutex
	endpoints []*LocalTransport
	closed    bool
}

// NewLocalBus creates an empty bus.
func NewLocalBus() *LocalBus {
	return &LocalBus{}
}

// Endpoint attaches a new transport to the bus.
func (b *LocalBus) Endpoint() *LocalTransport {
	b.mu.Lock()
	defer b.mu.Unlock()

	ep := &LocalTransport{
		bus: b,
		ch:  make(chan Incoming, 64),
	}
	b.endpoints = append(b.endpoints, ep)
	return ep
}

// deliver fans data out to every endpoint except the sender.
// A full endpoint buffer drops the message rather than deadlocking the
// sender; heartbeats are periodic, so a drop heals on the next tick.
func (b *LocalBus) deliver(from *LocalTransport, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for _, ep := range b.endpoints {
		if ep == from || ep.closed {
			continue
		}
		select {
		case ep.ch <- Incoming{Data: data}:
		default:
		}
	}
}

// Close closes the bus and every endpoint.
func (b *LocalBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, ep := range b.endpoints {
		if !ep.closed {
			ep.closed = true
			close(ep.ch)
		}
	}
}

// LocalTransport is one endpoint on a LocalBus.
type LocalTransport struct {
	bus    *LocalBus
	ch     chan Incoming
	closed bool
}

// Broadcast implements Transport.
func (t *LocalTransport) Broadcast(_ context.Context, data []byte) error {
	t.bus.deliver(t, data)
	return nil
}

// Messages implements Transport.
func (t *LocalTransport) Messages() <-chan Incoming {
	return t.ch
}

// Mode implements Transport.
func (t *LocalTransport) Mode() string {
	return "local"
}

// Close detaches the endpoint from the bus.
func (t *LocalTransport) Close() error {
	t.bus.mu.Lock()
	defer t.bus.mu.Unlock()

	if !t.closed {
		t.closed = true
		close(t.ch)
	}
	return nil
}
