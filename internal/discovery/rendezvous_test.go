package discovery

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRendezvous_RegisterAndFetch(t *testing.T) {
	now := time.Unix(1000, 0)
	r := NewRendezvous(30*time.Second, WithRendezvousNow(func() time.Time { return now }))

	r.Register("node-a", "/ip4/127.0.0.1/tcp/4001/p2p/node-a")
	r.Register("node-b", "/ip4/127.0.0.1/tcp/4002/p2p/node-b")

	peers := r.Peers("node-a", 10)
	assert.Len(t, peers, 1)
	assert.Equal(t, "node-b", peers[0].NodeID)
}

func TestRendezvous_TTLExpiry(t *testing.T) {
	now := time.Unix(1000, 0)
	r := NewRendezvous(30*time.Second, WithRendezvousNow(func() time.Time { return now }))

	r.Register("node-a", "addr-a")
	now = now.Add(20 * time.Second)
	r.Register("node-b", "addr-b")

	now = now.Add(15 * time.Second) // node-a at 35s, node-b at 15s
	assert.Equal(t, 1, r.Size())

	peers := r.Peers("", 10)
	assert.Len(t, peers, 1)
	assert.Equal(t, "node-b", peers[0].NodeID)
}

func TestRendezvous_NewestFirstWithLimit(t *testing.T) {
	now := time.Unix(1000, 0)
	r := NewRendezvous(time.Minute, WithRendezvousNow(func() time.Time { return now }))

	r.Register("node-a", "a")
	now = now.Add(time.Second)
	r.Register("node-b", "b")
	now = now.Add(time.Second)
	r.Register("node-c", "c")

	peers := r.Peers("", 2)
	assert.Len(t, peers, 2)
	assert.Equal(t, "node-c", peers[0].NodeID)
	assert.Equal(t, "node-b", peers[1].NodeID)
}

func TestHealthMonitor_DegradesAfterConsecutiveFailures(t *testing.T) {
	m := NewHealthMonitor(time.Second, 2)

	m.RecordFailure(errors.New("timeout"))
	assert.False(t, m.Degraded())

	m.RecordFailure(errors.New("timeout"))
	assert.True(t, m.Degraded())

	// One success resets the streak and the flag.
	m.RecordSuccess(10 * time.Millisecond)
	assert.False(t, m.Degraded())

	stats := m.Stats()
	assert.Equal(t, 3, stats.TotalChecks)
	assert.Equal(t, 2, stats.TotalFailures)
	assert.Equal(t, 0, stats.ConsecutiveFailures)
}

func TestHealthMonitor_LatencyWarnings(t *testing.T) {
	m := NewHealthMonitor(100*time.Millisecond, 2)

	m.RecordSuccess(50 * time.Millisecond)
	m.RecordSuccess(500 * time.Millisecond)

	assert.Equal(t, 1, m.Stats().LatencyWarnCount)
}
