package envelope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplayGuard_AcceptAdvancesWindow(t *testing.T) {
	g := NewReplayGuard("heartbeats")

	require.NoError(t, g.Accept("node-a", 1))
	require.NoError(t, g.Accept("node-a", 2))
	require.NoError(t, g.Accept("node-a", 5), "gaps are fine, only monotonicity matters")
}

func TestReplayGuard_RejectsReplay(t *testing.T) {
	g := NewReplayGuard("heartbeats")

	require.NoError(t, g.Accept("node-a", 3))

	err := g.Accept("node-a", 3)
	require.Error(t, err, "re-presenting an accepted nonce must be rejected")
	assert.True(t, IsReplayRejected(err))

	err = g.Accept("node-a", 2)
	require.Error(t, err, "older nonces are inside the replay window")
	assert.True(t, IsReplayRejected(err))

	assert.Equal(t, uint64(2), g.Rejections())
}

func TestReplayGuard_SignersIndependent(t *testing.T) {
	g := NewReplayGuard("heartbeats")

	require.NoError(t, g.Accept("node-a", 3))
	require.NoError(t, g.Accept("node-b", 1), "each signer has its own window")
	require.NoError(t, g.Accept("node-b", 2))
}

func TestReplayGuard_StreamsIndependent(t *testing.T) {
	heartbeats := NewReplayGuard("heartbeats")
	receipts := NewReplayGuard("receipts")

	require.NoError(t, heartbeats.Accept("node-a", 1))
	require.NoError(t, receipts.Accept("node-a", 1), "streams must not share windows")
}

func TestReplayGuard_Seen(t *testing.T) {
	g := NewReplayGuard("receipts")

	require.NoError(t, g.Accept("node-a", 4))
	assert.True(t, g.Seen("node-a", 4))
	assert.True(t, g.Seen("node-a", 1))
	assert.False(t, g.Seen("node-a", 5))
	assert.False(t, g.Seen("node-b", 1))
}

func TestReplayGuard_Forget(t *testing.T) {
	g := NewReplayGuard("heartbeats")

	require.NoError(t, g.Accept("node-a", 9))
	g.Forget("node-a")
	require.NoError(t, g.Accept("node-a", 1), "forgetting a signer resets its window")
}
