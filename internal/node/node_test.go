package node

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOrCreateIdentityPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.json")

	first, err := LoadOrCreateIdentity(path)
	require.NoError(t, err)
	assert.NotEmpty(t, first.NodeID)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	second, err := LoadOrCreateIdentity(path)
	require.NoError(t, err)
	assert.Equal(t, first.NodeID, second.NodeID)
	assert.True(t, first.PrivateKey().Equals(second.PrivateKey()))
}

func TestLoadIdentityRejectsTamperedNodeID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "identity.json")

	id, err := LoadOrCreateIdentity(path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	// Swap the stored node id for another identity's.
	other, err := LoadOrCreateIdentity(filepath.Join(dir, "other.json"))
	require.NoError(t, err)
	swapped := strings.Replace(string(data), id.NodeID, other.NodeID, 1)
	require.NoError(t, os.WriteFile(path, []byte(swapped), 0o600))

	_, err = LoadOrCreateIdentity(path)
	assert.Error(t, err)
}

func TestDefaultConfigValid(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

func TestLoadConfigOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
transport: gossip
heartbeat_interval: 5s
royalty_pool: 5000
listen_addrs:
  - /ip4/0.0.0.0/tcp/4001
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, TransportGossip, cfg.Transport)
	assert.Equal(t, 5*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, int64(5000), cfg.RoyaltyPool)
	assert.Equal(t, []string{"/ip4/0.0.0.0/tcp/4001"}, cfg.ListenAddrs)
	// Untouched keys keep their defaults.
	assert.Equal(t, 3, cfg.MissedThreshold)
	assert.Equal(t, "data", cfg.DataDir)
}

func TestLoadConfigRejectsBadTransport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("transport: carrier-pigeon\n"), 0o644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfigEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}
