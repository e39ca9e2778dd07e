package node

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport modes for peer discovery.
const (
	TransportLocal  = "local"
	TransportGossip = "gossip"
)

// Config is the node configuration, loaded from YAML over defaults.
type Config struct {
	DataDir           string        `yaml:"data_dir"`
	Transport         string        `yaml:"transport"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	MissedThreshold   int           `yaml:"missed_threshold"`
	ListenAddrs       []string      `yaml:"listen_addrs"`
	BootstrapPeers    []string      `yaml:"bootstrap_peers"`
	AllowMediumRisk   bool          `yaml:"allow_medium_risk"`
	RoyaltyPool       int64         `yaml:"royalty_pool"`
	RulesFile         string        `yaml:"rules_file"`
	NodeTimeout       time.Duration `yaml:"node_timeout"`
}

// DefaultConfig returns the configuration used when no file overrides
// it.
func DefaultConfig() Config {
	return Config{
		DataDir:           "data",
		Transport:         TransportLocal,
		HeartbeatInterval: 10 * time.Second,
		MissedThreshold:   3,
		RoyaltyPool:       1000,
		NodeTimeout:       10 * time.Second,
	}
}

// LoadConfig reads a YAML config file over the defaults. An empty path
// returns the defaults unchanged.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot run.
func (c Config) Validate() error {
	switch c.Transport {
	case TransportLocal, TransportGossip:
	default:
		return fmt.Errorf("unknown transport %q (want %q or %q)", c.Transport, TransportLocal, TransportGossip)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat_interval must be positive, got %s", c.HeartbeatInterval)
	}
	if c.MissedThreshold < 1 {
		return fmt.Errorf("missed_threshold must be at least 1, got %d", c.MissedThreshold)
	}
	if c.RoyaltyPool <= 0 {
		return fmt.Errorf("royalty_pool must be positive, got %d", c.RoyaltyPool)
	}
	if c.NodeTimeout <= 0 {
		return fmt.Errorf("node_timeout must be positive, got %s", c.NodeTimeout)
	}
	return nil
}
