package node

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validTestConfig() *Config {
	c := DefaultConfig()
	c.NodeID = "node0"
	return c
}

func TestConfigValidate(t *testing.T) {
	if err := validTestConfig().Validate(); err != nil {
		t.Errorf("Expected default config with a node id to validate, got %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"EmptyNodeID", func(c *Config) { c.NodeID = "" }, ErrEmptyNodeID},
		{"EmptyListenAddr", func(c *Config) { c.ListenAddr = "" }, ErrEmptyListenAddr},
		{"ZeroRoundTimeout", func(c *Config) { c.RoundTimeout = 0 }, ErrBadRoundTimeout},
		{"NegativeRoundTimeout", func(c *Config) { c.RoundTimeout = -time.Second }, ErrBadRoundTimeout},
		{"ZeroRetryBudget", func(c *Config) { c.RetryBudget = 0 }, ErrBadRetryBudget},
		{"ZeroMaxBatch", func(c *Config) { c.MaxBatch = 0 }, ErrBadMaxBatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := validTestConfig()
			tc.mutate(c)
			if err := c.Validate(); !errors.Is(err, tc.want) {
				t.Errorf("Expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `node_id: node7
listen_addr: 127.0.0.1:26000
round_timeout: 3s
retry_budget: 2
peers:
  - node8@127.0.0.1:26001
metrics_enabled: false
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if config.NodeID != "node7" {
		t.Errorf("Expected node id node7, got %s", config.NodeID)
	}
	if config.ListenAddr != "127.0.0.1:26000" {
		t.Errorf("Expected listen addr 127.0.0.1:26000, got %s", config.ListenAddr)
	}
	if config.RoundTimeout != 3*time.Second {
		t.Errorf("Expected round timeout 3s, got %s", config.RoundTimeout)
	}
	if config.RetryBudget != 2 {
		t.Errorf("Expected retry budget 2, got %d", config.RetryBudget)
	}
	if len(config.Peers) != 1 || config.Peers[0] != "node8@127.0.0.1:26001" {
		t.Errorf("Expected one peer entry, got %v", config.Peers)
	}
	if config.MetricsEnabled {
		t.Error("Expected metrics disabled")
	}
	// Unset keys keep their defaults.
	if config.MaxBatch != DefaultConfig().MaxBatch {
		t.Errorf("Expected default max batch, got %d", config.MaxBatch)
	}

	if _, err := LoadConfig(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("Expected error for a missing config file")
	}
}
