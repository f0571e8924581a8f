// Package node wires the validator together: storage, ledger,
// instruction lifecycle, template dispatch, consensus engine, escrow
// coordinator and the operational HTTP surface.
package node

import (
	"fmt"
	"runtime"
	"time"

	"github.com/spf13/viper"
)

// Config holds configuration for an asset validator node.
type Config struct {
	// Node identity
	NodeID     string `mapstructure:"node_id"`
	PrivateKey string `mapstructure:"private_key"` // hex ed25519 private key; empty generates a fresh one

	// Network addresses
	ListenAddr string `mapstructure:"listen_addr"` // committee channel gRPC listen address

	// Peer list, "nodeID@host:port" entries
	Peers []string `mapstructure:"peers"`

	// Storage. Empty DSN runs the in-memory store.
	StoreDSN string `mapstructure:"store_dsn"`

	// Consensus timing
	RoundTimeout time.Duration `mapstructure:"round_timeout"`
	RetryBudget  int           `mapstructure:"retry_budget"`
	MaxBatch     int           `mapstructure:"max_batch"`

	// Instruction processing
	PoolMaxPerAsset       int `mapstructure:"pool_max_per_asset"`
	ProcessorsPerTemplate int `mapstructure:"processors_per_template"`

	// Prometheus metrics
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
	MetricsAddr    string `mapstructure:"metrics_addr"`
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		NodeID:                "",
		ListenAddr:            "0.0.0.0:26656",
		Peers:                 []string{},
		StoreDSN:              "",
		RoundTimeout:          10 * time.Second,
		RetryBudget:           5,
		MaxBatch:              100,
		PoolMaxPerAsset:       1000,
		ProcessorsPerTemplate: runtime.GOMAXPROCS(0),
		MetricsEnabled:        true,
		MetricsAddr:           "0.0.0.0:26660",
	}
}

// LoadConfig reads a configuration file, layering environment variables
// prefixed ASSETD_ over it.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("assetd")
	v.AutomaticEnv()

	defaults := DefaultConfig()
	v.SetDefault("listen_addr", defaults.ListenAddr)
	v.SetDefault("round_timeout", defaults.RoundTimeout)
	v.SetDefault("retry_budget", defaults.RetryBudget)
	v.SetDefault("max_batch", defaults.MaxBatch)
	v.SetDefault("pool_max_per_asset", defaults.PoolMaxPerAsset)
	v.SetDefault("processors_per_template", defaults.ProcessorsPerTemplate)
	v.SetDefault("metrics_enabled", defaults.MetricsEnabled)
	v.SetDefault("metrics_addr", defaults.MetricsAddr)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	return config, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return ErrEmptyNodeID
	}
	if c.ListenAddr == "" {
		return ErrEmptyListenAddr
	}
	if c.RoundTimeout <= 0 {
		return ErrBadRoundTimeout
	}
	if c.RetryBudget < 1 {
		return ErrBadRetryBudget
	}
	if c.MaxBatch < 1 {
		return ErrBadMaxBatch
	}
	return nil
}

// Custom errors
type configError string

func (e configError) Error() string {
	return string(e)
}

const (
	ErrEmptyNodeID     = configError("node ID is required")
	ErrEmptyListenAddr = configError("listen address is required")
	ErrBadRoundTimeout = configError("round timeout must be positive")
	ErrBadRetryBudget  = configError("retry budget must be at least 1")
	ErrBadMaxBatch     = configError("max batch must be at least 1")
)
