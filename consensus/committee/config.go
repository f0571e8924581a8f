package committee

import (
	"time"

	"github.com/vnlabs-io/assetd/types"
)

// Config holds the consensus engine configuration.
type Config struct {
	// NodeID is this node's committee identity.
	NodeID types.NodeID

	// RoundTimeout bounds one round attempt. On expiry the round aborts
	// without side effects and retries under the next leader.
	RoundTimeout time.Duration

	// RetryBudget is the number of consecutive failed rounds per asset
	// before the queued instructions are failed as timed out.
	RetryBudget int

	// MaxBatch caps the instructions proposed in one round.
	MaxBatch int
}

// DefaultConfig returns the default consensus configuration.
func DefaultConfig(nodeID types.NodeID) *Config {
	return &Config{
		NodeID:       nodeID,
		RoundTimeout: 10 * time.Second,
		RetryBudget:  5,
		MaxBatch:     100,
	}
}
