package instruction

import (
	"errors"
	"sync"
	"time"

	"github.com/vnlabs-io/assetd/types"
)

var (
	ErrAlreadyQueued  = errors.New("instruction already queued")
	ErrPoolFull       = errors.New("instruction pool is full")
	ErrPoolNotRunning = errors.New("instruction pool is not running")
)

// PoolConfig bounds the pending pool.
type PoolConfig struct {
	MaxPerAsset int // max queued instructions per asset
	MaxBatch    int // max instructions reaped into one round
}

// DefaultPoolConfig returns the default pool limits.
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		MaxPerAsset: 1000,
		MaxBatch:    100,
	}
}

type poolEntry struct {
	instruction *types.Instruction
	queuedAt    time.Time
}

// Pool holds instructions that executed locally and now wait for a
// consensus round. Instructions leave in FIFO order per asset; the
// consensus engine decides batching, the pool only preserves arrival
// order.
type Pool struct {
	mu sync.RWMutex

	config    *PoolConfig
	byID      map[types.InstructionID]*poolEntry
	byAsset   map[types.AssetID][]*poolEntry
	isRunning bool

	// wakes the consensus engine when an asset gains work
	notifyCh chan types.AssetID
}

// NewPool creates a pool with the given limits.
func NewPool(config *PoolConfig) *Pool {
	if config == nil {
		config = DefaultPoolConfig()
	}
	return &Pool{
		config:   config,
		byID:     make(map[types.InstructionID]*poolEntry),
		byAsset:  make(map[types.AssetID][]*poolEntry),
		notifyCh: make(chan types.AssetID, 1000),
	}
}

// Start marks the pool as accepting work.
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.isRunning = true
	return nil
}

// Stop drains nothing; queued instructions stay until reaped.
func (p *Pool) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.isRunning {
		return nil
	}
	p.isRunning = false
	close(p.notifyCh)
	return nil
}

// Add queues a Pending instruction for its asset's next round.
func (p *Pool) Add(in *types.Instruction) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.isRunning {
		return ErrPoolNotRunning
	}
	if _, exists := p.byID[in.ID]; exists {
		return ErrAlreadyQueued
	}
	if len(p.byAsset[in.AssetID]) >= p.config.MaxPerAsset {
		return ErrPoolFull
	}

	entry := &poolEntry{instruction: in, queuedAt: time.Now()}
	p.byID[in.ID] = entry
	p.byAsset[in.AssetID] = append(p.byAsset[in.AssetID], entry)

	select {
	case p.notifyCh <- in.AssetID:
	default:
	}
	return nil
}

// Reap returns up to max queued instructions for an asset in FIFO order
// without removing them. The consensus engine removes them on commit or
// returns them to flight on abort.
func (p *Pool) Reap(asset types.AssetID, max int) []*types.Instruction {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if max <= 0 || max > p.config.MaxBatch {
		max = p.config.MaxBatch
	}
	entries := p.byAsset[asset]
	if len(entries) == 0 {
		return nil
	}
	if len(entries) > max {
		entries = entries[:max]
	}
	out := make([]*types.Instruction, len(entries))
	for i, e := range entries {
		out[i] = e.instruction
	}
	return out
}

// Remove drops instructions from the pool after their round finalizes.
func (p *Pool) Remove(ids ...types.InstructionID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, id := range ids {
		entry, exists := p.byID[id]
		if !exists {
			continue
		}
		delete(p.byID, id)
		asset := entry.instruction.AssetID
		queue := p.byAsset[asset]
		for i, e := range queue {
			if e.instruction.ID == id {
				p.byAsset[asset] = append(queue[:i], queue[i+1:]...)
				break
			}
		}
		if len(p.byAsset[asset]) == 0 {
			delete(p.byAsset, asset)
		}
	}
}

// Has reports whether an instruction is queued.
func (p *Pool) Has(id types.InstructionID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, exists := p.byID[id]
	return exists
}

// Size returns the number of queued instructions.
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byID)
}

// PendingAssets returns the assets that currently have queued work.
func (p *Pool) PendingAssets() []types.AssetID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]types.AssetID, 0, len(p.byAsset))
	for id := range p.byAsset {
		out = append(out, id)
	}
	return out
}

// NotifyCh signals the asset id each time new work arrives.
func (p *Pool) NotifyCh() <-chan types.AssetID {
	return p.notifyCh
}
