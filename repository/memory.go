package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vnlabs-io/assetd/types"
)

// MemoryStore is an in-memory Store used by tests and single-node runs.
type MemoryStore struct {
	mu           sync.RWMutex
	assets       map[types.AssetID]*types.Asset
	tokens       map[types.TokenID]*types.Token
	instructions map[types.InstructionID]*types.Instruction
	records      map[string][]*types.StateRecord
	committees   map[types.AssetID]*types.Committee
	wallets      map[string]*types.Wallet
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		assets:       make(map[types.AssetID]*types.Asset),
		tokens:       make(map[types.TokenID]*types.Token),
		instructions: make(map[types.InstructionID]*types.Instruction),
		records:      make(map[string][]*types.StateRecord),
		committees:   make(map[types.AssetID]*types.Committee),
		wallets:      make(map[string]*types.Wallet),
	}
}

func recordKey(scope types.RecordScope, entityID string) string {
	return string(scope) + "/" + entityID
}

// SaveAsset stores an asset, overwriting any previous version.
func (ms *MemoryStore) SaveAsset(_ context.Context, asset *types.Asset) error {
	if asset == nil {
		return fmt.Errorf("asset is nil")
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	cp := *asset
	ms.assets[asset.ID] = &cp
	return nil
}

// LoadAsset loads an asset by id.
func (ms *MemoryStore) LoadAsset(_ context.Context, id types.AssetID) (*types.Asset, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	asset, ok := ms.assets[id]
	if !ok {
		return nil, fmt.Errorf("asset %s: %w", id, ErrNotFound)
	}
	cp := *asset
	return &cp, nil
}

// ListAssets returns every stored asset.
func (ms *MemoryStore) ListAssets(_ context.Context) ([]*types.Asset, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	out := make([]*types.Asset, 0, len(ms.assets))
	for _, a := range ms.assets {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

// SaveToken stores a token.
func (ms *MemoryStore) SaveToken(_ context.Context, token *types.Token) error {
	if token == nil {
		return fmt.Errorf("token is nil")
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	cp := *token
	ms.tokens[token.ID] = &cp
	return nil
}

// LoadToken loads a token by id.
func (ms *MemoryStore) LoadToken(_ context.Context, id types.TokenID) (*types.Token, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	token, ok := ms.tokens[id]
	if !ok {
		return nil, fmt.Errorf("token %s: %w", id, ErrNotFound)
	}
	cp := *token
	return &cp, nil
}

// LoadTokensByAsset returns every token issued under an asset.
func (ms *MemoryStore) LoadTokensByAsset(_ context.Context, id types.AssetID) ([]*types.Token, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	var out []*types.Token
	for _, t := range ms.tokens {
		if t.AssetID == id {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

// SaveInstruction stores an instruction.
func (ms *MemoryStore) SaveInstruction(_ context.Context, in *types.Instruction) error {
	if in == nil {
		return fmt.Errorf("instruction is nil")
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	cp := *in
	ms.instructions[in.ID] = &cp
	return nil
}

// LoadInstruction loads an instruction by id.
func (ms *MemoryStore) LoadInstruction(_ context.Context, id types.InstructionID) (*types.Instruction, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	in, ok := ms.instructions[id]
	if !ok {
		return nil, fmt.Errorf("instruction %s: %w", id, ErrNotFound)
	}
	cp := *in
	return &cp, nil
}

// LoadChildInstructions returns the direct children of an instruction.
func (ms *MemoryStore) LoadChildInstructions(_ context.Context, parent types.InstructionID) ([]*types.Instruction, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	var out []*types.Instruction
	for _, in := range ms.instructions {
		if in.ParentID == parent {
			cp := *in
			out = append(out, &cp)
		}
	}
	return out, nil
}

// LoadPendingInstructions returns an asset's Pending instructions in
// creation order, the candidate set for its next consensus round.
func (ms *MemoryStore) LoadPendingInstructions(_ context.Context, asset types.AssetID) ([]*types.Instruction, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	var out []*types.Instruction
	for _, in := range ms.instructions {
		if in.AssetID == asset && in.Status == types.StatusPending {
			cp := *in
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// UpdateInstructionStatus overwrites an instruction's status.
func (ms *MemoryStore) UpdateInstructionStatus(_ context.Context, id types.InstructionID, status types.InstructionStatus) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	in, ok := ms.instructions[id]
	if !ok {
		return fmt.Errorf("instruction %s: %w", id, ErrNotFound)
	}
	in.Status = status
	return nil
}

// UpdateInstructionResult records the execution result and owning
// proposal, leaving the status untouched.
func (ms *MemoryStore) UpdateInstructionResult(_ context.Context, id types.InstructionID, result []byte, proposal types.ProposalID) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	in, ok := ms.instructions[id]
	if !ok {
		return fmt.Errorf("instruction %s: %w", id, ErrNotFound)
	}
	in.Result = append([]byte(nil), result...)
	in.ProposalID = proposal
	in.UpdatedAt = time.Now().UTC()
	return nil
}

// AppendRecords appends a batch of state records atomically. Records
// whose (scope, entity, instruction) triple was already appended are
// skipped, keeping certified commits idempotent across members.
func (ms *MemoryStore) AppendRecords(_ context.Context, records []*types.StateRecord) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	for _, r := range records {
		if r == nil {
			return fmt.Errorf("record is nil")
		}
		key := recordKey(r.Scope, r.EntityID)
		duplicate := false
		for _, existing := range ms.records[key] {
			if existing.InstructionID == r.InstructionID {
				duplicate = true
				break
			}
		}
		if duplicate {
			continue
		}
		cp := *r
		ms.records[key] = append(ms.records[key], &cp)
	}
	return nil
}

// LoadRecords returns an entity's records in append order.
func (ms *MemoryStore) LoadRecords(_ context.Context, scope types.RecordScope, entityID string) ([]*types.StateRecord, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	stored := ms.records[recordKey(scope, entityID)]
	out := make([]*types.StateRecord, len(stored))
	for i, r := range stored {
		cp := *r
		out[i] = &cp
	}
	return out, nil
}

// SaveCommittee stores an asset's committee configuration.
func (ms *MemoryStore) SaveCommittee(_ context.Context, committee *types.Committee) error {
	if committee == nil {
		return fmt.Errorf("committee is nil")
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	cp := *committee
	cp.Members = append([]types.Member(nil), committee.Members...)
	ms.committees[committee.AssetID] = &cp
	return nil
}

// LoadCommittee loads the committee registered for an asset.
func (ms *MemoryStore) LoadCommittee(_ context.Context, id types.AssetID) (*types.Committee, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	c, ok := ms.committees[id]
	if !ok {
		return nil, fmt.Errorf("committee for asset %s: %w", id, ErrNotFound)
	}
	cp := *c
	cp.Members = append([]types.Member(nil), c.Members...)
	return &cp, nil
}

// SaveWallet stores an escrow wallet.
func (ms *MemoryStore) SaveWallet(_ context.Context, wallet *types.Wallet) error {
	if wallet == nil {
		return fmt.Errorf("wallet is nil")
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	cp := *wallet
	ms.wallets[wallet.PubKey] = &cp
	return nil
}

// LoadWallet loads an escrow wallet by public key.
func (ms *MemoryStore) LoadWallet(_ context.Context, pubKey string) (*types.Wallet, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	w, ok := ms.wallets[pubKey]
	if !ok {
		return nil, fmt.Errorf("wallet %s: %w", pubKey, ErrNotFound)
	}
	cp := *w
	return &cp, nil
}

// LoadActiveWalletForToken returns the Active wallet holding the token.
func (ms *MemoryStore) LoadActiveWalletForToken(_ context.Context, token types.TokenID) (*types.Wallet, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	for _, w := range ms.wallets {
		if w.TokenID == token && w.Status == types.WalletActive {
			cp := *w
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("active wallet for token %s: %w", token, ErrNotFound)
}

// UpdateWallet overwrites a wallet's balance and status.
func (ms *MemoryStore) UpdateWallet(_ context.Context, pubKey string, balance uint64, status types.WalletStatus) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	w, ok := ms.wallets[pubKey]
	if !ok {
		return fmt.Errorf("wallet %s: %w", pubKey, ErrNotFound)
	}
	w.Balance = balance
	w.Status = status
	return nil
}

// Close releases nothing for the in-memory store.
func (ms *MemoryStore) Close() error {
	return nil
}
