// Package repository provides persistent storage for assets, tokens,
// instructions, append-only state records, committees and escrow wallets.
package repository

import (
	"context"
	"errors"

	"github.com/vnlabs-io/assetd/types"
)

// Storage errors.
var (
	ErrNotFound      = errors.New("repository: not found")
	ErrAlreadyExists = errors.New("repository: already exists")
)

// Store is the persistence surface used by the node. Implementations must
// be safe for concurrent use.
type Store interface {
	// Assets
	SaveAsset(ctx context.Context, asset *types.Asset) error
	LoadAsset(ctx context.Context, id types.AssetID) (*types.Asset, error)
	ListAssets(ctx context.Context) ([]*types.Asset, error)

	// Tokens
	SaveToken(ctx context.Context, token *types.Token) error
	LoadToken(ctx context.Context, id types.TokenID) (*types.Token, error)
	LoadTokensByAsset(ctx context.Context, id types.AssetID) ([]*types.Token, error)

	// Instructions
	SaveInstruction(ctx context.Context, in *types.Instruction) error
	LoadInstruction(ctx context.Context, id types.InstructionID) (*types.Instruction, error)
	LoadChildInstructions(ctx context.Context, parent types.InstructionID) ([]*types.Instruction, error)
	LoadPendingInstructions(ctx context.Context, asset types.AssetID) ([]*types.Instruction, error)
	UpdateInstructionStatus(ctx context.Context, id types.InstructionID, status types.InstructionStatus) error
	// UpdateInstructionResult records the execution result and owning
	// proposal without touching the status, which other committee members
	// may be advancing concurrently.
	UpdateInstructionResult(ctx context.Context, id types.InstructionID, result []byte, proposal types.ProposalID) error

	// Append-only state records. AppendRecords is atomic: either every
	// record in the batch becomes visible or none does. Appending a record
	// whose (scope, entity, instruction) triple already exists is a no-op,
	// so every committee member may apply the same certified round.
	AppendRecords(ctx context.Context, records []*types.StateRecord) error
	LoadRecords(ctx context.Context, scope types.RecordScope, entityID string) ([]*types.StateRecord, error)

	// Committees
	SaveCommittee(ctx context.Context, committee *types.Committee) error
	LoadCommittee(ctx context.Context, id types.AssetID) (*types.Committee, error)

	// Escrow wallets
	SaveWallet(ctx context.Context, wallet *types.Wallet) error
	LoadWallet(ctx context.Context, pubKey string) (*types.Wallet, error)
	// LoadActiveWalletForToken returns the Active wallet holding the
	// token, if any. Admission uses it to enforce token exclusivity
	// across committee members sharing the store.
	LoadActiveWalletForToken(ctx context.Context, token types.TokenID) (*types.Wallet, error)
	UpdateWallet(ctx context.Context, pubKey string, balance uint64, status types.WalletStatus) error

	Close() error
}
