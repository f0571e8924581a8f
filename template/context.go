package template

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vnlabs-io/assetd/crypto"
	"github.com/vnlabs-io/assetd/ledger"
	"github.com/vnlabs-io/assetd/repository"
	"github.com/vnlabs-io/assetd/types"
)

// EscrowRequest asks the coordinator to open a timed sub-transaction
// after the owning instruction's round commits.
type EscrowRequest struct {
	TokenID      types.TokenID
	Amount       uint64
	Timeout      time.Duration
	NewOwner     string
	LockContract string
	LockParams   json.RawMessage
}

// Context is the execution environment handed to a contract procedure.
// Reads come from a committed snapshot; writes accumulate as proposed
// records and never touch storage directly. Execution must be
// deterministic: every committee member runs the same procedure over the
// same snapshot and must produce identical proposed state.
type Context struct {
	ctx    context.Context
	store  repository.Store
	ledger *ledger.Ledger

	instruction *types.Instruction
	asset       *types.Asset
	token       *types.Token

	proposedRecords []*types.StateRecord
	newTokens       []*types.Token
	escrow          *EscrowRequest
	result          json.RawMessage
}

// NewContext builds the execution context for one instruction.
func NewContext(ctx context.Context, store repository.Store, led *ledger.Ledger, in *types.Instruction) (*Context, error) {
	asset, err := store.LoadAsset(ctx, in.AssetID)
	if err != nil {
		return nil, fmt.Errorf("load asset %s: %w", in.AssetID, err)
	}
	c := &Context{ctx: ctx, store: store, ledger: led, instruction: in, asset: asset}
	if in.TokenID != "" {
		token, err := store.LoadToken(ctx, in.TokenID)
		if err != nil {
			return nil, fmt.Errorf("load token %s: %w", in.TokenID, err)
		}
		c.token = token
	}
	return c, nil
}

// Instruction returns the instruction being executed.
func (c *Context) Instruction() *types.Instruction { return c.instruction }

// Asset returns the target asset.
func (c *Context) Asset() *types.Asset { return c.asset }

// Token returns the target token, or nil for asset-scoped contracts.
func (c *Context) Token() *types.Token { return c.token }

// Params unmarshals the instruction parameters into v.
func (c *Context) Params(v any) error {
	if len(c.instruction.Params) == 0 {
		return fmt.Errorf("instruction %s has no params", c.instruction.ID)
	}
	if err := json.Unmarshal(c.instruction.Params, v); err != nil {
		return fmt.Errorf("decode params: %w", err)
	}
	return nil
}

// AssetState materializes the asset's committed state.
func (c *Context) AssetState() (json.RawMessage, error) {
	view, err := c.ledger.Materialize(c.ctx, types.ScopeAsset, string(c.asset.ID), time.Time{})
	if err != nil {
		return nil, err
	}
	return view.Data, nil
}

// TokenState materializes a token's committed state.
func (c *Context) TokenState(id types.TokenID) (json.RawMessage, error) {
	view, err := c.ledger.Materialize(c.ctx, types.ScopeToken, string(id), time.Time{})
	if err != nil {
		return nil, err
	}
	return view.Data, nil
}

// ProposeAssetRecord stages an asset-scoped record. The payload replaces
// the asset's visible state wholesale once the instruction commits.
func (c *Context) ProposeAssetRecord(data json.RawMessage) {
	c.proposedRecords = append(c.proposedRecords, &types.StateRecord{
		ID:            types.NewRecordID(),
		Scope:         types.ScopeAsset,
		EntityID:      string(c.asset.ID),
		InstructionID: c.instruction.ID,
		Data:          data,
		CreatedAt:     time.Now().UTC(),
	})
}

// ProposeTokenRecord stages a token-scoped record.
func (c *Context) ProposeTokenRecord(id types.TokenID, data json.RawMessage) {
	c.proposedRecords = append(c.proposedRecords, &types.StateRecord{
		ID:            types.NewRecordID(),
		Scope:         types.ScopeToken,
		EntityID:      string(id),
		InstructionID: c.instruction.ID,
		Data:          data,
		CreatedAt:     time.Now().UTC(),
	})
}

// CreateToken mints a token under the asset with a deterministic id, so
// every committee member re-executing this instruction derives the same
// token. issueNumber distinguishes tokens minted by one instruction.
func (c *Context) CreateToken(owner string, issueNumber uint64, data json.RawMessage) *types.Token {
	seed := fmt.Sprintf("%s/%d", c.instruction.ID, issueNumber)
	suffix := crypto.HashHex([]byte(seed))[:16]
	token := &types.Token{
		ID:          types.TokenID(string(c.asset.ID) + "." + suffix),
		AssetID:     c.asset.ID,
		IssueNumber: issueNumber,
		OwnerPubKey: owner,
		Status:      types.TokenAvailable,
		InitialData: data,
		CreatedAt:   time.Now().UTC(),
	}
	c.newTokens = append(c.newTokens, token)
	return token
}

// RequestEscrow asks for a timed sub-transaction once this instruction's
// round commits. At most one request per instruction.
func (c *Context) RequestEscrow(req *EscrowRequest) error {
	if c.escrow != nil {
		return fmt.Errorf("instruction %s already requested escrow", c.instruction.ID)
	}
	c.escrow = req
	return nil
}

// SetResult records the node-local result payload returned to the caller.
// The result is not part of the consensus state.
func (c *Context) SetResult(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	c.result = data
	return nil
}

// Outcome is everything a procedure produced.
type Outcome struct {
	Records []*types.StateRecord
	Tokens  []*types.Token
	Escrow  *EscrowRequest
	Result  json.RawMessage
}

// Outcome collects the staged effects of the execution.
func (c *Context) Outcome() *Outcome {
	return &Outcome{
		Records: c.proposedRecords,
		Tokens:  c.newTokens,
		Escrow:  c.escrow,
		Result:  c.result,
	}
}
