package template

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vnlabs-io/assetd/types"
)

// SingleUseTemplateID is the template id of the built-in single-use
// token template.
const SingleUseTemplateID types.TemplateID = 1

// Contract names of the single-use token template.
const (
	ContractIssueTokens   = "issue_tokens"
	ContractSellToken     = "sell_token"
	ContractSellTokenLock = "sell_token_lock"
	ContractTransferToken = "transfer_token"
	ContractRedeemToken   = "redeem_token"
)

const (
	maxIssueQuantity = 10000
	minSaleTimeout   = 10 * time.Second
	maxSaleTimeout   = 24 * time.Hour
)

// TokenState is the visible state of a single-use token, carried
// wholesale in each token-scoped record.
type TokenState struct {
	Owner  string            `json:"owner_pub_key"`
	Status types.TokenStatus `json:"status"`
	Data   json.RawMessage   `json:"data,omitempty"`
}

// AssetState is the visible state of a single-use token asset.
type AssetState struct {
	IssuedTotal uint64 `json:"issued_total"`
}

// SingleUseTokens returns the built-in template: mint, sell with escrow,
// transfer, and one-shot redemption.
func SingleUseTokens() *Template {
	return &Template{
		ID:   SingleUseTemplateID,
		Name: "single_use_tokens",
		Contracts: map[string]Definition{
			ContractIssueTokens: {
				Name:  ContractIssueTokens,
				Scope: ScopeAsset,
				Run:   issueTokens,
			},
			ContractSellToken: {
				Name:      ContractSellToken,
				Scope:     ScopeToken,
				Exclusive: true,
				Run:       sellToken,
			},
			ContractSellTokenLock: {
				Name:     ContractSellTokenLock,
				Scope:    ScopeToken,
				Internal: true,
				Run:      sellTokenLock,
			},
			ContractTransferToken: {
				Name:      ContractTransferToken,
				Scope:     ScopeToken,
				Exclusive: true,
				Run:       transferToken,
			},
			ContractRedeemToken: {
				Name:      ContractRedeemToken,
				Scope:     ScopeToken,
				Exclusive: true,
				Run:       redeemToken,
			},
		},
	}
}

func issueTokens(c *Context) error {
	var params struct {
		Quantity uint64          `json:"quantity"`
		Owner    string          `json:"owner_pub_key"`
		Data     json.RawMessage `json:"data"`
	}
	if err := c.Params(&params); err != nil {
		return Failf(ContractIssueTokens, "%v", err)
	}
	if params.Quantity == 0 || params.Quantity > maxIssueQuantity {
		return Failf(ContractIssueTokens, "quantity must be 1..%d, got %d", maxIssueQuantity, params.Quantity)
	}
	owner := params.Owner
	if owner == "" {
		owner = c.Instruction().SenderPubKey
	}

	var assetState AssetState
	if err := c.currentAssetState(&assetState); err != nil {
		return err
	}

	issued := make([]types.TokenID, 0, params.Quantity)
	for i := uint64(0); i < params.Quantity; i++ {
		state := TokenState{Owner: owner, Status: types.TokenAvailable, Data: params.Data}
		data, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("encode token state: %w", err)
		}
		token := c.CreateToken(owner, assetState.IssuedTotal+i+1, data)
		c.ProposeTokenRecord(token.ID, data)
		issued = append(issued, token.ID)
	}

	assetState.IssuedTotal += params.Quantity
	assetData, err := json.Marshal(assetState)
	if err != nil {
		return fmt.Errorf("encode asset state: %w", err)
	}
	c.ProposeAssetRecord(assetData)

	return c.SetResult(map[string]any{"token_ids": issued})
}

func sellToken(c *Context) error {
	var params struct {
		Price       uint64 `json:"price"`
		NewOwner    string `json:"new_owner_pub_key"`
		TimeoutSecs uint64 `json:"timeout_secs"`
	}
	if err := c.Params(&params); err != nil {
		return Failf(ContractSellToken, "%v", err)
	}
	if !c.Asset().AllowTransfers {
		return Failf(ContractSellToken, "asset %s does not allow transfers", c.Asset().ID)
	}
	if params.Price == 0 {
		return Failf(ContractSellToken, "price must be positive")
	}
	if params.NewOwner == "" {
		return Failf(ContractSellToken, "new owner public key required")
	}
	timeout := time.Duration(params.TimeoutSecs) * time.Second
	if timeout < minSaleTimeout || timeout > maxSaleTimeout {
		return Failf(ContractSellToken, "timeout must be between %s and %s", minSaleTimeout, maxSaleTimeout)
	}

	state, err := c.currentTokenState()
	if err != nil {
		return err
	}
	if state.Status != types.TokenAvailable {
		return Failf(ContractSellToken, "token %s is %s, must be Available", c.Token().ID, state.Status)
	}

	lockParams, err := json.Marshal(map[string]any{
		"new_owner_pub_key": params.NewOwner,
		"price":             params.Price,
	})
	if err != nil {
		return fmt.Errorf("encode lock params: %w", err)
	}
	return c.RequestEscrow(&EscrowRequest{
		TokenID:      c.Token().ID,
		Amount:       params.Price,
		Timeout:      timeout,
		NewOwner:     params.NewOwner,
		LockContract: ContractSellTokenLock,
		LockParams:   lockParams,
	})
}

// sellTokenLock completes a sale: it runs when the escrow wallet funds,
// and its committed record hands the token to the buyer.
func sellTokenLock(c *Context) error {
	var params struct {
		NewOwner string `json:"new_owner_pub_key"`
		Price    uint64 `json:"price"`
	}
	if err := c.Params(&params); err != nil {
		return Failf(ContractSellTokenLock, "%v", err)
	}

	state, err := c.currentTokenState()
	if err != nil {
		return err
	}
	state.Owner = params.NewOwner
	state.Status = types.TokenAvailable
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode token state: %w", err)
	}
	c.ProposeTokenRecord(c.Token().ID, data)
	return nil
}

func transferToken(c *Context) error {
	var params struct {
		NewOwner string `json:"new_owner_pub_key"`
	}
	if err := c.Params(&params); err != nil {
		return Failf(ContractTransferToken, "%v", err)
	}
	if !c.Asset().AllowTransfers {
		return Failf(ContractTransferToken, "asset %s does not allow transfers", c.Asset().ID)
	}
	if params.NewOwner == "" {
		return Failf(ContractTransferToken, "new owner public key required")
	}

	state, err := c.currentTokenState()
	if err != nil {
		return err
	}
	if state.Status != types.TokenAvailable && state.Status != types.TokenActive {
		return Failf(ContractTransferToken, "token %s is %s, cannot transfer", c.Token().ID, state.Status)
	}

	state.Owner = params.NewOwner
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode token state: %w", err)
	}
	c.ProposeTokenRecord(c.Token().ID, data)
	return nil
}

// redeemToken burns one use: a Used token never becomes spendable again.
func redeemToken(c *Context) error {
	state, err := c.currentTokenState()
	if err != nil {
		return err
	}
	if state.Status != types.TokenAvailable && state.Status != types.TokenActive {
		return Failf(ContractRedeemToken, "token %s is %s, cannot redeem", c.Token().ID, state.Status)
	}
	if state.Owner != c.Instruction().SenderPubKey {
		return Failf(ContractRedeemToken, "only the owner may redeem token %s", c.Token().ID)
	}

	state.Status = types.TokenUsed
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode token state: %w", err)
	}
	c.ProposeTokenRecord(c.Token().ID, data)
	return nil
}

// currentTokenState decodes the token's materialized state, falling back
// to the stored token row when no record committed yet.
func (c *Context) currentTokenState() (*TokenState, error) {
	raw, err := c.TokenState(c.Token().ID)
	if err != nil {
		return nil, err
	}
	state := &TokenState{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, state); err != nil {
			return nil, fmt.Errorf("decode token state: %w", err)
		}
	}
	if state.Owner == "" {
		state.Owner = c.Token().OwnerPubKey
	}
	if state.Status == "" {
		state.Status = c.Token().Status
	}
	return state, nil
}

func (c *Context) currentAssetState(v any) error {
	raw, err := c.AssetState()
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode asset state: %w", err)
	}
	return nil
}
