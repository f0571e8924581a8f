// Package types defines core data structures for the asset validator node.
package types

import (
	"encoding/json"
	"time"
)

// Asset represents one managed digital-asset contract instance. An asset
// is never mutated in place after supersession; SupersededBy points at
// its successor.
type Asset struct {
	ID                AssetID         `json:"id"`
	TemplateID        TemplateID      `json:"template_id"`
	Name              string          `json:"name"`
	Description       string          `json:"description"`
	Status            AssetStatus     `json:"status"`
	IssuerPubKey      string          `json:"issuer_pub_key"`
	AuthorizedSigners []string        `json:"authorized_signers"`
	AllowTransfers    bool            `json:"allow_transfers"`
	PermissionFlags   int64           `json:"permission_flags"`
	InitialData       json.RawMessage `json:"initial_data"`
	ExpiryDate        *time.Time      `json:"expiry_date,omitempty"`
	SupersededBy      AssetID         `json:"superseded_by,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

// AuthorizedSigner reports whether the public key may issue asset-scoped
// instructions. The issuer is always authorized.
func (a *Asset) AuthorizedSigner(pubKey string) bool {
	if pubKey == a.IssuerPubKey {
		return true
	}
	for _, s := range a.AuthorizedSigners {
		if s == pubKey {
			return true
		}
	}
	return false
}

// Token is one unit issued under an asset. Its authoritative state is the
// most recent committed append-only record, falling back to the fields
// here when none exists.
type Token struct {
	ID          TokenID         `json:"id"`
	AssetID     AssetID         `json:"asset_id"`
	IssueNumber uint64          `json:"issue_number"`
	OwnerPubKey string          `json:"owner_pub_key"`
	Status      TokenStatus     `json:"status"`
	InitialData json.RawMessage `json:"initial_data"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Instruction is a requested mutation against an asset or token, or a
// wallet-scoped action when both target ids are empty.
type Instruction struct {
	ID               InstructionID     `json:"id"`
	ParentID         InstructionID     `json:"parent_id,omitempty"`
	InitiatingNodeID NodeID            `json:"initiating_node_id"`
	SenderPubKey     string            `json:"sender_pub_key"`
	Signature        []byte            `json:"signature"`
	AssetID          AssetID           `json:"asset_id,omitempty"`
	TokenID          TokenID           `json:"token_id,omitempty"`
	TemplateID       TemplateID        `json:"template_id"`
	Contract         string            `json:"contract"`
	Status           InstructionStatus `json:"status"`
	Params           json.RawMessage   `json:"params"`
	Result           json.RawMessage   `json:"result,omitempty"`
	ProposalID       ProposalID        `json:"proposal_id,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// EntityID returns the id of the instruction's target entity: the token
// id for token-scoped calls, otherwise the asset id.
func (in *Instruction) EntityID() string {
	if in.TokenID != "" {
		return string(in.TokenID)
	}
	return string(in.AssetID)
}

// SigningBytes returns the canonical byte form covered by the
// instruction signature.
func (in *Instruction) SigningBytes() []byte {
	payload := struct {
		ID       InstructionID   `json:"id"`
		Asset    AssetID         `json:"asset_id"`
		Token    TokenID         `json:"token_id"`
		Template TemplateID      `json:"template_id"`
		Contract string          `json:"contract"`
		Params   json.RawMessage `json:"params"`
		Sender   string          `json:"sender"`
	}{in.ID, in.AssetID, in.TokenID, in.TemplateID, in.Contract, in.Params, in.SenderPubKey}
	data, _ := json.Marshal(payload)
	return data
}

// RecordScope distinguishes the two append-only record streams.
type RecordScope string

const (
	ScopeAsset RecordScope = "asset"
	ScopeToken RecordScope = "token"
)

// StateRecord is one immutable append-only entry capturing a proposed or
// committed mutation of an entity's data. The payload replaces, not
// merges, the visible state of the entity.
type StateRecord struct {
	ID            RecordID        `json:"id"`
	Scope         RecordScope     `json:"scope"`
	EntityID      string          `json:"entity_id"`
	InstructionID InstructionID   `json:"instruction_id"`
	Data          json.RawMessage `json:"data"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Wallet is a temporary escrow key pair receiving payment for a pending
// sale or transfer. Owned exclusively by the timed sub-transaction that
// created it.
type Wallet struct {
	PubKey        string        `json:"pub_key"`
	InstructionID InstructionID `json:"instruction_id"`
	TokenID       TokenID       `json:"token_id"`
	Balance       uint64        `json:"balance"`
	Expected      uint64        `json:"expected"`
	Status        WalletStatus  `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
}
