package types

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// TemplateID identifies a template, the fixed set of contracts an asset
// is governed by.
type TemplateID uint64

// Hex returns the 12-character hex form used inside asset identifiers.
func (t TemplateID) Hex() string {
	return fmt.Sprintf("%012x", uint64(t))
}

func (t TemplateID) String() string {
	return fmt.Sprintf("%d", uint64(t))
}

// AssetID is the 64-character identifier of an asset: 12 hex characters
// of template id, a 12-character random suffix for collision resistance,
// a separating dot, and a 39-character payload hash. Opaque to callers;
// the template id is recoverable for dispatch.
type AssetID string

const (
	assetIDLen       = 64
	assetSuffixLen   = 12
	assetHashSegment = 39
)

// NewAssetID generates an AssetID under the given template.
func NewAssetID(template TemplateID) AssetID {
	suffix := randomHex(assetSuffixLen)
	hash := randomHex(assetHashSegment + 1)[:assetHashSegment]
	return AssetID(template.Hex() + suffix + "." + hash)
}

// TemplateID extracts the template portion of the identifier.
func (a AssetID) TemplateID() (TemplateID, error) {
	if len(a) != assetIDLen {
		return 0, fmt.Errorf("asset id must be %d characters, got %d", assetIDLen, len(a))
	}
	var t uint64
	if _, err := fmt.Sscanf(string(a[:12]), "%012x", &t); err != nil {
		return 0, fmt.Errorf("asset id %q: bad template segment: %w", a, err)
	}
	return TemplateID(t), nil
}

// Valid reports whether the identifier is structurally well formed.
func (a AssetID) Valid() bool {
	if len(a) != assetIDLen || a[24] != '.' {
		return false
	}
	_, err := a.TemplateID()
	return err == nil
}

// TokenID identifies one token issued under an asset. It is the asset id
// followed by a dot and a 16-character random suffix.
type TokenID string

// NewTokenID generates a TokenID scoped to the given asset.
func NewTokenID(asset AssetID) TokenID {
	return TokenID(string(asset) + "." + randomHex(16))
}

// AssetID returns the owning asset's identifier.
func (t TokenID) AssetID() AssetID {
	if i := strings.LastIndex(string(t), "."); i > assetIDLen-1 {
		return AssetID(t[:assetIDLen])
	}
	return ""
}

// Valid reports whether the identifier is structurally well formed.
func (t TokenID) Valid() bool {
	return len(t) == assetIDLen+17 && t.AssetID().Valid()
}

// InstructionID is the opaque unique identifier of an instruction.
type InstructionID string

// NewInstructionID generates a fresh instruction id.
func NewInstructionID() InstructionID {
	return InstructionID(uuid.NewString())
}

// ProposalID is the opaque unique identifier of a consensus proposal.
type ProposalID string

// NewProposalID generates a fresh proposal id.
func NewProposalID() ProposalID {
	return ProposalID(uuid.NewString())
}

// RecordID is the opaque unique identifier of an append-only state record.
type RecordID string

// NewRecordID generates a fresh record id.
func NewRecordID() RecordID {
	return RecordID(uuid.NewString())
}

// NodeID identifies a committee member node.
type NodeID string

func randomHex(n int) string {
	buf := make([]byte, (n+1)/2)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("types: read random bytes: %v", err))
	}
	return hex.EncodeToString(buf)[:n]
}
