package instruction

import (
	"context"
	"errors"
	"fmt"

	"github.com/vnlabs-io/assetd/crypto"
	"github.com/vnlabs-io/assetd/repository"
	"github.com/vnlabs-io/assetd/types"
)

var (
	ErrValidation    = errors.New("instruction rejected: validation failed")
	ErrNotAuthorized = errors.New("instruction rejected: sender not authorized")
	ErrConflict      = errors.New("instruction rejected: conflicting operation in flight")
)

// ConflictChecker reports whether an exclusive operation already holds a
// token. The escrow coordinator implements it.
type ConflictChecker interface {
	ActiveForToken(token types.TokenID) bool
}

// ContractResolver reports whether a (template, contract) pair is
// registered, whether the contract claims token exclusivity, and whether
// external callers may submit it. The template registry implements it.
type ContractResolver interface {
	Resolve(template types.TemplateID, contract string) bool
	Exclusive(template types.TemplateID, contract string) bool
	Callable(template types.TemplateID, contract string) bool
}

// Admission performs the synchronous checks on a submitted instruction.
// A rejection here never creates any record; the instruction is simply
// refused.
type Admission struct {
	store     repository.Store
	contracts ContractResolver
	conflicts ConflictChecker
}

// NewAdmission creates an Admission gate.
func NewAdmission(store repository.Store, contracts ContractResolver, conflicts ConflictChecker) *Admission {
	return &Admission{store: store, contracts: contracts, conflicts: conflicts}
}

// Check validates structure, signature, authorization and exclusivity.
// On success the instruction may be persisted as Scheduled.
func (a *Admission) Check(ctx context.Context, in *types.Instruction) error {
	if err := a.checkStructure(in); err != nil {
		return err
	}

	ok, err := crypto.VerifyHex(in.SenderPubKey, in.SigningBytes(), in.Signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if !ok {
		return fmt.Errorf("%w: bad instruction signature", ErrValidation)
	}

	asset, err := a.store.LoadAsset(ctx, in.AssetID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: unknown asset %s", ErrValidation, in.AssetID)
		}
		return err
	}
	if asset.Status != types.AssetActive {
		return fmt.Errorf("%w: asset %s is %s", ErrValidation, asset.ID, asset.Status)
	}
	if asset.TemplateID != in.TemplateID {
		return fmt.Errorf("%w: asset %s is not governed by template %s", ErrValidation, asset.ID, in.TemplateID)
	}

	if _, err := a.store.LoadCommittee(ctx, in.AssetID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: no committee registered for asset %s", ErrValidation, in.AssetID)
		}
		return err
	}

	if in.TokenID != "" {
		token, err := a.store.LoadToken(ctx, in.TokenID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%w: unknown token %s", ErrValidation, in.TokenID)
			}
			return err
		}
		if !a.authorizedForToken(asset, token, in.SenderPubKey) {
			return fmt.Errorf("%w: %s may not act on token %s", ErrNotAuthorized, in.SenderPubKey, token.ID)
		}
		if a.contracts.Exclusive(in.TemplateID, in.Contract) {
			if a.conflicts != nil && a.conflicts.ActiveForToken(in.TokenID) {
				return fmt.Errorf("%w: token %s has an active timed sub-transaction", ErrConflict, in.TokenID)
			}
			// the holder may have been opened through another committee
			// member; the shared wallet table is authoritative
			if _, err := a.store.LoadActiveWalletForToken(ctx, in.TokenID); err == nil {
				return fmt.Errorf("%w: token %s has an active timed sub-transaction", ErrConflict, in.TokenID)
			} else if !errors.Is(err, repository.ErrNotFound) {
				return err
			}
		}
	} else if !asset.AuthorizedSigner(in.SenderPubKey) {
		return fmt.Errorf("%w: %s is not an authorized signer of asset %s", ErrNotAuthorized, in.SenderPubKey, asset.ID)
	}

	return nil
}

func (a *Admission) checkStructure(in *types.Instruction) error {
	if in == nil {
		return fmt.Errorf("%w: instruction is nil", ErrValidation)
	}
	if in.ID == "" || in.SenderPubKey == "" || in.Contract == "" {
		return fmt.Errorf("%w: missing required fields", ErrValidation)
	}
	if !in.AssetID.Valid() {
		return fmt.Errorf("%w: malformed asset id %q", ErrValidation, in.AssetID)
	}
	if in.TokenID != "" {
		if !in.TokenID.Valid() {
			return fmt.Errorf("%w: malformed token id %q", ErrValidation, in.TokenID)
		}
		if in.TokenID.AssetID() != in.AssetID {
			return fmt.Errorf("%w: token %s does not belong to asset %s", ErrValidation, in.TokenID, in.AssetID)
		}
	}
	if !a.contracts.Resolve(in.TemplateID, in.Contract) {
		return fmt.Errorf("%w: template %s has no contract %q", ErrValidation, in.TemplateID, in.Contract)
	}
	if !a.contracts.Callable(in.TemplateID, in.Contract) {
		return fmt.Errorf("%w: contract %q is not externally callable", ErrValidation, in.Contract)
	}
	return nil
}

// authorizedForToken allows the token owner or any authorized asset
// signer to issue token-scoped instructions.
func (a *Admission) authorizedForToken(asset *types.Asset, token *types.Token, pubKey string) bool {
	if token.OwnerPubKey == pubKey {
		return true
	}
	return asset.AuthorizedSigner(pubKey)
}
