// Package ledger materializes entity state from the append-only record
// streams. Records never mutate; the visible state of an entity is the
// payload of its most recent record whose owning instruction committed,
// falling back to the entity's initial data.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vnlabs-io/assetd/crypto"
	"github.com/vnlabs-io/assetd/repository"
	"github.com/vnlabs-io/assetd/types"
)

// ErrNotFound indicates the entity has no committed record and no stored
// initial data.
var ErrNotFound = errors.New("ledger: entity not found")

// View is the materialized state of one entity at a point in time.
type View struct {
	Scope         types.RecordScope   `json:"scope"`
	EntityID      string              `json:"entity_id"`
	Data          json.RawMessage     `json:"data"`
	RecordID      types.RecordID      `json:"record_id,omitempty"`
	InstructionID types.InstructionID `json:"instruction_id,omitempty"`
	AsOf          time.Time           `json:"as_of"`
}

// Hash returns the content hash of the view's visible data, the value
// committee members compare during endorsement.
func (v *View) Hash() string {
	return crypto.HashHex(v.Data)
}

// Ledger folds append-only records into entity views.
type Ledger struct {
	store repository.Store
}

// New creates a Ledger over the given store.
func New(store repository.Store) *Ledger {
	return &Ledger{store: store}
}

// owningInstruction is the cached status and creation time of a
// record's owning instruction.
type owningInstruction struct {
	status    types.InstructionStatus
	createdAt time.Time
}

// Materialize returns the entity's state as of the given instant. A zero
// asOf means "now". Only records whose owning instruction reached Commit
// contribute; the latest qualifying record wins wholesale, there is no
// merging of payloads. The asOf bound applies to the owning instruction's
// creation time, a single shared value, never to the record timestamp a
// member minted locally during execution.
func (l *Ledger) Materialize(ctx context.Context, scope types.RecordScope, entityID string, asOf time.Time) (*View, error) {
	records, err := l.store.LoadRecords(ctx, scope, entityID)
	if err != nil {
		return nil, fmt.Errorf("load records for %s: %w", entityID, err)
	}

	view := &View{Scope: scope, EntityID: entityID, AsOf: asOf}

	// Walk newest to oldest so the first committed record inside the
	// bound is the answer.
	owners := make(map[types.InstructionID]owningInstruction)
	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		owner, ok := owners[r.InstructionID]
		if !ok {
			in, err := l.store.LoadInstruction(ctx, r.InstructionID)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					continue
				}
				return nil, fmt.Errorf("load owning instruction %s: %w", r.InstructionID, err)
			}
			owner = owningInstruction{status: in.Status, createdAt: in.CreatedAt}
			owners[r.InstructionID] = owner
		}
		if !asOf.IsZero() && owner.createdAt.After(asOf) {
			continue
		}
		if owner.status != types.StatusCommit {
			continue
		}
		view.Data = r.Data
		view.RecordID = r.ID
		view.InstructionID = r.InstructionID
		return view, nil
	}

	// No committed record inside the bound: fall back to initial data.
	initial, err := l.initialData(ctx, scope, entityID)
	if err != nil {
		return nil, err
	}
	view.Data = initial
	return view, nil
}

func (l *Ledger) initialData(ctx context.Context, scope types.RecordScope, entityID string) (json.RawMessage, error) {
	switch scope {
	case types.ScopeToken:
		token, err := l.store.LoadToken(ctx, types.TokenID(entityID))
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, fmt.Errorf("%s: %w", entityID, ErrNotFound)
			}
			return nil, err
		}
		return token.InitialData, nil
	case types.ScopeAsset:
		asset, err := l.store.LoadAsset(ctx, types.AssetID(entityID))
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, fmt.Errorf("%s: %w", entityID, ErrNotFound)
			}
			return nil, err
		}
		return asset.InitialData, nil
	}
	return nil, fmt.Errorf("unknown record scope %q", scope)
}

// StateHash folds the current committed views of the given entities into
// one content hash. Entities hash in the order given, so callers must use
// a stable ordering.
func (l *Ledger) StateHash(ctx context.Context, scope types.RecordScope, entityIDs []string) (string, error) {
	h := make([]byte, 0, len(entityIDs)*64)
	for _, id := range entityIDs {
		view, err := l.Materialize(ctx, scope, id, time.Time{})
		if err != nil && !errors.Is(err, ErrNotFound) {
			return "", err
		}
		h = append(h, []byte(id)...)
		if view != nil {
			h = append(h, view.Data...)
		}
	}
	return crypto.HashHex(h), nil
}
