package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/vnlabs-io/assetd/repository"
	"github.com/vnlabs-io/assetd/types"
)

func saveInstruction(t *testing.T, store repository.Store, id types.InstructionID, status types.InstructionStatus, at time.Time) {
	t.Helper()
	in := &types.Instruction{
		ID:        id,
		Status:    status,
		CreatedAt: at,
		UpdatedAt: at,
	}
	if err := store.SaveInstruction(context.Background(), in); err != nil {
		t.Fatalf("Failed to save instruction %s: %v", id, err)
	}
}

func appendRecord(t *testing.T, store repository.Store, entity string, in types.InstructionID, data string) {
	t.Helper()
	record := &types.StateRecord{
		ID:            types.NewRecordID(),
		Scope:         types.ScopeAsset,
		EntityID:      entity,
		InstructionID: in,
		Data:          json.RawMessage(data),
		// a local wall-clock stamp; point-in-time reads never depend on it
		CreatedAt: time.Now().UTC(),
	}
	if err := store.AppendRecords(context.Background(), []*types.StateRecord{record}); err != nil {
		t.Fatalf("Failed to append record: %v", err)
	}
}

func TestMaterialize(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	led := New(store)

	assetID := types.NewAssetID(types.TemplateID(1))
	asset := &types.Asset{
		ID:          assetID,
		TemplateID:  types.TemplateID(1),
		Status:      types.AssetActive,
		InitialData: json.RawMessage(`{"issued_total":0}`),
		CreatedAt:   time.Now().UTC(),
	}
	if err := store.SaveAsset(ctx, asset); err != nil {
		t.Fatalf("Failed to save asset: %v", err)
	}

	base := time.Now().UTC().Add(-time.Hour)
	saveInstruction(t, store, "in-1", types.StatusCommit, base)
	saveInstruction(t, store, "in-2", types.StatusPending, base.Add(time.Minute))
	saveInstruction(t, store, "in-3", types.StatusCommit, base.Add(2*time.Minute))
	appendRecord(t, store, string(assetID), "in-1", `{"issued_total":1}`)
	appendRecord(t, store, string(assetID), "in-2", `{"issued_total":2}`)
	appendRecord(t, store, string(assetID), "in-3", `{"issued_total":3}`)

	t.Run("LatestCommittedWins", func(t *testing.T) {
		view, err := led.Materialize(ctx, types.ScopeAsset, string(assetID), time.Time{})
		if err != nil {
			t.Fatalf("Failed to materialize: %v", err)
		}
		if string(view.Data) != `{"issued_total":3}` {
			t.Errorf("Expected latest committed record, got %s", view.Data)
		}
		if view.InstructionID != "in-3" {
			t.Errorf("Expected owning instruction in-3, got %s", view.InstructionID)
		}
	})

	t.Run("UncommittedInvisible", func(t *testing.T) {
		// in-2 is newer than in-1 but never committed, so a bound before
		// in-3 must resolve to in-1.
		view, err := led.Materialize(ctx, types.ScopeAsset, string(assetID), base.Add(90*time.Second))
		if err != nil {
			t.Fatalf("Failed to materialize: %v", err)
		}
		if string(view.Data) != `{"issued_total":1}` {
			t.Errorf("Expected in-1 record inside the bound, got %s", view.Data)
		}
	})

	t.Run("AsOfBeforeAnyInstruction", func(t *testing.T) {
		view, err := led.Materialize(ctx, types.ScopeAsset, string(assetID), base.Add(-time.Minute))
		if err != nil {
			t.Fatalf("Failed to materialize: %v", err)
		}
		if string(view.Data) != `{"issued_total":0}` {
			t.Errorf("Expected fallback to initial data, got %s", view.Data)
		}
		if view.RecordID != "" {
			t.Errorf("Expected no owning record, got %s", view.RecordID)
		}
	})

	t.Run("UnknownEntity", func(t *testing.T) {
		missing := types.NewAssetID(types.TemplateID(1))
		_, err := led.Materialize(ctx, types.ScopeAsset, string(missing), time.Time{})
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})
}

func TestMaterializeTokenFallback(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	led := New(store)

	assetID := types.NewAssetID(types.TemplateID(1))
	token := &types.Token{
		ID:          types.NewTokenID(assetID),
		AssetID:     assetID,
		OwnerPubKey: "owner",
		Status:      types.TokenAvailable,
		InitialData: json.RawMessage(`{"owner_pub_key":"owner","status":"Available"}`),
		CreatedAt:   time.Now().UTC(),
	}
	if err := store.SaveToken(ctx, token); err != nil {
		t.Fatalf("Failed to save token: %v", err)
	}

	view, err := led.Materialize(ctx, types.ScopeToken, string(token.ID), time.Time{})
	if err != nil {
		t.Fatalf("Failed to materialize token: %v", err)
	}
	if string(view.Data) != string(token.InitialData) {
		t.Errorf("Expected token initial data, got %s", view.Data)
	}
}

func TestStateHash(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	led := New(store)

	assetID := types.NewAssetID(types.TemplateID(1))
	asset := &types.Asset{
		ID:          assetID,
		TemplateID:  types.TemplateID(1),
		Status:      types.AssetActive,
		InitialData: json.RawMessage(`{"issued_total":0}`),
		CreatedAt:   time.Now().UTC(),
	}
	if err := store.SaveAsset(ctx, asset); err != nil {
		t.Fatalf("Failed to save asset: %v", err)
	}

	before, err := led.StateHash(ctx, types.ScopeAsset, []string{string(assetID)})
	if err != nil {
		t.Fatalf("Failed to hash state: %v", err)
	}
	again, err := led.StateHash(ctx, types.ScopeAsset, []string{string(assetID)})
	if err != nil {
		t.Fatalf("Failed to hash state: %v", err)
	}
	if before != again {
		t.Error("Expected the state hash to be stable over unchanged state")
	}

	saveInstruction(t, store, "in-1", types.StatusCommit, time.Now().UTC())
	appendRecord(t, store, string(assetID), "in-1", `{"issued_total":5}`)

	after, err := led.StateHash(ctx, types.ScopeAsset, []string{string(assetID)})
	if err != nil {
		t.Fatalf("Failed to hash state: %v", err)
	}
	if after == before {
		t.Error("Expected the state hash to change after a committed record")
	}

	// Unknown entities hash as their id with empty data rather than failing.
	if _, err := led.StateHash(ctx, types.ScopeToken, []string{"missing"}); err != nil {
		t.Errorf("Expected unknown entity to hash, got error: %v", err)
	}
}
