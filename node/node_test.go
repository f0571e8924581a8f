package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/vnlabs-io/assetd/crypto"
	"github.com/vnlabs-io/assetd/escrow"
	"github.com/vnlabs-io/assetd/instruction"
	"github.com/vnlabs-io/assetd/repository"
	"github.com/vnlabs-io/assetd/template"
	"github.com/vnlabs-io/assetd/transport"
	"github.com/vnlabs-io/assetd/types"
)

type nodeHarness struct {
	node     *Node
	store    *repository.MemoryStore
	observer *escrow.ManualObserver
	issuer   *crypto.Ed25519Signer
	asset    *types.Asset
}

// newNodeHarness starts a single-member committee: with one registered
// member the supermajority threshold is one, so rounds certify locally.
func newNodeHarness(t *testing.T) *nodeHarness {
	t.Helper()
	config := DefaultConfig()
	config.NodeID = "node0"
	config.RoundTimeout = 2 * time.Second
	config.RetryBudget = 3
	config.MetricsEnabled = false

	store := repository.NewMemoryStore()
	observer := escrow.NewManualObserver()
	network := transport.NewLoopbackNetwork()

	n, err := NewNodeWith(config, store, network.Join("node0"), observer)
	if err != nil {
		t.Fatalf("Failed to create node: %v", err)
	}
	if err := n.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start node: %v", err)
	}
	t.Cleanup(func() { n.Stop() })

	issuer := crypto.NewEd25519Signer()
	asset := &types.Asset{
		ID:             types.NewAssetID(template.SingleUseTemplateID),
		TemplateID:     template.SingleUseTemplateID,
		Name:           "tickets",
		Status:         types.AssetActive,
		IssuerPubKey:   issuer.PublicKeyHex(),
		AllowTransfers: true,
		CreatedAt:      time.Now().UTC(),
	}
	committee := &types.Committee{
		AssetID: asset.ID,
		Members: []types.Member{{NodeID: "node0", PubKey: n.SignerPublicKey()}},
	}
	if err := n.CreateAsset(context.Background(), asset, committee); err != nil {
		t.Fatalf("Failed to create asset: %v", err)
	}

	return &nodeHarness{node: n, store: store, observer: observer, issuer: issuer, asset: asset}
}

func (h *nodeHarness) submit(t *testing.T, signer *crypto.Ed25519Signer, contract string, token types.TokenID, params string) (*types.Instruction, json.RawMessage) {
	t.Helper()
	in := instruction.NewInstruction(template.SingleUseTemplateID, contract, h.asset.ID, token, json.RawMessage(params))
	in.SenderPubKey = signer.PublicKeyHex()
	sig, err := signer.Sign(in.SigningBytes())
	if err != nil {
		t.Fatalf("Failed to sign instruction: %v", err)
	}
	in.Signature = sig

	result, err := h.node.SubmitInstruction(context.Background(), in)
	if err != nil {
		t.Fatalf("Failed to submit %s: %v", contract, err)
	}
	return in, result
}

func (h *nodeHarness) waitForStatus(t *testing.T, id types.InstructionID, want types.InstructionStatus) {
	t.Helper()
	deadline := time.Now().Add(8 * time.Second)
	for time.Now().Before(deadline) {
		in, err := h.store.LoadInstruction(context.Background(), id)
		if err == nil && in.Status == want {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	in, err := h.store.LoadInstruction(context.Background(), id)
	if err != nil {
		t.Fatalf("Timed out waiting for %s to reach %s: %v", id, want, err)
	}
	t.Fatalf("Timed out waiting for %s to reach %s, still %s", id, want, in.Status)
}

// issueOne mints one token to the owner key and waits for the commit.
func (h *nodeHarness) issueOne(t *testing.T, owner string) types.TokenID {
	t.Helper()
	params := fmt.Sprintf(`{"quantity":1,"owner_pub_key":"%s"}`, owner)
	in, result := h.submit(t, h.issuer, template.ContractIssueTokens, "", params)
	h.waitForStatus(t, in.ID, types.StatusCommit)

	var decoded struct {
		TokenIDs []types.TokenID `json:"token_ids"`
	}
	if err := json.Unmarshal(result, &decoded); err != nil {
		t.Fatalf("Failed to decode issue result: %v", err)
	}
	if len(decoded.TokenIDs) != 1 {
		t.Fatalf("Expected 1 token id, got %d", len(decoded.TokenIDs))
	}
	return decoded.TokenIDs[0]
}

func TestSingleNodeIssueAndCommit(t *testing.T) {
	h := newNodeHarness(t)
	ctx := context.Background()

	in, result := h.submit(t, h.issuer, template.ContractIssueTokens, "",
		`{"quantity":2,"owner_pub_key":"holder-key"}`)

	var decoded struct {
		TokenIDs []types.TokenID `json:"token_ids"`
	}
	if err := json.Unmarshal(result, &decoded); err != nil {
		t.Fatalf("Failed to decode result: %v", err)
	}
	if len(decoded.TokenIDs) != 2 {
		t.Fatalf("Expected 2 token ids, got %d", len(decoded.TokenIDs))
	}

	h.waitForStatus(t, in.ID, types.StatusCommit)

	tokens, err := h.store.LoadTokensByAsset(ctx, h.asset.ID)
	if err != nil {
		t.Fatalf("Failed to load tokens: %v", err)
	}
	if len(tokens) != 2 {
		t.Errorf("Expected 2 persisted tokens, got %d", len(tokens))
	}

	view, err := h.node.EntityState(ctx, types.ScopeAsset, string(h.asset.ID), time.Time{})
	if err != nil {
		t.Fatalf("Failed to materialize asset state: %v", err)
	}
	var assetState template.AssetState
	if err := json.Unmarshal(view.Data, &assetState); err != nil {
		t.Fatalf("Failed to decode asset state: %v", err)
	}
	if assetState.IssuedTotal != 2 {
		t.Errorf("Expected issued total 2, got %d", assetState.IssuedTotal)
	}

	tokenView, err := h.node.EntityState(ctx, types.ScopeToken, string(decoded.TokenIDs[0]), time.Time{})
	if err != nil {
		t.Fatalf("Failed to materialize token state: %v", err)
	}
	var tokenState template.TokenState
	if err := json.Unmarshal(tokenView.Data, &tokenState); err != nil {
		t.Fatalf("Failed to decode token state: %v", err)
	}
	if tokenState.Owner != "holder-key" {
		t.Errorf("Expected owner holder-key, got %s", tokenState.Owner)
	}
	if tokenState.Status != types.TokenAvailable {
		t.Errorf("Expected status Available, got %s", tokenState.Status)
	}

	// The committed round drained the pool.
	if size := h.node.pool.Size(); size != 0 {
		t.Errorf("Expected an empty pool after commit, got %d", size)
	}

	// The certified proposal is recorded on the instruction.
	committed, err := h.store.LoadInstruction(ctx, in.ID)
	if err != nil {
		t.Fatalf("Failed to load instruction: %v", err)
	}
	if committed.ProposalID == "" {
		t.Error("Expected the committed instruction to carry its proposal id")
	}
}

func TestSubmitRejections(t *testing.T) {
	h := newNodeHarness(t)
	ctx := context.Background()

	t.Run("BadSignature", func(t *testing.T) {
		in := instruction.NewInstruction(template.SingleUseTemplateID, template.ContractIssueTokens,
			h.asset.ID, "", json.RawMessage(`{"quantity":1}`))
		in.SenderPubKey = h.issuer.PublicKeyHex()
		in.Signature = []byte("forged")
		if _, err := h.node.SubmitInstruction(ctx, in); !errors.Is(err, instruction.ErrValidation) {
			t.Errorf("Expected ErrValidation, got %v", err)
		}
		// rejected instructions are never persisted
		if _, err := h.store.LoadInstruction(ctx, in.ID); !errors.Is(err, repository.ErrNotFound) {
			t.Errorf("Expected no persisted instruction, got %v", err)
		}
	})

	t.Run("ContractFailure", func(t *testing.T) {
		in := instruction.NewInstruction(template.SingleUseTemplateID, template.ContractIssueTokens,
			h.asset.ID, "", json.RawMessage(`{"quantity":0}`))
		in.SenderPubKey = h.issuer.PublicKeyHex()
		sig, err := h.issuer.Sign(in.SigningBytes())
		if err != nil {
			t.Fatalf("Failed to sign instruction: %v", err)
		}
		in.Signature = sig

		_, err = h.node.SubmitInstruction(ctx, in)
		var cerr *template.ContractError
		if !errors.As(err, &cerr) {
			t.Fatalf("Expected ContractError, got %v", err)
		}
		// admitted but failed: persisted and driven to Invalid
		stored, err := h.store.LoadInstruction(ctx, in.ID)
		if err != nil {
			t.Fatalf("Failed to load instruction: %v", err)
		}
		if stored.Status != types.StatusInvalid {
			t.Errorf("Expected Invalid, got %s", stored.Status)
		}
	})
}

func TestEscrowSaleLifecycle(t *testing.T) {
	h := newNodeHarness(t)
	ctx := context.Background()

	seller := crypto.NewEd25519Signer()
	buyer := crypto.NewEd25519Signer()
	tokenID := h.issueOne(t, seller.PublicKeyHex())

	params := fmt.Sprintf(`{"price":500,"new_owner_pub_key":"%s","timeout_secs":600}`, buyer.PublicKeyHex())
	parent, _ := h.submit(t, seller, template.ContractSellToken, tokenID, params)

	// The parent's round must commit before the escrow wallet opens.
	var wallet string
	deadline := time.Now().Add(8 * time.Second)
	for time.Now().Before(deadline) {
		if w, ok := h.node.EscrowWallet(parent.ID); ok {
			wallet = w
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if wallet == "" {
		t.Fatal("Timed out waiting for the escrow wallet")
	}

	// The parent holds Pending behind its completion child.
	view, err := h.node.InstructionStatus(ctx, parent.ID)
	if err != nil {
		t.Fatalf("Failed to query instruction status: %v", err)
	}
	if view.Instruction.Status != types.StatusPending {
		t.Errorf("Expected parent Pending, got %s", view.Instruction.Status)
	}
	if len(view.Children) != 1 {
		t.Fatalf("Expected 1 completion child, got %d", len(view.Children))
	}
	child := view.Children[0]
	if child.Instruction.Contract != template.ContractSellTokenLock {
		t.Errorf("Expected child contract %s, got %s", template.ContractSellTokenLock, child.Instruction.Contract)
	}
	if child.Instruction.Status != types.StatusProcessing {
		t.Errorf("Expected child Processing, got %s", child.Instruction.Status)
	}

	// While the sale is in flight the token refuses another exclusive
	// operation.
	in := instruction.NewInstruction(template.SingleUseTemplateID, template.ContractSellToken,
		h.asset.ID, tokenID, json.RawMessage(params))
	in.SenderPubKey = seller.PublicKeyHex()
	sig, err := seller.Sign(in.SigningBytes())
	if err != nil {
		t.Fatalf("Failed to sign instruction: %v", err)
	}
	in.Signature = sig
	if _, err := h.node.SubmitInstruction(ctx, in); !errors.Is(err, instruction.ErrConflict) {
		t.Errorf("Expected ErrConflict while the token is held, got %v", err)
	}

	// Fund the wallet: the completion child runs, certifies and commits,
	// taking the parent with it.
	h.observer.Fund(wallet, 500)
	h.waitForStatus(t, child.Instruction.ID, types.StatusCommit)
	h.waitForStatus(t, parent.ID, types.StatusCommit)

	tokenView, err := h.node.EntityState(ctx, types.ScopeToken, string(tokenID), time.Time{})
	if err != nil {
		t.Fatalf("Failed to materialize token state: %v", err)
	}
	var state template.TokenState
	if err := json.Unmarshal(tokenView.Data, &state); err != nil {
		t.Fatalf("Failed to decode token state: %v", err)
	}
	if state.Owner != buyer.PublicKeyHex() {
		t.Errorf("Expected the buyer to own the token, got %s", state.Owner)
	}

	w, err := h.store.LoadWallet(ctx, wallet)
	if err != nil {
		t.Fatalf("Failed to load wallet: %v", err)
	}
	if w.Status != types.WalletReleased {
		t.Errorf("Expected wallet Released, got %s", w.Status)
	}
	if w.Balance != 500 {
		t.Errorf("Expected balance 500, got %d", w.Balance)
	}

	// The hold clears once the child finalizes.
	if h.node.coordinator.ActiveForToken(tokenID) {
		t.Error("Expected the token hold to clear after the sale")
	}
}

func TestStateAsOfBound(t *testing.T) {
	h := newNodeHarness(t)
	ctx := context.Background()

	seller := crypto.NewEd25519Signer()
	tokenID := h.issueOne(t, seller.PublicKeyHex())
	before := time.Now().UTC()
	time.Sleep(10 * time.Millisecond)

	in, _ := h.submit(t, seller, template.ContractRedeemToken, tokenID, `{}`)
	h.waitForStatus(t, in.ID, types.StatusCommit)

	now, err := h.node.EntityState(ctx, types.ScopeToken, string(tokenID), time.Time{})
	if err != nil {
		t.Fatalf("Failed to materialize current state: %v", err)
	}
	var current template.TokenState
	if err := json.Unmarshal(now.Data, &current); err != nil {
		t.Fatalf("Failed to decode token state: %v", err)
	}
	if current.Status != types.TokenUsed {
		t.Errorf("Expected the token Used now, got %s", current.Status)
	}

	past, err := h.node.EntityState(ctx, types.ScopeToken, string(tokenID), before)
	if err != nil {
		t.Fatalf("Failed to materialize past state: %v", err)
	}
	var earlier template.TokenState
	if err := json.Unmarshal(past.Data, &earlier); err != nil {
		t.Fatalf("Failed to decode token state: %v", err)
	}
	if earlier.Status != types.TokenAvailable {
		t.Errorf("Expected the token Available before redemption, got %s", earlier.Status)
	}
}

// Another committee member can win the commit race and create the
// completion child first. The initiating node must still open the
// wallet and watcher for an existing, unresolved child.
func TestEscrowWatcherStartsOnPreexistingChild(t *testing.T) {
	h := newNodeHarness(t)
	ctx := context.Background()

	seller := crypto.NewEd25519Signer()
	tokenID := h.issueOne(t, seller.PublicKeyHex())

	now := time.Now().UTC()
	parent := &types.Instruction{
		ID:               types.NewInstructionID(),
		InitiatingNodeID: "node0",
		SenderPubKey:     seller.PublicKeyHex(),
		AssetID:          h.asset.ID,
		TokenID:          tokenID,
		TemplateID:       template.SingleUseTemplateID,
		Contract:         template.ContractSellToken,
		Status:           types.StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := h.store.SaveInstruction(ctx, parent); err != nil {
		t.Fatalf("Failed to save parent: %v", err)
	}
	child := &types.Instruction{
		ID:               types.InstructionID(string(parent.ID) + ".lock"),
		ParentID:         parent.ID,
		InitiatingNodeID: "node0",
		SenderPubKey:     seller.PublicKeyHex(),
		AssetID:          h.asset.ID,
		TokenID:          tokenID,
		TemplateID:       template.SingleUseTemplateID,
		Contract:         template.ContractSellTokenLock,
		Status:           types.StatusProcessing,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := h.store.SaveInstruction(ctx, child); err != nil {
		t.Fatalf("Failed to save child: %v", err)
	}

	req := &template.EscrowRequest{
		TokenID:      tokenID,
		Amount:       500,
		Timeout:      time.Minute,
		NewOwner:     "buyer-key",
		LockContract: template.ContractSellTokenLock,
		LockParams:   json.RawMessage(`{"new_owner":"buyer-key","price":500}`),
	}
	if err := h.node.openEscrow(ctx, parent, req); err != nil {
		t.Fatalf("Failed to open escrow over an existing child: %v", err)
	}

	wallet, ok := h.node.EscrowWallet(parent.ID)
	if !ok || wallet == "" {
		t.Fatal("Expected an escrow wallet despite the preexisting child")
	}
	if !h.node.coordinator.ActiveForToken(tokenID) {
		t.Error("Expected the token held by the watcher")
	}

	// re-applying the certified round must not open a second watcher
	if err := h.node.openEscrow(ctx, parent, req); err != nil {
		t.Fatalf("Failed to re-open escrow idempotently: %v", err)
	}
	again, ok := h.node.EscrowWallet(parent.ID)
	if !ok || again != wallet {
		t.Errorf("Expected the same wallet after the replay, got %q", again)
	}
}
