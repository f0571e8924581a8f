package node

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/vnlabs-io/assetd/consensus/committee"
	"github.com/vnlabs-io/assetd/crypto"
	"github.com/vnlabs-io/assetd/instruction"
	"github.com/vnlabs-io/assetd/repository"
	"github.com/vnlabs-io/assetd/template"
	"github.com/vnlabs-io/assetd/types"
)

// The node is the application the consensus engine drives, and the
// resolver the escrow coordinator reports to.
var (
	_ committee.Application = (*Node)(nil)
)

// Candidate returns the queued instruction ids for an asset in arrival
// order, with the state hash of the committed base state. Work queued on
// other members reaches this node through the shared repository.
func (n *Node) Candidate(ctx context.Context, asset types.AssetID) ([]types.InstructionID, string, error) {
	queued := n.pool.Reap(asset, n.config.MaxBatch)
	if len(queued) == 0 {
		pending, err := n.store.LoadPendingInstructions(ctx, asset)
		if err != nil {
			return nil, "", err
		}
		for _, in := range pending {
			// instructions already certified in a round stay Pending only
			// while they wait on children; they are not new work
			if in.ProposalID != "" {
				continue
			}
			queued = append(queued, in)
			if len(queued) == n.config.MaxBatch {
				break
			}
		}
	}
	if len(queued) == 0 {
		return nil, "", nil
	}
	ids := make([]types.InstructionID, len(queued))
	for i, in := range queued {
		ids[i] = in.ID
	}
	baseHash, err := n.baseStateHash(ctx, asset, queued)
	if err != nil {
		return nil, "", err
	}
	return ids, baseHash, nil
}

// Execute runs an instruction set over the committed state. Nothing is
// persisted; staged records and the deterministic result hash go back to
// the engine for endorsement. Instructions failing their contract are
// excluded from the result and remembered for cleanup at commit.
func (n *Node) Execute(ctx context.Context, asset types.AssetID, ids []types.InstructionID) (*committee.ExecutionResult, error) {
	instructions := make([]*types.Instruction, 0, len(ids))
	for _, id := range ids {
		in, err := n.store.LoadInstruction(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load instruction %s: %w", id, err)
		}
		instructions = append(instructions, in)
	}

	baseHash, err := n.baseStateHash(ctx, asset, instructions)
	if err != nil {
		return nil, err
	}

	result := &committee.ExecutionResult{BaseHash: baseHash}
	fold := []byte(baseHash)
	for _, in := range instructions {
		if in.Status.Terminal() {
			continue
		}
		outcome, err := n.registry.Execute(ctx, n.store, n.ledger, in)
		if err != nil {
			var contractErr *template.ContractError
			if errors.As(err, &contractErr) {
				n.markFailed(in, err)
				continue
			}
			return nil, err
		}
		n.setOutcome(in.ID, outcome)
		result.Instructions = append(result.Instructions, in.ID)
		result.Records = append(result.Records, outcome.Records...)

		fold = append(fold, in.ID...)
		for _, r := range outcome.Records {
			fold = append(fold, r.Scope...)
			fold = append(fold, r.EntityID...)
			fold = append(fold, r.Data...)
		}
	}
	result.ResultHash = crypto.HashHex(fold)
	return result, nil
}

// Commit applies a certified round: append the records atomically, then
// finalize each instruction. Instructions that requested an escrow stay
// Pending behind their completion child.
func (n *Node) Commit(ctx context.Context, asset types.AssetID, result *committee.ExecutionResult, cert *committee.QuorumCertificate) error {
	if len(result.Records) > 0 {
		if err := n.store.AppendRecords(ctx, result.Records); err != nil {
			return fmt.Errorf("append records: %w", err)
		}
	}

	for _, id := range result.Instructions {
		outcome := n.takeOutcome(id)
		in, err := n.store.LoadInstruction(ctx, id)
		if err != nil {
			return fmt.Errorf("load committed instruction %s: %w", id, err)
		}

		if outcome != nil {
			for _, token := range outcome.Tokens {
				if err := n.store.SaveToken(ctx, token); err != nil {
					return fmt.Errorf("save minted token %s: %w", token.ID, err)
				}
			}
			if err := n.store.UpdateInstructionResult(ctx, id, outcome.Result, cert.Proposal.ID); err != nil {
				return fmt.Errorf("persist instruction result %s: %w", id, err)
			}
		}

		if outcome != nil && outcome.Escrow != nil {
			if err := n.openEscrow(ctx, in, outcome.Escrow); err != nil {
				n.logger.Printf("open escrow for %s: %v", in.ID, err)
				if advErr := n.machine.Advance(ctx, in.ID, types.StatusInvalid); advErr != nil {
					n.logger.Printf("invalidate %s: %v", in.ID, advErr)
				}
			}
			// the parent stays Pending until its completion child commits
			continue
		}

		if err := n.machine.Advance(ctx, id, types.StatusCommit); err != nil {
			if errors.Is(err, instruction.ErrChildrenPending) {
				continue
			}
			return err
		}

		if in.ParentID != "" {
			n.coordinator.Finalize(in.ID)
			if err := n.machine.Advance(ctx, in.ParentID, types.StatusCommit); err != nil {
				n.logger.Printf("commit parent %s of %s: %v", in.ParentID, in.ID, err)
			}
		}
	}

	n.sweepFailed(ctx, asset)
	n.pool.Remove(result.Instructions...)
	if n.metrics != nil {
		n.metrics.SetPoolSize(n.pool.Size())
	}
	return nil
}

// Fail marks instructions Invalid after consensus gave up on them.
func (n *Node) Fail(ctx context.Context, asset types.AssetID, ids []types.InstructionID, reason error) {
	n.logger.Printf("asset %s: failing %d instructions: %v", asset, len(ids), reason)
	for _, id := range ids {
		if err := n.machine.Advance(ctx, id, types.StatusInvalid); err != nil {
			n.logger.Printf("invalidate %s: %v", id, err)
		}
	}
	n.pool.Remove(ids...)
	if n.metrics != nil {
		n.metrics.SetPoolSize(n.pool.Size())
	}
}

// openEscrow creates the completion child instruction and, on the
// initiating node only, the escrow wallet and its watcher. Every
// committee member records the child so the parent cannot commit early.
// Whichever member commits the certified round first wins the child
// creation; the watcher still belongs to the initiating node.
func (n *Node) openEscrow(ctx context.Context, parent *types.Instruction, req *template.EscrowRequest) error {
	childID := types.InstructionID(string(parent.ID) + ".lock")
	child, err := n.store.LoadInstruction(ctx, childID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		now := time.Now().UTC()
		child = &types.Instruction{
			ID:               childID,
			ParentID:         parent.ID,
			InitiatingNodeID: parent.InitiatingNodeID,
			SenderPubKey:     parent.SenderPubKey,
			AssetID:          parent.AssetID,
			TokenID:          req.TokenID,
			TemplateID:       parent.TemplateID,
			Contract:         req.LockContract,
			Status:           types.StatusScheduled,
			Params:           req.LockParams,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := n.store.SaveInstruction(ctx, child); err != nil {
			return fmt.Errorf("persist completion child: %w", err)
		}
		if err := n.machine.Advance(ctx, child.ID, types.StatusProcessing); err != nil {
			return err
		}
	case err != nil:
		return err
	case child.Status.Terminal():
		return nil // the sub-transaction already resolved
	}

	if parent.InitiatingNodeID != types.NodeID(n.config.NodeID) {
		return nil
	}
	if n.coordinator.ActiveForToken(req.TokenID) {
		return nil // watcher already running
	}
	wallet, err := n.coordinator.Begin(ctx, req.TokenID, parent.ID, child.ID, req.Amount, req.Timeout)
	if err != nil {
		return err
	}
	n.logger.Printf("instruction %s: escrow wallet %.12s awaiting %d", parent.ID, wallet, req.Amount)
	return nil
}

// Funded completes a timed sub-transaction: the completion child
// executes and enters consensus like any other instruction.
func (n *Node) Funded(ctx context.Context, child types.InstructionID) error {
	in, err := n.store.LoadInstruction(ctx, child)
	if err != nil {
		return fmt.Errorf("load completion child %s: %w", child, err)
	}

	release := n.acquireSlot(in.TemplateID)
	outcome, err := n.registry.Execute(ctx, n.store, n.ledger, in)
	release()
	if err != nil {
		if advErr := n.machine.Advance(ctx, in.ID, types.StatusInvalid); advErr != nil {
			n.logger.Printf("invalidate %s: %v", in.ID, advErr)
		}
		return err
	}

	n.setOutcome(in.ID, outcome)
	if err := n.machine.Advance(ctx, in.ID, types.StatusPending); err != nil {
		return err
	}
	if err := n.pool.Add(in); err != nil {
		return fmt.Errorf("queue completion child: %w", err)
	}
	n.engine.Trigger(in.AssetID)
	return nil
}

// Expired invalidates the completion child; the cascade takes the parent
// with it.
func (n *Node) Expired(ctx context.Context, child types.InstructionID) error {
	return n.machine.Advance(ctx, child, types.StatusInvalid)
}

// baseStateHash folds the committed views of the asset and every token
// the instructions touch. Token ids are sorted so all members derive the
// same hash.
func (n *Node) baseStateHash(ctx context.Context, asset types.AssetID, instructions []*types.Instruction) (string, error) {
	assetHash, err := n.ledger.StateHash(ctx, types.ScopeAsset, []string{string(asset)})
	if err != nil {
		return "", err
	}

	seen := make(map[string]bool)
	tokens := make([]string, 0, len(instructions))
	for _, in := range instructions {
		if in.TokenID == "" || seen[string(in.TokenID)] {
			continue
		}
		seen[string(in.TokenID)] = true
		tokens = append(tokens, string(in.TokenID))
	}
	sort.Strings(tokens)

	tokenHash, err := n.ledger.StateHash(ctx, types.ScopeToken, tokens)
	if err != nil {
		return "", err
	}
	return crypto.HashHex([]byte(assetHash + tokenHash)), nil
}

func (n *Node) markFailed(in *types.Instruction, reason error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed[in.ID] = &failedExecution{asset: in.AssetID, reason: reason}
}

// sweepFailed invalidates instructions whose consensus-time execution
// failed, after the surviving set committed.
func (n *Node) sweepFailed(ctx context.Context, asset types.AssetID) {
	n.mu.Lock()
	swept := make(map[types.InstructionID]*failedExecution)
	for id, f := range n.failed {
		if f.asset == asset {
			swept[id] = f
			delete(n.failed, id)
		}
	}
	n.mu.Unlock()

	for id, f := range swept {
		n.logger.Printf("instruction %s: failed during round execution: %v", id, f.reason)
		if err := n.machine.Advance(ctx, id, types.StatusInvalid); err != nil {
			n.logger.Printf("invalidate %s: %v", id, err)
		}
		n.pool.Remove(id)
	}
}
