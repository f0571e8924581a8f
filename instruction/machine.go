// Package instruction implements the instruction lifecycle: admission,
// the status state machine, and the pending pool feeding consensus.
package instruction

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/vnlabs-io/assetd/repository"
	"github.com/vnlabs-io/assetd/types"
)

var (
	ErrInvalidTransition = errors.New("instruction: invalid status transition")
	ErrChildrenPending   = errors.New("instruction: children not terminal")
)

// compensationKey identifies a contract that registered compensation
// handling, exempting the parent from the invalid-child cascade.
type compensationKey struct {
	template types.TemplateID
	contract string
}

// Machine drives instruction status transitions and enforces the
// parent/child rules: a child reaching Invalid forces its parent Invalid
// unless the parent's contract registered a compensation, and a parent
// cannot Commit while any child is non-terminal.
type Machine struct {
	store         repository.Store
	logger        *log.Logger
	compensations map[compensationKey]bool
}

// NewMachine creates a Machine over the given store.
func NewMachine(store repository.Store) *Machine {
	return &Machine{
		store:         store,
		logger:        log.New(os.Stdout, "[Machine] ", log.LstdFlags),
		compensations: make(map[compensationKey]bool),
	}
}

// RegisterCompensation marks a contract as handling its own child
// failures. Children of instructions running this contract do not cascade
// Invalid upward.
func (m *Machine) RegisterCompensation(template types.TemplateID, contract string) {
	m.compensations[compensationKey{template, contract}] = true
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to types.InstructionStatus) bool {
	switch from {
	case types.StatusScheduled:
		return to == types.StatusProcessing
	case types.StatusProcessing:
		return to == types.StatusPending || to == types.StatusInvalid
	case types.StatusPending:
		return to == types.StatusCommit || to == types.StatusInvalid
	}
	return false
}

// Advance moves an instruction to the target status. Re-applying the
// status an instruction already holds, or any transition out of a
// terminal status to that same status, is an idempotent no-op. Illegal
// transitions return ErrInvalidTransition without touching storage.
func (m *Machine) Advance(ctx context.Context, id types.InstructionID, target types.InstructionStatus) error {
	in, err := m.store.LoadInstruction(ctx, id)
	if err != nil {
		return err
	}
	if in.Status == target {
		return nil
	}
	if in.Status.Terminal() {
		return fmt.Errorf("%w: %s is terminal (%s), cannot move to %s", ErrInvalidTransition, id, in.Status, target)
	}
	if !CanTransition(in.Status, target) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, in.Status, target)
	}

	if target == types.StatusCommit {
		pending, err := m.nonTerminalChildren(ctx, id)
		if err != nil {
			return err
		}
		if pending > 0 {
			return fmt.Errorf("%w: instruction %s has %d open children", ErrChildrenPending, id, pending)
		}
	}

	if err := m.store.UpdateInstructionStatus(ctx, id, target); err != nil {
		return err
	}
	m.logger.Printf("instruction %s: %s -> %s", id, in.Status, target)

	if target == types.StatusInvalid {
		if err := m.invalidateChildren(ctx, id); err != nil {
			return err
		}
		return m.cascadeToParent(ctx, in)
	}
	return nil
}

func (m *Machine) nonTerminalChildren(ctx context.Context, id types.InstructionID) (int, error) {
	children, err := m.store.LoadChildInstructions(ctx, id)
	if err != nil {
		return 0, err
	}
	open := 0
	for _, c := range children {
		if !c.Status.Terminal() {
			open++
		}
	}
	return open, nil
}

// invalidateChildren forces every non-terminal child Invalid when its
// parent fails.
func (m *Machine) invalidateChildren(ctx context.Context, id types.InstructionID) error {
	children, err := m.store.LoadChildInstructions(ctx, id)
	if err != nil {
		return err
	}
	for _, c := range children {
		if c.Status.Terminal() {
			continue
		}
		if err := m.forceInvalid(ctx, c); err != nil {
			return err
		}
		if err := m.invalidateChildren(ctx, c.ID); err != nil {
			return err
		}
	}
	return nil
}

// cascadeToParent propagates a child's failure upward unless the parent's
// contract registered compensation.
func (m *Machine) cascadeToParent(ctx context.Context, child *types.Instruction) error {
	if child.ParentID == "" {
		return nil
	}
	parent, err := m.store.LoadInstruction(ctx, child.ParentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}
	if parent.Status.Terminal() {
		return nil
	}
	if m.compensations[compensationKey{parent.TemplateID, parent.Contract}] {
		m.logger.Printf("instruction %s: child %s invalid, compensation registered for %s, no cascade",
			parent.ID, child.ID, parent.Contract)
		return nil
	}
	m.logger.Printf("instruction %s: cascading invalid from child %s", parent.ID, child.ID)
	if err := m.forceInvalid(ctx, parent); err != nil {
		return err
	}
	return m.cascadeToParent(ctx, parent)
}

func (m *Machine) forceInvalid(ctx context.Context, in *types.Instruction) error {
	if err := m.store.UpdateInstructionStatus(ctx, in.ID, types.StatusInvalid); err != nil {
		return err
	}
	m.logger.Printf("instruction %s: %s -> %s", in.ID, in.Status, types.StatusInvalid)
	return nil
}

// NewInstruction builds a Scheduled instruction ready for admission.
func NewInstruction(template types.TemplateID, contract string, asset types.AssetID, token types.TokenID, params []byte) *types.Instruction {
	now := time.Now().UTC()
	return &types.Instruction{
		ID:         types.NewInstructionID(),
		AssetID:    asset,
		TokenID:    token,
		TemplateID: template,
		Contract:   contract,
		Status:     types.StatusScheduled,
		Params:     params,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}
