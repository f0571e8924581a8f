// Package types defines core data structures for the asset validator node.
package types

import "fmt"

// InstructionStatus represents the lifecycle state of an instruction.
type InstructionStatus string

const (
	// StatusScheduled - accepted, waiting for a processor.
	StatusScheduled InstructionStatus = "Scheduled"
	// StatusProcessing - a template procedure is executing it.
	StatusProcessing InstructionStatus = "Processing"
	// StatusPending - executed, waiting for committee consensus.
	StatusPending InstructionStatus = "Pending"
	// StatusCommit - terminal, state records are authoritative.
	StatusCommit InstructionStatus = "Commit"
	// StatusInvalid - terminal, rejected or failed.
	StatusInvalid InstructionStatus = "Invalid"
)

// Terminal reports whether the status admits no further transition.
func (s InstructionStatus) Terminal() bool {
	return s == StatusCommit || s == StatusInvalid
}

// ParseInstructionStatus parses a status string.
func ParseInstructionStatus(s string) (InstructionStatus, error) {
	switch InstructionStatus(s) {
	case StatusScheduled, StatusProcessing, StatusPending, StatusCommit, StatusInvalid:
		return InstructionStatus(s), nil
	}
	return "", fmt.Errorf("unknown instruction status: %q", s)
}

// TokenStatus represents the state of an issued token.
type TokenStatus string

const (
	TokenAvailable TokenStatus = "Available"
	TokenActive    TokenStatus = "Active"
	TokenUsed      TokenStatus = "Used"
	TokenInvalid   TokenStatus = "Invalid"
)

// AssetStatus represents the state of an asset contract instance.
type AssetStatus string

const (
	AssetActive  AssetStatus = "Active"
	AssetRetired AssetStatus = "Retired"
)

// ProposalStatus represents the state of a consensus proposal.
type ProposalStatus string

const (
	ProposalPending   ProposalStatus = "Pending"
	ProposalSigned    ProposalStatus = "Signed"
	ProposalInvalid   ProposalStatus = "Invalid"
	ProposalDeclined  ProposalStatus = "Declined"
	ProposalFinalized ProposalStatus = "Finalized"
)

// WalletStatus represents the lifecycle of an escrow wallet.
type WalletStatus string

const (
	WalletActive    WalletStatus = "Active"
	WalletReleased  WalletStatus = "Released"
	WalletAbandoned WalletStatus = "Abandoned"
)
