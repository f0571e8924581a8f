// Package committee implements the per-asset consensus protocol: members
// announce candidate instruction sets, the round leader aggregates them
// into a proposal, members endorse by re-execution, and a quorum
// certificate of supermajority signatures authorizes the atomic commit.
package committee

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/vnlabs-io/assetd/crypto"
	"github.com/vnlabs-io/assetd/types"
)

// MessageType identifies a protocol message.
type MessageType int

const (
	// NewView announces a member's candidate instruction set to the leader.
	NewView MessageType = iota
	// Proposal is the leader's aggregated instruction set.
	Proposal
	// SignedProposal is a member's endorsement after re-execution.
	SignedProposal
	// Certificate carries the quorum certificate authorizing commit.
	Certificate
)

func (mt MessageType) String() string {
	switch mt {
	case NewView:
		return "NEW-VIEW"
	case Proposal:
		return "PROPOSAL"
	case SignedProposal:
		return "SIGNED-PROPOSAL"
	case Certificate:
		return "CERTIFICATE"
	default:
		return "UNKNOWN"
	}
}

// Message is the envelope carried by the committee channel.
type Message struct {
	Type      MessageType     `json:"type"`
	AssetID   types.AssetID   `json:"asset_id"`
	Round     uint64          `json:"round"`
	NodeID    types.NodeID    `json:"node_id"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewViewMsg is one member's view of the work an asset's next round
// should cover, with the state hash it derived from its committed state.
type NewViewMsg struct {
	AssetID      types.AssetID         `json:"asset_id"`
	Round        uint64                `json:"round"`
	NodeID       types.NodeID          `json:"node_id"`
	Instructions []types.InstructionID `json:"instructions"`
	StateHash    string                `json:"state_hash"`
	Signature    []byte                `json:"signature"`
}

// SigningBytes returns the canonical byte form covered by the signature.
func (m *NewViewMsg) SigningBytes() []byte {
	cp := *m
	cp.Signature = nil
	data, _ := json.Marshal(&cp)
	return data
}

// ProposalMsg is the leader's aggregated proposal for one round.
type ProposalMsg struct {
	ID           types.ProposalID      `json:"id"`
	AssetID      types.AssetID         `json:"asset_id"`
	Round        uint64                `json:"round"`
	LeaderID     types.NodeID          `json:"leader_id"`
	Instructions []types.InstructionID `json:"instructions"`
	BaseHash     string                `json:"base_hash"`
	ResultHash   string                `json:"result_hash"`
}

// ContentHash is the value every endorsement signs. Two proposals with
// the same instruction set and hashes over the same round are the same
// proposal.
func (p *ProposalMsg) ContentHash() string {
	payload := struct {
		AssetID      types.AssetID         `json:"asset_id"`
		Round        uint64                `json:"round"`
		Instructions []types.InstructionID `json:"instructions"`
		BaseHash     string                `json:"base_hash"`
		ResultHash   string                `json:"result_hash"`
	}{p.AssetID, p.Round, p.Instructions, p.BaseHash, p.ResultHash}
	data, _ := json.Marshal(payload)
	return crypto.HashHex(data)
}

// SignedProposalMsg is one member's endorsement of a proposal.
type SignedProposalMsg struct {
	ProposalID  types.ProposalID `json:"proposal_id"`
	ContentHash string           `json:"content_hash"`
	NodeID      types.NodeID     `json:"node_id"`
	Signature   []byte           `json:"signature"`
}

// MemberSignature is one committee member's signature inside a
// certificate.
type MemberSignature struct {
	NodeID    types.NodeID `json:"node_id"`
	Signature []byte       `json:"signature"`
}

// QuorumCertificate proves a supermajority of the registered committee
// endorsed one proposal content hash.
type QuorumCertificate struct {
	Proposal   ProposalMsg       `json:"proposal"`
	Signatures []MemberSignature `json:"signatures"`
}

// Validate checks the certificate against the registered committee: the
// leader must match the round, every signature must verify over the
// proposal's content hash against a registered member's key, signers must
// be distinct, and the count must reach the supermajority threshold.
func (qc *QuorumCertificate) Validate(committee *types.Committee) error {
	if qc.Proposal.AssetID != committee.AssetID {
		return fmt.Errorf("%w: certificate for asset %s, committee for %s", ErrCertificateInvalid, qc.Proposal.AssetID, committee.AssetID)
	}
	if leader := committee.Leader(qc.Proposal.Round); leader.NodeID != qc.Proposal.LeaderID {
		return fmt.Errorf("%w: proposal leader %s is not round %d leader %s", ErrCertificateInvalid, qc.Proposal.LeaderID, qc.Proposal.Round, leader.NodeID)
	}

	contentHash := qc.Proposal.ContentHash()
	seen := make(map[types.NodeID]bool, len(qc.Signatures))
	for _, sig := range qc.Signatures {
		if seen[sig.NodeID] {
			return fmt.Errorf("%w: duplicate signer %s", ErrCertificateInvalid, sig.NodeID)
		}
		seen[sig.NodeID] = true

		member := committee.Member(sig.NodeID)
		if member == nil {
			return fmt.Errorf("%w: signer %s is not a committee member", ErrCertificateInvalid, sig.NodeID)
		}
		ok, err := crypto.VerifyHex(member.PubKey, []byte(contentHash), sig.Signature)
		if err != nil || !ok {
			return fmt.Errorf("%w: signature from %s does not verify", ErrCertificateInvalid, sig.NodeID)
		}
	}
	if len(seen) < committee.SupermajorityThreshold() {
		return fmt.Errorf("%w: %d signatures, threshold %d", ErrCertificateInvalid, len(seen), committee.SupermajorityThreshold())
	}
	return nil
}

// NewEnvelope wraps a payload into the channel envelope.
func NewEnvelope(msgType MessageType, asset types.AssetID, round uint64, node types.NodeID, payload any) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", msgType, err)
	}
	return &Message{
		Type:      msgType,
		AssetID:   asset,
		Round:     round,
		NodeID:    node,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// aggregateInstructions merges the instruction sets of the collected
// NewViews: an instruction enters the proposal when at least threshold
// members announced it. Order follows the leader's own announcement,
// then first appearance.
func aggregateInstructions(views map[types.NodeID]*NewViewMsg, leader types.NodeID, threshold int) []types.InstructionID {
	counts := make(map[types.InstructionID]int)
	firstSeen := make(map[types.InstructionID]int)
	order := 0
	appendOrder := func(ids []types.InstructionID) {
		for _, id := range ids {
			if _, ok := firstSeen[id]; !ok {
				firstSeen[id] = order
				order++
			}
		}
	}
	if lv, ok := views[leader]; ok {
		appendOrder(lv.Instructions)
	}
	for _, v := range views {
		appendOrder(v.Instructions)
		seen := make(map[types.InstructionID]bool, len(v.Instructions))
		for _, id := range v.Instructions {
			if !seen[id] {
				counts[id]++
				seen[id] = true
			}
		}
	}

	var out []types.InstructionID
	for id, n := range counts {
		if n >= threshold {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return firstSeen[out[i]] < firstSeen[out[j]] })
	return out
}
