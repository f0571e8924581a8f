package committee

import (
	"testing"

	"github.com/vnlabs-io/assetd/crypto"
	"github.com/vnlabs-io/assetd/types"
)

type signedCommittee struct {
	committee *types.Committee
	signers   map[types.NodeID]*crypto.Ed25519Signer
}

func newSignedCommittee(t *testing.T, size int) *signedCommittee {
	t.Helper()
	sc := &signedCommittee{
		committee: &types.Committee{AssetID: types.NewAssetID(types.TemplateID(1))},
		signers:   make(map[types.NodeID]*crypto.Ed25519Signer),
	}
	for i := 0; i < size; i++ {
		id := types.NodeID(string(rune('a' + i)))
		signer := crypto.NewEd25519Signer()
		sc.signers[id] = signer
		sc.committee.Members = append(sc.committee.Members, types.Member{
			NodeID: id,
			PubKey: signer.PublicKeyHex(),
		})
	}
	return sc
}

func (sc *signedCommittee) endorse(t *testing.T, node types.NodeID, proposal *ProposalMsg) MemberSignature {
	t.Helper()
	sig, err := sc.signers[node].Sign([]byte(proposal.ContentHash()))
	if err != nil {
		t.Fatalf("Failed to sign proposal: %v", err)
	}
	return MemberSignature{NodeID: node, Signature: sig}
}

func (sc *signedCommittee) proposal(round uint64) *ProposalMsg {
	return &ProposalMsg{
		ID:           types.NewProposalID(),
		AssetID:      sc.committee.AssetID,
		Round:        round,
		LeaderID:     sc.committee.Leader(round).NodeID,
		Instructions: []types.InstructionID{"in-1", "in-2"},
		BaseHash:     "base",
		ResultHash:   "result",
	}
}

func TestQuorumCertificateValidate(t *testing.T) {
	sc := newSignedCommittee(t, 4) // threshold 3

	t.Run("Valid", func(t *testing.T) {
		p := sc.proposal(0)
		qc := &QuorumCertificate{Proposal: *p}
		for _, id := range []types.NodeID{"a", "b", "c"} {
			qc.Signatures = append(qc.Signatures, sc.endorse(t, id, p))
		}
		if err := qc.Validate(sc.committee); err != nil {
			t.Errorf("Expected certificate to validate, got %v", err)
		}
	})

	t.Run("BelowThreshold", func(t *testing.T) {
		p := sc.proposal(0)
		qc := &QuorumCertificate{Proposal: *p}
		for _, id := range []types.NodeID{"a", "b"} {
			qc.Signatures = append(qc.Signatures, sc.endorse(t, id, p))
		}
		if err := qc.Validate(sc.committee); err == nil {
			t.Error("Expected two signatures to miss the threshold of three")
		}
	})

	t.Run("DuplicateSigner", func(t *testing.T) {
		p := sc.proposal(0)
		qc := &QuorumCertificate{Proposal: *p}
		sig := sc.endorse(t, "a", p)
		qc.Signatures = []MemberSignature{sig, sig, sc.endorse(t, "b", p)}
		if err := qc.Validate(sc.committee); err == nil {
			t.Error("Expected duplicate signers to be rejected")
		}
	})

	t.Run("ForgedSignature", func(t *testing.T) {
		p := sc.proposal(0)
		qc := &QuorumCertificate{Proposal: *p}
		qc.Signatures = []MemberSignature{
			sc.endorse(t, "a", p),
			sc.endorse(t, "b", p),
			{NodeID: "c", Signature: []byte("forged")},
		}
		if err := qc.Validate(sc.committee); err == nil {
			t.Error("Expected a forged signature to be rejected")
		}
	})

	t.Run("SignatureFromWrongKey", func(t *testing.T) {
		p := sc.proposal(0)
		// d signs but the signature is attributed to c.
		sig, err := sc.signers["d"].Sign([]byte(p.ContentHash()))
		if err != nil {
			t.Fatalf("Failed to sign proposal: %v", err)
		}
		qc := &QuorumCertificate{Proposal: *p}
		qc.Signatures = []MemberSignature{
			sc.endorse(t, "a", p),
			sc.endorse(t, "b", p),
			{NodeID: "c", Signature: sig},
		}
		if err := qc.Validate(sc.committee); err == nil {
			t.Error("Expected a misattributed signature to be rejected")
		}
	})

	t.Run("NonMemberSigner", func(t *testing.T) {
		p := sc.proposal(0)
		outsider := crypto.NewEd25519Signer()
		sig, err := outsider.Sign([]byte(p.ContentHash()))
		if err != nil {
			t.Fatalf("Failed to sign proposal: %v", err)
		}
		qc := &QuorumCertificate{Proposal: *p}
		qc.Signatures = []MemberSignature{
			sc.endorse(t, "a", p),
			sc.endorse(t, "b", p),
			{NodeID: "z", Signature: sig},
		}
		if err := qc.Validate(sc.committee); err == nil {
			t.Error("Expected an unregistered signer to be rejected")
		}
	})

	t.Run("WrongLeader", func(t *testing.T) {
		p := sc.proposal(0)
		p.LeaderID = "b" // round 0 leader is a
		qc := &QuorumCertificate{Proposal: *p}
		for _, id := range []types.NodeID{"a", "b", "c"} {
			qc.Signatures = append(qc.Signatures, sc.endorse(t, id, p))
		}
		if err := qc.Validate(sc.committee); err == nil {
			t.Error("Expected a proposal from the wrong leader to be rejected")
		}
	})

	t.Run("WrongAsset", func(t *testing.T) {
		p := sc.proposal(0)
		p.AssetID = types.NewAssetID(types.TemplateID(1))
		qc := &QuorumCertificate{Proposal: *p}
		for _, id := range []types.NodeID{"a", "b", "c"} {
			qc.Signatures = append(qc.Signatures, sc.endorse(t, id, p))
		}
		if err := qc.Validate(sc.committee); err == nil {
			t.Error("Expected a certificate for another asset to be rejected")
		}
	})
}

func TestProposalContentHash(t *testing.T) {
	sc := newSignedCommittee(t, 4)
	p := sc.proposal(0)

	same := *p
	same.ID = types.NewProposalID() // id is not part of the content
	if p.ContentHash() != same.ContentHash() {
		t.Error("Expected the content hash to ignore the proposal id")
	}

	diverged := *p
	diverged.ResultHash = "other"
	if p.ContentHash() == diverged.ContentHash() {
		t.Error("Expected a different result hash to change the content hash")
	}
}

func TestAggregateInstructions(t *testing.T) {
	views := func(sets map[types.NodeID][]types.InstructionID) map[types.NodeID]*NewViewMsg {
		out := make(map[types.NodeID]*NewViewMsg, len(sets))
		for node, ids := range sets {
			out[node] = &NewViewMsg{NodeID: node, Instructions: ids}
		}
		return out
	}

	t.Run("ThresholdFilter", func(t *testing.T) {
		v := views(map[types.NodeID][]types.InstructionID{
			"a": {"in-1", "in-2"},
			"b": {"in-1", "in-2"},
			"c": {"in-1"},
			"d": {"in-3"},
		})
		got := aggregateInstructions(v, "a", 3)
		if len(got) != 1 || got[0] != "in-1" {
			t.Errorf("Expected only in-1 to reach the threshold, got %v", got)
		}
	})

	t.Run("LeaderOrderFirst", func(t *testing.T) {
		v := views(map[types.NodeID][]types.InstructionID{
			"a": {"in-2", "in-1"},
			"b": {"in-1", "in-2"},
			"c": {"in-1", "in-2"},
		})
		got := aggregateInstructions(v, "a", 3)
		if len(got) != 2 || got[0] != "in-2" || got[1] != "in-1" {
			t.Errorf("Expected the leader's announcement order, got %v", got)
		}
	})

	t.Run("DuplicatesCountOnce", func(t *testing.T) {
		v := views(map[types.NodeID][]types.InstructionID{
			"a": {"in-1", "in-1", "in-1"},
			"b": {"in-2"},
		})
		got := aggregateInstructions(v, "a", 2)
		if len(got) != 0 {
			t.Errorf("Expected repeated announcements from one member to count once, got %v", got)
		}
	})

	t.Run("Empty", func(t *testing.T) {
		got := aggregateInstructions(map[types.NodeID]*NewViewMsg{}, "a", 1)
		if len(got) != 0 {
			t.Errorf("Expected no instructions, got %v", got)
		}
	})
}

func TestMessageTypeString(t *testing.T) {
	cases := map[MessageType]string{
		NewView:         "NEW-VIEW",
		Proposal:        "PROPOSAL",
		SignedProposal:  "SIGNED-PROPOSAL",
		Certificate:     "CERTIFICATE",
		MessageType(42): "UNKNOWN",
	}
	for mt, want := range cases {
		if got := mt.String(); got != want {
			t.Errorf("Expected %s, got %s", want, got)
		}
	}
}
