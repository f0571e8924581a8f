package committee

import (
	"sync"
	"time"

	"github.com/vnlabs-io/assetd/types"
)

// Phase is the stage a round has reached.
type Phase int

const (
	// AwaitingNewView - collecting candidate sets from members.
	AwaitingNewView Phase = iota
	// AwaitingEndorsement - proposal out, collecting signed endorsements.
	AwaitingEndorsement
	// AwaitingCertificate - non-leader members waiting for the certificate.
	AwaitingCertificate
	// Committed - certificate validated and applied.
	Committed
	// Aborted - round abandoned without side effects.
	Aborted
)

func (p Phase) String() string {
	switch p {
	case AwaitingNewView:
		return "AWAITING-NEW-VIEW"
	case AwaitingEndorsement:
		return "AWAITING-ENDORSEMENT"
	case AwaitingCertificate:
		return "AWAITING-CERTIFICATE"
	case Committed:
		return "COMMITTED"
	case Aborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// Round tracks one (asset, round number) consensus attempt. At most one
// round is in flight per asset.
type Round struct {
	mu sync.RWMutex

	AssetID types.AssetID
	Number  uint64
	Leader  types.NodeID
	Retries int

	phase        Phase
	newViews     map[types.NodeID]*NewViewMsg
	proposal     *ProposalMsg
	endorsements map[types.NodeID]*SignedProposalMsg
	startedAt    time.Time
}

// NewRound starts a round in the NewView collection phase.
func NewRound(asset types.AssetID, number uint64, leader types.NodeID, retries int) *Round {
	return &Round{
		AssetID:      asset,
		Number:       number,
		Leader:       leader,
		Retries:      retries,
		phase:        AwaitingNewView,
		newViews:     make(map[types.NodeID]*NewViewMsg),
		endorsements: make(map[types.NodeID]*SignedProposalMsg),
		startedAt:    time.Now(),
	}
}

// Phase returns the current phase.
func (r *Round) Phase() Phase {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.phase
}

// SetPhase moves the round to the given phase.
func (r *Round) SetPhase(p Phase) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phase = p
}

// AddNewView records a member's candidate set and reports the count of
// distinct announcing members.
func (r *Round) AddNewView(msg *NewViewMsg) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.newViews[msg.NodeID] = msg
	return len(r.newViews)
}

// NewViews returns the collected candidate sets.
func (r *Round) NewViews() map[types.NodeID]*NewViewMsg {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[types.NodeID]*NewViewMsg, len(r.newViews))
	for id, v := range r.newViews {
		out[id] = v
	}
	return out
}

// SetProposal pins the round's proposal.
func (r *Round) SetProposal(p *ProposalMsg) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.proposal = p
}

// Proposal returns the pinned proposal, or nil.
func (r *Round) Proposal() *ProposalMsg {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.proposal
}

// AddEndorsement records a member's endorsement and reports how many
// distinct members endorsed the proposal's content hash.
func (r *Round) AddEndorsement(msg *SignedProposalMsg) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.proposal == nil || msg.ContentHash != r.proposal.ContentHash() {
		return len(r.endorsements)
	}
	r.endorsements[msg.NodeID] = msg
	return len(r.endorsements)
}

// Endorsements returns the collected endorsements.
func (r *Round) Endorsements() []*SignedProposalMsg {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*SignedProposalMsg, 0, len(r.endorsements))
	for _, e := range r.endorsements {
		out = append(out, e)
	}
	return out
}

// Age returns how long the round has been in flight.
func (r *Round) Age() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return time.Since(r.startedAt)
}

// roundTable holds the in-flight round per asset.
type roundTable struct {
	mu     sync.RWMutex
	rounds map[types.AssetID]*Round
}

func newRoundTable() *roundTable {
	return &roundTable{rounds: make(map[types.AssetID]*Round)}
}

func (rt *roundTable) get(asset types.AssetID) *Round {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.rounds[asset]
}

func (rt *roundTable) put(r *Round) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.rounds[r.AssetID] = r
}

func (rt *roundTable) remove(asset types.AssetID) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	delete(rt.rounds, asset)
}
