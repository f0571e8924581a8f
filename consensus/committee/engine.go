package committee

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/vnlabs-io/assetd/crypto"
	"github.com/vnlabs-io/assetd/metrics"
	"github.com/vnlabs-io/assetd/repository"
	"github.com/vnlabs-io/assetd/types"
)

var (
	ErrConsensusTimeout   = errors.New("committee: consensus round timed out")
	ErrCertificateInvalid = errors.New("committee: quorum certificate invalid")
)

// Channel carries protocol messages between committee members.
type Channel interface {
	// Broadcast sends a message to every committee member, including the
	// local node.
	Broadcast(ctx context.Context, msg *Message) error

	// Send sends a message to one member.
	Send(ctx context.Context, nodeID types.NodeID, msg *Message) error

	// SetHandler registers the inbound message handler.
	SetHandler(handler func(*Message))
}

// ExecutionResult is the deterministic outcome of running an instruction
// set over the committed state.
type ExecutionResult struct {
	Instructions []types.InstructionID
	Records      []*types.StateRecord
	BaseHash     string
	ResultHash   string
}

// Application is the layer the engine drives: it supplies candidate
// work, re-executes proposals, and applies certified results.
type Application interface {
	// Candidate returns the node's queued instruction ids for an asset in
	// arrival order, with the state hash of the committed base state.
	Candidate(ctx context.Context, asset types.AssetID) ([]types.InstructionID, string, error)

	// Execute runs the instruction set over the committed state and
	// returns the staged records and resulting state hash. It must not
	// persist anything.
	Execute(ctx context.Context, asset types.AssetID, ids []types.InstructionID) (*ExecutionResult, error)

	// Commit atomically applies a certified result: append records,
	// finalize instruction statuses, release pool entries.
	Commit(ctx context.Context, asset types.AssetID, result *ExecutionResult, cert *QuorumCertificate) error

	// Fail marks instructions as failed after the retry budget is spent.
	Fail(ctx context.Context, asset types.AssetID, ids []types.InstructionID, reason error)
}

type roundTimeout struct {
	asset types.AssetID
	round uint64
}

// Engine runs the committee protocol for every asset this node serves.
// A single goroutine consumes the message channel, so round state is
// only ever mutated from one place.
type Engine struct {
	mu sync.RWMutex

	config *Config
	signer crypto.Signer
	store  repository.Store
	app    Application
	chann  Channel

	rounds     *roundTable
	nextRound  map[types.AssetID]uint64
	execCache  map[types.ProposalID]*ExecutionResult
	msgChan    chan *Message
	triggerCh  chan types.AssetID
	timeoutCh  chan roundTimeout
	metrics    *metrics.Metrics
	ctx        context.Context
	cancel     context.CancelFunc
	logger     *log.Logger
}

// NewEngine creates the consensus engine.
func NewEngine(config *Config, signer crypto.Signer, store repository.Store, app Application, chann Channel, m *metrics.Metrics) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		config:    config,
		signer:    signer,
		store:     store,
		app:       app,
		chann:     chann,
		rounds:    newRoundTable(),
		nextRound: make(map[types.AssetID]uint64),
		execCache: make(map[types.ProposalID]*ExecutionResult),
		msgChan:   make(chan *Message, 1000),
		triggerCh: make(chan types.AssetID, 1000),
		timeoutCh: make(chan roundTimeout, 100),
		metrics:   m,
		ctx:       ctx,
		cancel:    cancel,
		logger:    log.New(os.Stdout, "[Engine] ", log.LstdFlags),
	}
	if chann != nil {
		chann.SetHandler(e.handleIncoming)
	}
	return e
}

// Start launches the consensus loop.
func (e *Engine) Start() error {
	e.logger.Printf("starting consensus engine for node %s", e.config.NodeID)
	go e.run()
	return nil
}

// Stop shuts the engine down.
func (e *Engine) Stop() {
	e.logger.Printf("stopping consensus engine for node %s", e.config.NodeID)
	e.cancel()
}

// Trigger signals that an asset has queued work.
func (e *Engine) Trigger(asset types.AssetID) {
	select {
	case e.triggerCh <- asset:
	default:
	}
}

func (e *Engine) handleIncoming(msg *Message) {
	select {
	case e.msgChan <- msg:
	default:
		e.logger.Printf("message channel full, dropping %s for asset %s", msg.Type, msg.AssetID)
	}
}

func (e *Engine) run() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case asset := <-e.triggerCh:
			e.maybeStartRound(asset, 0)
		case msg := <-e.msgChan:
			e.handleMessage(msg)
		case to := <-e.timeoutCh:
			e.handleTimeout(to)
		}
	}
}

func (e *Engine) handleMessage(msg *Message) {
	if e.metrics != nil {
		e.metrics.IncrementMessagesReceived(msg.Type.String())
	}
	switch msg.Type {
	case NewView:
		e.handleNewView(msg)
	case Proposal:
		e.handleProposal(msg)
	case SignedProposal:
		e.handleSignedProposal(msg)
	case Certificate:
		e.handleCertificate(msg)
	default:
		e.logger.Printf("unknown message type %v", msg.Type)
	}
}

// maybeStartRound opens a round for the asset if none is in flight and
// there is queued work.
func (e *Engine) maybeStartRound(asset types.AssetID, retries int) {
	if e.rounds.get(asset) != nil {
		return
	}
	ids, baseHash, err := e.app.Candidate(e.ctx, asset)
	if err != nil {
		e.logger.Printf("candidate set for asset %s: %v", asset, err)
		return
	}
	if len(ids) == 0 {
		return
	}
	if len(ids) > e.config.MaxBatch {
		ids = ids[:e.config.MaxBatch]
	}

	committee, err := e.store.LoadCommittee(e.ctx, asset)
	if err != nil {
		e.logger.Printf("load committee for asset %s: %v", asset, err)
		return
	}

	e.mu.Lock()
	number := e.nextRound[asset]
	e.mu.Unlock()

	leader := committee.Leader(number)
	round := NewRound(asset, number, leader.NodeID, retries)
	e.rounds.put(round)
	e.armTimer(asset, number)
	e.logger.Printf("asset %s: round %d started, leader %s, %d candidates", asset, number, leader.NodeID, len(ids))

	view := &NewViewMsg{
		AssetID:      asset,
		Round:        number,
		NodeID:       e.config.NodeID,
		Instructions: ids,
		StateHash:    baseHash,
	}
	sig, err := e.signer.Sign(view.SigningBytes())
	if err != nil {
		e.logger.Printf("sign new-view: %v", err)
		return
	}
	view.Signature = sig

	env, err := NewEnvelope(NewView, asset, number, e.config.NodeID, view)
	if err != nil {
		e.logger.Printf("encode new-view: %v", err)
		return
	}
	// broadcast rather than send to the leader alone: members that have
	// not yet seen the queued work learn of it and announce their own view
	if err := e.chann.Broadcast(e.ctx, env); err != nil {
		e.logger.Printf("broadcast new-view: %v", err)
	}
}

func (e *Engine) armTimer(asset types.AssetID, round uint64) {
	time.AfterFunc(e.config.RoundTimeout, func() {
		select {
		case e.timeoutCh <- roundTimeout{asset: asset, round: round}:
		case <-e.ctx.Done():
		}
	})
}

// handleNewView collects candidate sets. Only the round leader acts on
// them; once a supermajority announced, it aggregates and proposes.
func (e *Engine) handleNewView(msg *Message) {
	var view NewViewMsg
	if err := json.Unmarshal(msg.Payload, &view); err != nil {
		e.logger.Printf("decode new-view: %v", err)
		return
	}

	committee, err := e.store.LoadCommittee(e.ctx, view.AssetID)
	if err != nil {
		e.logger.Printf("load committee for asset %s: %v", view.AssetID, err)
		return
	}
	member := committee.Member(view.NodeID)
	if member == nil {
		e.logger.Printf("new-view from non-member %s, ignoring", view.NodeID)
		return
	}
	if ok, _ := crypto.VerifyHex(member.PubKey, view.SigningBytes(), view.Signature); !ok {
		e.logger.Printf("new-view from %s: bad signature", view.NodeID)
		return
	}
	if committee.Leader(view.Round).NodeID != e.config.NodeID {
		// not our round to lead, but another member saw work; open our own
		// round so our view reaches the leader
		if e.rounds.get(view.AssetID) == nil && view.NodeID != e.config.NodeID {
			e.maybeStartRound(view.AssetID, 0)
		}
		return
	}

	round := e.rounds.get(view.AssetID)
	if round == nil {
		// a member saw the work before we did; open our own round
		e.maybeStartRound(view.AssetID, 0)
		round = e.rounds.get(view.AssetID)
		if round == nil {
			return
		}
	}
	if round.Number != view.Round || round.Phase() != AwaitingNewView {
		return
	}

	count := round.AddNewView(&view)
	if count < committee.SupermajorityThreshold() {
		return
	}
	e.propose(round, committee)
}

// propose aggregates the collected candidate sets, executes the result
// and broadcasts the proposal.
func (e *Engine) propose(round *Round, committee *types.Committee) {
	threshold := committee.SupermajorityThreshold()
	ids := aggregateInstructions(round.NewViews(), e.config.NodeID, threshold)
	if len(ids) == 0 {
		e.logger.Printf("asset %s: round %d has no supermajority instruction set", round.AssetID, round.Number)
		return
	}
	if len(ids) > e.config.MaxBatch {
		ids = ids[:e.config.MaxBatch]
	}

	result, err := e.app.Execute(e.ctx, round.AssetID, ids)
	if err != nil {
		e.logger.Printf("asset %s: execute round %d: %v", round.AssetID, round.Number, err)
		return
	}

	proposal := &ProposalMsg{
		ID:           types.NewProposalID(),
		AssetID:      round.AssetID,
		Round:        round.Number,
		LeaderID:     e.config.NodeID,
		Instructions: result.Instructions,
		BaseHash:     result.BaseHash,
		ResultHash:   result.ResultHash,
	}
	round.SetProposal(proposal)
	round.SetPhase(AwaitingEndorsement)
	e.cacheExecution(proposal.ID, result)

	env, err := NewEnvelope(Proposal, round.AssetID, round.Number, e.config.NodeID, proposal)
	if err != nil {
		e.logger.Printf("encode proposal: %v", err)
		return
	}
	e.logger.Printf("asset %s: round %d proposing %d instructions, hash %.12s",
		round.AssetID, round.Number, len(proposal.Instructions), proposal.ContentHash())
	if err := e.chann.Broadcast(e.ctx, env); err != nil {
		e.logger.Printf("broadcast proposal: %v", err)
	}

	// the leader endorses its own proposal
	e.endorse(round, proposal)
}

// handleProposal is the member side: validate the leader, re-execute the
// instruction set, and endorse only when the state hashes agree.
func (e *Engine) handleProposal(msg *Message) {
	var proposal ProposalMsg
	if err := json.Unmarshal(msg.Payload, &proposal); err != nil {
		e.logger.Printf("decode proposal: %v", err)
		return
	}

	committee, err := e.store.LoadCommittee(e.ctx, proposal.AssetID)
	if err != nil {
		e.logger.Printf("load committee for asset %s: %v", proposal.AssetID, err)
		return
	}
	if committee.Leader(proposal.Round).NodeID != proposal.LeaderID {
		e.logger.Printf("asset %s: proposal from %s who does not lead round %d, ignoring",
			proposal.AssetID, proposal.LeaderID, proposal.Round)
		return
	}
	if proposal.LeaderID == e.config.NodeID {
		return
	}

	round := e.rounds.get(proposal.AssetID)
	if round == nil {
		round = NewRound(proposal.AssetID, proposal.Round, proposal.LeaderID, 0)
		e.rounds.put(round)
		e.armTimer(proposal.AssetID, proposal.Round)
	}
	if round.Number != proposal.Round {
		return
	}
	round.SetProposal(&proposal)
	round.SetPhase(AwaitingCertificate)

	result, err := e.app.Execute(e.ctx, proposal.AssetID, proposal.Instructions)
	if err != nil {
		e.logger.Printf("asset %s: re-execution of round %d failed: %v", proposal.AssetID, proposal.Round, err)
		return
	}
	if result.ResultHash != proposal.ResultHash {
		e.logger.Printf("asset %s: round %d state hash mismatch, declining (ours %.12s, proposed %.12s)",
			proposal.AssetID, proposal.Round, result.ResultHash, proposal.ResultHash)
		return
	}
	e.cacheExecution(proposal.ID, result)
	e.endorse(round, &proposal)
}

// endorse signs the proposal content hash and delivers the endorsement
// to the leader.
func (e *Engine) endorse(round *Round, proposal *ProposalMsg) {
	contentHash := proposal.ContentHash()
	sig, err := e.signer.Sign([]byte(contentHash))
	if err != nil {
		e.logger.Printf("sign endorsement: %v", err)
		return
	}
	endorsement := &SignedProposalMsg{
		ProposalID:  proposal.ID,
		ContentHash: contentHash,
		NodeID:      e.config.NodeID,
		Signature:   sig,
	}
	env, err := NewEnvelope(SignedProposal, proposal.AssetID, proposal.Round, e.config.NodeID, endorsement)
	if err != nil {
		e.logger.Printf("encode endorsement: %v", err)
		return
	}
	if proposal.LeaderID == e.config.NodeID {
		e.handleSignedProposal(env)
		return
	}
	if err := e.chann.Send(e.ctx, proposal.LeaderID, env); err != nil {
		e.logger.Printf("send endorsement to %s: %v", proposal.LeaderID, err)
	}
}

// handleSignedProposal is the leader collecting endorsements into a
// certificate.
func (e *Engine) handleSignedProposal(msg *Message) {
	var endorsement SignedProposalMsg
	if err := json.Unmarshal(msg.Payload, &endorsement); err != nil {
		e.logger.Printf("decode endorsement: %v", err)
		return
	}

	round := e.rounds.get(msg.AssetID)
	if round == nil || round.Phase() != AwaitingEndorsement {
		return
	}
	proposal := round.Proposal()
	if proposal == nil || proposal.ID != endorsement.ProposalID {
		return
	}

	committee, err := e.store.LoadCommittee(e.ctx, msg.AssetID)
	if err != nil {
		e.logger.Printf("load committee for asset %s: %v", msg.AssetID, err)
		return
	}
	member := committee.Member(endorsement.NodeID)
	if member == nil {
		e.logger.Printf("endorsement from non-member %s, ignoring", endorsement.NodeID)
		return
	}
	if ok, _ := crypto.VerifyHex(member.PubKey, []byte(endorsement.ContentHash), endorsement.Signature); !ok {
		e.logger.Printf("endorsement from %s: bad signature", endorsement.NodeID)
		return
	}

	count := round.AddEndorsement(&endorsement)
	if count < committee.SupermajorityThreshold() {
		return
	}

	cert := &QuorumCertificate{Proposal: *proposal}
	for _, end := range round.Endorsements() {
		cert.Signatures = append(cert.Signatures, MemberSignature{NodeID: end.NodeID, Signature: end.Signature})
	}
	if err := cert.Validate(committee); err != nil {
		e.logger.Printf("asset %s: built certificate fails validation: %v", msg.AssetID, err)
		return
	}

	env, err := NewEnvelope(Certificate, msg.AssetID, round.Number, e.config.NodeID, cert)
	if err != nil {
		e.logger.Printf("encode certificate: %v", err)
		return
	}
	e.logger.Printf("asset %s: round %d certified with %d signatures", msg.AssetID, round.Number, len(cert.Signatures))
	if err := e.chann.Broadcast(e.ctx, env); err != nil {
		e.logger.Printf("broadcast certificate: %v", err)
	}
	e.commit(round, cert)
}

// handleCertificate is the member side of the commit: validate every
// signature and apply atomically.
func (e *Engine) handleCertificate(msg *Message) {
	var cert QuorumCertificate
	if err := json.Unmarshal(msg.Payload, &cert); err != nil {
		e.logger.Printf("decode certificate: %v", err)
		return
	}
	if cert.Proposal.LeaderID == e.config.NodeID {
		return
	}

	committee, err := e.store.LoadCommittee(e.ctx, cert.Proposal.AssetID)
	if err != nil {
		e.logger.Printf("load committee for asset %s: %v", cert.Proposal.AssetID, err)
		return
	}
	if err := cert.Validate(committee); err != nil {
		e.logger.Printf("asset %s: rejecting certificate: %v", cert.Proposal.AssetID, err)
		return
	}

	round := e.rounds.get(cert.Proposal.AssetID)
	if round == nil || round.Number != cert.Proposal.Round {
		// we never saw the round; trust the certificate and apply
		round = NewRound(cert.Proposal.AssetID, cert.Proposal.Round, cert.Proposal.LeaderID, 0)
		round.SetProposal(&cert.Proposal)
		e.rounds.put(round)
	}
	e.commit(round, &cert)
}

// commit applies a certified round and opens the next one if work
// remains.
func (e *Engine) commit(round *Round, cert *QuorumCertificate) {
	result := e.takeExecution(cert.Proposal.ID)
	if result == nil || result.ResultHash != cert.Proposal.ResultHash {
		var err error
		result, err = e.app.Execute(e.ctx, round.AssetID, cert.Proposal.Instructions)
		if err != nil {
			e.logger.Printf("asset %s: execute certified set: %v", round.AssetID, err)
			return
		}
		if result.ResultHash != cert.Proposal.ResultHash {
			e.logger.Printf("asset %s: certified hash %.12s does not match local execution %.12s, halting round",
				round.AssetID, cert.Proposal.ResultHash, result.ResultHash)
			return
		}
	}

	if err := e.app.Commit(e.ctx, round.AssetID, result, cert); err != nil {
		e.logger.Printf("asset %s: commit round %d: %v", round.AssetID, round.Number, err)
		return
	}
	round.SetPhase(Committed)
	if e.metrics != nil {
		e.metrics.RecordRound("committed", round.Age())
		e.metrics.AddInstructionsFinalized(len(result.Instructions))
	}
	e.logger.Printf("asset %s: round %d committed %d instructions", round.AssetID, round.Number, len(result.Instructions))

	e.mu.Lock()
	e.nextRound[round.AssetID] = round.Number + 1
	e.mu.Unlock()
	e.rounds.remove(round.AssetID)

	// more work may be queued
	e.Trigger(round.AssetID)
}

// handleTimeout aborts a stale round with no side effects and retries
// under the next leader, up to the retry budget.
func (e *Engine) handleTimeout(to roundTimeout) {
	round := e.rounds.get(to.asset)
	if round == nil || round.Number != to.round {
		return
	}
	if phase := round.Phase(); phase == Committed || phase == Aborted {
		return
	}

	round.SetPhase(Aborted)
	e.rounds.remove(to.asset)
	e.mu.Lock()
	e.nextRound[to.asset] = round.Number + 1
	e.mu.Unlock()
	if e.metrics != nil {
		e.metrics.RecordRound("aborted", round.Age())
	}

	retries := round.Retries + 1
	if retries >= e.config.RetryBudget {
		ids, _, err := e.app.Candidate(e.ctx, to.asset)
		if err == nil && len(ids) > 0 {
			e.logger.Printf("asset %s: retry budget spent after round %d, failing %d instructions",
				to.asset, round.Number, len(ids))
			e.app.Fail(e.ctx, to.asset, ids, fmt.Errorf("%w: %d rounds attempted", ErrConsensusTimeout, retries))
		}
		return
	}

	e.logger.Printf("asset %s: round %d timed out, retrying (%d/%d)", to.asset, round.Number, retries, e.config.RetryBudget)
	e.maybeStartRound(to.asset, retries)
}

func (e *Engine) cacheExecution(id types.ProposalID, result *ExecutionResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.execCache[id] = result
}

func (e *Engine) takeExecution(id types.ProposalID) *ExecutionResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	result := e.execCache[id]
	delete(e.execCache, id)
	return result
}
