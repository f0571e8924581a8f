package node

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vnlabs-io/assetd/consensus/committee"
	"github.com/vnlabs-io/assetd/crypto"
	"github.com/vnlabs-io/assetd/escrow"
	"github.com/vnlabs-io/assetd/instruction"
	"github.com/vnlabs-io/assetd/ledger"
	"github.com/vnlabs-io/assetd/metrics"
	"github.com/vnlabs-io/assetd/repository"
	"github.com/vnlabs-io/assetd/template"
	"github.com/vnlabs-io/assetd/transport"
	"github.com/vnlabs-io/assetd/types"
)

type failedExecution struct {
	asset  types.AssetID
	reason error
}

// Node is one asset validator. It admits instructions, executes them
// through template dispatch, drives them through committee consensus and
// settles timed sub-transactions.
type Node struct {
	mu sync.RWMutex

	config      *Config
	signer      *crypto.Ed25519Signer
	store       repository.Store
	ledger      *ledger.Ledger
	machine     *instruction.Machine
	pool        *instruction.Pool
	admission   *instruction.Admission
	registry    *template.Registry
	engine      *committee.Engine
	channel     committee.Channel
	grpcChannel *transport.GRPCChannel // nil when the channel was injected
	coordinator *escrow.Coordinator
	metrics     *metrics.Metrics

	// node-local execution outcomes, keyed by instruction; consumed at
	// commit time for result payloads, minted tokens and escrow requests
	outcomes map[types.InstructionID]*template.Outcome

	// instructions whose consensus-time re-execution failed, swept to
	// Invalid after the surviving set commits
	failed map[types.InstructionID]*failedExecution

	// bounded processor slots per template id
	procSlots map[types.TemplateID]chan struct{}

	running    bool
	httpServer *http.Server
	logger     *log.Logger
}

// NewNode creates a node with its own storage and gRPC channel. An empty
// StoreDSN selects the in-memory store.
func NewNode(config *Config) (*Node, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var store repository.Store
	if config.StoreDSN != "" {
		pg, err := repository.NewPostgresStore(context.Background(), config.StoreDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		store = pg
	} else {
		store = repository.NewMemoryStore()
	}

	var m *metrics.Metrics
	if config.MetricsEnabled {
		m = metrics.NewMetrics("assetd")
	}
	channel := transport.NewGRPCChannel(types.NodeID(config.NodeID), config.ListenAddr, m)

	n, err := newNode(config, store, channel, escrow.NewManualObserver(), m)
	if err != nil {
		return nil, err
	}
	n.grpcChannel = channel
	return n, nil
}

// NewNodeWith creates a node over injected storage, channel and payment
// observer. Tests and multi-node fixtures use it.
func NewNodeWith(config *Config, store repository.Store, channel committee.Channel, observer escrow.PaymentObserver) (*Node, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return newNode(config, store, channel, observer, nil)
}

func newNode(config *Config, store repository.Store, channel committee.Channel, observer escrow.PaymentObserver, m *metrics.Metrics) (*Node, error) {
	signer, err := loadSigner(config.PrivateKey)
	if err != nil {
		return nil, err
	}

	registry := template.NewRegistry()
	if err := registry.Register(template.SingleUseTokens()); err != nil {
		return nil, fmt.Errorf("register built-in template: %w", err)
	}

	coordinator := escrow.NewCoordinator(store, observer, m)
	pool := instruction.NewPool(&instruction.PoolConfig{
		MaxPerAsset: config.PoolMaxPerAsset,
		MaxBatch:    config.MaxBatch,
	})

	n := &Node{
		config:      config,
		signer:      signer,
		store:       store,
		ledger:      ledger.New(store),
		machine:     instruction.NewMachine(store),
		pool:        pool,
		admission:   instruction.NewAdmission(store, registry, coordinator),
		registry:    registry,
		channel:     channel,
		coordinator: coordinator,
		metrics:     m,
		outcomes:    make(map[types.InstructionID]*template.Outcome),
		failed:      make(map[types.InstructionID]*failedExecution),
		procSlots:   make(map[types.TemplateID]chan struct{}),
		logger:      log.New(os.Stdout, "[Node] ", log.LstdFlags),
	}

	engineConfig := &committee.Config{
		NodeID:       types.NodeID(config.NodeID),
		RoundTimeout: config.RoundTimeout,
		RetryBudget:  config.RetryBudget,
		MaxBatch:     config.MaxBatch,
	}
	n.engine = committee.NewEngine(engineConfig, signer, store, n, channel, m)
	coordinator.SetResolver(n)
	return n, nil
}

func loadSigner(privateKeyHex string) (*crypto.Ed25519Signer, error) {
	if privateKeyHex == "" {
		return crypto.NewEd25519Signer(), nil
	}
	raw, err := hex.DecodeString(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	signer, err := crypto.NewEd25519SignerFromKey(raw)
	if err != nil {
		return nil, fmt.Errorf("load private key: %w", err)
	}
	return signer, nil
}

// Start starts the node.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.running {
		n.mu.Unlock()
		return fmt.Errorf("node already running")
	}
	n.running = true
	n.mu.Unlock()

	n.logger.Printf("starting validator node %s", n.config.NodeID)

	if n.grpcChannel != nil {
		if err := n.grpcChannel.Start(); err != nil {
			return fmt.Errorf("start transport: %w", err)
		}
		for _, peer := range n.config.Peers {
			parts := strings.SplitN(peer, "@", 2)
			if len(parts) != 2 {
				n.logger.Printf("invalid peer %q, expected nodeID@address", peer)
				continue
			}
			peerID, peerAddr := types.NodeID(parts[0]), parts[1]
			if peerID == types.NodeID(n.config.NodeID) {
				continue
			}
			if err := n.grpcChannel.AddPeer(peerID, peerAddr); err != nil {
				n.logger.Printf("connect to peer %s: %v", peerID, err)
			}
		}
	}

	if err := n.pool.Start(); err != nil {
		return fmt.Errorf("start pool: %w", err)
	}
	if err := n.engine.Start(); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	if n.config.MetricsEnabled {
		go n.serveHTTP()
	}

	n.logger.Printf("node %s started, signer %s", n.config.NodeID, n.signer.PublicKeyHex())
	return nil
}

// Stop stops the node.
func (n *Node) Stop() error {
	n.mu.Lock()
	if !n.running {
		n.mu.Unlock()
		return nil
	}
	n.running = false
	n.mu.Unlock()

	n.logger.Printf("stopping validator node %s", n.config.NodeID)

	if n.httpServer != nil {
		n.httpServer.Close()
	}
	n.engine.Stop()
	n.coordinator.Stop()
	n.pool.Stop()
	if n.grpcChannel != nil {
		n.grpcChannel.Stop()
	}
	if err := n.store.Close(); err != nil {
		n.logger.Printf("close store: %v", err)
	}

	n.logger.Printf("node %s stopped", n.config.NodeID)
	return nil
}

// IsRunning reports whether the node is started.
func (n *Node) IsRunning() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.running
}

// SignerPublicKey returns the node's hex-encoded signing key, the
// identity registered in committees.
func (n *Node) SignerPublicKey() string {
	return n.signer.PublicKeyHex()
}

// CreateAsset registers an asset and its validating committee. Both must
// exist before any instruction against the asset is admitted.
func (n *Node) CreateAsset(ctx context.Context, asset *types.Asset, cmte *types.Committee) error {
	if asset == nil || cmte == nil {
		return fmt.Errorf("asset and committee are required")
	}
	if cmte.AssetID != asset.ID {
		return fmt.Errorf("committee is for asset %s, not %s", cmte.AssetID, asset.ID)
	}
	if len(cmte.Members) == 0 {
		return fmt.Errorf("committee has no members")
	}
	templateID, err := asset.ID.TemplateID()
	if err != nil {
		return err
	}
	if templateID != asset.TemplateID {
		return fmt.Errorf("asset id carries template %s, asset names %s", templateID, asset.TemplateID)
	}
	if err := n.store.SaveAsset(ctx, asset); err != nil {
		return fmt.Errorf("save asset: %w", err)
	}
	if err := n.store.SaveCommittee(ctx, cmte); err != nil {
		return fmt.Errorf("save committee: %w", err)
	}
	n.logger.Printf("asset %s registered with a committee of %d", asset.ID, len(cmte.Members))
	return nil
}

// SubmitInstruction admits, executes and queues an instruction. The
// returned payload is the node-local execution result; the instruction
// finalizes asynchronously once its consensus round commits.
func (n *Node) SubmitInstruction(ctx context.Context, in *types.Instruction) (json.RawMessage, error) {
	if !n.IsRunning() {
		return nil, fmt.Errorf("node is not running")
	}

	if err := n.admission.Check(ctx, in); err != nil {
		if n.metrics != nil {
			n.metrics.RecordSubmission("rejected")
		}
		// an unauthorized instruction is well-formed and auditable: it is
		// recorded and immediately invalidated rather than dropped
		if errors.Is(err, instruction.ErrNotAuthorized) {
			n.recordRejected(ctx, in)
		}
		return nil, err
	}
	if n.metrics != nil {
		n.metrics.RecordSubmission("accepted")
	}

	now := time.Now().UTC()
	in.InitiatingNodeID = types.NodeID(n.config.NodeID)
	in.Status = types.StatusScheduled
	if in.CreatedAt.IsZero() {
		in.CreatedAt = now
	}
	in.UpdatedAt = now
	if err := n.store.SaveInstruction(ctx, in); err != nil {
		return nil, fmt.Errorf("persist instruction: %w", err)
	}
	if err := n.machine.Advance(ctx, in.ID, types.StatusProcessing); err != nil {
		return nil, err
	}

	release := n.acquireSlot(in.TemplateID)
	outcome, err := n.registry.Execute(ctx, n.store, n.ledger, in)
	release()
	if err != nil {
		if advErr := n.machine.Advance(ctx, in.ID, types.StatusInvalid); advErr != nil {
			n.logger.Printf("invalidate %s after failed execution: %v", in.ID, advErr)
		}
		return nil, err
	}

	n.setOutcome(in.ID, outcome)
	if err := n.machine.Advance(ctx, in.ID, types.StatusPending); err != nil {
		return nil, err
	}
	if err := n.pool.Add(in); err != nil {
		return nil, fmt.Errorf("queue instruction: %w", err)
	}
	if n.metrics != nil {
		n.metrics.SetPoolSize(n.pool.Size())
	}
	n.engine.Trigger(in.AssetID)
	return outcome.Result, nil
}

// recordRejected persists an unauthorized instruction in terminal
// Invalid state so the rejection is visible in status queries.
func (n *Node) recordRejected(ctx context.Context, in *types.Instruction) {
	now := time.Now().UTC()
	in.InitiatingNodeID = types.NodeID(n.config.NodeID)
	in.Status = types.StatusScheduled
	if in.CreatedAt.IsZero() {
		in.CreatedAt = now
	}
	in.UpdatedAt = now
	if err := n.store.SaveInstruction(ctx, in); err != nil {
		n.logger.Printf("persist rejected instruction %s: %v", in.ID, err)
		return
	}
	if err := n.machine.Advance(ctx, in.ID, types.StatusProcessing); err != nil {
		n.logger.Printf("invalidate rejected instruction %s: %v", in.ID, err)
		return
	}
	if err := n.machine.Advance(ctx, in.ID, types.StatusInvalid); err != nil {
		n.logger.Printf("invalidate rejected instruction %s: %v", in.ID, err)
	}
}

// InstructionView is an instruction with its children, for status
// queries.
type InstructionView struct {
	Instruction *types.Instruction `json:"instruction"`
	Children    []*InstructionView `json:"children,omitempty"`
}

// InstructionStatus returns the instruction and its descendants.
func (n *Node) InstructionStatus(ctx context.Context, id types.InstructionID) (*InstructionView, error) {
	in, err := n.store.LoadInstruction(ctx, id)
	if err != nil {
		return nil, err
	}
	view := &InstructionView{Instruction: in}
	children, err := n.store.LoadChildInstructions(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		childView, err := n.InstructionStatus(ctx, child.ID)
		if err != nil {
			return nil, err
		}
		view.Children = append(view.Children, childView)
	}
	return view, nil
}

// EntityState materializes an entity's committed state as of the given
// instant. A zero asOf means now.
func (n *Node) EntityState(ctx context.Context, scope types.RecordScope, entityID string, asOf time.Time) (*ledger.View, error) {
	return n.ledger.Materialize(ctx, scope, entityID, asOf)
}

// EscrowWallet returns the escrow wallet key receiving payment for a
// pending sale, once its round has committed.
func (n *Node) EscrowWallet(parent types.InstructionID) (string, bool) {
	return n.coordinator.WalletFor(parent)
}

// acquireSlot bounds concurrent procedure executions per template.
func (n *Node) acquireSlot(templateID types.TemplateID) func() {
	n.mu.Lock()
	slots, ok := n.procSlots[templateID]
	if !ok {
		capacity := n.config.ProcessorsPerTemplate
		if capacity < 1 {
			capacity = 1
		}
		slots = make(chan struct{}, capacity)
		n.procSlots[templateID] = slots
	}
	n.mu.Unlock()

	slots <- struct{}{}
	return func() { <-slots }
}

func (n *Node) setOutcome(id types.InstructionID, outcome *template.Outcome) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.outcomes[id] = outcome
}

func (n *Node) takeOutcome(id types.InstructionID) *template.Outcome {
	n.mu.Lock()
	defer n.mu.Unlock()
	outcome := n.outcomes[id]
	delete(n.outcomes, id)
	return outcome
}

// serveHTTP serves /metrics, /health and /status.
func (n *Node) serveHTTP() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		peers := 0
		if n.grpcChannel != nil {
			peers = n.grpcChannel.PeerCount()
		}
		status := map[string]any{
			"node_id":   n.config.NodeID,
			"running":   n.IsRunning(),
			"pool_size": n.pool.Size(),
			"peers":     peers,
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(status)
	})

	n.mu.Lock()
	n.httpServer = &http.Server{Addr: n.config.MetricsAddr, Handler: mux}
	server := n.httpServer
	n.mu.Unlock()

	n.logger.Printf("metrics server on %s", n.config.MetricsAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		n.logger.Printf("metrics server error: %v", err)
	}
}
