// Package escrow runs timed sub-transactions: a fresh wallet receives
// payment for a pending sale, and either funding or deadline expiry
// decides the fate of the parent instruction. At most one timed
// sub-transaction may hold a token at a time.
package escrow

import (
	"context"
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

var ErrTokenHeld = errors.New("escrow: token already held by an active sub-transaction")

// Resolver is the pipeline callback invoked when a sub-transaction
// resolves. Funded drives the completion child through consensus;
// Expired invalidates it, cascading to the parent.
type Resolver interface {
	Funded(ctx context.Context, child types.InstructionID) error
	Expired(ctx context.Context, child types.InstructionID) error
}

type subTransaction struct {
	token    types.TokenID
	parent   types.InstructionID
	child    types.InstructionID
	wallet   string
	deadline time.Time
	cancel   context.CancelFunc
}

// Coordinator owns every active timed sub-transaction on this node. Each
// one gets a dedicated wallet key pair and a watcher goroutine that ends
// only on funding or deadline expiry.
type Coordinator struct {
	mu sync.RWMutex

	store    repository.Store
	observer PaymentObserver
	resolver Resolver
	metrics  *metrics.Metrics

	active  map[types.TokenID]*subTransaction
	wallets map[string]*crypto.Ed25519Signer // wallet pub key -> key pair
	logger  *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewCoordinator creates a coordinator.
func NewCoordinator(store repository.Store, observer PaymentObserver, m *metrics.Metrics) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		store:    store,
		observer: observer,
		metrics:  m,
		active:   make(map[types.TokenID]*subTransaction),
		wallets:  make(map[string]*crypto.Ed25519Signer),
		logger:   log.New(os.Stdout, "[Escrow] ", log.LstdFlags),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetResolver wires the pipeline callback. Must be called before Begin.
func (c *Coordinator) SetResolver(r Resolver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resolver = r
}

// Stop cancels every watcher.
func (c *Coordinator) Stop() {
	c.cancel()
}

// ActiveForToken reports whether a timed sub-transaction currently holds
// the token. Implements the admission gate's conflict check.
func (c *Coordinator) ActiveForToken(token types.TokenID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, exists := c.active[token]
	return exists
}

// WalletFor returns the escrow wallet public key for a parent
// instruction, for handing to the paying party.
func (c *Coordinator) WalletFor(parent types.InstructionID) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, sub := range c.active {
		if sub.parent == parent {
			return sub.wallet, true
		}
	}
	return "", false
}

// Begin opens a timed sub-transaction: a fresh wallet, a persisted
// Active wallet row, and a watcher bounded by the deadline. The child
// instruction must already exist in Processing state.
func (c *Coordinator) Begin(ctx context.Context, token types.TokenID, parent, child types.InstructionID, amount uint64, timeout time.Duration) (string, error) {
	signer := crypto.NewEd25519Signer()
	walletKey := signer.PublicKeyHex()

	c.mu.Lock()
	if c.resolver == nil {
		c.mu.Unlock()
		return "", fmt.Errorf("escrow: no resolver wired")
	}
	if _, exists := c.active[token]; exists {
		c.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrTokenHeld, token)
	}
	watchCtx, cancelWatch := context.WithCancel(c.ctx)
	sub := &subTransaction{
		token:    token,
		parent:   parent,
		child:    child,
		wallet:   walletKey,
		deadline: time.Now().Add(timeout),
		cancel:   cancelWatch,
	}
	c.active[token] = sub
	c.wallets[walletKey] = signer
	c.mu.Unlock()

	wallet := &types.Wallet{
		PubKey:        walletKey,
		InstructionID: parent,
		TokenID:       token,
		Expected:      amount,
		Status:        types.WalletActive,
		CreatedAt:     time.Now().UTC(),
	}
	if err := c.store.SaveWallet(ctx, wallet); err != nil {
		c.drop(token)
		return "", fmt.Errorf("persist escrow wallet: %w", err)
	}

	payments, err := c.observer.Watch(watchCtx, walletKey, amount)
	if err != nil {
		c.drop(token)
		return "", fmt.Errorf("watch escrow wallet: %w", err)
	}

	if c.metrics != nil {
		c.metrics.RecordEscrowOpened()
	}
	c.logger.Printf("token %s: sub-transaction opened, wallet %.12s, %d expected within %s",
		token, walletKey, amount, timeout)

	go c.watch(watchCtx, sub, payments, timeout)
	return walletKey, nil
}

// watch waits for exactly one of: funding, deadline, shutdown.
func (c *Coordinator) watch(ctx context.Context, sub *subTransaction, payments <-chan Payment, timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case p := <-payments:
		c.funded(sub, p)
	case <-timer.C:
		c.expired(sub)
	}
}

func (c *Coordinator) funded(sub *subTransaction, p Payment) {
	c.logger.Printf("token %s: wallet %.12s funded with %d", sub.token, sub.wallet, p.Amount)
	if err := c.store.UpdateWallet(c.ctx, sub.wallet, p.Amount, types.WalletReleased); err != nil {
		c.logger.Printf("update wallet %.12s: %v", sub.wallet, err)
	}
	if c.metrics != nil {
		c.metrics.RecordEscrowResolved("funded")
	}
	if err := c.resolver.Funded(c.ctx, sub.child); err != nil {
		c.logger.Printf("resolve funded sub-transaction for token %s: %v", sub.token, err)
	}
	// the token stays held until the completion child finalizes
}

// expired abandons the wallet. Any partial balance stays on record for
// manual reconciliation; nothing is refunded automatically.
func (c *Coordinator) expired(sub *subTransaction) {
	c.logger.Printf("token %s: sub-transaction expired, abandoning wallet %.12s", sub.token, sub.wallet)
	balance := uint64(0)
	if w, err := c.store.LoadWallet(c.ctx, sub.wallet); err == nil {
		balance = w.Balance
	}
	if bo, ok := c.observer.(*ManualObserver); ok {
		balance = bo.Balance(sub.wallet)
	}
	if err := c.store.UpdateWallet(c.ctx, sub.wallet, balance, types.WalletAbandoned); err != nil {
		c.logger.Printf("update wallet %.12s: %v", sub.wallet, err)
	}
	if c.metrics != nil {
		c.metrics.RecordEscrowResolved("expired")
	}
	if err := c.resolver.Expired(c.ctx, sub.child); err != nil {
		c.logger.Printf("resolve expired sub-transaction for token %s: %v", sub.token, err)
	}
	c.drop(sub.token)
}

// Finalize releases the token hold once the completion child reaches a
// terminal state.
func (c *Coordinator) Finalize(child types.InstructionID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for token, sub := range c.active {
		if sub.child == child {
			sub.cancel()
			delete(c.active, token)
			delete(c.wallets, sub.wallet)
			return
		}
	}
}

func (c *Coordinator) drop(token types.TokenID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sub, ok := c.active[token]; ok {
		sub.cancel()
		delete(c.wallets, sub.wallet)
		delete(c.active, token)
	}
}
