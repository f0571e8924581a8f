package escrow

import (
	"context"
	"sync"
	"time"
)

// Payment is one confirmed transfer into an escrow wallet.
type Payment struct {
	WalletPubKey string
	Amount       uint64
	ConfirmedAt  time.Time
}

// PaymentObserver watches the payment layer for transfers into escrow
// wallets. Watch yields at most one confirmed payment of at least the
// expected amount; the channel stays silent until then. Cancelling the
// context ends the watch.
type PaymentObserver interface {
	Watch(ctx context.Context, walletPubKey string, amount uint64) (<-chan Payment, error)
}

// ManualObserver is a PaymentObserver driven by explicit Fund calls,
// used by tests and single-node demos.
type ManualObserver struct {
	mu       sync.Mutex
	watches  map[string]chan Payment
	expected map[string]uint64
	partial  map[string]uint64
}

// NewManualObserver creates an observer with no watches.
func NewManualObserver() *ManualObserver {
	return &ManualObserver{
		watches:  make(map[string]chan Payment),
		expected: make(map[string]uint64),
		partial:  make(map[string]uint64),
	}
}

// Watch registers interest in a wallet.
func (o *ManualObserver) Watch(ctx context.Context, walletPubKey string, amount uint64) (<-chan Payment, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ch := make(chan Payment, 1)
	o.watches[walletPubKey] = ch
	o.expected[walletPubKey] = amount
	return ch, nil
}

// Fund records a transfer into a wallet. Transfers accumulate; the watch
// fires once the total reaches the expected amount.
func (o *ManualObserver) Fund(walletPubKey string, amount uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.partial[walletPubKey] += amount
	total := o.partial[walletPubKey]
	ch, ok := o.watches[walletPubKey]
	if !ok || total < o.expected[walletPubKey] {
		return
	}
	select {
	case ch <- Payment{WalletPubKey: walletPubKey, Amount: total, ConfirmedAt: time.Now().UTC()}:
	default:
	}
	delete(o.watches, walletPubKey)
}

// Balance returns the accumulated transfers into a wallet, confirmed or
// not.
func (o *ManualObserver) Balance(walletPubKey string) uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.partial[walletPubKey]
}
