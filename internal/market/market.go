package market

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Key selects which external perpetual-futures market a command or order
// targets.
type Key string

// Position is the market-side view of one account's exposure.
type Position struct {
	Margin int64 // margin held at the market
	Size   int64 // signed: >0 long, <0 short
}

var (
	ErrUnknownMarket      = errors.New("unknown market key")
	ErrInvalidPrice       = errors.New("market price is invalid or stale")
	ErrPriceBoundExceeded = errors.New("fill price outside desired bound")
	ErrInsufficientMargin = errors.New("insufficient margin at market")
	ErrPositionOpen       = errors.New("position still open")
	ErrNoPendingOrder     = errors.New("no pending market order")
	ErrPendingOrderExists = errors.New("pending market order already exists")
)

// Market is the boundary contract of one external perp market. The account
// core consumes this interface; it never reimplements the market's margining
// or funding math.
//
// Snapshot/Restore expose the revert semantics the external protocol gives a
// failed transaction: the dispatcher captures per-account market state at
// batch entry and restores it when any step fails.
type Market interface {
	Key() Key

	// CurrentPrice returns the latest oracle price and whether it is invalid.
	CurrentPrice() (price int64, invalid bool)

	// TransferMargin moves margin between the account and the market.
	// Positive deposits into the market, negative withdraws.
	TransferMargin(accountID uuid.UUID, delta int64) error

	// SubmitAtomicOrder fills sizeDelta immediately at the current price,
	// rejecting the fill when the price is outside fillPriceBound.
	SubmitAtomicOrder(accountID uuid.UUID, sizeDelta, fillPriceBound int64) (fillPrice int64, err error)

	// SubmitDelayedOrder queues an order executed later by the market's own
	// keeper. One pending delayed order per account.
	SubmitDelayedOrder(accountID uuid.UUID, sizeDelta, fillPriceBound int64) error

	// SubmitOffchainOrder queues an off-chain-settled delayed order.
	SubmitOffchainOrder(accountID uuid.UUID, sizeDelta, fillPriceBound int64) error

	CancelDelayedOrder(accountID uuid.UUID) error
	CancelOffchainOrder(accountID uuid.UUID) error

	// ClosePosition flattens the account's position at the current price,
	// subject to fillPriceBound.
	ClosePosition(accountID uuid.UUID, fillPriceBound int64) (fillPrice int64, err error)

	Position(accountID uuid.UUID) Position

	// Snapshot captures the account's slice of market state for rollback.
	Snapshot(accountID uuid.UUID) AccountState
	Restore(accountID uuid.UUID, s AccountState)
}

// AccountState is one account's market-side state, captured for rollback.
type AccountState struct {
	Position Position
	Delayed  *PendingOrder
	Offchain *PendingOrder
}

// PendingOrder is a queued delayed or off-chain order at the market.
type PendingOrder struct {
	SizeDelta      int64
	FillPriceBound int64
}

// Router resolves market keys to collaborator instances.
type Router interface {
	Market(key Key) (Market, error)
	Keys() []Key
}

// MapRouter is a static in-memory Router.
type MapRouter struct {
	mu      sync.RWMutex
	markets map[Key]Market
}

func NewMapRouter() *MapRouter {
	return &MapRouter{markets: make(map[Key]Market)}
}

// Register adds a market to the router, replacing any previous entry.
func (r *MapRouter) Register(m Market) {
	r.mu.Lock()
	r.markets[m.Key()] = m
	r.mu.Unlock()
}

func (r *MapRouter) Market(key Key) (Market, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.markets[key]
	if !ok {
		return nil, fmt.Errorf("market %q: %w", key, ErrUnknownMarket)
	}
	return m, nil
}

func (r *MapRouter) Keys() []Key {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]Key, 0, len(r.markets))
	for k := range r.markets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
