package account

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Kwenta/smart-margin-sub002/internal/auth"
	"github.com/Kwenta/smart-margin-sub002/internal/automation"
	"github.com/Kwenta/smart-margin-sub002/internal/event"
	"github.com/Kwenta/smart-margin-sub002/internal/margin"
	"github.com/Kwenta/smart-margin-sub002/internal/market"
	"github.com/Kwenta/smart-margin-sub002/internal/observability"
)

// SettingsProvider supplies fee rates and the global kill switch. Consulted,
// never owned, by the account.
type SettingsProvider interface {
	TradeFeeBps() int64
	LimitOrderFeeBps() int64
	StopOrderFeeBps() int64
	ExecutionEnabled() bool
}

// Automation is the external keeper surface the account registers conditional
// order tasks with.
type Automation interface {
	RegisterTask(accountID uuid.UUID, orderID uint64) (automation.TaskHandle, error)
	CancelTask(handle automation.TaskHandle) error
	QuoteFee() (amount int64, asset string)
	Identity() auth.Principal
}

// FeeSink receives protocol fees debited from account balances.
type FeeSink interface {
	CollectFee(amount int64)
}

// Account is the aggregate root: one per owning principal, composing the
// authorization policy, margin ledger, conditional order book, and the
// external collaborators every command executes against.
//
// Every external entry point runs to completion as one atomic unit under the
// account mutex; the inCall flag additionally rejects the dispatcher calling
// back into itself within the same logical call.
type Account struct {
	id uuid.UUID

	mu     sync.Mutex
	inCall bool

	policy      *auth.Policy
	ledger      *margin.Ledger
	orders      map[uint64]*ConditionalOrder
	nextOrderID uint64

	markets    market.Router
	settings   SettingsProvider
	automation Automation
	treasury   FeeSink
	events     event.Emitter

	metrics *observability.Metrics
	log     zerolog.Logger
	clock   func() time.Time
}

// Deps bundles the collaborators an account is constructed with.
type Deps struct {
	Markets    market.Router
	Settings   SettingsProvider
	Automation Automation
	Treasury   FeeSink
	Events     event.Emitter
	Metrics    *observability.Metrics
	Log        zerolog.Logger
}

// New creates an account owned by owner and emits the creation notification.
func New(id uuid.UUID, owner auth.Principal, deps Deps) (*Account, error) {
	if deps.Events == nil {
		deps.Events = event.Nop{}
	}
	if deps.Treasury == nil {
		deps.Treasury = margin.NewTreasury()
	}

	policy, err := auth.NewPolicy(id, owner, deps.Events)
	if err != nil {
		return nil, err
	}

	a := &Account{
		id:          id,
		policy:      policy,
		ledger:      margin.NewLedger(),
		orders:      make(map[uint64]*ConditionalOrder),
		nextOrderID: 1,
		markets:     deps.Markets,
		settings:    deps.Settings,
		automation:  deps.Automation,
		treasury:    deps.Treasury,
		events:      deps.Events,
		metrics:     deps.Metrics,
		log:         deps.Log.With().Str("account_id", id.String()).Logger(),
		clock:       time.Now,
	}

	a.events.Emit(event.Notification{
		ID:        uuid.New(),
		AccountID: id,
		Type:      event.TypeAccountCreated,
		Principal: string(owner),
		Timestamp: a.clock(),
	})
	return a, nil
}

// beginCall serializes external entry points and arms the reentrancy guard.
// The returned release func must run on every exit path.
func (a *Account) beginCall() (func(), error) {
	a.mu.Lock()
	if a.inCall {
		a.mu.Unlock()
		return nil, ErrReentrantCall
	}
	a.inCall = true
	return func() {
		a.inCall = false
		a.mu.Unlock()
	}, nil
}

// ID returns the account identifier.
func (a *Account) ID() uuid.UUID { return a.id }

// Owner returns the current owning principal.
func (a *Account) Owner() auth.Principal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.policy.Owner()
}

// Delegates returns the registered delegates in stable order.
func (a *Account) Delegates() []auth.Principal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.policy.Delegates()
}

// IsAuth reports whether caller may invoke account operations.
func (a *Account) IsAuth(caller auth.Principal) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.policy.IsAuth(caller)
}

// TransferOwnership replaces the owner. Owner-only; delegates cannot.
func (a *Account) TransferOwnership(caller, newOwner auth.Principal) error {
	release, err := a.beginCall()
	if err != nil {
		return err
	}
	defer release()
	return a.policy.TransferOwnership(caller, newOwner)
}

// AddDelegate registers a delegate principal. Owner-only.
func (a *Account) AddDelegate(caller, delegate auth.Principal) error {
	release, err := a.beginCall()
	if err != nil {
		return err
	}
	defer release()
	return a.policy.AddDelegate(caller, delegate)
}

// RemoveDelegate deregisters a delegate principal. Owner-only.
func (a *Account) RemoveDelegate(caller, delegate auth.Principal) error {
	release, err := a.beginCall()
	if err != nil {
		return err
	}
	defer release()
	return a.policy.RemoveDelegate(caller, delegate)
}

// DepositNative credits the gas-asset balance used to pay keeper fees.
// Unauthenticated: anyone may top up an account's gas.
func (a *Account) DepositNative(amount int64) error {
	release, err := a.beginCall()
	if err != nil {
		return err
	}
	defer release()

	if err := a.ledger.NativeDeposit(amount); err != nil {
		return err
	}
	a.events.Emit(event.Notification{
		ID:        uuid.New(),
		AccountID: a.id,
		Type:      event.TypeNativeDeposited,
		Amount:    amount,
		Timestamp: a.clock(),
	})
	return nil
}

// Balance returns the total margin asset balance.
func (a *Account) Balance() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ledger.Balance()
}

// CommittedMargin returns the margin reserved by pending conditional orders.
func (a *Account) CommittedMargin() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ledger.Committed()
}

// FreeMargin returns balance minus committed margin.
func (a *Account) FreeMargin() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ledger.Free()
}

// NativeBalance returns the gas-asset balance.
func (a *Account) NativeBalance() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ledger.Native()
}

// Order returns a copy of the order record, terminal or pending.
func (a *Account) Order(orderID uint64) (ConditionalOrder, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	o, ok := a.orders[orderID]
	if !ok {
		return ConditionalOrder{}, false
	}
	return *o, true
}

// Orders returns copies of all order records in id order.
func (a *Account) Orders() []ConditionalOrder {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]ConditionalOrder, 0, len(a.orders))
	for id := uint64(1); id < a.nextOrderID; id++ {
		if o, ok := a.orders[id]; ok {
			out = append(out, *o)
		}
	}
	return out
}

// Position returns the account's position at the given market.
func (a *Account) Position(key market.Key) (market.Position, error) {
	m, err := a.markets.Market(key)
	if err != nil {
		return market.Position{}, err
	}
	return m.Position(a.id), nil
}
