package account

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/Kwenta/smart-margin-sub002/internal/auth"
	"github.com/Kwenta/smart-margin-sub002/internal/automation"
	"github.com/Kwenta/smart-margin-sub002/internal/event"
	"github.com/Kwenta/smart-margin-sub002/internal/margin"
	"github.com/Kwenta/smart-margin-sub002/internal/market"
	fpmath "github.com/Kwenta/smart-margin-sub002/internal/math"
)

// batchState stages everything a batch does so a failed step can revert the
// whole call and a successful one can apply its external side effects exactly
// once, at the end.
//
// Ledger and market state are mutated in place during the batch (later steps
// must see earlier steps' effects) and restored from snapshots on failure.
// Everything that crosses the account boundary — automation task churn,
// treasury fees, notifications — is deferred to commit.
type batchState struct {
	ledgerSnap margin.Snapshot

	touched      map[market.Key]market.Market
	marketStates []touchedMarket

	ordersCreated []uint64
	ordersStatus  map[uint64]OrderStatus
	nextOrderSnap uint64

	register   []*ConditionalOrder
	deregister []automation.TaskHandle

	feeTotal int64
	notes    []event.Notification
}

// touchedMarket pairs a market with the account state captured on first touch.
type touchedMarket struct {
	m     market.Market
	state market.AccountState
}

func (a *Account) newBatchState() *batchState {
	return &batchState{
		ledgerSnap:    a.ledger.Snapshot(),
		touched:       make(map[market.Key]market.Market),
		ordersStatus:  make(map[uint64]OrderStatus),
		nextOrderSnap: a.nextOrderID,
	}
}

// Execute decodes and runs an ordered command batch as one atomic unit. Any
// step's failure reverts every effect of every step; there are no partial
// commits. Callable by the owner or a delegate.
func (a *Account) Execute(caller auth.Principal, tags []CommandTag, payloads []json.RawMessage) error {
	release, err := a.beginCall()
	if err != nil {
		return err
	}
	defer release()

	start := a.clock()

	if !a.policy.IsAuth(caller) {
		return auth.ErrUnauthorized
	}
	if len(tags) != len(payloads) {
		return fmt.Errorf("%d tags, %d payloads: %w", len(tags), len(payloads), ErrLengthMismatch)
	}
	if len(tags) == 0 {
		return ErrEmptyBatch
	}
	if !a.settings.ExecutionEnabled() {
		return ErrExecutionDisabled
	}

	// Decode the whole batch before executing anything: an undecodable step
	// must not leave earlier steps applied.
	cmds := make([]Command, len(tags))
	for i, tag := range tags {
		cmd, err := DecodeCommand(tag, payloads[i])
		if err != nil {
			return fmt.Errorf("command %d: %w", i, err)
		}
		cmds[i] = cmd
	}

	batch := a.newBatchState()
	for i, cmd := range cmds {
		if err := a.dispatch(batch, caller, cmd); err != nil {
			a.rollback(batch)
			if a.metrics != nil {
				a.metrics.DispatcherRollback.Inc()
				a.metrics.DispatcherBatches.WithLabelValues("reverted").Inc()
			}
			return fmt.Errorf("command %d (%s): %w", i, cmd.Tag(), err)
		}
	}

	if err := a.commit(batch, caller); err != nil {
		a.rollback(batch)
		if a.metrics != nil {
			a.metrics.DispatcherRollback.Inc()
			a.metrics.DispatcherBatches.WithLabelValues("reverted").Inc()
		}
		return err
	}

	if a.metrics != nil {
		a.metrics.DispatcherBatches.WithLabelValues("applied").Inc()
		for _, cmd := range cmds {
			a.metrics.DispatcherCommands.WithLabelValues(cmd.Tag().String()).Inc()
		}
		a.metrics.DispatcherDuration.Observe(a.clock().Sub(start).Seconds())
	}
	a.log.Debug().Str("caller", string(caller)).Int("commands", len(cmds)).Msg("batch applied")
	return nil
}

func (a *Account) dispatch(b *batchState, caller auth.Principal, cmd Command) error {
	switch c := cmd.(type) {
	case *AccountModifyMargin:
		return a.handleAccountModifyMargin(b, c)
	case *AccountWithdrawNative:
		return a.handleAccountWithdrawNative(b, c)
	case *PerpModifyMargin:
		return a.handlePerpModifyMargin(b, c)
	case *PerpWithdrawAllMargin:
		return a.handlePerpWithdrawAllMargin(b, c)
	case *PerpSubmitAtomicOrder:
		return a.handlePerpSubmitAtomicOrder(b, c)
	case *PerpSubmitDelayedOrder:
		return a.handlePerpSubmitDelayedOrder(b, c)
	case *PerpSubmitOffchainOrder:
		return a.handlePerpSubmitOffchainOrder(b, c)
	case *PerpClosePosition:
		return a.handlePerpClosePosition(b, c)
	case *PerpCancelDelayedOrder:
		return a.handlePerpCancelDelayedOrder(b, c)
	case *PerpCancelOffchainOrder:
		return a.handlePerpCancelOffchainOrder(b, c)
	case *PlaceConditionalOrder:
		_, err := a.placeLocked(b, c)
		return err
	case *CancelConditionalOrder:
		return a.cancelLocked(b, c.OrderID, event.ReasonDispatcherCancelled)
	default:
		return fmt.Errorf("tag %s: %w", cmd.Tag(), ErrUnknownCommand)
	}
}

// touchMarket resolves a market and snapshots the account's slice of its
// state the first time the batch touches it.
func (a *Account) touchMarket(b *batchState, key market.Key) (market.Market, error) {
	if m, ok := b.touched[key]; ok {
		return m, nil
	}
	m, err := a.markets.Market(key)
	if err != nil {
		return nil, err
	}
	b.touched[key] = m
	b.marketStates = append(b.marketStates, touchedMarket{m: m, state: m.Snapshot(a.id)})
	return m, nil
}

func (a *Account) rollback(b *batchState) {
	a.ledger.Restore(b.ledgerSnap)
	for _, t := range b.marketStates {
		t.m.Restore(a.id, t.state)
	}
	for _, id := range b.ordersCreated {
		delete(a.orders, id)
	}
	for id, status := range b.ordersStatus {
		if o, ok := a.orders[id]; ok {
			o.Status = status
		}
	}
	a.nextOrderID = b.nextOrderSnap
}

// commit applies the batch's deferred external effects. Task registration can
// itself fail; registrations made so far are undone and the caller rolls the
// batch back.
func (a *Account) commit(b *batchState, caller auth.Principal) error {
	var registered []automation.TaskHandle
	for _, o := range b.register {
		if o.Status != StatusPending {
			// Placed and cancelled within the same batch.
			continue
		}
		handle, err := a.automation.RegisterTask(a.id, o.ID)
		if err != nil {
			for _, h := range registered {
				_ = a.automation.CancelTask(h)
			}
			return fmt.Errorf("register automation task for order %d: %w", o.ID, err)
		}
		o.TaskHandle = handle
		registered = append(registered, handle)
	}

	// Past this point the batch is committed; deregistration failures are
	// logged, the keeper drops the task on its next sweep.
	for _, h := range b.deregister {
		if h == "" {
			continue
		}
		if err := a.automation.CancelTask(h); err != nil {
			a.log.Warn().Str("task_handle", string(h)).Err(err).Msg("automation task deregistration failed")
		}
	}

	if b.feeTotal > 0 {
		a.treasury.CollectFee(b.feeTotal)
	}

	now := a.clock()
	for i := range b.notes {
		b.notes[i].ID = uuid.New()
		b.notes[i].AccountID = a.id
		b.notes[i].Principal = string(caller)
		b.notes[i].Timestamp = now
		a.events.Emit(b.notes[i])
	}

	if a.metrics != nil {
		a.metrics.CommittedMargin.Add(float64(a.ledger.Committed() - b.ledgerSnap.Committed))
		for _, n := range b.notes {
			switch n.Type {
			case event.TypeConditionalOrderPlaced:
				a.metrics.OrdersPlaced.Inc()
			case event.TypeConditionalOrderCancelled:
				a.metrics.OrdersCancelled.WithLabelValues(n.Reason.String()).Inc()
			case event.TypeFeeImposed:
				a.metrics.FeesImposed.Inc()
			}
		}
	}

	if err := a.ledger.Validate(); err != nil {
		panic(fmt.Sprintf("FATAL: margin invariant violated after batch: %v", err))
	}
	return nil
}

// imposeFee debits a protocol fee from free margin and stages its forwarding
// to the treasury.
func (a *Account) imposeFee(b *batchState, amount int64) error {
	if amount <= 0 {
		return nil
	}
	if err := a.ledger.DebitFee(amount); err != nil {
		return err
	}
	b.feeTotal += amount
	b.notes = append(b.notes, event.Notification{
		Type:   event.TypeFeeImposed,
		Amount: amount,
	})
	return nil
}

// --- Command handlers ---

func (a *Account) handleAccountModifyMargin(b *batchState, c *AccountModifyMargin) error {
	if c.Amount >= 0 {
		if err := a.ledger.Deposit(c.Amount); err != nil {
			return err
		}
		b.notes = append(b.notes, event.Notification{Type: event.TypeMarginDeposited, Amount: c.Amount})
		return nil
	}
	if err := a.ledger.Withdraw(-c.Amount); err != nil {
		return err
	}
	b.notes = append(b.notes, event.Notification{Type: event.TypeMarginWithdrawn, Amount: -c.Amount})
	return nil
}

func (a *Account) handleAccountWithdrawNative(b *batchState, c *AccountWithdrawNative) error {
	if err := a.ledger.NativeWithdraw(c.Amount); err != nil {
		return err
	}
	b.notes = append(b.notes, event.Notification{Type: event.TypeNativeWithdrawn, Amount: c.Amount})
	return nil
}

func (a *Account) handlePerpModifyMargin(b *batchState, c *PerpModifyMargin) error {
	m, err := a.touchMarket(b, c.Market)
	if err != nil {
		return err
	}
	switch {
	case c.Amount > 0:
		if err := a.ledger.Withdraw(c.Amount); err != nil {
			return err
		}
		return m.TransferMargin(a.id, c.Amount)
	case c.Amount < 0:
		if err := m.TransferMargin(a.id, c.Amount); err != nil {
			return err
		}
		return a.ledger.Deposit(-c.Amount)
	default:
		return margin.ErrInvalidAmount
	}
}

func (a *Account) handlePerpWithdrawAllMargin(b *batchState, c *PerpWithdrawAllMargin) error {
	m, err := a.touchMarket(b, c.Market)
	if err != nil {
		return err
	}
	pos := m.Position(a.id)
	if pos.Size != 0 {
		return fmt.Errorf("market %s: %w", c.Market, market.ErrPositionOpen)
	}
	if pos.Margin == 0 {
		return nil
	}
	if err := m.TransferMargin(a.id, -pos.Margin); err != nil {
		return err
	}
	return a.ledger.Deposit(pos.Margin)
}

func (a *Account) handlePerpSubmitAtomicOrder(b *batchState, c *PerpSubmitAtomicOrder) error {
	m, err := a.touchMarket(b, c.Market)
	if err != nil {
		return err
	}
	fillPrice, err := m.SubmitAtomicOrder(a.id, c.SizeDelta, c.DesiredFillPrice)
	if err != nil {
		return err
	}
	fee := fpmath.BpsFee(fpmath.Notional(c.SizeDelta, fillPrice), a.settings.TradeFeeBps())
	return a.imposeFee(b, fee)
}

func (a *Account) handlePerpSubmitDelayedOrder(b *batchState, c *PerpSubmitDelayedOrder) error {
	m, err := a.touchMarket(b, c.Market)
	if err != nil {
		return err
	}
	price, invalid := m.CurrentPrice()
	if invalid {
		return market.ErrInvalidPrice
	}
	if err := m.SubmitDelayedOrder(a.id, c.SizeDelta, c.DesiredFillPrice); err != nil {
		return err
	}
	// Fee is charged at commitment time against the current price; the
	// market's own keeper settles the eventual fill.
	fee := fpmath.BpsFee(fpmath.Notional(c.SizeDelta, price), a.settings.TradeFeeBps())
	return a.imposeFee(b, fee)
}

func (a *Account) handlePerpSubmitOffchainOrder(b *batchState, c *PerpSubmitOffchainOrder) error {
	m, err := a.touchMarket(b, c.Market)
	if err != nil {
		return err
	}
	price, invalid := m.CurrentPrice()
	if invalid {
		return market.ErrInvalidPrice
	}
	if err := m.SubmitOffchainOrder(a.id, c.SizeDelta, c.DesiredFillPrice); err != nil {
		return err
	}
	fee := fpmath.BpsFee(fpmath.Notional(c.SizeDelta, price), a.settings.TradeFeeBps())
	return a.imposeFee(b, fee)
}

func (a *Account) handlePerpClosePosition(b *batchState, c *PerpClosePosition) error {
	m, err := a.touchMarket(b, c.Market)
	if err != nil {
		return err
	}
	closedSize := m.Position(a.id).Size
	fillPrice, err := m.ClosePosition(a.id, c.DesiredFillPrice)
	if err != nil {
		return err
	}
	fee := fpmath.BpsFee(fpmath.Notional(closedSize, fillPrice), a.settings.TradeFeeBps())
	return a.imposeFee(b, fee)
}

func (a *Account) handlePerpCancelDelayedOrder(b *batchState, c *PerpCancelDelayedOrder) error {
	m, err := a.touchMarket(b, c.Market)
	if err != nil {
		return err
	}
	return m.CancelDelayedOrder(a.id)
}

func (a *Account) handlePerpCancelOffchainOrder(b *batchState, c *PerpCancelOffchainOrder) error {
	m, err := a.touchMarket(b, c.Market)
	if err != nil {
		return err
	}
	return m.CancelOffchainOrder(a.id)
}
