package account

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/Kwenta/smart-margin-sub002/internal/auth"
	"github.com/Kwenta/smart-margin-sub002/internal/event"
	fpmath "github.com/Kwenta/smart-margin-sub002/internal/math"
)

// placeLocked stores a new pending order, reserves its margin, and stages the
// automation task registration. Order ids are dense and never reused.
func (a *Account) placeLocked(b *batchState, c *PlaceConditionalOrder) (uint64, error) {
	orderType, err := ParseOrderType(c.OrderType)
	if err != nil {
		return 0, err
	}
	if c.SizeDelta == 0 {
		return 0, ErrZeroSizeDelta
	}
	if _, err := a.markets.Market(c.Market); err != nil {
		return 0, err
	}
	if err := a.ledger.Commit(fpmath.Max(c.MarginDelta, 0)); err != nil {
		return 0, err
	}

	order := &ConditionalOrder{
		ID:               a.nextOrderID,
		MarketKey:        c.Market,
		MarginDelta:      c.MarginDelta,
		SizeDelta:        c.SizeDelta,
		TargetPrice:      c.TargetPrice,
		OrderType:        orderType,
		DesiredFillPrice: c.DesiredFillPrice,
		ReduceOnly:       c.ReduceOnly,
		Status:           StatusPending,
		PlacedAt:         a.clock(),
	}
	a.nextOrderID++
	a.orders[order.ID] = order

	b.ordersCreated = append(b.ordersCreated, order.ID)
	b.register = append(b.register, order)
	b.notes = append(b.notes, event.Notification{
		Type:  event.TypeConditionalOrderPlaced,
		Order: order.info(),
	})
	return order.ID, nil
}

// cancelLocked moves a pending order to CANCELLED, releases its committed
// margin, and stages the task deregistration. Cancelling a terminal order is
// a typed error, never a silent no-op.
func (a *Account) cancelLocked(b *batchState, orderID uint64, reason event.CancelReason) error {
	o, ok := a.orders[orderID]
	if !ok {
		return fmt.Errorf("order %d: %w", orderID, ErrOrderNotFound)
	}
	if o.Status != StatusPending {
		return fmt.Errorf("order %d is %s: %w", orderID, o.Status, ErrOrderNotPending)
	}
	if err := a.ledger.Release(o.committedPortion()); err != nil {
		return err
	}

	if _, seen := b.ordersStatus[orderID]; !seen {
		b.ordersStatus[orderID] = o.Status
	}
	o.Status = StatusCancelled

	b.deregister = append(b.deregister, o.TaskHandle)
	b.notes = append(b.notes, event.Notification{
		Type:   event.TypeConditionalOrderCancelled,
		Reason: reason,
		Order:  o.info(),
	})
	return nil
}

// PlaceConditionalOrder registers a limit or stop order outside a batch and
// returns its id. Callable by the owner or a delegate.
func (a *Account) PlaceConditionalOrder(caller auth.Principal, c PlaceConditionalOrder) (uint64, error) {
	release, err := a.beginCall()
	if err != nil {
		return 0, err
	}
	defer release()

	if !a.policy.IsAuth(caller) {
		return 0, auth.ErrUnauthorized
	}

	b := a.newBatchState()
	id, err := a.placeLocked(b, &c)
	if err != nil {
		a.rollback(b)
		return 0, err
	}
	if err := a.commit(b, caller); err != nil {
		a.rollback(b)
		return 0, err
	}
	return id, nil
}

// CancelConditionalOrder cancels a pending order outside a batch. Callable by
// the owner or a delegate.
func (a *Account) CancelConditionalOrder(caller auth.Principal, orderID uint64) error {
	release, err := a.beginCall()
	if err != nil {
		return err
	}
	defer release()

	if !a.policy.IsAuth(caller) {
		return auth.ErrUnauthorized
	}

	b := a.newBatchState()
	if err := a.cancelLocked(b, orderID, event.ReasonOwnerCancelled); err != nil {
		a.rollback(b)
		return err
	}
	if err := a.commit(b, caller); err != nil {
		a.rollback(b)
		return err
	}
	return nil
}

// Checker is the side-effect-free predicate the automation keeper polls: it
// reports whether the order is currently executable. Safe to call arbitrarily
// often. A returned error means the order can never execute (unknown id or
// terminal state) and the keeper should drop its task.
func (a *Account) Checker(orderID uint64) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	o, ok := a.orders[orderID]
	if !ok {
		return false, fmt.Errorf("order %d: %w", orderID, ErrOrderNotFound)
	}
	if o.Status != StatusPending {
		return false, fmt.Errorf("order %d is %s: %w", orderID, o.Status, ErrOrderNotPending)
	}

	m, err := a.markets.Market(o.MarketKey)
	if err != nil {
		return false, err
	}
	price, invalid := m.CurrentPrice()
	if invalid {
		return false, nil
	}
	if !o.triggered(price) {
		return false, nil
	}
	if o.ReduceOnly && o.clampedSizeDelta(m.Position(a.id)) == 0 {
		return false, nil
	}
	return true, nil
}

// ExecuteConditionalOrder fills a triggered conditional order. Callable only
// by the automation identity; the trigger predicate is re-validated here
// rather than trusting the caller, and a non-executable order fails loudly so
// keepers are never paid for no-ops.
//
// One exception keeps reduce-only orders from lingering dead: an order whose
// price condition holds but whose clamped size is zero (the position changed
// since the keeper's check) is cancelled instead of failing, releasing its
// margin and task.
func (a *Account) ExecuteConditionalOrder(caller auth.Principal, orderID uint64) error {
	release, err := a.beginCall()
	if err != nil {
		return err
	}
	defer release()

	if caller != a.automation.Identity() {
		return ErrOnlyAutomation
	}

	o, ok := a.orders[orderID]
	if !ok {
		return fmt.Errorf("order %d: %w", orderID, ErrOrderNotFound)
	}
	if o.Status != StatusPending {
		return fmt.Errorf("order %d is %s: %w", orderID, o.Status, ErrOrderNotPending)
	}

	m, err := a.markets.Market(o.MarketKey)
	if err != nil {
		return err
	}
	price, invalid := m.CurrentPrice()
	if invalid {
		return fmt.Errorf("order %d: invalid price: %w", orderID, ErrOrderNotExecutable)
	}
	if !o.triggered(price) {
		return fmt.Errorf("order %d: price %d has not crossed target %d: %w",
			orderID, price, o.TargetPrice, ErrOrderNotExecutable)
	}

	clamped := o.clampedSizeDelta(m.Position(a.id))
	if clamped == 0 {
		return a.cancelUnfillableLocked(o, caller)
	}

	ledgerSnap := a.ledger.Snapshot()
	marketSnap := m.Snapshot(a.id)
	fail := func(err error) error {
		a.ledger.Restore(ledgerSnap)
		m.Restore(a.id, marketSnap)
		return fmt.Errorf("execute order %d: %w", orderID, err)
	}

	if err := a.ledger.Release(o.committedPortion()); err != nil {
		return fail(err)
	}
	switch {
	case o.MarginDelta > 0:
		if err := a.ledger.Withdraw(o.MarginDelta); err != nil {
			return fail(err)
		}
		if err := m.TransferMargin(a.id, o.MarginDelta); err != nil {
			return fail(err)
		}
	case o.MarginDelta < 0:
		if err := m.TransferMargin(a.id, o.MarginDelta); err != nil {
			return fail(err)
		}
		if err := a.ledger.Deposit(-o.MarginDelta); err != nil {
			return fail(err)
		}
	}

	fillPrice, err := m.SubmitAtomicOrder(a.id, clamped, o.DesiredFillPrice)
	if err != nil {
		return fail(err)
	}

	rate := a.settings.LimitOrderFeeBps()
	if o.OrderType == OrderTypeStop {
		rate = a.settings.StopOrderFeeBps()
	}
	fee := fpmath.BpsFee(fpmath.Notional(clamped, fillPrice), rate)
	if err := a.ledger.DebitFee(fee); err != nil {
		return fail(err)
	}

	keeperFee, _ := a.automation.QuoteFee()
	if keeperFee > 0 {
		if err := a.ledger.NativeWithdraw(keeperFee); err != nil {
			return fail(err)
		}
	}

	o.Status = StatusFilled
	if fee > 0 {
		a.treasury.CollectFee(fee)
	}
	if err := a.automation.CancelTask(o.TaskHandle); err != nil {
		a.log.Warn().Str("task_handle", string(o.TaskHandle)).Err(err).Msg("automation task deregistration failed")
	}

	a.events.Emit(event.Notification{
		ID:        uuid.New(),
		AccountID: a.id,
		Type:      event.TypeConditionalOrderFilled,
		Principal: string(caller),
		Amount:    fee,
		FillPrice: fillPrice,
		KeeperFee: keeperFee,
		Order:     o.info(),
		Timestamp: a.clock(),
	})
	if a.metrics != nil {
		a.metrics.OrdersFilled.Inc()
		a.metrics.CommittedMargin.Add(float64(a.ledger.Committed() - ledgerSnap.Committed))
		if fee > 0 {
			a.metrics.FeesImposed.Inc()
		}
	}

	if err := a.ledger.Validate(); err != nil {
		panic(fmt.Sprintf("FATAL: margin invariant violated after fill: %v", err))
	}

	a.log.Info().
		Uint64("order_id", orderID).
		Int64("fill_price", fillPrice).
		Int64("size_delta", clamped).
		Msg("conditional order filled")
	return nil
}

// cancelUnfillableLocked retires a triggered reduce-only order whose clamped
// size is zero.
func (a *Account) cancelUnfillableLocked(o *ConditionalOrder, caller auth.Principal) error {
	if err := a.ledger.Release(o.committedPortion()); err != nil {
		return err
	}
	o.Status = StatusCancelled

	if err := a.automation.CancelTask(o.TaskHandle); err != nil {
		a.log.Warn().Str("task_handle", string(o.TaskHandle)).Err(err).Msg("automation task deregistration failed")
	}
	a.events.Emit(event.Notification{
		ID:        uuid.New(),
		AccountID: a.id,
		Type:      event.TypeConditionalOrderCancelled,
		Principal: string(caller),
		Reason:    event.ReasonKeeperCancelled,
		Order:     o.info(),
		Timestamp: a.clock(),
	})
	if a.metrics != nil {
		a.metrics.OrdersCancelled.WithLabelValues(event.ReasonKeeperCancelled.String()).Inc()
		a.metrics.CommittedMargin.Sub(float64(o.committedPortion()))
	}
	return nil
}
