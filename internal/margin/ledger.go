package margin

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAmount             = errors.New("amount must be positive")
	ErrInsufficientBalance       = errors.New("insufficient margin asset balance")
	ErrInsufficientFreeMargin    = errors.New("insufficient free margin")
	ErrInsufficientNativeBalance = errors.New("insufficient native gas balance")
	ErrOverRelease               = errors.New("release exceeds committed margin")
)

// Ledger tracks one account's margin-asset holdings, the portion committed
// against pending conditional orders, and the native gas-asset balance used
// for keeper fees.
//
// Both the synchronous dispatcher path and the asynchronous keeper-fill path
// go through Commit/Release, so reserved margin can never be double-counted.
// Not thread-safe on its own — serialized through the account mutex.
type Ledger struct {
	balance   int64 // margin asset
	committed int64 // reserved against pending conditional orders
	native    int64 // gas asset, pays keeper fees
}

func NewLedger() *Ledger {
	return &Ledger{}
}

// Balance returns the total margin asset balance.
func (l *Ledger) Balance() int64 { return l.balance }

// Committed returns the margin reserved by pending conditional orders.
func (l *Ledger) Committed() int64 { return l.committed }

// Free returns balance minus committed margin; never negative by invariant.
func (l *Ledger) Free() int64 { return l.balance - l.committed }

// Native returns the native gas-asset balance.
func (l *Ledger) Native() int64 { return l.native }

// Deposit credits margin asset.
func (l *Ledger) Deposit(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	l.balance += amount
	return nil
}

// Withdraw debits margin asset. Only free (uncommitted) margin is
// withdrawable.
func (l *Ledger) Withdraw(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if amount > l.Free() {
		return fmt.Errorf("withdraw %d: free=%d: %w", amount, l.Free(), ErrInsufficientBalance)
	}
	l.balance -= amount
	return nil
}

// DebitFee removes a fee from free margin.
func (l *Ledger) DebitFee(amount int64) error {
	if amount < 0 {
		return ErrInvalidAmount
	}
	if amount == 0 {
		return nil
	}
	if amount > l.Free() {
		return fmt.Errorf("fee %d: free=%d: %w", amount, l.Free(), ErrInsufficientBalance)
	}
	l.balance -= amount
	return nil
}

// Commit reserves free margin against a pending conditional order.
func (l *Ledger) Commit(amount int64) error {
	if amount < 0 {
		return ErrInvalidAmount
	}
	if amount > l.Free() {
		return fmt.Errorf("commit %d: free=%d: %w", amount, l.Free(), ErrInsufficientFreeMargin)
	}
	l.committed += amount
	return nil
}

// Release returns committed margin to the free pool on fill or cancellation.
func (l *Ledger) Release(amount int64) error {
	if amount < 0 {
		return ErrInvalidAmount
	}
	if amount > l.committed {
		return fmt.Errorf("release %d: committed=%d: %w", amount, l.committed, ErrOverRelease)
	}
	l.committed -= amount
	return nil
}

// NativeDeposit credits the gas-asset balance.
func (l *Ledger) NativeDeposit(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	l.native += amount
	return nil
}

// NativeWithdraw debits the gas-asset balance.
func (l *Ledger) NativeWithdraw(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if amount > l.native {
		return fmt.Errorf("native withdraw %d: balance=%d: %w", amount, l.native, ErrInsufficientNativeBalance)
	}
	l.native -= amount
	return nil
}

// Validate checks the ledger invariants: committed >= 0, committed <= balance,
// native >= 0.
func (l *Ledger) Validate() error {
	if l.committed < 0 {
		return fmt.Errorf("committed margin negative: %d", l.committed)
	}
	if l.committed > l.balance {
		return fmt.Errorf("committed margin %d exceeds balance %d", l.committed, l.balance)
	}
	if l.native < 0 {
		return fmt.Errorf("native balance negative: %d", l.native)
	}
	return nil
}

// Snapshot captures the ledger for batch rollback.
type Snapshot struct {
	Balance   int64
	Committed int64
	Native    int64
}

// Snapshot returns a copy of the current balances.
func (l *Ledger) Snapshot() Snapshot {
	return Snapshot{Balance: l.balance, Committed: l.committed, Native: l.native}
}

// Restore resets the ledger to a previously captured snapshot.
func (l *Ledger) Restore(s Snapshot) {
	l.balance = s.Balance
	l.committed = s.Committed
	l.native = s.Native
}
