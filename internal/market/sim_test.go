package market_test

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/Kwenta/smart-margin-sub002/internal/market"
)

// ============================================================================
// Test: price bounds
// ============================================================================

func TestSim_AtomicOrder_RespectsPriceBound(t *testing.T) {
	m := market.NewSim("sETH", 100)
	acct := uuid.New()

	// Buy with bound below price — rejected
	if _, err := m.SubmitAtomicOrder(acct, 5, 99); !errors.Is(err, market.ErrPriceBoundExceeded) {
		t.Errorf("buy above bound: got %v, want ErrPriceBoundExceeded", err)
	}

	// Buy with bound at price — accepted, fills at current price
	fill, err := m.SubmitAtomicOrder(acct, 5, 100)
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if fill != 100 {
		t.Errorf("fill=%d, want 100", fill)
	}
	if m.Position(acct).Size != 5 {
		t.Errorf("size=%d, want 5", m.Position(acct).Size)
	}

	// Sell with bound above price — rejected
	if _, err := m.SubmitAtomicOrder(acct, -5, 101); !errors.Is(err, market.ErrPriceBoundExceeded) {
		t.Errorf("sell below bound: got %v, want ErrPriceBoundExceeded", err)
	}
}

func TestSim_InvalidPrice_RejectsFills(t *testing.T) {
	m := market.NewSim("sETH", 100)
	m.SetInvalid(true)
	acct := uuid.New()

	if _, err := m.SubmitAtomicOrder(acct, 1, 100); !errors.Is(err, market.ErrInvalidPrice) {
		t.Errorf("got %v, want ErrInvalidPrice", err)
	}
}

// ============================================================================
// Test: margin transfer
// ============================================================================

func TestSim_TransferMargin(t *testing.T) {
	m := market.NewSim("sBTC", 50_000)
	acct := uuid.New()

	if err := m.TransferMargin(acct, 1_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := m.TransferMargin(acct, -400); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got := m.Position(acct).Margin; got != 600 {
		t.Errorf("margin=%d, want 600", got)
	}

	if err := m.TransferMargin(acct, -601); !errors.Is(err, market.ErrInsufficientMargin) {
		t.Errorf("got %v, want ErrInsufficientMargin", err)
	}
}

// ============================================================================
// Test: delayed orders
// ============================================================================

func TestSim_DelayedOrder_OnePending(t *testing.T) {
	m := market.NewSim("sETH", 100)
	acct := uuid.New()

	if err := m.SubmitDelayedOrder(acct, 3, 105); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := m.SubmitDelayedOrder(acct, 2, 105); !errors.Is(err, market.ErrPendingOrderExists) {
		t.Errorf("second submit: got %v, want ErrPendingOrderExists", err)
	}
	if err := m.CancelDelayedOrder(acct); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := m.CancelDelayedOrder(acct); !errors.Is(err, market.ErrNoPendingOrder) {
		t.Errorf("second cancel: got %v, want ErrNoPendingOrder", err)
	}
}

// ============================================================================
// Test: snapshot / restore
// ============================================================================

func TestSim_SnapshotRestore_PerAccount(t *testing.T) {
	m := market.NewSim("sETH", 100)
	a, b := uuid.New(), uuid.New()

	m.TransferMargin(a, 1_000)
	m.TransferMargin(b, 2_000)

	snap := m.Snapshot(a)

	m.SubmitAtomicOrder(a, 5, 100)
	m.SubmitDelayedOrder(a, 1, 100)
	m.SubmitAtomicOrder(b, 7, 100)

	m.Restore(a, snap)

	if got := m.Position(a); got.Size != 0 || got.Margin != 1_000 {
		t.Errorf("account a not restored: %+v", got)
	}
	if err := m.CancelDelayedOrder(a); !errors.Is(err, market.ErrNoPendingOrder) {
		t.Errorf("delayed order should be gone after restore, got %v", err)
	}

	// Restore of a must not touch b
	if got := m.Position(b); got.Size != 7 || got.Margin != 2_000 {
		t.Errorf("account b clobbered: %+v", got)
	}
}

// ============================================================================
// Test: router
// ============================================================================

func TestMapRouter(t *testing.T) {
	r := market.NewMapRouter()
	r.Register(market.NewSim("sETH", 100))
	r.Register(market.NewSim("sBTC", 50_000))

	if _, err := r.Market("sETH"); err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if _, err := r.Market("sDOGE"); !errors.Is(err, market.ErrUnknownMarket) {
		t.Errorf("got %v, want ErrUnknownMarket", err)
	}
	if keys := r.Keys(); len(keys) != 2 || keys[0] != "sBTC" {
		t.Errorf("keys=%v", keys)
	}
}
