package math_test

import (
	"testing"

	fpmath "github.com/Kwenta/smart-margin-sub002/internal/math"
)

// ============================================================================
// Test: BpsFee
// ============================================================================

func TestBpsFee_TruncatesTowardZero(t *testing.T) {
	// 333 * 30 / 10_000 = 0.999 → 0
	if got := fpmath.BpsFee(333, 30); got != 0 {
		t.Errorf("got %d, want 0", got)
	}

	// 10_000 * 30 / 10_000 = 30
	if got := fpmath.BpsFee(10_000, 30); got != 30 {
		t.Errorf("got %d, want 30", got)
	}

	// 12_345 * 25 / 10_000 = 30.8625 → 30
	if got := fpmath.BpsFee(12_345, 25); got != 30 {
		t.Errorf("got %d, want 30", got)
	}
}

func TestBpsFee_ZeroRate(t *testing.T) {
	if got := fpmath.BpsFee(1_000_000, 0); got != 0 {
		t.Errorf("zero rate should produce zero fee, got %d", got)
	}
}

func TestBpsFee_LargeNotionalNoOverflow(t *testing.T) {
	// notional near int64 max would overflow a naive int64 multiply
	notional := int64(1) << 60
	want := notional / 10_000 * 5 // 5 bps, exact since 2^60 divisible by 16
	got := fpmath.BpsFee(notional, 5)
	if got != want {
		t.Errorf("got %d, want %d", got, want)
	}
}

// ============================================================================
// Test: Notional
// ============================================================================

func TestNotional_SignIgnored(t *testing.T) {
	if got := fpmath.Notional(5, 9); got != 45 {
		t.Errorf("long: got %d, want 45", got)
	}
	if got := fpmath.Notional(-5, 9); got != 45 {
		t.Errorf("short: got %d, want 45", got)
	}
}

func TestAbs(t *testing.T) {
	if fpmath.Abs(-7) != 7 || fpmath.Abs(7) != 7 || fpmath.Abs(0) != 0 {
		t.Error("Abs broken")
	}
}

func TestMax(t *testing.T) {
	if fpmath.Max(-3, 0) != 0 {
		t.Error("Max(-3, 0) should be 0")
	}
	if fpmath.Max(2_000, 0) != 2_000 {
		t.Error("Max(2000, 0) should be 2000")
	}
}
