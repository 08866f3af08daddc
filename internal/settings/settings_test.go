package settings_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/Kwenta/smart-margin-sub002/internal/settings"
)

func TestOpen_LoadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	yaml := []byte(`
trade_fee_bps: 10
limit_order_fee_bps: 20
stop_order_fee_bps: 30
execution_enabled: true
`)
	if err := os.WriteFile(path, yaml, 0o644); err != nil {
		t.Fatalf("write settings: %v", err)
	}

	s, err := settings.Open(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if s.TradeFeeBps() != 10 || s.LimitOrderFeeBps() != 20 || s.StopOrderFeeBps() != 30 {
		t.Errorf("fees: got %d/%d/%d", s.TradeFeeBps(), s.LimitOrderFeeBps(), s.StopOrderFeeBps())
	}
	if !s.ExecutionEnabled() {
		t.Error("execution should be enabled")
	}
}

func TestOpen_MissingFile_Fails(t *testing.T) {
	_, err := settings.Open(filepath.Join(t.TempDir(), "nope.yaml"), zerolog.Nop())
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestSet_RejectsOutOfRangeRate(t *testing.T) {
	s := settings.NewStatic(settings.Values{ExecutionEnabled: true})

	err := s.Set(settings.Values{TradeFeeBps: 10_001, ExecutionEnabled: true})
	if err == nil {
		t.Fatal("expected out-of-range rate to be rejected")
	}

	// Previous values stay in force
	if s.TradeFeeBps() != 0 || !s.ExecutionEnabled() {
		t.Errorf("store mutated by rejected Set: %+v", s.Snapshot())
	}
}

func TestSet_KillSwitch(t *testing.T) {
	s := settings.NewStatic(settings.Values{ExecutionEnabled: true})

	if err := s.Set(settings.Values{ExecutionEnabled: false}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if s.ExecutionEnabled() {
		t.Error("kill switch should disable execution")
	}
}
