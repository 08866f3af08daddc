package settings

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// Values is one consistent view of the global fee schedule and kill switch.
type Values struct {
	TradeFeeBps      int64 `mapstructure:"trade_fee_bps"`
	LimitOrderFeeBps int64 `mapstructure:"limit_order_fee_bps"`
	StopOrderFeeBps  int64 `mapstructure:"stop_order_fee_bps"`
	ExecutionEnabled bool  `mapstructure:"execution_enabled"`
}

// Store holds the fee/policy configuration consulted by every account. When
// backed by a file it hot-reloads on change, so the kill switch works without
// a restart. Reads always observe the latest committed values.
type Store struct {
	mu  sync.RWMutex
	cur Values

	v   *viper.Viper
	log zerolog.Logger
}

// maxFeeBps caps any configured rate; a fat-fingered schedule must not be
// able to confiscate balances.
const maxFeeBps = 1_000

// Open reads the fee/policy file and watches it for changes. Invalid reloads
// are logged and discarded; the previous values stay in force.
func Open(path string, log zerolog.Logger) (*Store, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read settings file: %w", err)
	}

	s := &Store{v: v, log: log}
	if err := s.reload(); err != nil {
		return nil, err
	}

	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := s.reload(); err != nil {
			s.log.Error().Err(err).Str("file", evt.Name).Msg("settings reload rejected")
			return
		}
		s.log.Info().Str("file", evt.Name).Msg("settings reloaded")
	})
	v.WatchConfig()

	return s, nil
}

// NewStatic returns a store with fixed values and no file backing.
func NewStatic(vals Values) *Store {
	return &Store{cur: vals}
}

func (s *Store) reload() error {
	var vals Values
	if err := s.v.Unmarshal(&vals); err != nil {
		return fmt.Errorf("unmarshal settings: %w", err)
	}
	if err := validate(vals); err != nil {
		return err
	}

	s.mu.Lock()
	s.cur = vals
	s.mu.Unlock()
	return nil
}

func validate(v Values) error {
	for name, bps := range map[string]int64{
		"trade_fee_bps":       v.TradeFeeBps,
		"limit_order_fee_bps": v.LimitOrderFeeBps,
		"stop_order_fee_bps":  v.StopOrderFeeBps,
	} {
		if bps < 0 || bps > maxFeeBps {
			return fmt.Errorf("%s out of range: %d (max %d)", name, bps, maxFeeBps)
		}
	}
	return nil
}

// Set replaces the current values. Used by static stores in tests and by
// admin tooling.
func (s *Store) Set(vals Values) error {
	if err := validate(vals); err != nil {
		return err
	}
	s.mu.Lock()
	s.cur = vals
	s.mu.Unlock()
	return nil
}

// Snapshot returns the current values as one consistent view.
func (s *Store) Snapshot() Values {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

func (s *Store) TradeFeeBps() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.TradeFeeBps
}

func (s *Store) LimitOrderFeeBps() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.LimitOrderFeeBps
}

func (s *Store) StopOrderFeeBps() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.StopOrderFeeBps
}

// ExecutionEnabled is the global kill switch read at the top of every
// dispatcher batch.
func (s *Store) ExecutionEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.ExecutionEnabled
}
