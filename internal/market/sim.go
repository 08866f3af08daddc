package market

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Sim is an in-memory Market adapter. It applies the same acceptance rules
// the external protocol enforces at the boundary (price validity, slippage
// bounds, margin sufficiency) without reimplementing its margining math.
// Fill prices are always the current oracle price.
type Sim struct {
	mu        sync.Mutex
	key       Key
	price     int64
	invalid   bool
	positions map[uuid.UUID]Position
	delayed   map[uuid.UUID]PendingOrder
	offchain  map[uuid.UUID]PendingOrder
}

func NewSim(key Key, initialPrice int64) *Sim {
	return &Sim{
		key:       key,
		price:     initialPrice,
		positions: make(map[uuid.UUID]Position),
		delayed:   make(map[uuid.UUID]PendingOrder),
		offchain:  make(map[uuid.UUID]PendingOrder),
	}
}

func (s *Sim) Key() Key { return s.key }

// SetPrice updates the oracle price observed by subsequent calls.
func (s *Sim) SetPrice(price int64) {
	s.mu.Lock()
	s.price = price
	s.mu.Unlock()
}

// SetInvalid marks the price feed invalid (stale oracle).
func (s *Sim) SetInvalid(invalid bool) {
	s.mu.Lock()
	s.invalid = invalid
	s.mu.Unlock()
}

func (s *Sim) CurrentPrice() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.price, s.invalid
}

func (s *Sim) TransferMargin(accountID uuid.UUID, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos := s.positions[accountID]
	if delta < 0 && pos.Margin+delta < 0 {
		return fmt.Errorf("transfer %d: market margin=%d: %w", delta, pos.Margin, ErrInsufficientMargin)
	}
	pos.Margin += delta
	s.positions[accountID] = pos
	return nil
}

func (s *Sim) SubmitAtomicOrder(accountID uuid.UUID, sizeDelta, fillPriceBound int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sizeDelta == 0 {
		return 0, fmt.Errorf("zero size delta: %w", ErrPriceBoundExceeded)
	}
	price, err := s.checkFillLocked(sizeDelta, fillPriceBound)
	if err != nil {
		return 0, err
	}

	pos := s.positions[accountID]
	pos.Size += sizeDelta
	s.positions[accountID] = pos
	return price, nil
}

func (s *Sim) SubmitDelayedOrder(accountID uuid.UUID, sizeDelta, fillPriceBound int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.delayed[accountID]; exists {
		return ErrPendingOrderExists
	}
	if s.invalid {
		return ErrInvalidPrice
	}
	s.delayed[accountID] = PendingOrder{SizeDelta: sizeDelta, FillPriceBound: fillPriceBound}
	return nil
}

func (s *Sim) SubmitOffchainOrder(accountID uuid.UUID, sizeDelta, fillPriceBound int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.offchain[accountID]; exists {
		return ErrPendingOrderExists
	}
	if s.invalid {
		return ErrInvalidPrice
	}
	s.offchain[accountID] = PendingOrder{SizeDelta: sizeDelta, FillPriceBound: fillPriceBound}
	return nil
}

func (s *Sim) CancelDelayedOrder(accountID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.delayed[accountID]; !exists {
		return ErrNoPendingOrder
	}
	delete(s.delayed, accountID)
	return nil
}

func (s *Sim) CancelOffchainOrder(accountID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.offchain[accountID]; !exists {
		return ErrNoPendingOrder
	}
	delete(s.offchain, accountID)
	return nil
}

func (s *Sim) ClosePosition(accountID uuid.UUID, fillPriceBound int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos := s.positions[accountID]
	if pos.Size == 0 {
		return 0, fmt.Errorf("close: %w", ErrNoPendingOrder)
	}

	// Closing flips the trade direction relative to the position.
	price, err := s.checkFillLocked(-pos.Size, fillPriceBound)
	if err != nil {
		return 0, err
	}

	pos.Size = 0
	s.positions[accountID] = pos
	return price, nil
}

func (s *Sim) Position(accountID uuid.UUID) Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positions[accountID]
}

func (s *Sim) Snapshot(accountID uuid.UUID) AccountState {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := AccountState{Position: s.positions[accountID]}
	if o, ok := s.delayed[accountID]; ok {
		cp := o
		state.Delayed = &cp
	}
	if o, ok := s.offchain[accountID]; ok {
		cp := o
		state.Offchain = &cp
	}
	return state
}

func (s *Sim) Restore(accountID uuid.UUID, state AccountState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.positions[accountID] = state.Position

	delete(s.delayed, accountID)
	if state.Delayed != nil {
		s.delayed[accountID] = *state.Delayed
	}
	delete(s.offchain, accountID)
	if state.Offchain != nil {
		s.offchain[accountID] = *state.Offchain
	}
}

// checkFillLocked validates the price feed and slippage bound for a fill of
// sizeDelta, returning the fill price. Buys reject above the bound, sells
// reject below it.
func (s *Sim) checkFillLocked(sizeDelta, fillPriceBound int64) (int64, error) {
	if s.invalid {
		return 0, ErrInvalidPrice
	}
	if sizeDelta > 0 && s.price > fillPriceBound {
		return 0, fmt.Errorf("buy at %d, bound %d: %w", s.price, fillPriceBound, ErrPriceBoundExceeded)
	}
	if sizeDelta < 0 && s.price < fillPriceBound {
		return 0, fmt.Errorf("sell at %d, bound %d: %w", s.price, fillPriceBound, ErrPriceBoundExceeded)
	}
	return s.price, nil
}
