package account

import (
	"fmt"
	"time"

	"github.com/Kwenta/smart-margin-sub002/internal/automation"
	"github.com/Kwenta/smart-margin-sub002/internal/event"
	"github.com/Kwenta/smart-margin-sub002/internal/market"
	fpmath "github.com/Kwenta/smart-margin-sub002/internal/math"
)

// OrderType determines the trigger comparison direction relative to the
// current price and the trade direction.
type OrderType int32

const (
	OrderTypeLimit OrderType = iota
	OrderTypeStop
)

func (t OrderType) String() string {
	switch t {
	case OrderTypeLimit:
		return "LIMIT"
	case OrderTypeStop:
		return "STOP"
	default:
		return "UNKNOWN"
	}
}

// ParseOrderType maps the wire name back to its type.
func ParseOrderType(name string) (OrderType, error) {
	switch name {
	case "LIMIT":
		return OrderTypeLimit, nil
	case "STOP":
		return OrderTypeStop, nil
	default:
		return 0, fmt.Errorf("order type %q: %w", name, ErrBadPayload)
	}
}

// OrderStatus is the conditional order lifecycle state. PENDING transitions to
// FILLED or CANCELLED, both terminal; there is no way back.
type OrderStatus int32

const (
	StatusPending OrderStatus = iota
	StatusFilled
	StatusCancelled
)

func (s OrderStatus) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusFilled:
		return "FILLED"
	case StatusCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// ConditionalOrder is a stored instruction to modify margin and position on a
// market once a price condition triggers. Immutable once created except for
// its status and task handle; records are never removed, a terminal order
// simply stays in place and can never re-execute.
type ConditionalOrder struct {
	ID               uint64
	MarketKey        market.Key
	MarginDelta      int64
	SizeDelta        int64
	TargetPrice      int64
	OrderType        OrderType
	DesiredFillPrice int64
	ReduceOnly       bool
	TaskHandle       automation.TaskHandle
	Status           OrderStatus
	PlacedAt         time.Time
}

// committedPortion is what the order reserves against free margin: only
// positive margin deltas commit anything.
func (o *ConditionalOrder) committedPortion() int64 {
	return fpmath.Max(o.MarginDelta, 0)
}

// triggered reports whether price crosses the target in the direction implied
// by the order type and the trade direction.
//
//	LIMIT long:  price <= target    LIMIT short: price >= target
//	STOP  long:  price >= target    STOP  short: price <= target
func (o *ConditionalOrder) triggered(price int64) bool {
	long := o.SizeDelta > 0
	switch o.OrderType {
	case OrderTypeLimit:
		if long {
			return price <= o.TargetPrice
		}
		return price >= o.TargetPrice
	case OrderTypeStop:
		if long {
			return price >= o.TargetPrice
		}
		return price <= o.TargetPrice
	default:
		return false
	}
}

// clampedSizeDelta applies the reduce-only constraint against the current
// position: a reduce-only fill may shrink the position, never flip it or open
// new exposure. Non-reduce-only orders pass through unchanged.
func (o *ConditionalOrder) clampedSizeDelta(pos market.Position) int64 {
	if !o.ReduceOnly {
		return o.SizeDelta
	}
	// Flat position, or delta in the same direction: nothing to reduce.
	if pos.Size == 0 || (pos.Size > 0) == (o.SizeDelta > 0) {
		return 0
	}
	magnitude := fpmath.Abs(o.SizeDelta)
	if opposing := fpmath.Abs(pos.Size); magnitude > opposing {
		magnitude = opposing
	}
	if o.SizeDelta > 0 {
		return magnitude
	}
	return -magnitude
}

// info projects the order into its notification form.
func (o *ConditionalOrder) info() *event.OrderInfo {
	return &event.OrderInfo{
		OrderID:          o.ID,
		MarketKey:        string(o.MarketKey),
		MarginDelta:      o.MarginDelta,
		SizeDelta:        o.SizeDelta,
		TargetPrice:      o.TargetPrice,
		DesiredFillPrice: o.DesiredFillPrice,
		OrderType:        o.OrderType.String(),
		ReduceOnly:       o.ReduceOnly,
		Status:           o.Status.String(),
	}
}
