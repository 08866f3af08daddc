package event

import (
	"time"

	"github.com/google/uuid"
)

// Type discriminator for account notifications
type Type int32

const (
	TypeUnknown Type = iota
	TypeAccountCreated
	TypeOwnershipTransferred
	TypeDelegateAdded
	TypeDelegateRemoved
	TypeMarginDeposited
	TypeMarginWithdrawn
	TypeNativeDeposited
	TypeNativeWithdrawn
	TypeFeeImposed
	TypeConditionalOrderPlaced
	TypeConditionalOrderCancelled
	TypeConditionalOrderFilled
)

func (t Type) String() string {
	switch t {
	case TypeAccountCreated:
		return "AccountCreated"
	case TypeOwnershipTransferred:
		return "OwnershipTransferred"
	case TypeDelegateAdded:
		return "DelegateAdded"
	case TypeDelegateRemoved:
		return "DelegateRemoved"
	case TypeMarginDeposited:
		return "MarginDeposited"
	case TypeMarginWithdrawn:
		return "MarginWithdrawn"
	case TypeNativeDeposited:
		return "NativeDeposited"
	case TypeNativeWithdrawn:
		return "NativeWithdrawn"
	case TypeFeeImposed:
		return "FeeImposed"
	case TypeConditionalOrderPlaced:
		return "ConditionalOrderPlaced"
	case TypeConditionalOrderCancelled:
		return "ConditionalOrderCancelled"
	case TypeConditionalOrderFilled:
		return "ConditionalOrderFilled"
	default:
		return "Unknown"
	}
}

// CancelReason tags order cancellations with who initiated them.
type CancelReason int32

const (
	ReasonNone CancelReason = iota
	ReasonOwnerCancelled
	ReasonDispatcherCancelled
	ReasonKeeperCancelled
)

func (r CancelReason) String() string {
	switch r {
	case ReasonOwnerCancelled:
		return "OwnerCancelled"
	case ReasonDispatcherCancelled:
		return "DispatcherCancelled"
	case ReasonKeeperCancelled:
		return "KeeperCancelled"
	default:
		return "None"
	}
}

// OrderInfo carries the conditional order fields on order notifications so the
// persistence worker can project order state without reading account memory.
type OrderInfo struct {
	OrderID          uint64 `json:"order_id"`
	MarketKey        string `json:"market_key"`
	MarginDelta      int64  `json:"margin_delta"`
	SizeDelta        int64  `json:"size_delta"`
	TargetPrice      int64  `json:"target_price"`
	DesiredFillPrice int64  `json:"desired_fill_price"`
	OrderType        string `json:"order_type"`
	ReduceOnly       bool   `json:"reduce_only"`
	Status           string `json:"status"`
}

// Notification is the one-way record sent to the events collaborator.
// Fire-and-forget: nothing in the core ever reads one back.
type Notification struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	Type      Type
	Principal string
	Amount    int64
	FillPrice int64
	KeeperFee int64
	Reason    CancelReason
	Order     *OrderInfo
	Timestamp time.Time
}

// Emitter is the one-way notification sink. Implementations must never block
// the caller on downstream consumers.
type Emitter interface {
	Emit(n Notification)
}

// Nop discards all notifications.
type Nop struct{}

func (Nop) Emit(Notification) {}

// Recorder captures notifications in order. Test helper.
type Recorder struct {
	Notes []Notification
}

func (r *Recorder) Emit(n Notification) {
	r.Notes = append(r.Notes, n)
}

// Last returns the most recent notification, or false if none.
func (r *Recorder) Last() (Notification, bool) {
	if len(r.Notes) == 0 {
		return Notification{}, false
	}
	return r.Notes[len(r.Notes)-1], true
}

// ByType returns all recorded notifications of the given type.
func (r *Recorder) ByType(t Type) []Notification {
	var out []Notification
	for _, n := range r.Notes {
		if n.Type == t {
			out = append(out, n)
		}
	}
	return out
}
