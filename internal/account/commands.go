package account

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/Kwenta/smart-margin-sub002/internal/market"
)

// CommandTag selects the handler for one step of a dispatcher batch. The tag
// set is closed and append-only: new tags may be added, existing tags' payload
// shapes never change.
type CommandTag int32

const (
	CommandUnknown CommandTag = iota
	CommandAccountModifyMargin
	CommandAccountWithdrawNative
	CommandPerpModifyMargin
	CommandPerpWithdrawAllMargin
	CommandPerpSubmitAtomicOrder
	CommandPerpSubmitDelayedOrder
	CommandPerpSubmitOffchainOrder
	CommandPerpClosePosition
	CommandPerpCancelDelayedOrder
	CommandPerpCancelOffchainOrder
	CommandPlaceConditionalOrder
	CommandCancelConditionalOrder
)

var commandTagNames = map[CommandTag]string{
	CommandAccountModifyMargin:     "ACCOUNT_MODIFY_MARGIN",
	CommandAccountWithdrawNative:   "ACCOUNT_WITHDRAW_NATIVE",
	CommandPerpModifyMargin:        "PERP_MODIFY_MARGIN",
	CommandPerpWithdrawAllMargin:   "PERP_WITHDRAW_ALL_MARGIN",
	CommandPerpSubmitAtomicOrder:   "PERP_SUBMIT_ATOMIC_ORDER",
	CommandPerpSubmitDelayedOrder:  "PERP_SUBMIT_DELAYED_ORDER",
	CommandPerpSubmitOffchainOrder: "PERP_SUBMIT_OFFCHAIN_ORDER",
	CommandPerpClosePosition:       "PERP_CLOSE_POSITION",
	CommandPerpCancelDelayedOrder:  "PERP_CANCEL_DELAYED_ORDER",
	CommandPerpCancelOffchainOrder: "PERP_CANCEL_OFFCHAIN_ORDER",
	CommandPlaceConditionalOrder:   "PLACE_CONDITIONAL_ORDER",
	CommandCancelConditionalOrder:  "CANCEL_CONDITIONAL_ORDER",
}

func (t CommandTag) String() string {
	if name, ok := commandTagNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseCommandTag maps the wire name back to its tag. Unknown names are a
// decode-time failure.
func ParseCommandTag(name string) (CommandTag, error) {
	for tag, n := range commandTagNames {
		if n == name {
			return tag, nil
		}
	}
	return CommandUnknown, fmt.Errorf("%q: %w", name, ErrUnknownCommand)
}

// Command is the decoded form of one batch step: a closed sum over the
// payload types below, discriminated by Tag.
type Command interface {
	Tag() CommandTag
}

// AccountModifyMargin moves margin asset between the caller and the account.
// Positive deposits, negative withdraws.
type AccountModifyMargin struct {
	Amount int64 `json:"amount"`
}

// AccountWithdrawNative withdraws native gas asset from the account.
type AccountWithdrawNative struct {
	Amount int64 `json:"amount"`
}

// PerpModifyMargin moves margin between the account and a market. Positive
// deposits into the market, negative withdraws.
type PerpModifyMargin struct {
	Market market.Key `json:"market"`
	Amount int64      `json:"amount"`
}

// PerpWithdrawAllMargin pulls all idle margin back from a market; requires a
// flat position.
type PerpWithdrawAllMargin struct {
	Market market.Key `json:"market"`
}

// PerpSubmitAtomicOrder fills immediately at the current price, bounded by
// DesiredFillPrice.
type PerpSubmitAtomicOrder struct {
	Market           market.Key `json:"market"`
	SizeDelta        int64      `json:"size_delta"`
	DesiredFillPrice int64      `json:"desired_fill_price"`
}

// PerpSubmitDelayedOrder queues an order executed later by the market's own
// keeper.
type PerpSubmitDelayedOrder struct {
	Market           market.Key `json:"market"`
	SizeDelta        int64      `json:"size_delta"`
	DesiredFillPrice int64      `json:"desired_fill_price"`
}

// PerpSubmitOffchainOrder queues an off-chain-settled delayed order.
type PerpSubmitOffchainOrder struct {
	Market           market.Key `json:"market"`
	SizeDelta        int64      `json:"size_delta"`
	DesiredFillPrice int64      `json:"desired_fill_price"`
}

// PerpClosePosition flattens the position on a market.
type PerpClosePosition struct {
	Market           market.Key `json:"market"`
	DesiredFillPrice int64      `json:"desired_fill_price"`
}

// PerpCancelDelayedOrder cancels the pending delayed order on a market.
type PerpCancelDelayedOrder struct {
	Market market.Key `json:"market"`
}

// PerpCancelOffchainOrder cancels the pending off-chain order on a market.
type PerpCancelOffchainOrder struct {
	Market market.Key `json:"market"`
}

// PlaceConditionalOrder registers a limit or stop order executed later by the
// automation keeper once its price condition holds.
type PlaceConditionalOrder struct {
	Market           market.Key `json:"market"`
	MarginDelta      int64      `json:"margin_delta"`
	SizeDelta        int64      `json:"size_delta"`
	TargetPrice      int64      `json:"target_price"`
	OrderType        string     `json:"order_type"`
	DesiredFillPrice int64      `json:"desired_fill_price"`
	ReduceOnly       bool       `json:"reduce_only"`
}

// CancelConditionalOrder cancels a pending conditional order by id.
type CancelConditionalOrder struct {
	OrderID uint64 `json:"order_id"`
}

func (AccountModifyMargin) Tag() CommandTag     { return CommandAccountModifyMargin }
func (AccountWithdrawNative) Tag() CommandTag   { return CommandAccountWithdrawNative }
func (PerpModifyMargin) Tag() CommandTag        { return CommandPerpModifyMargin }
func (PerpWithdrawAllMargin) Tag() CommandTag   { return CommandPerpWithdrawAllMargin }
func (PerpSubmitAtomicOrder) Tag() CommandTag   { return CommandPerpSubmitAtomicOrder }
func (PerpSubmitDelayedOrder) Tag() CommandTag  { return CommandPerpSubmitDelayedOrder }
func (PerpSubmitOffchainOrder) Tag() CommandTag { return CommandPerpSubmitOffchainOrder }
func (PerpClosePosition) Tag() CommandTag       { return CommandPerpClosePosition }
func (PerpCancelDelayedOrder) Tag() CommandTag  { return CommandPerpCancelDelayedOrder }
func (PerpCancelOffchainOrder) Tag() CommandTag { return CommandPerpCancelOffchainOrder }
func (PlaceConditionalOrder) Tag() CommandTag   { return CommandPlaceConditionalOrder }
func (CancelConditionalOrder) Tag() CommandTag  { return CommandCancelConditionalOrder }

// DecodeCommand decodes one payload into the typed command selected by tag.
// Each payload's shape is determined solely by its paired tag; unknown fields
// are rejected so silent payload drift cannot slip through.
func DecodeCommand(tag CommandTag, payload json.RawMessage) (Command, error) {
	var cmd Command
	switch tag {
	case CommandAccountModifyMargin:
		cmd = &AccountModifyMargin{}
	case CommandAccountWithdrawNative:
		cmd = &AccountWithdrawNative{}
	case CommandPerpModifyMargin:
		cmd = &PerpModifyMargin{}
	case CommandPerpWithdrawAllMargin:
		cmd = &PerpWithdrawAllMargin{}
	case CommandPerpSubmitAtomicOrder:
		cmd = &PerpSubmitAtomicOrder{}
	case CommandPerpSubmitDelayedOrder:
		cmd = &PerpSubmitDelayedOrder{}
	case CommandPerpSubmitOffchainOrder:
		cmd = &PerpSubmitOffchainOrder{}
	case CommandPerpClosePosition:
		cmd = &PerpClosePosition{}
	case CommandPerpCancelDelayedOrder:
		cmd = &PerpCancelDelayedOrder{}
	case CommandPerpCancelOffchainOrder:
		cmd = &PerpCancelOffchainOrder{}
	case CommandPlaceConditionalOrder:
		cmd = &PlaceConditionalOrder{}
	case CommandCancelConditionalOrder:
		cmd = &CancelConditionalOrder{}
	default:
		return nil, fmt.Errorf("tag %d: %w", int32(tag), ErrUnknownCommand)
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cmd); err != nil {
		return nil, fmt.Errorf("%s: %v: %w", tag, err, ErrBadPayload)
	}
	return cmd, nil
}
