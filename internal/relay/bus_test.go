package relay_test

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Kwenta/smart-margin-sub002/internal/event"
	"github.com/Kwenta/smart-margin-sub002/internal/relay"
)

func TestBusDeliversToBothChannels(t *testing.T) {
	persist := make(chan event.Notification, 1)
	publish := make(chan event.Notification, 1)
	bus := relay.NewBus(persist, publish, nil, zerolog.Nop())

	n := event.Notification{ID: uuid.New(), Type: event.TypeMarginDeposited, Amount: 100}
	bus.Emit(n)

	got := <-persist
	if got.ID != n.ID {
		t.Fatalf("persist channel got %v, want %v", got.ID, n.ID)
	}
	got = <-publish
	if got.ID != n.ID {
		t.Fatalf("publish channel got %v, want %v", got.ID, n.ID)
	}
}

func TestBusDropsPublishWhenFull(t *testing.T) {
	persist := make(chan event.Notification, 2)
	publish := make(chan event.Notification) // unbuffered, no reader
	bus := relay.NewBus(persist, publish, nil, zerolog.Nop())

	// Must not block even though nothing drains the publish side.
	bus.Emit(event.Notification{ID: uuid.New(), Type: event.TypeMarginDeposited})
	bus.Emit(event.Notification{ID: uuid.New(), Type: event.TypeMarginWithdrawn})

	if len(persist) != 2 {
		t.Fatalf("persist channel holds %d notifications, want 2", len(persist))
	}
}

func TestWireEventShape(t *testing.T) {
	n := event.Notification{
		ID:        uuid.New(),
		AccountID: uuid.New(),
		Type:      event.TypeConditionalOrderCancelled,
		Principal: "alice",
		Reason:    event.ReasonOwnerCancelled,
		Order:     &event.OrderInfo{OrderID: 3, MarketKey: "ETH-PERP", Status: "CANCELLED"},
	}

	data, err := json.Marshal(relay.ToWire(n))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["event_type"] != "ConditionalOrderCancelled" {
		t.Fatalf("event_type = %v", decoded["event_type"])
	}
	if decoded["reason"] != "OwnerCancelled" {
		t.Fatalf("reason = %v", decoded["reason"])
	}
	order, ok := decoded["order"].(map[string]any)
	if !ok || order["market_key"] != "ETH-PERP" {
		t.Fatalf("order = %v", decoded["order"])
	}
}
