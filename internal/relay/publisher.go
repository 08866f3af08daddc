package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/Kwenta/smart-margin-sub002/internal/event"
	"github.com/Kwenta/smart-margin-sub002/internal/observability"
)

// WireEvent is the outbound JSON shape of one account notification.
// Subjects follow the pattern margin.accounts.events.{event_type}.
type WireEvent struct {
	ID        string           `json:"id"`
	AccountID string           `json:"account_id"`
	EventType string           `json:"event_type"`
	Principal string           `json:"principal,omitempty"`
	Amount    int64            `json:"amount,omitempty"`
	FillPrice int64            `json:"fill_price,omitempty"`
	KeeperFee int64            `json:"keeper_fee,omitempty"`
	Reason    string           `json:"reason,omitempty"`
	Order     *event.OrderInfo `json:"order,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// ToWire projects a notification into its outbound JSON form.
func ToWire(n event.Notification) WireEvent {
	w := WireEvent{
		ID:        n.ID.String(),
		AccountID: n.AccountID.String(),
		EventType: n.Type.String(),
		Principal: n.Principal,
		Amount:    n.Amount,
		FillPrice: n.FillPrice,
		KeeperFee: n.KeeperFee,
		Order:     n.Order,
		Timestamp: n.Timestamp,
	}
	if n.Reason != event.ReasonNone {
		w.Reason = n.Reason.String()
	}
	return w
}

// Publisher drains the publish channel onto NATS JetStream for downstream
// consumers.
type Publisher struct {
	js        jetstream.JetStream
	inputChan <-chan event.Notification

	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewPublisher(js jetstream.JetStream, inputChan <-chan event.Notification, metrics *observability.Metrics, log zerolog.Logger) *Publisher {
	return &Publisher{js: js, inputChan: inputChan, metrics: metrics, log: log}
}

// Run publishes until ctx is done or the input channel closes. Publish
// failures are non-fatal; consumers can re-read from the notification log.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case n, ok := <-p.inputChan:
			if !ok {
				return nil
			}
			if err := p.publish(ctx, n); err != nil {
				p.log.Warn().
					Str("event_type", n.Type.String()).
					Str("account_id", n.AccountID.String()).
					Err(err).
					Msg("outbound publish failed")
				continue
			}
			if p.metrics != nil {
				p.metrics.RelayPublished.WithLabelValues(n.Type.String()).Inc()
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context, n event.Notification) error {
	data, err := json.Marshal(ToWire(n))
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	subject := fmt.Sprintf("margin.accounts.events.%s", n.Type)
	_, err = p.js.Publish(ctx, subject, data)
	return err
}

// EnsureStream creates the outbound events stream.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "SMART_MARGIN_EVENTS",
		Subjects:  []string{"margin.accounts.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	return nil
}
