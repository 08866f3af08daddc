package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Kwenta/smart-margin-sub002/internal/event"
)

// NotificationWriter writes account notifications and the conditional order
// projection to Postgres using multi-row INSERTs.
type NotificationWriter struct {
	db *sql.DB
}

func NewNotificationWriter(db *sql.DB) *NotificationWriter {
	return &NotificationWriter{db: db}
}

// WriteNotificationBatch appends notifications to notification_log.notifications.
// Inserts are idempotent on the notification id so a retried flush cannot
// duplicate rows.
func (w *NotificationWriter) WriteNotificationBatch(ctx context.Context, tx *sql.Tx, notes []event.Notification) error {
	if len(notes) == 0 {
		return nil
	}

	query := `INSERT INTO notification_log.notifications
		(id, account_id, event_type, principal, amount, fill_price, keeper_fee, reason, order_id, order_info, created_at)
		VALUES `

	values := make([]string, 0, len(notes))
	args := make([]interface{}, 0, len(notes)*11)

	for i, n := range notes {
		base := i * 11
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10, base+11,
		))

		var reason *string
		if n.Reason != event.ReasonNone {
			r := n.Reason.String()
			reason = &r
		}
		var orderID *int64
		var orderInfo []byte
		if n.Order != nil {
			id := int64(n.Order.OrderID)
			orderID = &id
			encoded, err := json.Marshal(n.Order)
			if err != nil {
				return fmt.Errorf("marshal order info: %w", err)
			}
			orderInfo = encoded
		}

		args = append(args,
			n.ID, n.AccountID, n.Type.String(), n.Principal,
			n.Amount, n.FillPrice, n.KeeperFee, reason, orderID, orderInfo, n.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (id) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// UpsertOrderProjections maintains accounts.conditional_orders from the order
// notifications in a batch: placement inserts the row, cancellation and fill
// flip its status. Records are never deleted.
func (w *NotificationWriter) UpsertOrderProjections(ctx context.Context, tx *sql.Tx, notes []event.Notification) error {
	const query = `INSERT INTO accounts.conditional_orders
		(account_id, order_id, market_key, margin_delta, size_delta, target_price, desired_fill_price, order_type, reduce_only, status, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (account_id, order_id)
		DO UPDATE SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`

	for _, n := range notes {
		if n.Order == nil {
			continue
		}
		o := n.Order
		_, err := tx.ExecContext(ctx, query,
			n.AccountID, int64(o.OrderID), o.MarketKey,
			o.MarginDelta, o.SizeDelta, o.TargetPrice, o.DesiredFillPrice,
			o.OrderType, o.ReduceOnly, o.Status, n.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("upsert order %d: %w", o.OrderID, err)
		}
	}
	return nil
}
