package persistence_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Kwenta/smart-margin-sub002/internal/event"
	"github.com/Kwenta/smart-margin-sub002/internal/persistence"
	"github.com/Kwenta/smart-margin-sub002/internal/testutil"
)

// ============================================================
// Notification log writes (integration, needs Postgres)
// ============================================================

func TestWriteNotificationBatchIsIdempotent(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	writer := persistence.NewNotificationWriter(db)

	accountID := uuid.New()
	notes := []event.Notification{
		{
			ID:        uuid.New(),
			AccountID: accountID,
			Type:      event.TypeMarginDeposited,
			Principal: "owner",
			Amount:    1_000,
			Timestamp: time.Now().UTC(),
		},
		{
			ID:        uuid.New(),
			AccountID: accountID,
			Type:      event.TypeConditionalOrderPlaced,
			Principal: "owner",
			Order: &event.OrderInfo{
				OrderID:          1,
				MarketKey:        "ETH-PERP",
				MarginDelta:      500,
				SizeDelta:        100,
				TargetPrice:      9,
				DesiredFillPrice: 10,
				OrderType:        "LIMIT",
				Status:           "PENDING",
			},
			Timestamp: time.Now().UTC(),
		},
	}

	writeBatch := func() {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			t.Fatalf("begin tx: %v", err)
		}
		if err := writer.WriteNotificationBatch(ctx, tx, notes); err != nil {
			tx.Rollback()
			t.Fatalf("write batch: %v", err)
		}
		if err := writer.UpsertOrderProjections(ctx, tx, notes); err != nil {
			tx.Rollback()
			t.Fatalf("upsert projections: %v", err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("commit: %v", err)
		}
	}

	// A retried flush must not duplicate rows.
	writeBatch()
	writeBatch()

	var count int
	if err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM notification_log.notifications WHERE account_id = $1", accountID,
	).Scan(&count); err != nil {
		t.Fatalf("count notifications: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 notification rows, got %d", count)
	}

	var status string
	if err := db.QueryRowContext(ctx,
		"SELECT status FROM accounts.conditional_orders WHERE account_id = $1 AND order_id = 1", accountID,
	).Scan(&status); err != nil {
		t.Fatalf("load projection: %v", err)
	}
	if status != "PENDING" {
		t.Fatalf("expected PENDING projection, got %q", status)
	}
}

func TestOrderProjectionFollowsStatusChanges(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	writer := persistence.NewNotificationWriter(db)
	accountID := uuid.New()

	apply := func(n event.Notification) {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			t.Fatalf("begin tx: %v", err)
		}
		batch := []event.Notification{n}
		if err := writer.WriteNotificationBatch(ctx, tx, batch); err != nil {
			tx.Rollback()
			t.Fatalf("write batch: %v", err)
		}
		if err := writer.UpsertOrderProjections(ctx, tx, batch); err != nil {
			tx.Rollback()
			t.Fatalf("upsert projections: %v", err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("commit: %v", err)
		}
	}

	order := event.OrderInfo{
		OrderID:          7,
		MarketKey:        "ETH-PERP",
		MarginDelta:      500,
		SizeDelta:        -100,
		TargetPrice:      12,
		DesiredFillPrice: 11,
		OrderType:        "STOP",
		Status:           "PENDING",
	}

	apply(event.Notification{
		ID: uuid.New(), AccountID: accountID,
		Type: event.TypeConditionalOrderPlaced, Principal: "owner",
		Order: &order, Timestamp: time.Now().UTC(),
	})

	filled := order
	filled.Status = "FILLED"
	apply(event.Notification{
		ID: uuid.New(), AccountID: accountID,
		Type: event.TypeConditionalOrderFilled, Principal: "keeper",
		FillPrice: 12, KeeperFee: 2,
		Order: &filled, Timestamp: time.Now().UTC(),
	})

	var status string
	if err := db.QueryRowContext(ctx,
		"SELECT status FROM accounts.conditional_orders WHERE account_id = $1 AND order_id = 7", accountID,
	).Scan(&status); err != nil {
		t.Fatalf("load projection: %v", err)
	}
	if status != "FILLED" {
		t.Fatalf("expected FILLED projection, got %q", status)
	}
}
