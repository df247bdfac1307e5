package dispatch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/agentplexus/orderline/order"
)

// Verify interface compliance at compile time.
var _ Sink = (*StoreSink)(nil)

// OpenStore opens the order database and verifies connectivity.
func OpenStore(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// StoreSink records each order and its line items in Postgres inside
// one transaction. The unique key on call_id makes re-delivery of the
// same call a no-op at the database level too.
type StoreSink struct {
	db *sql.DB
}

// NewStoreSink creates a database sink over db.
func NewStoreSink(db *sql.DB) *StoreSink {
	return &StoreSink{db: db}
}

// Name returns "store".
func (s *StoreSink) Name() string {
	return "store"
}

// Deliver inserts the order. An order already present under the same
// call_id is treated as delivered.
func (s *StoreSink) Deliver(ctx context.Context, snap order.Snapshot) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var orderID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO orders
			(call_id, caller_number, customer_name, customer_phone,
			 delivery_method, address, payment_method, confirmed,
			 subtotal, tax, total, items_summary, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
		ON CONFLICT (call_id) DO NOTHING
		RETURNING id
	`,
		snap.CallID,
		snap.CallerNumber,
		snap.CustomerName,
		snap.CustomerPhone,
		snap.DeliveryMethod,
		snap.Address,
		snap.PaymentMethod,
		snap.Confirmed,
		snap.Subtotal,
		snap.Tax,
		snap.Total,
		snap.ItemsSummary,
	).Scan(&orderID)
	if errors.Is(err, sql.ErrNoRows) {
		// Conflict: this call's order is already on record.
		return tx.Rollback()
	}
	if err != nil {
		return fmt.Errorf("store: insert order: %w", err)
	}

	for _, item := range snap.Items {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, name, size, quantity, unit_price, special_instructions)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, orderID, item.Name, item.Size, item.Quantity, item.UnitPrice, item.Instructions); err != nil {
			return fmt.Errorf("store: insert item %s: %w", item.Name, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}
