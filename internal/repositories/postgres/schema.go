package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	constraintPaymentReference = "orders_payment_reference_key"
	constraintTrackingID       = "orders_tracking_id_key"
	constraintPerUserUsage     = "discount_usages_per_user_key"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		price BIGINT NOT NULL CHECK (price >= 0),
		stock_quantity INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT products_stock_non_negative CHECK (stock_quantity >= 0)
	)`,
	`CREATE TABLE IF NOT EXISTS discounts (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		type TEXT NOT NULL CHECK (type IN ('percentage', 'fixed', 'shipping')),
		value BIGINT NOT NULL DEFAULT 0,
		min_purchase BIGINT NOT NULL DEFAULT 0,
		usage_limit INTEGER NOT NULL DEFAULT 0 CHECK (usage_limit >= 0),
		per_user BOOLEAN NOT NULL DEFAULT false,
		used INTEGER NOT NULL DEFAULT 0,
		start_date TIMESTAMPTZ,
		end_date TIMESTAMPTZ,
		status TEXT NOT NULL DEFAULT 'active',
		product_ids TEXT[] NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT discounts_used_within_limit CHECK (usage_limit = 0 OR used <= usage_limit)
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		user_id TEXT,
		session_id TEXT NOT NULL,
		total BIGINT NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('pending', 'confirmed', 'processing', 'shipped', 'delivered', 'cancelled')),
		payment_method TEXT NOT NULL,
		payment_reference TEXT NOT NULL,
		discount_id TEXT REFERENCES discounts(id),
		tracking_id TEXT NOT NULL,
		status_timeline JSONB NOT NULL DEFAULT '[]',
		cancellation_reason TEXT,
		delivered_at TIMESTAMPTZ,
		cancellation_requested_at TIMESTAMPTZ,
		cancellation_request_reason TEXT,
		cancellation_approved_by TEXT,
		cancellation_approved_at TIMESTAMPTZ,
		cancellation_rejected_at TIMESTAMPTZ,
		cancellation_rejection_reason TEXT,
		customer_name TEXT,
		customer_email TEXT,
		customer_phone TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT ` + constraintPaymentReference + ` UNIQUE (payment_reference),
		CONSTRAINT ` + constraintTrackingID + ` UNIQUE (tracking_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_user_id ON orders(user_id)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		product_id TEXT NOT NULL REFERENCES products(id),
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		price BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_order_items_order_id ON order_items(order_id)`,
	`CREATE TABLE IF NOT EXISTS discount_usages (
		id TEXT PRIMARY KEY,
		discount_id TEXT NOT NULL REFERENCES discounts(id),
		user_id TEXT,
		order_id TEXT REFERENCES orders(id) ON DELETE SET NULL,
		session_id TEXT,
		per_user BOOLEAN NOT NULL DEFAULT false,
		used_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ` + constraintPerUserUsage + `
		ON discount_usages(discount_id, user_id) WHERE per_user AND user_id IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_discount_usages_discount_user ON discount_usages(discount_id, user_id)`,
}

// Migrate applies the idempotent schema statements in order.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for i, statement := range migrations {
		if _, err := pool.Exec(ctx, statement); err != nil {
			return fmt.Errorf("postgres: migration %d: %w", i, err)
		}
	}
	return nil
}
