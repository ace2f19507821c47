package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// OrderRepository persists live-trading orders.
type OrderRepository struct {
	db *DB
}

func NewOrderRepository(db *DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Insert stores a newly placed order in PENDING state.
func (r *OrderRepository) Insert(ctx context.Context, o *TradeOrder) error {
	err := r.db.Pool.QueryRow(ctx, `
		INSERT INTO trade_order (order_uuid, market, side, ord_type, price, volume, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`,
		o.OrderUUID, o.Market, o.Side, o.OrdType, o.Price, o.Volume, o.Status).
		Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert order %s: %w", o.OrderUUID, err)
	}
	return nil
}

// UpdateStatus advances an order's lifecycle state.
func (r *OrderRepository) UpdateStatus(ctx context.Context, orderUUID, status string) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE trade_order SET status = $2, updated_at = NOW()
		WHERE order_uuid = $1`,
		orderUUID, status)
	if err != nil {
		return fmt.Errorf("failed to update order %s: %w", orderUUID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %s not found", orderUUID)
	}
	return nil
}

// FindByUUID returns the order with the given exchange UUID, or nil.
func (r *OrderRepository) FindByUUID(ctx context.Context, orderUUID string) (*TradeOrder, error) {
	var o TradeOrder
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, order_uuid, market, side, ord_type, price, volume, status, created_at, updated_at
		FROM trade_order WHERE order_uuid = $1`,
		orderUUID).
		Scan(&o.ID, &o.OrderUUID, &o.Market, &o.Side, &o.OrdType, &o.Price, &o.Volume, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query order %s: %w", orderUUID, err)
	}
	return &o, nil
}

// FindByStatus returns all orders in the given state, newest first.
func (r *OrderRepository) FindByStatus(ctx context.Context, status string) ([]TradeOrder, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, order_uuid, market, side, ord_type, price, volume, status, created_at, updated_at
		FROM trade_order WHERE status = $1
		ORDER BY created_at DESC`,
		status)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders by status: %w", err)
	}
	defer rows.Close()
	return scanOrders(rows)
}

// FindRecent returns the most recent orders across all states.
func (r *OrderRepository) FindRecent(ctx context.Context, limit int) ([]TradeOrder, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, order_uuid, market, side, ord_type, price, volume, status, created_at, updated_at
		FROM trade_order
		ORDER BY created_at DESC
		LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent orders: %w", err)
	}
	defer rows.Close()
	return scanOrders(rows)
}

func scanOrders(rows pgx.Rows) ([]TradeOrder, error) {
	var orders []TradeOrder
	for rows.Next() {
		var o TradeOrder
		err := rows.Scan(&o.ID, &o.OrderUUID, &o.Market, &o.Side, &o.OrdType, &o.Price, &o.Volume, &o.Status, &o.CreatedAt, &o.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// CountToday returns how many orders were placed for the market since the
// given day start. Used to enforce the daily trade limit.
func (r *OrderRepository) CountToday(ctx context.Context, market string, dayStart time.Time) (int, error) {
	var count int
	err := r.db.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM trade_order
		WHERE market = $1 AND created_at >= $2`,
		market, dayStart.UTC()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count today's orders: %w", err)
	}
	return count, nil
}
