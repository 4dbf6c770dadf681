package postgres

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/coupon-engine/internal/domain/coupon"
	"github.com/xenking/coupon-engine/internal/domain/order"
)

const (
	createOrderSQL = `INSERT INTO orders (id, user_id, items, subtotal, shipping_fee, discount,
		shipping_discount, total, coupon_code, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	countCompletedOrdersSQL = `SELECT COUNT(*) FROM orders WHERE user_id = $1 AND status = $2`
)

var (
	_ order.Repository    = (*OrderRepository)(nil)
	_ coupon.OrderHistory = (*OrderRepository)(nil)
)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order within tx. The order items are serialized to
// JSON for storage in the JSONB column.
func (r *OrderRepository) Create(ctx context.Context, tx coupon.Tx, o *order.Order) error {
	ptx, err := txFrom(tx)
	if err != nil {
		return err
	}

	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return errors.Wrap(err, "marshal order items")
	}

	_, err = ptx.Exec(ctx, createOrderSQL,
		o.ID, o.UserID, itemsJSON, o.Subtotal, o.ShippingFee, o.Discount,
		o.ShippingDiscount, o.Total, o.CouponCode, o.Status, o.CreatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "create order %q", o.ID)
	}

	return nil
}

// CountCompletedOrders returns how many completed orders userID has placed.
func (r *OrderRepository) CountCompletedOrders(ctx context.Context, userID int64) (int, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, countCompletedOrdersSQL, userID, order.StatusCompleted).Scan(&n); err != nil {
		return 0, errors.Wrapf(err, "count completed orders of user %d", userID)
	}
	return int(n), nil
}
