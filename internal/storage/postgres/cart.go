package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/coupon-engine/internal/domain/coupon"
)

const (
	activeCartSQL = `SELECT c.id, ci.product_id, ci.quantity, ci.unit_price
		FROM carts c
		LEFT JOIN cart_items ci ON ci.cart_id = c.id
		WHERE c.user_id = $1 AND c.status = 'active'
		ORDER BY ci.product_id`

	upsertActiveCartSQL = `INSERT INTO carts (user_id) VALUES ($1)
		ON CONFLICT (user_id) WHERE status = 'active' DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING id`

	deleteCartItemsSQL = `DELETE FROM cart_items WHERE cart_id = $1`

	insertCartItemSQL = `INSERT INTO cart_items (cart_id, product_id, quantity, unit_price)
		VALUES ($1, $2, $3, $4)`
)

var _ coupon.CartProvider = (*CartRepository)(nil)

// CartRepository implements coupon.CartProvider backed by PostgreSQL.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// ActiveCart returns the user's active cart with its line items, or
// coupon.ErrNoActiveCart.
func (r *CartRepository) ActiveCart(ctx context.Context, userID int64) (*coupon.Cart, error) {
	rows, err := r.pool.Query(ctx, activeCartSQL, userID)
	if err != nil {
		return nil, errors.Wrapf(err, "get active cart of user %d", userID)
	}

	var (
		cart      *coupon.Cart
		cartID    int64
		productID *int64
		quantity  *int32
		unitPrice *decimal.Decimal
	)
	_, err = pgx.ForEachRow(rows, []any{&cartID, &productID, &quantity, &unitPrice}, func() error {
		if cart == nil {
			cart = &coupon.Cart{ID: cartID, UserID: userID, Items: []coupon.LineItem{}}
		}
		// A cart without items yields one row of NULLs.
		if productID == nil {
			return nil
		}
		cart.Items = append(cart.Items, coupon.LineItem{
			ProductID: *productID,
			Quantity:  int(*quantity),
			UnitPrice: *unitPrice,
		})
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "scan active cart of user %d", userID)
	}
	if cart == nil {
		return nil, coupon.ErrNoActiveCart
	}
	return cart, nil
}

// ReplaceActiveCart creates the user's active cart if needed and replaces
// its items.
func (r *CartRepository) ReplaceActiveCart(ctx context.Context, userID int64, items []coupon.LineItem) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var cartID int64
		if err := tx.QueryRow(ctx, upsertActiveCartSQL, userID).Scan(&cartID); err != nil {
			return errors.Wrapf(err, "upsert active cart of user %d", userID)
		}

		b := &pgx.Batch{}
		b.Queue(deleteCartItemsSQL, cartID)
		for _, it := range items {
			b.Queue(insertCartItemSQL, cartID, it.ProductID, int32(it.Quantity), it.UnitPrice)
		}
		if err := tx.SendBatch(ctx, b).Close(); err != nil {
			return errors.Wrapf(err, "replace items of cart %d", cartID)
		}
		return nil
	})
}
