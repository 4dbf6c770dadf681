package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/coupon-engine/internal/domain/coupon"
)

// StatusCompleted marks an order that counts towards a user's order history.
const StatusCompleted = "completed"

// Order represents a placed customer order with pricing and discount details.
type Order struct {
	ID               string
	UserID           *int64
	Items            []OrderItem
	Subtotal         decimal.Decimal
	ShippingFee      decimal.Decimal
	Discount         decimal.Decimal
	ShippingDiscount decimal.Decimal
	Total            decimal.Decimal
	CouponCode       string
	Status           string
	CreatedAt        time.Time
}

// OrderItem represents a single line item in an order.
type OrderItem struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Repository defines persistence operations for orders.
type Repository interface {
	Create(ctx context.Context, tx coupon.Tx, o *Order) error
	CountCompletedOrders(ctx context.Context, userID int64) (int, error)
}

// Transactor runs fn inside a database transaction. The transaction is
// committed when fn returns nil and rolled back otherwise.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx coupon.Tx) error) error
}
