package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Type enumerates the supported discount strategies.
type Type string

const (
	// TypePercent takes a percentage of the subtotal, optionally capped.
	TypePercent Type = "percent"
	// TypeFixed takes a fixed amount off the subtotal.
	TypeFixed Type = "fixed"
	// TypeFreeShipping waives the shipping fee.
	TypeFreeShipping Type = "free_shipping"
)

// Valid reports whether t is a known discount type.
func (t Type) Valid() bool {
	switch t {
	case TypePercent, TypeFixed, TypeFreeShipping:
		return true
	default:
		return false
	}
}

// Coupon is a rule-bound discount definition identified by a unique code.
type Coupon struct {
	ID          int64
	Code        string
	Name        string
	Description string
	Type        Type
	Value       decimal.Decimal

	MinOrderAmount    *decimal.Decimal
	MaxDiscountAmount *decimal.Decimal

	// UsageLimit is nil for unlimited global usage.
	UsageLimit *int
	UsedCount  int
	// UsageLimitPerUser of zero or less disables the per-user cap.
	UsageLimitPerUser int

	StartDate *time.Time
	EndDate   *time.Time

	IsActive       bool
	FirstOrderOnly bool

	ApplicableProducts   []int64
	ExcludedProducts     []int64
	ApplicableCategories []int64
	ExcludedCategories   []int64
	// ApplicableUserGroups is stored but not enforced.
	ApplicableUserGroups []string

	CreatedBy *int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasCategoryRules reports whether applicability depends on product categories.
func (c *Coupon) HasCategoryRules() bool {
	return len(c.ApplicableCategories) > 0 || len(c.ExcludedCategories) > 0
}

// LineItem is one product line of a cart or order.
type LineItem struct {
	ProductID int64
	Quantity  int
	UnitPrice decimal.Decimal
}

// OrderContext is the caller-supplied snapshot a coupon is checked against.
type OrderContext struct {
	Items       []LineItem
	Subtotal    decimal.Decimal
	ShippingFee decimal.Decimal
}

// SubtotalOf sums unit price times quantity over items.
func SubtotalOf(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total
}

// NormalizeCode trims and uppercases a coupon code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Cart is a user's active shopping cart.
type Cart struct {
	ID     int64
	UserID int64
	Items  []LineItem
}

// Tx is the caller's transaction handle. The engine never begins or ends
// transactions; it only passes the handle to the repository.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Repository provides persistence of coupons and their order applications.
type Repository interface {
	// FindByCode returns the coupon with the given code regardless of its
	// active flag, or ErrNotFound.
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	FindByID(ctx context.Context, id int64) (*Coupon, error)
	// ListActive returns active coupons ordered by id.
	ListActive(ctx context.Context) ([]Coupon, error)
	CountUserApplications(ctx context.Context, userID, couponID int64) (int, error)
	// CreateOrderCoupon inserts rec within tx and fills its ID and CreatedAt.
	// A duplicate (order, coupon) pair yields ErrAlreadyApplied.
	CreateOrderCoupon(ctx context.Context, tx Tx, rec *OrderCouponRecord) error
	// IncrementUsedCount adds one use within tx unless the usage limit is
	// already reached, in which case it reports false.
	IncrementUsedCount(ctx context.Context, tx Tx, id int64) (bool, error)
	ListOrderCoupons(ctx context.Context, orderID string) ([]OrderCouponRecord, error)
	// Create inserts c and fills its ID and timestamps. A duplicate code
	// yields ErrCodeTaken.
	Create(ctx context.Context, c *Coupon) error
	SetActive(ctx context.Context, id int64, active bool) error
}

// CategoryLookup resolves product to category membership.
type CategoryLookup interface {
	CategoriesForProducts(ctx context.Context, productIDs []int64) (map[int64][]int64, error)
}

// CartProvider loads a user's active cart, or returns ErrNoActiveCart.
type CartProvider interface {
	ActiveCart(ctx context.Context, userID int64) (*Cart, error)
}

// OrderHistory reports how many orders a user has completed.
type OrderHistory interface {
	CountCompletedOrders(ctx context.Context, userID int64) (int, error)
}
