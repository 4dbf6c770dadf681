package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AppliedProduct is a snapshot of one qualifying order line.
type AppliedProduct struct {
	ProductID int64           `json:"productId"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

// ConditionsMet is a snapshot of the rule thresholds an application satisfied.
type ConditionsMet struct {
	MinOrderAmount       *decimal.Decimal `json:"minOrderAmount"`
	ApplicableProducts   []int64          `json:"applicableProducts"`
	ApplicableCategories []int64          `json:"applicableCategories"`
}

// DiscountData is the payload recorded when a coupon is applied to an order.
type DiscountData struct {
	UserCouponID     *int64
	CouponCode       string
	DiscountType     Type
	DiscountValue    decimal.Decimal
	DiscountAmount   decimal.Decimal
	OrderSubtotal    decimal.Decimal
	ShippingFee      decimal.Decimal
	ShippingDiscount decimal.Decimal
	AppliedProducts  []AppliedProduct
	ConditionsMet    *ConditionsMet
}

// NewDiscountData snapshots c, oc and res. qualifying lists the items the
// coupon applied to.
func NewDiscountData(c *Coupon, oc OrderContext, res DiscountResult, qualifying []LineItem) DiscountData {
	applied := make([]AppliedProduct, len(qualifying))
	for i, it := range qualifying {
		applied[i] = AppliedProduct{ProductID: it.ProductID, Quantity: it.Quantity, Price: it.UnitPrice}
	}
	return DiscountData{
		CouponCode:       c.Code,
		DiscountType:     c.Type,
		DiscountValue:    c.Value,
		DiscountAmount:   res.DiscountAmount,
		OrderSubtotal:    oc.Subtotal,
		ShippingFee:      oc.ShippingFee,
		ShippingDiscount: res.ShippingDiscount,
		AppliedProducts:  applied,
		ConditionsMet: &ConditionsMet{
			MinOrderAmount:       c.MinOrderAmount,
			ApplicableProducts:   c.ApplicableProducts,
			ApplicableCategories: c.ApplicableCategories,
		},
	}
}

// Normalize checks d against the application schema and fills defaults:
// absent applied products become an empty list and absent conditions an
// empty snapshot.
func (d DiscountData) Normalize() (DiscountData, error) {
	d.CouponCode = NormalizeCode(d.CouponCode)
	if d.CouponCode == "" {
		return d, reject(ReasonInvalidDiscountData, "discount data: coupon code is required")
	}
	if !d.DiscountType.Valid() {
		return d, reject(ReasonInvalidDiscountData, "discount data: unknown discount type %q", d.DiscountType)
	}

	amounts := []struct {
		name  string
		value decimal.Decimal
	}{
		{"discount value", d.DiscountValue},
		{"discount amount", d.DiscountAmount},
		{"order subtotal", d.OrderSubtotal},
		{"shipping fee", d.ShippingFee},
		{"shipping discount", d.ShippingDiscount},
	}
	for _, a := range amounts {
		if a.value.IsNegative() {
			return d, reject(ReasonInvalidDiscountData, "discount data: %s must not be negative", a.name)
		}
	}

	applied := make([]AppliedProduct, 0, len(d.AppliedProducts))
	for _, p := range d.AppliedProducts {
		if p.Quantity < 1 {
			return d, reject(ReasonInvalidDiscountData, "discount data: quantity must be at least 1 for product %d", p.ProductID)
		}
		if p.Price.IsNegative() {
			return d, reject(ReasonInvalidDiscountData, "discount data: price must not be negative for product %d", p.ProductID)
		}
		applied = append(applied, p)
	}
	d.AppliedProducts = applied

	cond := ConditionsMet{}
	if d.ConditionsMet != nil {
		cond = *d.ConditionsMet
	}
	if cond.ApplicableProducts == nil {
		cond.ApplicableProducts = []int64{}
	}
	if cond.ApplicableCategories == nil {
		cond.ApplicableCategories = []int64{}
	}
	d.ConditionsMet = &cond

	return d, nil
}

// OrderCouponRecord is the immutable audit record of one coupon applied to
// one order.
type OrderCouponRecord struct {
	ID               int64
	OrderID          string
	CouponID         int64
	UserCouponID     *int64
	CouponCode       string
	DiscountType     Type
	DiscountValue    decimal.Decimal
	DiscountAmount   decimal.Decimal
	OrderSubtotal    decimal.Decimal
	ShippingFee      decimal.Decimal
	ShippingDiscount decimal.Decimal
	AppliedProducts  []AppliedProduct
	ConditionsMet    ConditionsMet
	CreatedAt        time.Time
}

// Applicator records coupon applications inside the caller's transaction.
type Applicator struct {
	coupons Repository
	metrics *Metrics
}

// NewApplicator creates an Applicator. metrics may be nil.
func NewApplicator(coupons Repository, metrics *Metrics) *Applicator {
	return &Applicator{coupons: coupons, metrics: metrics}
}

// Apply inserts the audit record and increments the coupon's usage counter
// within tx. It performs no eligibility checks; callers validate first.
//
// A second application to the same order yields ErrAlreadyApplied. If the
// usage limit was exhausted by a concurrent checkout it yields
// ErrUsageLimitReached. In both cases the caller must roll back tx.
func (a *Applicator) Apply(ctx context.Context, tx Tx, orderID string, couponID int64, data DiscountData) (*OrderCouponRecord, error) {
	if orderID == "" {
		return nil, reject(ReasonInvalidDiscountData, "order id is required")
	}
	data, err := data.Normalize()
	if err != nil {
		return nil, err
	}

	rec := &OrderCouponRecord{
		OrderID:          orderID,
		CouponID:         couponID,
		UserCouponID:     data.UserCouponID,
		CouponCode:       data.CouponCode,
		DiscountType:     data.DiscountType,
		DiscountValue:    data.DiscountValue,
		DiscountAmount:   data.DiscountAmount,
		OrderSubtotal:    data.OrderSubtotal,
		ShippingFee:      data.ShippingFee,
		ShippingDiscount: data.ShippingDiscount,
		AppliedProducts:  data.AppliedProducts,
		ConditionsMet:    *data.ConditionsMet,
	}

	lg := zctx.From(ctx).With(
		zap.String("order_id", orderID),
		zap.Int64("coupon_id", couponID),
	)

	if err := a.coupons.CreateOrderCoupon(ctx, tx, rec); err != nil {
		if errors.Is(err, ErrAlreadyApplied) {
			lg.Debug("Coupon already applied")
			return nil, err
		}
		return nil, errors.Wrap(err, "create order coupon")
	}

	ok, err := a.coupons.IncrementUsedCount(ctx, tx, couponID)
	if err != nil {
		return nil, errors.Wrap(err, "increment used count")
	}
	if !ok {
		lg.Debug("Coupon usage limit reached at apply")
		return nil, reject(ReasonUsageLimitReached, "coupon %q usage limit reached", rec.CouponCode)
	}

	a.metrics.recordApplication(ctx, rec)
	lg.Info("Coupon applied", zap.String("discount", rec.DiscountAmount.String()))
	return rec, nil
}
