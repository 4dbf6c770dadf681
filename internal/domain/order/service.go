package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/coupon-engine/internal/domain/coupon"
	"github.com/xenking/coupon-engine/internal/domain/product"
)

// Sentinel errors for order validation.
var (
	ErrEmptyItems       = errors.New("items required")
	ErrNegativeShipping = errors.New("shipping fee must not be negative")
)

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	ProductID int64
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %d not found", e.ProductID)
}

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID int64
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %d", e.ProductID)
}

// CouponValidator checks coupon eligibility and snapshots the discount.
type CouponValidator interface {
	Validate(ctx context.Context, code string, userID *int64, oc coupon.OrderContext) (*coupon.Coupon, error)
	DiscountData(ctx context.Context, c *coupon.Coupon, oc coupon.OrderContext, res coupon.DiscountResult) (coupon.DiscountData, error)
}

// CouponApplicator records a coupon application inside a transaction.
type CouponApplicator interface {
	Apply(ctx context.Context, tx coupon.Tx, orderID string, couponID int64, data coupon.DiscountData) (*coupon.OrderCouponRecord, error)
}

// PlaceOrderRequest holds the input for placing an order.
type PlaceOrderRequest struct {
	UserID      *int64
	Items       []OrderItem
	ShippingFee decimal.Decimal
	CouponCode  string
}

// PlaceOrderResult holds the output of a successfully placed order.
type PlaceOrderResult struct {
	Order    *Order
	Products []product.Product
	// Coupon is nil when no coupon code was given.
	Coupon *coupon.OrderCouponRecord
}

// Service encapsulates order placement business logic.
type Service struct {
	products   product.Repository
	coupons    CouponValidator
	applicator CouponApplicator
	orders     Repository
	tx         Transactor
	tracer     trace.Tracer
	now        func() time.Time
}

// NewService creates an order Service with the required domain dependencies.
// A nil tracer provider disables tracing.
func NewService(
	products product.Repository,
	coupons CouponValidator,
	applicator CouponApplicator,
	orders Repository,
	tx Transactor,
	tp trace.TracerProvider,
) *Service {
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	return &Service{
		products:   products,
		coupons:    coupons,
		applicator: applicator,
		orders:     orders,
		tx:         tx,
		tracer:     tp.Tracer("github.com/xenking/coupon-engine/internal/domain/order"),
		now:        time.Now,
	}
}

// PlaceOrder validates items, prices them from the catalog, validates and
// calculates the coupon, then creates the order and records the coupon
// application in one transaction.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (_ *PlaceOrderResult, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.PlaceOrder",
		trace.WithAttributes(attribute.Int("order.items", len(req.Items))),
	)
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()

	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}
	if req.ShippingFee.IsNegative() {
		return nil, ErrNegativeShipping
	}

	// Validate quantities and collect product IDs.
	ids := make([]int64, len(req.Items))
	for i, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: item.ProductID}
		}
		ids[i] = item.ProductID
	}

	// Batch fetch all products in a single query.
	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}

	productMap := make(map[int64]product.Product, len(fetched))
	for _, p := range fetched {
		productMap[p.ID] = p
	}

	// Price every line from the catalog.
	products := make([]product.Product, 0, len(req.Items))
	items := make([]OrderItem, len(req.Items))
	lines := make([]coupon.LineItem, len(req.Items))
	for i, item := range req.Items {
		p, ok := productMap[item.ProductID]
		if !ok {
			return nil, &ProductNotFoundError{ProductID: item.ProductID}
		}
		products = append(products, p)
		items[i] = OrderItem{ProductID: p.ID, Quantity: item.Quantity, UnitPrice: p.Price}
		lines[i] = coupon.LineItem{ProductID: p.ID, Quantity: item.Quantity, UnitPrice: p.Price}
	}

	oc := coupon.OrderContext{
		Items:       lines,
		Subtotal:    coupon.SubtotalOf(lines),
		ShippingFee: req.ShippingFee,
	}

	var (
		applied  *coupon.Coupon
		discount coupon.DiscountResult
		snapshot coupon.DiscountData
	)
	if req.CouponCode != "" {
		applied, err = s.coupons.Validate(ctx, req.CouponCode, req.UserID, oc)
		if err != nil {
			return nil, errors.Wrap(err, "validate coupon")
		}
		if discount, err = coupon.Calculate(applied, oc); err != nil {
			return nil, errors.Wrap(err, "calculate discount")
		}
		if snapshot, err = s.coupons.DiscountData(ctx, applied, oc, discount); err != nil {
			return nil, errors.Wrap(err, "snapshot discount")
		}
		span.SetAttributes(attribute.String("coupon.code", applied.Code))
	}

	// Total = subtotal - discount + shipping - shipping discount, floored at
	// zero and rounded to 2 decimal places.
	total := oc.Subtotal.
		Sub(discount.DiscountAmount).
		Add(oc.ShippingFee).
		Sub(discount.ShippingDiscount)
	if total.IsNegative() {
		total = decimal.Zero
	}

	o := &Order{
		ID:               uuid.New().String(),
		UserID:           req.UserID,
		Items:            items,
		Subtotal:         oc.Subtotal.Round(2),
		ShippingFee:      oc.ShippingFee.Round(2),
		Discount:         discount.DiscountAmount,
		ShippingDiscount: discount.ShippingDiscount,
		Total:            total.Round(2),
		Status:           StatusCompleted,
		CreatedAt:        s.now().UTC(),
	}
	if applied != nil {
		o.CouponCode = applied.Code
	}

	var record *coupon.OrderCouponRecord
	err = s.tx.WithinTx(ctx, func(ctx context.Context, tx coupon.Tx) error {
		if err := s.orders.Create(ctx, tx, o); err != nil {
			return errors.Wrap(err, "create order")
		}
		if applied == nil {
			return nil
		}
		rec, err := s.applicator.Apply(ctx, tx, o.ID, applied.ID, snapshot)
		if err != nil {
			return errors.Wrap(err, "apply coupon")
		}
		record = rec
		return nil
	})
	if err != nil {
		return nil, err
	}

	zctx.From(ctx).Info("Order placed",
		zap.String("order_id", o.ID),
		zap.String("total", o.Total.String()),
		zap.String("coupon", o.CouponCode),
	)

	return &PlaceOrderResult{
		Order:    o,
		Products: products,
		Coupon:   record,
	}, nil
}
