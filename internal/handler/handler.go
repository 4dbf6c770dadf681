// Package handler exposes the coupon engine over HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/coupon-engine/internal/domain/coupon"
	"github.com/xenking/coupon-engine/internal/domain/order"
)

// CouponValidator checks codes against an order context.
type CouponValidator interface {
	Validate(ctx context.Context, code string, userID *int64, oc coupon.OrderContext) (*coupon.Coupon, error)
	DiscountData(ctx context.Context, c *coupon.Coupon, oc coupon.OrderContext, res coupon.DiscountResult) (coupon.DiscountData, error)
}

// CouponDiscovery lists coupons usable with a user's active cart.
type CouponDiscovery interface {
	ListValidForCart(ctx context.Context, userID int64) ([]coupon.Coupon, error)
}

// CouponAdmin manages coupon definitions.
type CouponAdmin interface {
	Create(ctx context.Context, c coupon.Coupon) (*coupon.Coupon, error)
	Deactivate(ctx context.Context, id int64) error
}

// OrderCoupons reads applied coupon records.
type OrderCoupons interface {
	ListOrderCoupons(ctx context.Context, orderID string) ([]coupon.OrderCouponRecord, error)
}

// OrderPlacer runs checkout.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req order.PlaceOrderRequest) (*order.PlaceOrderResult, error)
}

// Handler serves the coupon and order API.
type Handler struct {
	validator    CouponValidator
	discovery    CouponDiscovery
	admin        CouponAdmin
	orderCoupons OrderCoupons
	orders       OrderPlacer
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	validator CouponValidator,
	discovery CouponDiscovery,
	admin CouponAdmin,
	orderCoupons OrderCoupons,
	orders OrderPlacer,
) *Handler {
	return &Handler{
		validator:    validator,
		discovery:    discovery,
		admin:        admin,
		orderCoupons: orderCoupons,
		orders:       orders,
	}
}

// Routes mounts the API under /api. codeGuard wraps the coupon endpoints
// that accept a code and may be nil.
func (h *Handler) Routes(r chi.Router, codeGuard func(http.Handler) http.Handler) {
	r.Route("/api", func(r chi.Router) {
		r.Route("/coupons", func(r chi.Router) {
			if codeGuard != nil {
				r.Use(codeGuard)
			}
			r.Post("/validate", h.ValidateCoupon)
			r.Post("/calculate", h.CalculateDiscount)
			r.Get("/available", h.AvailableCoupons)
		})
		r.Post("/orders", h.PlaceOrder)
		r.Get("/orders/{orderID}/coupons", h.ListOrderCoupons)
		r.Post("/admin/coupons", h.CreateCoupon)
		r.Post("/admin/coupons/{couponID}/deactivate", h.DeactivateCoupon)
	})
}
