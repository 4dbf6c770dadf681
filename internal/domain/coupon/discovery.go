package coupon

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Discovery lists the coupons a user could apply to their active cart.
type Discovery struct {
	carts     CartProvider
	coupons   Repository
	validator *Validator
}

// NewDiscovery creates a Discovery that reuses the checks of validator.
func NewDiscovery(carts CartProvider, coupons Repository, validator *Validator) *Discovery {
	return &Discovery{carts: carts, coupons: coupons, validator: validator}
}

// ListValidForCart returns the active coupons, in id order, that currently
// validate against the user's active cart with a zero shipping fee.
// Individual rejections only exclude the coupon; infrastructure errors abort.
func (d *Discovery) ListValidForCart(ctx context.Context, userID int64) ([]Coupon, error) {
	cart, err := d.carts.ActiveCart(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNoActiveCart) {
			return nil, err
		}
		return nil, errors.Wrap(err, "load active cart")
	}

	valid := []Coupon{}
	if len(cart.Items) == 0 {
		return valid, nil
	}

	oc := OrderContext{
		Items:       cart.Items,
		Subtotal:    SubtotalOf(cart.Items),
		ShippingFee: decimal.Zero,
	}

	active, err := d.coupons.ListActive(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list active coupons")
	}

	catalog := newCatalogLoader(d.validator.catalog, cart.Items)
	for i := range active {
		c := &active[i]
		if !c.IsActive {
			continue
		}
		err := d.validator.check(ctx, c, &userID, oc, catalog)
		if err == nil {
			valid = append(valid, *c)
			continue
		}
		if _, ok := ReasonOf(err); ok {
			continue
		}
		return nil, err
	}

	zctx.From(ctx).Debug("Discovered coupons",
		zap.Int64("user_id", userID),
		zap.Int("active", len(active)),
		zap.Int("valid", len(valid)),
	)
	return valid, nil
}
