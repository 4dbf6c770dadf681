package coupon

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Admin creates and disables coupon definitions.
type Admin struct {
	coupons Repository
}

// NewAdmin creates an Admin backed by coupons.
func NewAdmin(coupons Repository) *Admin {
	return &Admin{coupons: coupons}
}

// Create normalizes and stores a new coupon. The code is uppercased and a
// free shipping coupon always carries a zero value.
func (a *Admin) Create(ctx context.Context, c Coupon) (*Coupon, error) {
	c.Code = NormalizeCode(c.Code)
	if c.Type == TypeFreeShipping {
		c.Value = decimal.Zero
	}
	if err := checkDefinition(&c); err != nil {
		return nil, err
	}
	c.UsedCount = 0

	if err := a.coupons.Create(ctx, &c); err != nil {
		if errors.Is(err, ErrCodeTaken) {
			return nil, err
		}
		return nil, errors.Wrap(err, "create coupon")
	}

	zctx.From(ctx).Info("Coupon created",
		zap.Int64("coupon_id", c.ID),
		zap.String("code", c.Code),
		zap.String("type", string(c.Type)),
	)
	return &c, nil
}

// Deactivate soft-disables a coupon. Coupons referenced by orders are kept.
func (a *Admin) Deactivate(ctx context.Context, id int64) error {
	if err := a.coupons.SetActive(ctx, id, false); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return errors.Wrapf(err, "deactivate coupon %d", id)
	}
	zctx.From(ctx).Info("Coupon deactivated", zap.Int64("coupon_id", id))
	return nil
}

func checkDefinition(c *Coupon) error {
	switch {
	case c.Code == "":
		return reject(ReasonInputInvalid, "coupon code is required")
	case !c.Type.Valid():
		return reject(ReasonInputInvalid, "unknown coupon type %q", c.Type)
	case c.Value.IsNegative():
		return reject(ReasonInputInvalid, "coupon value must not be negative")
	case c.Type == TypePercent && c.Value.GreaterThan(hundred):
		return reject(ReasonInputInvalid, "percent value must not exceed 100")
	case c.MinOrderAmount != nil && c.MinOrderAmount.IsNegative():
		return reject(ReasonInputInvalid, "minimum order amount must not be negative")
	case c.MaxDiscountAmount != nil && c.MaxDiscountAmount.IsNegative():
		return reject(ReasonInputInvalid, "maximum discount amount must not be negative")
	case c.UsageLimit != nil && *c.UsageLimit < 0:
		return reject(ReasonInputInvalid, "usage limit must not be negative")
	case c.StartDate != nil && c.EndDate != nil && c.EndDate.Before(*c.StartDate):
		return reject(ReasonInputInvalid, "end date must not precede start date")
	}
	return nil
}
