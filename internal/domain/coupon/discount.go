package coupon

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// DiscountResult holds the amounts a coupon takes off an order.
type DiscountResult struct {
	DiscountAmount   decimal.Decimal
	ShippingDiscount decimal.Decimal
}

// Calculate computes the discount c grants for oc. It does not check
// eligibility and has no side effects, so it can be used for previews.
//
// Both amounts are floored at zero and rounded half-up to two decimal places.
func Calculate(c *Coupon, oc OrderContext) (DiscountResult, error) {
	var res DiscountResult

	switch c.Type {
	case TypePercent:
		amount := oc.Subtotal.Mul(c.Value).Div(hundred)
		if c.MaxDiscountAmount != nil && amount.GreaterThan(*c.MaxDiscountAmount) {
			amount = *c.MaxDiscountAmount
		}
		res.DiscountAmount = amount
	case TypeFixed:
		// Never discount more than the subtotal.
		res.DiscountAmount = decimal.Min(c.Value, oc.Subtotal)
	case TypeFreeShipping:
		res.ShippingDiscount = oc.ShippingFee
	default:
		return DiscountResult{}, errors.Errorf("unsupported discount type %q", c.Type)
	}

	res.DiscountAmount = roundMoney(res.DiscountAmount)
	res.ShippingDiscount = roundMoney(res.ShippingDiscount)
	return res, nil
}

func roundMoney(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d.Round(2)
}
