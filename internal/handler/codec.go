package handler

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/coupon-engine/internal/domain/coupon"
	"github.com/xenking/coupon-engine/internal/domain/order"
)

const maxBodySize = 1 << 20

// readBody returns a decoder over the request body, limited to maxBodySize.
func readBody(w http.ResponseWriter, r *http.Request) (*jx.Decoder, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}
	if len(data) == 0 {
		return nil, errors.New("empty body")
	}
	return jx.DecodeBytes(data), nil
}

// decodeDecimal accepts a JSON number or numeric string.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(s)
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(n.String())
	default:
		return decimal.Decimal{}, errors.Errorf("expected number, got %s", d.Next())
	}
}

func decodeDecimalPtr(d *jx.Decoder) (*decimal.Decimal, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	v, err := decodeDecimal(d)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func decodeInt64Ptr(d *jx.Decoder) (*int64, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	v, err := d.Int64()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func decodeInt64s(d *jx.Decoder) ([]int64, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	out := []int64{}
	err := d.Arr(func(d *jx.Decoder) error {
		v, err := d.Int64()
		if err != nil {
			return err
		}
		out = append(out, v)
		return nil
	})
	return out, err
}

func decodeStrings(d *jx.Decoder) ([]string, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	out := []string{}
	err := d.Arr(func(d *jx.Decoder) error {
		v, err := d.Str()
		if err != nil {
			return err
		}
		out = append(out, v)
		return nil
	})
	return out, err
}

func decodeTimePtr(d *jx.Decoder) (*time.Time, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	s, err := d.Str()
	if err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// decodeLineItems decodes [{"productId","quantity","price"}]. Price is
// optional for order requests, which price lines from the catalog.
func decodeLineItems(d *jx.Decoder) ([]coupon.LineItem, error) {
	var items []coupon.LineItem
	err := d.Arr(func(d *jx.Decoder) error {
		var it coupon.LineItem
		if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			var err error
			switch string(key) {
			case "productId":
				it.ProductID, err = d.Int64()
			case "quantity":
				it.Quantity, err = d.Int()
			case "price":
				it.UnitPrice, err = decodeDecimal(d)
			default:
				err = d.Skip()
			}
			if err != nil {
				return errors.Wrapf(err, "field %q", key)
			}
			return nil
		}); err != nil {
			return err
		}
		items = append(items, it)
		return nil
	})
	return items, err
}

func encodeDecimal(e *jx.Encoder, v decimal.Decimal) {
	e.Num(jx.Num(v.StringFixed(2)))
}

func encodeDecimalPtr(e *jx.Encoder, v *decimal.Decimal) {
	if v == nil {
		e.Null()
		return
	}
	encodeDecimal(e, *v)
}

func encodeInt64s(e *jx.Encoder, ids []int64) {
	e.ArrStart()
	for _, id := range ids {
		e.Int64(id)
	}
	e.ArrEnd()
}

func encodeTimePtr(e *jx.Encoder, t *time.Time) {
	if t == nil {
		e.Null()
		return
	}
	e.Str(t.UTC().Format(time.RFC3339))
}

func encodeCoupon(e *jx.Encoder, c *coupon.Coupon) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(c.ID) })
		e.Field("code", func(e *jx.Encoder) { e.Str(c.Code) })
		e.Field("name", func(e *jx.Encoder) { e.Str(c.Name) })
		e.Field("description", func(e *jx.Encoder) { e.Str(c.Description) })
		e.Field("type", func(e *jx.Encoder) { e.Str(string(c.Type)) })
		e.Field("value", func(e *jx.Encoder) { encodeDecimal(e, c.Value) })
		e.Field("minOrderAmount", func(e *jx.Encoder) { encodeDecimalPtr(e, c.MinOrderAmount) })
		e.Field("maxDiscountAmount", func(e *jx.Encoder) { encodeDecimalPtr(e, c.MaxDiscountAmount) })
		e.Field("usageLimit", func(e *jx.Encoder) {
			if c.UsageLimit == nil {
				e.Null()
				return
			}
			e.Int(*c.UsageLimit)
		})
		e.Field("usedCount", func(e *jx.Encoder) { e.Int(c.UsedCount) })
		e.Field("usageLimitPerUser", func(e *jx.Encoder) { e.Int(c.UsageLimitPerUser) })
		e.Field("startDate", func(e *jx.Encoder) { encodeTimePtr(e, c.StartDate) })
		e.Field("endDate", func(e *jx.Encoder) { encodeTimePtr(e, c.EndDate) })
		e.Field("isActive", func(e *jx.Encoder) { e.Bool(c.IsActive) })
		e.Field("firstOrderOnly", func(e *jx.Encoder) { e.Bool(c.FirstOrderOnly) })
		e.Field("applicableProducts", func(e *jx.Encoder) { encodeInt64s(e, c.ApplicableProducts) })
		e.Field("excludedProducts", func(e *jx.Encoder) { encodeInt64s(e, c.ExcludedProducts) })
		e.Field("applicableCategories", func(e *jx.Encoder) { encodeInt64s(e, c.ApplicableCategories) })
		e.Field("excludedCategories", func(e *jx.Encoder) { encodeInt64s(e, c.ExcludedCategories) })
		e.Field("applicableUserGroups", func(e *jx.Encoder) {
			e.ArrStart()
			for _, g := range c.ApplicableUserGroups {
				e.Str(g)
			}
			e.ArrEnd()
		})
	})
}

func encodeOrderCoupon(e *jx.Encoder, rec *coupon.OrderCouponRecord) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(rec.ID) })
		e.Field("orderId", func(e *jx.Encoder) { e.Str(rec.OrderID) })
		e.Field("couponId", func(e *jx.Encoder) { e.Int64(rec.CouponID) })
		e.Field("couponCode", func(e *jx.Encoder) { e.Str(rec.CouponCode) })
		e.Field("discountType", func(e *jx.Encoder) { e.Str(string(rec.DiscountType)) })
		e.Field("discountValue", func(e *jx.Encoder) { encodeDecimal(e, rec.DiscountValue) })
		e.Field("discountAmount", func(e *jx.Encoder) { encodeDecimal(e, rec.DiscountAmount) })
		e.Field("orderSubtotal", func(e *jx.Encoder) { encodeDecimal(e, rec.OrderSubtotal) })
		e.Field("shippingFee", func(e *jx.Encoder) { encodeDecimal(e, rec.ShippingFee) })
		e.Field("shippingDiscount", func(e *jx.Encoder) { encodeDecimal(e, rec.ShippingDiscount) })
		e.Field("appliedProducts", func(e *jx.Encoder) {
			e.ArrStart()
			for _, p := range rec.AppliedProducts {
				e.Obj(func(e *jx.Encoder) {
					e.Field("productId", func(e *jx.Encoder) { e.Int64(p.ProductID) })
					e.Field("quantity", func(e *jx.Encoder) { e.Int(p.Quantity) })
					e.Field("price", func(e *jx.Encoder) { encodeDecimal(e, p.Price) })
				})
			}
			e.ArrEnd()
		})
		e.Field("conditionsMet", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("minOrderAmount", func(e *jx.Encoder) { encodeDecimalPtr(e, rec.ConditionsMet.MinOrderAmount) })
				e.Field("applicableProducts", func(e *jx.Encoder) { encodeInt64s(e, rec.ConditionsMet.ApplicableProducts) })
				e.Field("applicableCategories", func(e *jx.Encoder) { encodeInt64s(e, rec.ConditionsMet.ApplicableCategories) })
			})
		})
		e.Field("createdAt", func(e *jx.Encoder) { e.Str(rec.CreatedAt.UTC().Format(time.RFC3339)) })
	})
}

func encodeOrder(e *jx.Encoder, o *order.Order, applied *coupon.OrderCouponRecord) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("userId", func(e *jx.Encoder) {
			if o.UserID == nil {
				e.Null()
				return
			}
			e.Int64(*o.UserID)
		})
		e.Field("items", func(e *jx.Encoder) {
			e.ArrStart()
			for _, it := range o.Items {
				e.Obj(func(e *jx.Encoder) {
					e.Field("productId", func(e *jx.Encoder) { e.Int64(it.ProductID) })
					e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
					e.Field("price", func(e *jx.Encoder) { encodeDecimal(e, it.UnitPrice) })
				})
			}
			e.ArrEnd()
		})
		e.Field("subtotal", func(e *jx.Encoder) { encodeDecimal(e, o.Subtotal) })
		e.Field("shippingFee", func(e *jx.Encoder) { encodeDecimal(e, o.ShippingFee) })
		e.Field("discount", func(e *jx.Encoder) { encodeDecimal(e, o.Discount) })
		e.Field("shippingDiscount", func(e *jx.Encoder) { encodeDecimal(e, o.ShippingDiscount) })
		e.Field("total", func(e *jx.Encoder) { encodeDecimal(e, o.Total) })
		if o.CouponCode != "" {
			e.Field("couponCode", func(e *jx.Encoder) { e.Str(o.CouponCode) })
		}
		e.Field("status", func(e *jx.Encoder) { e.Str(o.Status) })
		e.Field("createdAt", func(e *jx.Encoder) { e.Str(o.CreatedAt.UTC().Format(time.RFC3339)) })
		if applied != nil {
			e.Field("appliedCoupon", func(e *jx.Encoder) { encodeOrderCoupon(e, applied) })
		}
	})
}

// writeJSON writes the encoder's buffer with status.
func writeJSON(w http.ResponseWriter, status int, e *jx.Encoder) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(e.Bytes())))
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
