package handler

import (
	"net/http"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/coupon-engine/internal/domain/coupon"
)

// orderContextRequest is the body of validate and calculate calls.
type orderContextRequest struct {
	Code        string
	UserID      *int64
	Items       []coupon.LineItem
	Subtotal    *decimal.Decimal
	ShippingFee decimal.Decimal
}

func (req orderContextRequest) orderContext() coupon.OrderContext {
	oc := coupon.OrderContext{
		Items:       req.Items,
		ShippingFee: req.ShippingFee,
	}
	if req.Subtotal != nil {
		oc.Subtotal = *req.Subtotal
	} else {
		oc.Subtotal = coupon.SubtotalOf(req.Items)
	}
	return oc
}

func decodeOrderContextRequest(d *jx.Decoder) (orderContextRequest, error) {
	var req orderContextRequest
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "code":
			req.Code, err = d.Str()
		case "userId":
			req.UserID, err = decodeInt64Ptr(d)
		case "items":
			req.Items, err = decodeLineItems(d)
		case "subtotal":
			req.Subtotal, err = decodeDecimalPtr(d)
		case "shippingFee":
			req.ShippingFee, err = decodeDecimal(d)
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "field %q", key)
		}
		return nil
	})
	return req, err
}

func (h *Handler) readOrderContext(w http.ResponseWriter, r *http.Request) (orderContextRequest, error) {
	d, err := readBody(w, r)
	if err != nil {
		return orderContextRequest{}, badRequest(err)
	}
	req, err := decodeOrderContextRequest(d)
	if err != nil {
		return orderContextRequest{}, badRequest(err)
	}
	return req, nil
}

// ValidateCoupon handles POST /api/coupons/validate. A valid code returns
// the coupon with the discount preview and the data Apply would record.
func (h *Handler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := h.readOrderContext(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	oc := req.orderContext()

	c, err := h.validator.Validate(ctx, req.Code, req.UserID, oc)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := coupon.Calculate(c, oc)
	if err != nil {
		writeError(w, r, err)
		return
	}
	data, err := h.validator.DiscountData(ctx, c, oc, res)
	if err != nil {
		writeError(w, r, err)
		return
	}

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	e.Obj(func(e *jx.Encoder) {
		e.Field("valid", func(e *jx.Encoder) { e.Bool(true) })
		e.Field("coupon", func(e *jx.Encoder) { encodeCoupon(e, c) })
		e.Field("discountAmount", func(e *jx.Encoder) { encodeDecimal(e, res.DiscountAmount) })
		e.Field("shippingDiscount", func(e *jx.Encoder) { encodeDecimal(e, res.ShippingDiscount) })
		e.Field("appliedProducts", func(e *jx.Encoder) {
			e.ArrStart()
			for _, p := range data.AppliedProducts {
				e.Obj(func(e *jx.Encoder) {
					e.Field("productId", func(e *jx.Encoder) { e.Int64(p.ProductID) })
					e.Field("quantity", func(e *jx.Encoder) { e.Int(p.Quantity) })
					e.Field("price", func(e *jx.Encoder) { encodeDecimal(e, p.Price) })
				})
			}
			e.ArrEnd()
		})
	})
	writeJSON(w, http.StatusOK, e)
}

// CalculateDiscount handles POST /api/coupons/calculate. It previews the
// amounts without user-specific checks.
func (h *Handler) CalculateDiscount(w http.ResponseWriter, r *http.Request) {
	req, err := h.readOrderContext(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	oc := req.orderContext()

	c, err := h.validator.Validate(r.Context(), req.Code, nil, oc)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := coupon.Calculate(c, oc)
	if err != nil {
		writeError(w, r, err)
		return
	}

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Str(c.Code) })
		e.Field("discountAmount", func(e *jx.Encoder) { encodeDecimal(e, res.DiscountAmount) })
		e.Field("shippingDiscount", func(e *jx.Encoder) { encodeDecimal(e, res.ShippingDiscount) })
	})
	writeJSON(w, http.StatusOK, e)
}

// AvailableCoupons handles GET /api/coupons/available?userId=.
func (h *Handler) AvailableCoupons(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("userId"), 10, 64)
	if err != nil {
		writeError(w, r, badRequest(errors.Wrap(err, "parse userId")))
		return
	}

	coupons, err := h.discovery.ListValidForCart(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	e.ArrStart()
	for i := range coupons {
		encodeCoupon(e, &coupons[i])
	}
	e.ArrEnd()
	writeJSON(w, http.StatusOK, e)
}
