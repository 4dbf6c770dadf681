package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/coupon-engine/internal/domain/order"
)

func decodePlaceOrderRequest(d *jx.Decoder) (order.PlaceOrderRequest, error) {
	var req order.PlaceOrderRequest
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "userId":
			req.UserID, err = decodeInt64Ptr(d)
		case "items":
			lines, lerr := decodeLineItems(d)
			for _, l := range lines {
				req.Items = append(req.Items, order.OrderItem{ProductID: l.ProductID, Quantity: l.Quantity})
			}
			err = lerr
		case "shippingFee":
			req.ShippingFee, err = decodeDecimal(d)
		case "couponCode":
			if d.Next() == jx.Null {
				err = d.Null()
				break
			}
			req.CouponCode, err = d.Str()
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

// PlaceOrder handles POST /api/orders. Line prices come from the catalog;
// a coupon code is validated and applied in the order transaction.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	d, err := readBody(w, r)
	if err != nil {
		writeError(w, r, badRequest(err))
		return
	}
	req, err := decodePlaceOrderRequest(d)
	if err != nil {
		writeError(w, r, badRequest(err))
		return
	}

	result, err := h.orders.PlaceOrder(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encodeOrder(e, result.Order, result.Coupon)
	writeJSON(w, http.StatusCreated, e)
}

// ListOrderCoupons handles GET /api/orders/{orderID}/coupons.
func (h *Handler) ListOrderCoupons(w http.ResponseWriter, r *http.Request) {
	records, err := h.orderCoupons.ListOrderCoupons(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	e.ArrStart()
	for i := range records {
		encodeOrderCoupon(e, &records[i])
	}
	e.ArrEnd()
	writeJSON(w, http.StatusOK, e)
}
