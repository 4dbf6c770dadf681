package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/coupon-engine/internal/domain/coupon"
	"github.com/xenking/coupon-engine/internal/domain/order"
)

// badRequestError marks malformed request input.
type badRequestError struct {
	err error
}

func (e *badRequestError) Error() string { return e.err.Error() }

func (e *badRequestError) Unwrap() error { return e.err }

func badRequest(err error) error {
	return &badRequestError{err: err}
}

// rejectionStatus maps a rejection reason to its HTTP status.
func rejectionStatus(reason coupon.Reason) int {
	switch reason {
	case coupon.ReasonInputInvalid, coupon.ReasonInvalidDiscountData:
		return http.StatusBadRequest
	case coupon.ReasonNotFound, coupon.ReasonNoActiveCart:
		return http.StatusNotFound
	case coupon.ReasonAlreadyApplied, coupon.ReasonCodeTaken:
		return http.StatusConflict
	default:
		return http.StatusUnprocessableEntity
	}
}

// writeError writes {"code","reason","message"} for err. Unknown errors are
// logged and hidden behind a 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		status  int
		reason  string
		message = err.Error()
	)

	var (
		rej   *coupon.RejectionError
		bad   *badRequestError
		qty   *order.InvalidQuantityError
		noPrd *order.ProductNotFoundError
	)
	switch {
	case errors.As(err, &rej):
		status, reason, message = rejectionStatus(rej.Reason), string(rej.Reason), rej.Message
	case errors.As(err, &bad),
		errors.As(err, &qty),
		errors.Is(err, order.ErrEmptyItems),
		errors.Is(err, order.ErrNegativeShipping):
		status, reason = http.StatusBadRequest, string(coupon.ReasonInputInvalid)
	case errors.As(err, &noPrd):
		status, reason = http.StatusUnprocessableEntity, "product_not_found"
	default:
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		status, reason, message = http.StatusInternalServerError, "internal", "internal server error"
	}

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Int(status) })
		e.Field("reason", func(e *jx.Encoder) { e.Str(reason) })
		e.Field("message", func(e *jx.Encoder) { e.Str(message) })
	})
	writeJSON(w, status, e)
}
