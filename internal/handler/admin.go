package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/coupon-engine/internal/domain/coupon"
)

// DecodeCoupon decodes a coupon definition. New definitions default to
// active with a per-user limit of one.
func DecodeCoupon(d *jx.Decoder) (coupon.Coupon, error) {
	c := coupon.Coupon{IsActive: true, UsageLimitPerUser: 1}
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "code":
			c.Code, err = d.Str()
		case "name":
			c.Name, err = d.Str()
		case "description":
			c.Description, err = d.Str()
		case "type":
			var s string
			s, err = d.Str()
			c.Type = coupon.Type(s)
		case "value":
			c.Value, err = decodeDecimal(d)
		case "minOrderAmount":
			c.MinOrderAmount, err = decodeDecimalPtr(d)
		case "maxDiscountAmount":
			c.MaxDiscountAmount, err = decodeDecimalPtr(d)
		case "usageLimit":
			if d.Next() == jx.Null {
				err = d.Null()
				break
			}
			var n int
			n, err = d.Int()
			c.UsageLimit = &n
		case "usageLimitPerUser":
			c.UsageLimitPerUser, err = d.Int()
		case "startDate":
			c.StartDate, err = decodeTimePtr(d)
		case "endDate":
			c.EndDate, err = decodeTimePtr(d)
		case "isActive":
			c.IsActive, err = d.Bool()
		case "firstOrderOnly":
			c.FirstOrderOnly, err = d.Bool()
		case "applicableProducts":
			c.ApplicableProducts, err = decodeInt64s(d)
		case "excludedProducts":
			c.ExcludedProducts, err = decodeInt64s(d)
		case "applicableCategories":
			c.ApplicableCategories, err = decodeInt64s(d)
		case "excludedCategories":
			c.ExcludedCategories, err = decodeInt64s(d)
		case "applicableUserGroups":
			c.ApplicableUserGroups, err = decodeStrings(d)
		case "createdBy":
			c.CreatedBy, err = decodeInt64Ptr(d)
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "field %q", key)
		}
		return nil
	})
	return c, err
}

// CreateCoupon handles POST /api/admin/coupons.
func (h *Handler) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	d, err := readBody(w, r)
	if err != nil {
		writeError(w, r, badRequest(err))
		return
	}
	def, err := DecodeCoupon(d)
	if err != nil {
		writeError(w, r, badRequest(err))
		return
	}

	c, err := h.admin.Create(r.Context(), def)
	if err != nil {
		writeError(w, r, err)
		return
	}

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encodeCoupon(e, c)
	writeJSON(w, http.StatusCreated, e)
}

// DeactivateCoupon handles POST /api/admin/coupons/{couponID}/deactivate.
func (h *Handler) DeactivateCoupon(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "couponID"), 10, 64)
	if err != nil {
		writeError(w, r, badRequest(errors.Wrap(err, "parse coupon id")))
		return
	}
	if err := h.admin.Deactivate(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
