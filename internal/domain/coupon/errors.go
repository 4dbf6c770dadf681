package coupon

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Reason identifies why a coupon operation was rejected.
type Reason string

const (
	ReasonInputInvalid          Reason = "input_invalid"
	ReasonNotFound              Reason = "not_found"
	ReasonNotYetValid           Reason = "not_yet_valid"
	ReasonExpired               Reason = "expired"
	ReasonUsageLimitReached     Reason = "usage_limit_reached"
	ReasonUserUsageLimitReached Reason = "user_usage_limit_reached"
	ReasonFirstOrderOnly        Reason = "first_order_only"
	ReasonBelowMinimumOrder     Reason = "below_minimum_order"
	ReasonNotApplicableToItems  Reason = "not_applicable_to_items"
	ReasonAlreadyApplied        Reason = "already_applied"
	ReasonInvalidDiscountData   Reason = "invalid_discount_data"
	ReasonNoActiveCart          Reason = "no_active_cart"
	ReasonCodeTaken             Reason = "code_taken"
)

// RejectionError is a business rule rejection. It is recoverable by the
// caller and is never retried.
type RejectionError struct {
	Reason  Reason
	Message string
}

func (e *RejectionError) Error() string {
	return e.Message
}

// Is matches any RejectionError with the same reason, so errors.Is works
// against the sentinels below regardless of the message.
func (e *RejectionError) Is(target error) bool {
	t, ok := target.(*RejectionError)
	return ok && t.Reason == e.Reason
}

// Sentinel rejections for use with errors.Is.
var (
	ErrInputInvalid          = &RejectionError{Reason: ReasonInputInvalid, Message: "invalid input"}
	ErrNotFound              = &RejectionError{Reason: ReasonNotFound, Message: "coupon not found"}
	ErrNotYetValid           = &RejectionError{Reason: ReasonNotYetValid, Message: "coupon is not valid yet"}
	ErrExpired               = &RejectionError{Reason: ReasonExpired, Message: "coupon expired"}
	ErrUsageLimitReached     = &RejectionError{Reason: ReasonUsageLimitReached, Message: "coupon usage limit reached"}
	ErrUserUsageLimitReached = &RejectionError{Reason: ReasonUserUsageLimitReached, Message: "coupon usage limit reached for user"}
	ErrFirstOrderOnly        = &RejectionError{Reason: ReasonFirstOrderOnly, Message: "coupon is valid for the first order only"}
	ErrBelowMinimumOrder     = &RejectionError{Reason: ReasonBelowMinimumOrder, Message: "order subtotal below coupon minimum"}
	ErrNotApplicableToItems  = &RejectionError{Reason: ReasonNotApplicableToItems, Message: "coupon does not apply to the items"}
	ErrAlreadyApplied        = &RejectionError{Reason: ReasonAlreadyApplied, Message: "coupon already applied to order"}
	ErrInvalidDiscountData   = &RejectionError{Reason: ReasonInvalidDiscountData, Message: "invalid discount data"}
	ErrNoActiveCart          = &RejectionError{Reason: ReasonNoActiveCart, Message: "no active cart"}
	ErrCodeTaken             = &RejectionError{Reason: ReasonCodeTaken, Message: "coupon code already exists"}
)

func reject(reason Reason, format string, args ...any) error {
	return &RejectionError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// ReasonOf returns the rejection reason carried by err.
func ReasonOf(err error) (Reason, bool) {
	var re *RejectionError
	if errors.As(err, &re) {
		return re.Reason, true
	}
	return "", false
}
