package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Validator decides whether a coupon code is usable for a user and order.
// It never mutates coupon state.
type Validator struct {
	coupons Repository
	catalog CategoryLookup
	history OrderHistory
	metrics *Metrics
	now     func() time.Time
}

// NewValidator creates a Validator. history may be nil, in which case the
// first-order-only flag is not enforced. metrics may be nil.
func NewValidator(coupons Repository, catalog CategoryLookup, history OrderHistory, metrics *Metrics) *Validator {
	return &Validator{
		coupons: coupons,
		catalog: catalog,
		history: history,
		metrics: metrics,
		now:     time.Now,
	}
}

// Validate resolves code and runs the eligibility checks in order, stopping
// at the first failure:
//
//  1. the coupon exists and is active
//  2. now is within [StartDate, EndDate]
//  3. the global usage limit is not exhausted
//  4. the user has uses left (only when userID is set)
//  5. the user has no completed orders (first-order-only coupons)
//  6. the subtotal reaches the minimum order amount
//  7. the items satisfy the product and category rules
func (v *Validator) Validate(ctx context.Context, code string, userID *int64, oc OrderContext) (*Coupon, error) {
	c, err := v.validate(ctx, NormalizeCode(code), userID, oc)
	v.metrics.recordValidation(ctx, err)

	lg := zctx.From(ctx).With(zap.String("code", NormalizeCode(code)))
	var re *RejectionError
	switch {
	case errors.As(err, &re):
		lg.Debug("Coupon rejected", zap.String("reason", string(re.Reason)))
	case err != nil:
		lg.Error("Coupon validation failed", zap.Error(err))
	}
	return c, err
}

func (v *Validator) validate(ctx context.Context, code string, userID *int64, oc OrderContext) (*Coupon, error) {
	if err := checkInput(code, oc); err != nil {
		return nil, err
	}

	c, err := v.coupons.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, reject(ReasonNotFound, "coupon %q not found", code)
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}
	if !c.IsActive {
		return nil, reject(ReasonNotFound, "coupon %q not found", code)
	}

	if err := v.check(ctx, c, userID, oc, newCatalogLoader(v.catalog, oc.Items)); err != nil {
		return nil, err
	}
	return c, nil
}

func checkInput(code string, oc OrderContext) error {
	switch {
	case code == "":
		return reject(ReasonInputInvalid, "coupon code is required")
	case oc.Subtotal.IsNegative():
		return reject(ReasonInputInvalid, "subtotal must not be negative")
	case oc.ShippingFee.IsNegative():
		return reject(ReasonInputInvalid, "shipping fee must not be negative")
	case len(oc.Items) == 0:
		return reject(ReasonInputInvalid, "items are required")
	}
	for _, it := range oc.Items {
		if it.Quantity < 1 {
			return reject(ReasonInputInvalid, "quantity must be at least 1 for product %d", it.ProductID)
		}
	}
	return nil
}

// check runs the checks after lookup against an already resolved coupon.
// Discovery shares it so both paths report identical reasons.
func (v *Validator) check(ctx context.Context, c *Coupon, userID *int64, oc OrderContext, catalog *catalogLoader) error {
	now := v.now()
	if c.StartDate != nil && now.Before(*c.StartDate) {
		return reject(ReasonNotYetValid, "coupon %q is valid from %s", c.Code, c.StartDate.Format(time.RFC3339))
	}
	if c.EndDate != nil && now.After(*c.EndDate) {
		return reject(ReasonExpired, "coupon %q expired at %s", c.Code, c.EndDate.Format(time.RFC3339))
	}

	if c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit {
		return reject(ReasonUsageLimitReached, "coupon %q usage limit reached", c.Code)
	}

	if userID != nil && c.UsageLimitPerUser > 0 {
		used, err := v.coupons.CountUserApplications(ctx, *userID, c.ID)
		if err != nil {
			return errors.Wrap(err, "count user applications")
		}
		if used >= c.UsageLimitPerUser {
			return reject(ReasonUserUsageLimitReached, "coupon %q already used %d of %d times", c.Code, used, c.UsageLimitPerUser)
		}
	}

	if c.FirstOrderOnly && userID != nil && v.history != nil {
		orders, err := v.history.CountCompletedOrders(ctx, *userID)
		if err != nil {
			return errors.Wrap(err, "count completed orders")
		}
		if orders > 0 {
			return reject(ReasonFirstOrderOnly, "coupon %q is valid for the first order only", c.Code)
		}
	}

	if c.MinOrderAmount != nil && oc.Subtotal.LessThan(*c.MinOrderAmount) {
		return reject(ReasonBelowMinimumOrder, "coupon %q requires a subtotal of at least %s", c.Code, c.MinOrderAmount.StringFixed(2))
	}

	var categories map[int64][]int64
	if c.HasCategoryRules() {
		var err error
		if categories, err = catalog.load(ctx); err != nil {
			return err
		}
	}
	if !Matches(c, oc.Items, categories) {
		return reject(ReasonNotApplicableToItems, "coupon %q does not apply to the items in the order", c.Code)
	}

	return nil
}

// DiscountData builds the snapshot recorded when c is applied with res.
func (v *Validator) DiscountData(ctx context.Context, c *Coupon, oc OrderContext, res DiscountResult) (DiscountData, error) {
	var categories map[int64][]int64
	if len(c.ApplicableCategories) > 0 {
		var err error
		if categories, err = newCatalogLoader(v.catalog, oc.Items).load(ctx); err != nil {
			return DiscountData{}, err
		}
	}
	return NewDiscountData(c, oc, res, QualifyingItems(c, oc.Items, categories)), nil
}

// catalogLoader fetches product categories at most once per order context.
type catalogLoader struct {
	lookup CategoryLookup
	items  []LineItem
	loaded bool
	result map[int64][]int64
}

func newCatalogLoader(lookup CategoryLookup, items []LineItem) *catalogLoader {
	return &catalogLoader{lookup: lookup, items: items}
}

func (l *catalogLoader) load(ctx context.Context) (map[int64][]int64, error) {
	if l.loaded {
		return l.result, nil
	}
	ids := make([]int64, 0, len(l.items))
	seen := make(idSet, len(l.items))
	for _, it := range l.items {
		if !seen.has(it.ProductID) {
			seen[it.ProductID] = struct{}{}
			ids = append(ids, it.ProductID)
		}
	}
	m, err := l.lookup.CategoriesForProducts(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "lookup product categories")
	}
	l.loaded, l.result = true, m
	return m, nil
}
