package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/coupon-engine/internal/domain/coupon"
)

const (
	couponColumns = `id, code, name, description, type, value,
		min_order_amount, max_discount_amount, usage_limit, used_count, usage_limit_per_user,
		start_date, end_date, is_active, first_order_only,
		applicable_products, excluded_products, applicable_categories, excluded_categories,
		applicable_user_groups, created_by, created_at, updated_at`

	findCouponByCodeSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE UPPER(code) = UPPER($1)`

	findCouponByIDSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE id = $1`

	listActiveCouponsSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE is_active ORDER BY id`

	countUserApplicationsSQL = `SELECT COUNT(*) FROM order_coupons oc
		JOIN orders o ON o.id = oc.order_id
		WHERE o.user_id = $1 AND oc.coupon_id = $2`

	createOrderCouponSQL = `INSERT INTO order_coupons (order_id, coupon_id, user_coupon_id, coupon_code,
		discount_type, discount_value, discount_amount, order_subtotal, shipping_fee, shipping_discount,
		applied_products, conditions_met)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at`

	// The guard closes the race between concurrent checkouts that both
	// validated against the last remaining use.
	incrementUsedCountSQL = `UPDATE coupons SET used_count = used_count + 1, updated_at = NOW()
		WHERE id = $1 AND (usage_limit IS NULL OR used_count < usage_limit)`

	listOrderCouponsSQL = `SELECT id, order_id, coupon_id, user_coupon_id, coupon_code,
		discount_type, discount_value, discount_amount, order_subtotal, shipping_fee, shipping_discount,
		applied_products, conditions_met, created_at
		FROM order_coupons WHERE order_id = $1 ORDER BY id`

	createCouponSQL = `INSERT INTO coupons (code, name, description, type, value,
		min_order_amount, max_discount_amount, usage_limit, usage_limit_per_user,
		start_date, end_date, is_active, first_order_only,
		applicable_products, excluded_products, applicable_categories, excluded_categories,
		applicable_user_groups, created_by)
		VALUES (UPPER($1), $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		RETURNING id, code, created_at, updated_at`

	setCouponActiveSQL = `UPDATE coupons SET is_active = $2, updated_at = NOW() WHERE id = $1`

	couponCodeKey         = "coupons_code_key"
	orderCouponsUniqueKey = "order_coupons_order_id_coupon_id_key"
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up a coupon by its code (case-insensitive), active or not.
// Returns coupon.ErrNotFound when no coupon matches.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, findCouponByCodeSQL, code)
	if err != nil {
		return nil, errors.Wrapf(err, "find coupon by code %q", code)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, errors.Wrapf(err, "find coupon by code %q", code)
	}
	return &c, nil
}

// FindByID returns the coupon with the given id or coupon.ErrNotFound.
func (r *CouponRepository) FindByID(ctx context.Context, id int64) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, findCouponByIDSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "find coupon %d", id)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, errors.Wrapf(err, "find coupon %d", id)
	}
	return &c, nil
}

// ListActive returns all active coupons ordered by id.
func (r *CouponRepository) ListActive(ctx context.Context) ([]coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, listActiveCouponsSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list active coupons")
	}
	return pgx.CollectRows(rows, scanCoupon)
}

// CountUserApplications counts the orders of userID that used couponID.
func (r *CouponRepository) CountUserApplications(ctx context.Context, userID, couponID int64) (int, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, countUserApplicationsSQL, userID, couponID).Scan(&n); err != nil {
		return 0, errors.Wrapf(err, "count applications of coupon %d by user %d", couponID, userID)
	}
	return int(n), nil
}

// CreateOrderCoupon inserts the audit record within tx.
func (r *CouponRepository) CreateOrderCoupon(ctx context.Context, tx coupon.Tx, rec *coupon.OrderCouponRecord) error {
	ptx, err := txFrom(tx)
	if err != nil {
		return err
	}

	appliedJSON, err := json.Marshal(rec.AppliedProducts)
	if err != nil {
		return errors.Wrap(err, "marshal applied products")
	}
	conditionsJSON, err := json.Marshal(rec.ConditionsMet)
	if err != nil {
		return errors.Wrap(err, "marshal conditions met")
	}

	err = ptx.QueryRow(ctx, createOrderCouponSQL,
		rec.OrderID, rec.CouponID, rec.UserCouponID, rec.CouponCode,
		string(rec.DiscountType), rec.DiscountValue, rec.DiscountAmount, rec.OrderSubtotal,
		rec.ShippingFee, rec.ShippingDiscount, appliedJSON, conditionsJSON,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, orderCouponsUniqueKey) {
			return &coupon.RejectionError{
				Reason:  coupon.ReasonAlreadyApplied,
				Message: fmt.Sprintf("coupon %q already applied to order %s", rec.CouponCode, rec.OrderID),
			}
		}
		return errors.Wrapf(err, "create order coupon for order %s", rec.OrderID)
	}
	return nil
}

// IncrementUsedCount adds one use within tx. It reports false when the
// coupon's usage limit is already reached.
func (r *CouponRepository) IncrementUsedCount(ctx context.Context, tx coupon.Tx, id int64) (bool, error) {
	ptx, err := txFrom(tx)
	if err != nil {
		return false, err
	}

	tag, err := ptx.Exec(ctx, incrementUsedCountSQL, id)
	if err != nil {
		return false, errors.Wrapf(err, "increment used count of coupon %d", id)
	}
	return tag.RowsAffected() == 1, nil
}

// ListOrderCoupons returns the coupon applications recorded for an order.
func (r *CouponRepository) ListOrderCoupons(ctx context.Context, orderID string) ([]coupon.OrderCouponRecord, error) {
	rows, err := r.pool.Query(ctx, listOrderCouponsSQL, orderID)
	if err != nil {
		return nil, errors.Wrapf(err, "list coupons of order %s", orderID)
	}
	return pgx.CollectRows(rows, scanOrderCoupon)
}

// Create inserts a new coupon. Returns coupon.ErrCodeTaken when the code is
// already used by another coupon.
func (r *CouponRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	var usageLimit *int32
	if c.UsageLimit != nil {
		v := int32(*c.UsageLimit)
		usageLimit = &v
	}

	err := r.pool.QueryRow(ctx, createCouponSQL,
		c.Code, c.Name, c.Description, string(c.Type), c.Value,
		c.MinOrderAmount, c.MaxDiscountAmount, usageLimit, int32(c.UsageLimitPerUser),
		c.StartDate, c.EndDate, c.IsActive, c.FirstOrderOnly,
		c.ApplicableProducts, c.ExcludedProducts, c.ApplicableCategories, c.ExcludedCategories,
		c.ApplicableUserGroups, c.CreatedBy,
	).Scan(&c.ID, &c.Code, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, couponCodeKey) {
			return &coupon.RejectionError{
				Reason:  coupon.ReasonCodeTaken,
				Message: fmt.Sprintf("coupon code %q already exists", c.Code),
			}
		}
		return errors.Wrapf(err, "create coupon %q", c.Code)
	}
	return nil
}

// SetActive toggles the active flag. Returns coupon.ErrNotFound for an
// unknown id.
func (r *CouponRepository) SetActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.pool.Exec(ctx, setCouponActiveSQL, id, active)
	if err != nil {
		return errors.Wrapf(err, "set coupon %d active=%t", id, active)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c            coupon.Coupon
		typ          string
		value        decimal.Decimal
		usageLimit   *int32
		usedCount    int32
		perUserLimit int32
		startDate    *time.Time
		endDate      *time.Time
	)
	err := row.Scan(
		&c.ID, &c.Code, &c.Name, &c.Description, &typ, &value,
		&c.MinOrderAmount, &c.MaxDiscountAmount, &usageLimit, &usedCount, &perUserLimit,
		&startDate, &endDate, &c.IsActive, &c.FirstOrderOnly,
		&c.ApplicableProducts, &c.ExcludedProducts, &c.ApplicableCategories, &c.ExcludedCategories,
		&c.ApplicableUserGroups, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt,
	)
	c.Type = coupon.Type(typ)
	c.Value = value
	if usageLimit != nil {
		v := int(*usageLimit)
		c.UsageLimit = &v
	}
	c.UsedCount = int(usedCount)
	c.UsageLimitPerUser = int(perUserLimit)
	c.StartDate = startDate
	c.EndDate = endDate
	return c, err
}

func scanOrderCoupon(row pgx.CollectableRow) (coupon.OrderCouponRecord, error) {
	var (
		rec            coupon.OrderCouponRecord
		discountType   string
		appliedJSON    []byte
		conditionsJSON []byte
	)
	err := row.Scan(
		&rec.ID, &rec.OrderID, &rec.CouponID, &rec.UserCouponID, &rec.CouponCode,
		&discountType, &rec.DiscountValue, &rec.DiscountAmount, &rec.OrderSubtotal,
		&rec.ShippingFee, &rec.ShippingDiscount, &appliedJSON, &conditionsJSON, &rec.CreatedAt,
	)
	if err != nil {
		return rec, err
	}
	rec.DiscountType = coupon.Type(discountType)

	if err := json.Unmarshal(appliedJSON, &rec.AppliedProducts); err != nil {
		return rec, errors.Wrap(err, "unmarshal applied products")
	}
	if err := json.Unmarshal(conditionsJSON, &rec.ConditionsMet); err != nil {
		return rec, errors.Wrap(err, "unmarshal conditions met")
	}
	return rec, nil
}
