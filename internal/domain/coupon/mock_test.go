package coupon

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type mockTx struct {
	committed  bool
	rolledBack bool
}

func (t *mockTx) Commit(context.Context) error {
	t.committed = true
	return nil
}

func (t *mockTx) Rollback(context.Context) error {
	t.rolledBack = true
	return nil
}

// memRepo is an in-memory Repository. Orders map to users through orderUser.
type memRepo struct {
	mu        sync.Mutex
	coupons   map[int64]*Coupon
	records   []OrderCouponRecord
	orderUser map[string]int64
	nextID    int64

	findErr  error
	countErr error
}

func newMemRepo(coupons ...Coupon) *memRepo {
	r := &memRepo{
		coupons:   make(map[int64]*Coupon),
		orderUser: make(map[string]int64),
	}
	for i := range coupons {
		c := coupons[i]
		if c.ID == 0 {
			r.nextID++
			c.ID = r.nextID
		} else if c.ID > r.nextID {
			r.nextID = c.ID
		}
		r.coupons[c.ID] = &c
	}
	return r
}

func (r *memRepo) FindByCode(_ context.Context, code string) (*Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	for _, c := range r.coupons {
		if c.Code == code {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *memRepo) FindByID(_ context.Context, id int64) (*Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.coupons[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *memRepo) ListActive(_ context.Context) ([]Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	var out []Coupon
	for _, c := range r.coupons {
		if c.IsActive {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memRepo) CountUserApplications(_ context.Context, userID, couponID int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.countErr != nil {
		return 0, r.countErr
	}
	n := 0
	for _, rec := range r.records {
		if rec.CouponID == couponID && r.orderUser[rec.OrderID] == userID {
			n++
		}
	}
	return n, nil
}

func (r *memRepo) CreateOrderCoupon(_ context.Context, _ Tx, rec *OrderCouponRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.records {
		if existing.OrderID == rec.OrderID && existing.CouponID == rec.CouponID {
			return reject(ReasonAlreadyApplied, "coupon %d already applied to order %s", rec.CouponID, rec.OrderID)
		}
	}
	rec.ID = int64(len(r.records) + 1)
	rec.CreatedAt = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	r.records = append(r.records, *rec)
	return nil
}

func (r *memRepo) IncrementUsedCount(_ context.Context, _ Tx, id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.coupons[id]
	if !ok {
		return false, fmt.Errorf("coupon %d missing", id)
	}
	if c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit {
		return false, nil
	}
	c.UsedCount++
	return true, nil
}

func (r *memRepo) ListOrderCoupons(_ context.Context, orderID string) ([]OrderCouponRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []OrderCouponRecord
	for _, rec := range r.records {
		if rec.OrderID == orderID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *memRepo) Create(_ context.Context, c *Coupon) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.coupons {
		if existing.Code == c.Code {
			return ErrCodeTaken
		}
	}
	r.nextID++
	c.ID = r.nextID
	cp := *c
	r.coupons[c.ID] = &cp
	return nil
}

func (r *memRepo) SetActive(_ context.Context, id int64, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.coupons[id]
	if !ok {
		return ErrNotFound
	}
	c.IsActive = active
	return nil
}

func (r *memRepo) usedCount(id int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.coupons[id].UsedCount
}

type mockCatalog struct {
	categories map[int64][]int64
	err        error
	calls      int
}

func (m *mockCatalog) CategoriesForProducts(_ context.Context, ids []int64) (map[int64][]int64, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	out := make(map[int64][]int64, len(ids))
	for _, id := range ids {
		if cats, ok := m.categories[id]; ok {
			out[id] = cats
		}
	}
	return out, nil
}

type mockHistory struct {
	orders map[int64]int
	err    error
}

func (m *mockHistory) CountCompletedOrders(_ context.Context, userID int64) (int, error) {
	return m.orders[userID], m.err
}

type mockCarts struct {
	carts map[int64]*Cart
	err   error
}

func (m *mockCarts) ActiveCart(_ context.Context, userID int64) (*Cart, error) {
	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.carts[userID]
	if !ok {
		return nil, ErrNoActiveCart
	}
	return c, nil
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func intPtr(n int) *int {
	return &n
}

func int64Ptr(n int64) *int64 {
	return &n
}

func item(productID int64, qty int, price string) LineItem {
	return LineItem{ProductID: productID, Quantity: qty, UnitPrice: dec(price)}
}

func orderContext(shipping string, items ...LineItem) OrderContext {
	return OrderContext{Items: items, Subtotal: SubtotalOf(items), ShippingFee: dec(shipping)}
}
