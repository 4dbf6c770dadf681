package coupon

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func codes(coupons []Coupon) []string {
	out := make([]string, len(coupons))
	for i, c := range coupons {
		out[i] = c.Code
	}
	return out
}

func TestDiscovery_ListValidForCart(t *testing.T) {
	past := fixedNow.Add(-time.Hour)

	valid := activeCoupon("VALID", TypePercent, "10")
	valid.ID = 1
	expired := activeCoupon("EXPIRED", TypePercent, "10")
	expired.ID = 2
	expired.EndDate = &past
	tooBig := activeCoupon("MIN100", TypeFixed, "5")
	tooBig.ID = 3
	tooBig.MinOrderAmount = decPtr("100")
	ship := activeCoupon("SHIP", TypeFreeShipping, "0")
	ship.ID = 4
	books := activeCoupon("BOOKS", TypeFixed, "2")
	books.ID = 5
	books.ApplicableCategories = []int64{5}
	used := activeCoupon("USED", TypeFixed, "2")
	used.ID = 6
	inactive := activeCoupon("OFF", TypeFixed, "2")
	inactive.ID = 7
	inactive.IsActive = false

	repo := newMemRepo(valid, expired, tooBig, ship, books, used, inactive)
	repo.orderUser["old-order"] = 42
	repo.records = append(repo.records, OrderCouponRecord{OrderID: "old-order", CouponID: 6})

	catalog := &mockCatalog{categories: map[int64][]int64{1: {5}}}
	carts := &mockCarts{carts: map[int64]*Cart{
		42: {ID: 1, UserID: 42, Items: []LineItem{item(1, 2, "20")}},
	}}

	d := NewDiscovery(carts, repo, newTestValidator(repo, catalog, nil))

	got, err := d.ListValidForCart(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, []string{"VALID", "SHIP", "BOOKS"}, codes(got))
	assert.Equal(t, 1, catalog.calls, "categories are loaded once per cart")
}

func TestDiscovery_NoActiveCart(t *testing.T) {
	repo := newMemRepo(activeCoupon("VALID", TypePercent, "10"))
	d := NewDiscovery(&mockCarts{}, repo, newTestValidator(repo, nil, nil))

	_, err := d.ListValidForCart(context.Background(), 1)
	require.ErrorIs(t, err, ErrNoActiveCart)
}

func TestDiscovery_EmptyCart(t *testing.T) {
	repo := newMemRepo(activeCoupon("VALID", TypePercent, "10"))
	carts := &mockCarts{carts: map[int64]*Cart{1: {ID: 1, UserID: 1}}}
	d := NewDiscovery(carts, repo, newTestValidator(repo, nil, nil))

	got, err := d.ListValidForCart(context.Background(), 1)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestDiscovery_InfrastructureErrorsPropagate(t *testing.T) {
	c := activeCoupon("VALID", TypePercent, "10")
	carts := &mockCarts{carts: map[int64]*Cart{1: {ID: 1, UserID: 1, Items: []LineItem{item(1, 1, "10")}}}}
	ctx := context.Background()

	repo := newMemRepo(c)
	repo.countErr = errors.New("pool exhausted")
	d := NewDiscovery(carts, repo, newTestValidator(repo, nil, nil))
	_, err := d.ListValidForCart(ctx, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "count user applications")

	repo = newMemRepo(c)
	d = NewDiscovery(&mockCarts{err: errors.New("cart store down")}, repo, newTestValidator(repo, nil, nil))
	_, err = d.ListValidForCart(ctx, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load active cart")
}
