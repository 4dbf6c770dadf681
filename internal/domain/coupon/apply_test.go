package coupon

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDiscountData() DiscountData {
	return DiscountData{
		CouponCode:       "save10",
		DiscountType:     TypePercent,
		DiscountValue:    dec("10"),
		DiscountAmount:   dec("3.33"),
		OrderSubtotal:    dec("33.30"),
		ShippingFee:      dec("4.99"),
		ShippingDiscount: dec("0"),
		AppliedProducts: []AppliedProduct{
			{ProductID: 1, Quantity: 3, Price: dec("11.10")},
		},
		ConditionsMet: &ConditionsMet{
			MinOrderAmount:     decPtr("20.00"),
			ApplicableProducts: []int64{1},
		},
	}
}

func TestDiscountData_Normalize(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*DiscountData)
		wantErr bool
	}{
		{name: "valid", modify: func(*DiscountData) {}},
		{name: "missing code", modify: func(d *DiscountData) { d.CouponCode = " " }, wantErr: true},
		{name: "unknown type", modify: func(d *DiscountData) { d.DiscountType = "bogo" }, wantErr: true},
		{name: "negative amount", modify: func(d *DiscountData) { d.DiscountAmount = dec("-1") }, wantErr: true},
		{name: "negative subtotal", modify: func(d *DiscountData) { d.OrderSubtotal = dec("-0.01") }, wantErr: true},
		{name: "negative shipping discount", modify: func(d *DiscountData) { d.ShippingDiscount = dec("-5") }, wantErr: true},
		{
			name:    "zero quantity applied product",
			modify:  func(d *DiscountData) { d.AppliedProducts[0].Quantity = 0 },
			wantErr: true,
		},
		{
			name:    "negative applied price",
			modify:  func(d *DiscountData) { d.AppliedProducts[0].Price = dec("-1") },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := validDiscountData()
			tt.modify(&d)

			got, err := d.Normalize()
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidDiscountData)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "SAVE10", got.CouponCode)
		})
	}
}

func TestDiscountData_NormalizeDefaults(t *testing.T) {
	d := validDiscountData()
	d.AppliedProducts = nil
	d.ConditionsMet = nil

	got, err := d.Normalize()
	require.NoError(t, err)
	assert.NotNil(t, got.AppliedProducts)
	assert.Empty(t, got.AppliedProducts)
	require.NotNil(t, got.ConditionsMet)
	assert.Nil(t, got.ConditionsMet.MinOrderAmount)
	assert.Equal(t, []int64{}, got.ConditionsMet.ApplicableProducts)
	assert.Equal(t, []int64{}, got.ConditionsMet.ApplicableCategories)
}

func TestApplicator_Apply(t *testing.T) {
	c := activeCoupon("SAVE10", TypePercent, "10")
	c.ID = 1
	repo := newMemRepo(c)
	a := NewApplicator(repo, nil)

	rec, err := a.Apply(context.Background(), &mockTx{}, "order-1", 1, validDiscountData())
	require.NoError(t, err)
	assert.NotZero(t, rec.ID)
	assert.Equal(t, "order-1", rec.OrderID)
	assert.Equal(t, "SAVE10", rec.CouponCode)
	assert.Equal(t, 1, repo.usedCount(1))
}

func TestApplicator_ApplyTwiceSameOrder(t *testing.T) {
	c := activeCoupon("ONCE", TypeFixed, "5")
	c.ID = 1
	repo := newMemRepo(c)
	a := NewApplicator(repo, nil)
	ctx := context.Background()

	_, err := a.Apply(ctx, &mockTx{}, "order-1", 1, validDiscountData())
	require.NoError(t, err)

	_, err = a.Apply(ctx, &mockTx{}, "order-1", 1, validDiscountData())
	require.ErrorIs(t, err, ErrAlreadyApplied)
	assert.Equal(t, 1, repo.usedCount(1))
}

func TestApplicator_UsageLimitRace(t *testing.T) {
	// Two checkouts validated while one use was left; the second apply must fail.
	c := activeCoupon("LAST", TypeFixed, "5")
	c.ID = 1
	c.UsageLimit = intPtr(1)
	repo := newMemRepo(c)
	a := NewApplicator(repo, nil)
	ctx := context.Background()

	_, err := a.Apply(ctx, &mockTx{}, "order-1", 1, validDiscountData())
	require.NoError(t, err)

	_, err = a.Apply(ctx, &mockTx{}, "order-2", 1, validDiscountData())
	require.ErrorIs(t, err, ErrUsageLimitReached)
	assert.Equal(t, 1, repo.usedCount(1))
}

func TestApplicator_InvalidData(t *testing.T) {
	repo := newMemRepo(activeCoupon("X", TypeFixed, "5"))
	a := NewApplicator(repo, nil)

	d := validDiscountData()
	d.DiscountType = ""
	_, err := a.Apply(context.Background(), &mockTx{}, "order-1", 1, d)
	require.ErrorIs(t, err, ErrInvalidDiscountData)

	_, err = a.Apply(context.Background(), &mockTx{}, "", 1, validDiscountData())
	require.ErrorIs(t, err, ErrInvalidDiscountData)
	assert.Empty(t, repo.records)
}

type failingIncrementRepo struct {
	*memRepo
}

func (r failingIncrementRepo) IncrementUsedCount(context.Context, Tx, int64) (bool, error) {
	return false, errors.New("deadlock detected")
}

func TestApplicator_PersistenceErrorPropagates(t *testing.T) {
	repo := failingIncrementRepo{memRepo: newMemRepo(activeCoupon("X", TypeFixed, "5"))}
	a := NewApplicator(repo, nil)

	_, err := a.Apply(context.Background(), &mockTx{}, "order-1", 1, validDiscountData())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "increment used count")
	_, isRejection := ReasonOf(err)
	assert.False(t, isRejection)
}

func TestApplicator_RoundTrip(t *testing.T) {
	c := activeCoupon("SAVE10", TypePercent, "10")
	c.ID = 1
	repo := newMemRepo(c)
	a := NewApplicator(repo, nil)
	ctx := context.Background()

	in := validDiscountData()
	rec, err := a.Apply(ctx, &mockTx{}, "order-9", 1, in)
	require.NoError(t, err)

	got, err := repo.ListOrderCoupons(ctx, "order-9")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, *rec, got[0])

	assert.Equal(t, "3.33", got[0].DiscountAmount.String())
	assert.Equal(t, "33.3", got[0].OrderSubtotal.String())
	assert.Equal(t, "4.99", got[0].ShippingFee.String())
	assert.Equal(t, in.AppliedProducts, got[0].AppliedProducts)
	assert.Equal(t, in.ConditionsMet.MinOrderAmount, got[0].ConditionsMet.MinOrderAmount)
}
