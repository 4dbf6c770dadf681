package coupon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatches(t *testing.T) {
	catalog := map[int64][]int64{
		1: {5},
		2: {9},
		3: {5, 9},
	}

	tests := []struct {
		name   string
		coupon Coupon
		items  []LineItem
		want   bool
	}{
		{
			name:   "no restrictions",
			coupon: Coupon{},
			items:  []LineItem{item(1, 1, "10")},
			want:   true,
		},
		{
			name:   "empty lists mean no restriction",
			coupon: Coupon{ApplicableProducts: []int64{}, ApplicableCategories: []int64{}},
			items:  []LineItem{item(2, 1, "10")},
			want:   true,
		},
		{
			name:   "category whitelist needs at least one item",
			coupon: Coupon{ApplicableCategories: []int64{5}},
			items:  []LineItem{item(1, 1, "10"), item(2, 1, "10")},
			want:   true,
		},
		{
			name:   "category whitelist without qualifying item",
			coupon: Coupon{ApplicableCategories: []int64{5}},
			items:  []LineItem{item(2, 1, "10")},
			want:   false,
		},
		{
			name:   "product whitelist hit",
			coupon: Coupon{ApplicableProducts: []int64{2}},
			items:  []LineItem{item(1, 1, "10"), item(2, 1, "10")},
			want:   true,
		},
		{
			name:   "product whitelist miss",
			coupon: Coupon{ApplicableProducts: []int64{7}},
			items:  []LineItem{item(1, 1, "10")},
			want:   false,
		},
		{
			name:   "excluded product anywhere fails",
			coupon: Coupon{ExcludedProducts: []int64{2}},
			items:  []LineItem{item(1, 1, "10"), item(2, 1, "10")},
			want:   false,
		},
		{
			name:   "excluded category anywhere fails",
			coupon: Coupon{ExcludedCategories: []int64{9}},
			items:  []LineItem{item(1, 1, "10"), item(3, 1, "10")},
			want:   false,
		},
		{
			name:   "exclusion wins over whitelist",
			coupon: Coupon{ApplicableCategories: []int64{5}, ExcludedProducts: []int64{3}},
			items:  []LineItem{item(1, 1, "10"), item(3, 1, "10")},
			want:   false,
		},
		{
			name:   "product without categories is not in whitelist",
			coupon: Coupon{ApplicableCategories: []int64{5}},
			items:  []LineItem{item(42, 1, "10")},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Matches(&tt.coupon, tt.items, catalog))
		})
	}
}

func TestQualifyingItems(t *testing.T) {
	catalog := map[int64][]int64{1: {5}, 2: {9}}
	items := []LineItem{item(1, 2, "10"), item(2, 1, "20")}

	got := QualifyingItems(&Coupon{ApplicableCategories: []int64{5}}, items, catalog)
	assert.Equal(t, []LineItem{items[0]}, got)

	got = QualifyingItems(&Coupon{ApplicableProducts: []int64{2}}, items, catalog)
	assert.Equal(t, []LineItem{items[1]}, got)

	got = QualifyingItems(&Coupon{}, items, nil)
	assert.Equal(t, items, got)
}

func TestQualifyingItemsAgreesWithMatches(t *testing.T) {
	c := &Coupon{ApplicableProducts: []int64{1}, ApplicableCategories: []int64{5}}
	catalog := map[int64][]int64{1: {9}, 2: {5}, 3: {7}}

	for _, tt := range []struct {
		name  string
		items []LineItem
		want  []int64
	}{
		{"product and category on different items", []LineItem{item(1, 1, "10"), item(2, 1, "20")}, []int64{1, 2}},
		{"unlisted item dropped", []LineItem{item(1, 1, "10"), item(2, 1, "20"), item(3, 1, "5")}, []int64{1, 2}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			require.True(t, Matches(c, tt.items, catalog))

			got := QualifyingItems(c, tt.items, catalog)
			ids := make([]int64, 0, len(got))
			for _, it := range got {
				ids = append(ids, it.ProductID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}
