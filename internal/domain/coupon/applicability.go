package coupon

type idSet map[int64]struct{}

func newIDSet(ids []int64) idSet {
	s := make(idSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s idSet) has(id int64) bool {
	_, ok := s[id]
	return ok
}

func (s idSet) hasAny(ids []int64) bool {
	for _, id := range ids {
		if s.has(id) {
			return true
		}
	}
	return false
}

// Matches reports whether items satisfy the product and category rules of c.
// catalog maps product id to its category ids and may be nil when c has no
// category rules.
//
// Exclusions reject the whole order if any item hits them. Whitelists need
// at least one qualifying item. A nil or empty list means no restriction.
func Matches(c *Coupon, items []LineItem, catalog map[int64][]int64) bool {
	excludedProducts := newIDSet(c.ExcludedProducts)
	excludedCategories := newIDSet(c.ExcludedCategories)
	for _, it := range items {
		if excludedProducts.has(it.ProductID) {
			return false
		}
		if excludedCategories.hasAny(catalog[it.ProductID]) {
			return false
		}
	}

	if len(c.ApplicableProducts) > 0 {
		allowed := newIDSet(c.ApplicableProducts)
		if !anyItem(items, func(it LineItem) bool { return allowed.has(it.ProductID) }) {
			return false
		}
	}

	if len(c.ApplicableCategories) > 0 {
		allowed := newIDSet(c.ApplicableCategories)
		if !anyItem(items, func(it LineItem) bool { return allowed.hasAny(catalog[it.ProductID]) }) {
			return false
		}
	}

	return true
}

// QualifyingItems returns the items that pass the whitelists of c. An item
// qualifies when it is listed by product or belongs to a listed category, so
// every order accepted by Matches has at least one qualifying item. Without
// whitelists every item qualifies.
func QualifyingItems(c *Coupon, items []LineItem, catalog map[int64][]int64) []LineItem {
	products := newIDSet(c.ApplicableProducts)
	categories := newIDSet(c.ApplicableCategories)
	if len(products) == 0 && len(categories) == 0 {
		return append(make([]LineItem, 0, len(items)), items...)
	}

	out := make([]LineItem, 0, len(items))
	for _, it := range items {
		if products.has(it.ProductID) || categories.hasAny(catalog[it.ProductID]) {
			out = append(out, it)
		}
	}
	return out
}

func anyItem(items []LineItem, fn func(LineItem) bool) bool {
	for _, it := range items {
		if fn(it) {
			return true
		}
	}
	return false
}
