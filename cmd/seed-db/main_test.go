package main

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/coupon-engine/internal/domain/product"
)

type memCatalog struct {
	categories map[int64]string
	products   map[int64]product.Product
	synced     bool
	upsertErr  error
}

func newMemCatalog() *memCatalog {
	return &memCatalog{categories: map[int64]string{}, products: map[int64]product.Product{}}
}

func (m *memCatalog) UpsertCategory(_ context.Context, id int64, name string) error {
	m.categories[id] = name
	return nil
}

func (m *memCatalog) Upsert(_ context.Context, p product.Product) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.products[p.ID] = p
	return nil
}

func (m *memCatalog) SyncSequences(context.Context) error {
	m.synced = true
	return nil
}

type recordingCache struct {
	ids []int64
	err error
}

func (r *recordingCache) Invalidate(_ context.Context, ids ...int64) error {
	r.ids = append(r.ids, ids...)
	return r.err
}

func TestSeedCatalog_InvalidatesSeededProducts(t *testing.T) {
	repo := newMemCatalog()
	cache := &recordingCache{}

	require.NoError(t, seedCatalog(context.Background(), repo, cache))

	assert.Len(t, repo.categories, len(categories))
	assert.Len(t, repo.products, len(products))
	assert.True(t, repo.synced)

	want := make([]int64, 0, len(products))
	for _, p := range products {
		want = append(want, p.ID)
	}
	assert.Equal(t, want, cache.ids)
}

func TestSeedCatalog_WithoutCache(t *testing.T) {
	repo := newMemCatalog()
	require.NoError(t, seedCatalog(context.Background(), repo, nil))
	assert.Len(t, repo.products, len(products))
}

func TestSeedCatalog_Errors(t *testing.T) {
	t.Run("invalidate", func(t *testing.T) {
		err := seedCatalog(context.Background(), newMemCatalog(), &recordingCache{err: errors.New("redis down")})
		require.ErrorContains(t, err, "invalidate category cache")
	})
	t.Run("upsert skips invalidation", func(t *testing.T) {
		repo := newMemCatalog()
		repo.upsertErr = errors.New("boom")
		cache := &recordingCache{}
		require.Error(t, seedCatalog(context.Background(), repo, cache))
		assert.Empty(t, cache.ids)
	})
}
