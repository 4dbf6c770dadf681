// Package rediscache caches catalog lookups in Redis.
package rediscache

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/coupon-engine/internal/domain/coupon"
)

const keyPrefix = "coupon:categories:"

var _ coupon.CategoryLookup = (*CategoryCache)(nil)

// CategoryCache is a read-through cache of product category memberships in
// front of another CategoryLookup. Redis failures fall back to next.
type CategoryCache struct {
	client redis.UniversalClient
	next   coupon.CategoryLookup
	ttl    time.Duration
}

// NewCategoryCache wraps next with a Redis cache whose entries expire after ttl.
func NewCategoryCache(client redis.UniversalClient, next coupon.CategoryLookup, ttl time.Duration) *CategoryCache {
	return &CategoryCache{client: client, next: next, ttl: ttl}
}

func key(productID int64) string {
	return keyPrefix + strconv.FormatInt(productID, 10)
}

// CategoriesForProducts serves cached entries and loads the rest from next.
// Products without categories are cached as empty lists.
func (c *CategoryCache) CategoriesForProducts(ctx context.Context, ids []int64) (map[int64][]int64, error) {
	out := make(map[int64][]int64, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	missing, err := c.fromCache(ctx, ids, out)
	if err != nil {
		zctx.From(ctx).Warn("Category cache read failed", zap.Error(err))
		return c.next.CategoriesForProducts(ctx, ids)
	}
	if len(missing) == 0 {
		return out, nil
	}

	loaded, err := c.next.CategoriesForProducts(ctx, missing)
	if err != nil {
		return nil, err
	}
	for id, cats := range loaded {
		out[id] = cats
	}

	if err := c.store(ctx, missing, loaded); err != nil {
		zctx.From(ctx).Warn("Category cache write failed", zap.Error(err))
	}
	return out, nil
}

// fromCache fills out with cached entries and returns the ids not cached.
func (c *CategoryCache) fromCache(ctx context.Context, ids []int64, out map[int64][]int64) ([]int64, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = key(id)
	}

	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "mget")
	}

	var missing []int64
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			missing = append(missing, ids[i])
			continue
		}
		var cats []int64
		if err := json.Unmarshal([]byte(s), &cats); err != nil {
			missing = append(missing, ids[i])
			continue
		}
		if len(cats) > 0 {
			out[ids[i]] = cats
		}
	}
	return missing, nil
}

func (c *CategoryCache) store(ctx context.Context, ids []int64, loaded map[int64][]int64) error {
	pipe := c.client.Pipeline()
	for _, id := range ids {
		cats := loaded[id]
		if cats == nil {
			cats = []int64{}
		}
		data, err := json.Marshal(cats)
		if err != nil {
			return errors.Wrapf(err, "marshal categories of product %d", id)
		}
		pipe.Set(ctx, key(id), data, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "pipeline set")
	}
	return nil
}

// Invalidate drops cached entries for the given products.
func (c *CategoryCache) Invalidate(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = key(id)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return errors.Wrap(err, "del")
	}
	return nil
}
