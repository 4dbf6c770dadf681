// Command seed-db applies migrations and loads demo catalog, cart and coupon
// fixtures.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/coupon-engine/internal/domain/coupon"
	"github.com/xenking/coupon-engine/internal/domain/product"
	"github.com/xenking/coupon-engine/internal/storage/postgres"
	"github.com/xenking/coupon-engine/internal/storage/rediscache"
)

type category struct {
	ID   int64
	Name string
}

var categories = []category{
	{ID: 1, Name: "Coffee"},
	{ID: 2, Name: "Bakery"},
	{ID: 3, Name: "Merchandise"},
}

var products = []product.Product{
	{ID: 1, Name: "Flat White", Price: decimal.RequireFromString("4.50"), CategoryIDs: []int64{1}},
	{ID: 2, Name: "Cold Brew", Price: decimal.RequireFromString("5.25"), CategoryIDs: []int64{1}},
	{ID: 3, Name: "Almond Croissant", Price: decimal.RequireFromString("3.80"), CategoryIDs: []int64{2}},
	{ID: 4, Name: "Sourdough Loaf", Price: decimal.RequireFromString("7.00"), CategoryIDs: []int64{2}},
	{ID: 5, Name: "Ceramic Mug", Price: decimal.RequireFromString("18.00"), CategoryIDs: []int64{3}},
	{ID: 6, Name: "Gift Box", Price: decimal.RequireFromString("45.00"), CategoryIDs: []int64{1, 2, 3}},
}

var carts = map[int64][]coupon.LineItem{
	1: {
		{ProductID: 1, Quantity: 2, UnitPrice: decimal.RequireFromString("4.50")},
		{ProductID: 3, Quantity: 1, UnitPrice: decimal.RequireFromString("3.80")},
	},
	2: {
		{ProductID: 6, Quantity: 2, UnitPrice: decimal.RequireFromString("45.00")},
	},
}

func ptr[T any](v T) *T { return &v }

func coupons(now time.Time) []coupon.Coupon {
	return []coupon.Coupon{
		{
			Code:              "WELCOME10",
			Name:              "Welcome discount",
			Description:       "10% off your first order, up to 15",
			Type:              coupon.TypePercent,
			Value:             decimal.NewFromInt(10),
			MaxDiscountAmount: ptr(decimal.NewFromInt(15)),
			UsageLimitPerUser: 1,
			FirstOrderOnly:    true,
			IsActive:          true,
		},
		{
			Code:                 "BAKERY5",
			Name:                 "Bakery treat",
			Description:          "5 off bakery orders over 20",
			Type:                 coupon.TypeFixed,
			Value:                decimal.NewFromInt(5),
			MinOrderAmount:       ptr(decimal.NewFromInt(20)),
			UsageLimit:           ptr(500),
			UsageLimitPerUser:    3,
			ApplicableCategories: []int64{2},
			IsActive:             true,
		},
		{
			Code:              "SHIPFREE",
			Name:              "Free shipping",
			Description:       "Free shipping on orders over 30",
			Type:              coupon.TypeFreeShipping,
			MinOrderAmount:    ptr(decimal.NewFromInt(30)),
			UsageLimitPerUser: 0,
			StartDate:         ptr(now.AddDate(0, 0, -1)),
			EndDate:           ptr(now.AddDate(0, 3, 0)),
			IsActive:          true,
		},
		{
			Code:               "NOMERCH20",
			Name:               "Twenty percent off",
			Description:        "20% off everything except merchandise",
			Type:               coupon.TypePercent,
			Value:              decimal.NewFromInt(20),
			ExcludedCategories: []int64{3},
			UsageLimitPerUser:  1,
			IsActive:           true,
		},
	}
}

func main() {
	var (
		databaseURL string
		redisOpts   rediscache.Options
	)
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&redisOpts.Addr, "redis-addr", os.Getenv("REDIS_ADDR"), "Redis address whose category cache is invalidated, empty to skip")
	flag.StringVar(&redisOpts.Password, "redis-password", "", "Redis password")
	flag.IntVar(&redisOpts.DB, "redis-db", 0, "Redis database number")
	flag.Parse()

	lg, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, redisOpts); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed")
}

// catalogWriter is the subset of the product repository used for seeding.
type catalogWriter interface {
	UpsertCategory(ctx context.Context, id int64, name string) error
	Upsert(ctx context.Context, p product.Product) error
	SyncSequences(ctx context.Context) error
}

// cacheInvalidator drops cached category memberships.
type cacheInvalidator interface {
	Invalidate(ctx context.Context, ids ...int64) error
}

// seedCatalog upserts the fixture catalog. When cache is set, the cached
// categories of every seeded product are dropped so the API sees the new
// membership immediately.
func seedCatalog(ctx context.Context, repo catalogWriter, cache cacheInvalidator) error {
	for _, c := range categories {
		if err := repo.UpsertCategory(ctx, c.ID, c.Name); err != nil {
			return errors.Wrapf(err, "upsert category %d", c.ID)
		}
	}
	ids := make([]int64, 0, len(products))
	for _, p := range products {
		if err := repo.Upsert(ctx, p); err != nil {
			return errors.Wrapf(err, "upsert product %d", p.ID)
		}
		ids = append(ids, p.ID)
	}
	if err := repo.SyncSequences(ctx); err != nil {
		return errors.Wrap(err, "sync sequences")
	}
	if cache != nil {
		if err := cache.Invalidate(ctx, ids...); err != nil {
			return errors.Wrap(err, "invalidate category cache")
		}
	}
	return nil
}

func run(ctx context.Context, lg *zap.Logger, databaseURL string, redisOpts rediscache.Options) error {
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	productRepo := postgres.NewProductRepository(pool)
	var cache cacheInvalidator
	if redisOpts.Addr != "" {
		client, err := rediscache.NewClient(ctx, redisOpts)
		if err != nil {
			return errors.Wrap(err, "connect to redis")
		}
		defer func() { _ = client.Close() }()
		cache = rediscache.NewCategoryCache(client, productRepo, 0)
	}
	if err := seedCatalog(ctx, productRepo, cache); err != nil {
		return err
	}
	lg.Info("Catalog seeded",
		zap.Int("categories", len(categories)),
		zap.Int("products", len(products)),
		zap.Bool("cache_invalidated", cache != nil),
	)

	cartRepo := postgres.NewCartRepository(pool)
	for userID, items := range carts {
		if err := cartRepo.ReplaceActiveCart(ctx, userID, items); err != nil {
			return errors.Wrapf(err, "seed cart of user %d", userID)
		}
	}
	lg.Info("Carts seeded", zap.Int("carts", len(carts)))

	admin := coupon.NewAdmin(postgres.NewCouponRepository(pool))
	for _, c := range coupons(time.Now()) {
		created, err := admin.Create(ctx, c)
		switch {
		case errors.Is(err, coupon.ErrCodeTaken):
			lg.Info("Coupon exists, skipping", zap.String("code", c.Code))
		case err != nil:
			return errors.Wrapf(err, "create coupon %s", c.Code)
		default:
			lg.Info("Coupon created", zap.String("code", created.Code), zap.Int64("id", created.ID))
		}
	}
	return nil
}
