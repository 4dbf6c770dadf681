//go:build integration

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/xenking/coupon-engine/internal/domain/coupon"
	"github.com/xenking/coupon-engine/internal/domain/product"
	"github.com/xenking/coupon-engine/internal/storage/postgres"
	"github.com/xenking/coupon-engine/pkg/health"
)

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "coupon",
				"POSTGRES_PASSWORD": "coupon",
				"POSTGRES_DB":       "coupon",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	pool, err := postgres.NewPool(ctx, fmt.Sprintf("postgres://coupon:coupon@%s:%s/coupon?sslmode=disable", host, port.Port()))
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, postgres.RunMigrations(ctx, pool))
	return pool
}

type apiClient struct {
	t   *testing.T
	srv *httptest.Server
}

func (c apiClient) call(method, path, body string) (int, any) {
	c.t.Helper()
	req, err := http.NewRequest(method, c.srv.URL+path, strings.NewReader(body))
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.srv.Client().Do(req)
	require.NoError(c.t, err)
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNoContent {
		return resp.StatusCode, nil
	}
	var out any
	require.NoError(c.t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func (c apiClient) object(method, path, body string) (int, map[string]any) {
	c.t.Helper()
	code, out := c.call(method, path, body)
	m, _ := out.(map[string]any)
	return code, m
}

func TestCouponLifecycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	pool := startPostgres(t)

	products := postgres.NewProductRepository(pool)
	require.NoError(t, products.UpsertCategory(ctx, 5, "Books"))
	require.NoError(t, products.UpsertCategory(ctx, 9, "Games"))
	require.NoError(t, products.Upsert(ctx, product.Product{ID: 1, Name: "Novel", Price: decimal.RequireFromString("12.50"), CategoryIDs: []int64{5}}))
	require.NoError(t, products.Upsert(ctx, product.Product{ID: 2, Name: "Board game", Price: decimal.RequireFromString("40.00"), CategoryIDs: []int64{5, 9}}))
	require.NoError(t, postgres.NewCartRepository(pool).ReplaceActiveCart(ctx, 7, []coupon.LineItem{
		{ProductID: 2, Quantity: 1, UnitPrice: decimal.RequireFromString("40.00")},
	}))

	cfg := &Config{
		RateLimit: RateLimitConfig{Max: 100, Window: time.Minute},
		Coupon:    CouponConfig{EnforceFirstOrder: true},
	}
	hs := health.New()
	hs.SetReady(true)
	router, err := NewRouter(ctx, cfg, Deps{
		Pool:           pool,
		MeterProvider:  metricnoop.NewMeterProvider(),
		TracerProvider: tracenoop.NewTracerProvider(),
	}, hs)
	require.NoError(t, err)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	api := apiClient{t: t, srv: srv}

	code, _ := api.object(http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, code)

	code, created := api.object(http.MethodPost, "/api/admin/coupons", `{
		"code": "games10",
		"name": "Games",
		"type": "percent",
		"value": 10,
		"usageLimit": 1,
		"applicableCategories": [9]
	}`)
	require.Equal(t, http.StatusCreated, code)
	require.Equal(t, "GAMES10", created["code"])
	couponID := int64(created["id"].(float64))

	code, rejected := api.object(http.MethodPost, "/api/coupons/validate",
		`{"code":"games10","userId":7,"items":[{"productId":1,"quantity":1,"price":"12.50"}],"shippingFee":0}`)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "not_applicable_to_items", rejected["reason"])

	code, available := api.call(http.MethodGet, "/api/coupons/available?userId=7", "")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, available, 1)
	assert.Equal(t, "GAMES10", available.([]any)[0].(map[string]any)["code"])

	code, placed := api.object(http.MethodPost, "/api/orders",
		`{"userId":7,"items":[{"productId":2,"quantity":1}],"shippingFee":"5.00","couponCode":"Games10"}`)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, 4.0, placed["discount"])
	assert.Equal(t, 41.0, placed["total"])
	orderID := placed["id"].(string)

	code, records := api.call(http.MethodGet, "/api/orders/"+orderID+"/coupons", "")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, records, 1)
	rec := records.([]any)[0].(map[string]any)
	assert.Equal(t, float64(couponID), rec["couponId"])
	assert.Equal(t, 4.0, rec["discountAmount"])
	assert.Len(t, rec["appliedProducts"], 1)

	// The single global use is consumed.
	code, rejected = api.object(http.MethodPost, "/api/orders",
		`{"userId":8,"items":[{"productId":2,"quantity":1}],"shippingFee":0,"couponCode":"GAMES10"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "usage_limit_reached", rejected["reason"])

	code, _ = api.call(http.MethodPost, fmt.Sprintf("/api/admin/coupons/%d/deactivate", couponID), "")
	require.Equal(t, http.StatusNoContent, code)

	code, rejected = api.object(http.MethodPost, "/api/coupons/calculate",
		`{"code":"GAMES10","items":[{"productId":2,"quantity":1,"price":40}],"shippingFee":0}`)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "not_found", rejected["reason"])
}

func TestFirstOrderOnly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	pool := startPostgres(t)

	products := postgres.NewProductRepository(pool)
	require.NoError(t, products.Upsert(ctx, product.Product{ID: 1, Name: "Novel", Price: decimal.RequireFromString("20.00")}))

	hs := health.New()
	router, err := NewRouter(ctx, &Config{
		RateLimit: RateLimitConfig{Max: 100, Window: time.Minute},
		Coupon:    CouponConfig{EnforceFirstOrder: true},
	}, Deps{
		Pool:           pool,
		MeterProvider:  metricnoop.NewMeterProvider(),
		TracerProvider: tracenoop.NewTracerProvider(),
	}, hs)
	require.NoError(t, err)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	api := apiClient{t: t, srv: srv}

	code, _ := api.object(http.MethodPost, "/api/admin/coupons",
		`{"code":"HELLO","type":"fixed","value":5,"firstOrderOnly":true,"usageLimitPerUser":0}`)
	require.Equal(t, http.StatusCreated, code)

	code, _ = api.object(http.MethodPost, "/api/orders", `{"userId":3,"items":[{"productId":1,"quantity":1}],"shippingFee":0}`)
	require.Equal(t, http.StatusCreated, code)

	code, rejected := api.object(http.MethodPost, "/api/orders",
		`{"userId":3,"items":[{"productId":1,"quantity":1}],"shippingFee":0,"couponCode":"HELLO"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "first_order_only", rejected["reason"])

	code, placed := api.object(http.MethodPost, "/api/orders",
		`{"userId":4,"items":[{"productId":1,"quantity":1}],"shippingFee":0,"couponCode":"HELLO"}`)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, 15.0, placed["total"])
}
