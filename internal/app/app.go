package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/coupon-engine/internal/domain/coupon"
	"github.com/xenking/coupon-engine/internal/domain/order"
	"github.com/xenking/coupon-engine/internal/handler"
	"github.com/xenking/coupon-engine/internal/storage/postgres"
	"github.com/xenking/coupon-engine/internal/storage/rediscache"
	"github.com/xenking/coupon-engine/pkg/health"
	"github.com/xenking/coupon-engine/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck("postgres", pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	deps := Deps{
		Pool:           pool,
		MeterProvider:  m.MeterProvider(),
		TracerProvider: m.TracerProvider(),
	}
	if cfg.Redis.Addr != "" {
		rdb, err := rediscache.NewClient(ctx, rediscache.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return errors.Wrap(err, "connect redis")
		}
		defer func() { _ = rdb.Close() }()

		deps.Redis = rdb
		healthSvc.AddReadinessCheck("redis", time.Second, health.PingCheck("redis", rediscache.Pinger{Client: rdb}))
		lg.Info("Redis enabled", zap.String("addr", cfg.Redis.Addr))
	}

	router, err := NewRouter(ctx, cfg, deps, healthSvc)
	if err != nil {
		return err
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: otelhttp.NewHandler(router, "coupon-api",
			otelhttp.WithMeterProvider(m.MeterProvider()),
			otelhttp.WithTracerProvider(m.TracerProvider()),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// Deps are the external resources the API runs on.
type Deps struct {
	Pool *pgxpool.Pool
	// Redis is optional. When set it backs the category cache and the
	// shared rate limiter.
	Redis          redis.UniversalClient
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
}

// NewRouter wires repositories, domain services and HTTP handlers into a
// chi router serving the API and the health endpoints. The in-memory rate
// limiter, used without Redis, is swept until ctx is done.
func NewRouter(ctx context.Context, cfg *Config, deps Deps, hs *health.Health) (chi.Router, error) {
	productRepo := postgres.NewProductRepository(deps.Pool)
	couponRepo := postgres.NewCouponRepository(deps.Pool)
	orderRepo := postgres.NewOrderRepository(deps.Pool)
	cartRepo := postgres.NewCartRepository(deps.Pool)

	var (
		categories coupon.CategoryLookup = productRepo
		limiter    httpmiddleware.Limiter
	)
	if deps.Redis != nil {
		categories = rediscache.NewCategoryCache(deps.Redis, productRepo, cfg.Redis.CategoryTTL)
		limiter = rediscache.NewRateLimiter(deps.Redis, cfg.RateLimit.Max, cfg.RateLimit.Window)
	} else {
		mem := httpmiddleware.NewMemoryLimiter(cfg.RateLimit.Max, cfg.RateLimit.Window)
		go mem.Run(ctx)
		limiter = mem
	}

	metrics, err := coupon.NewMetrics(deps.MeterProvider)
	if err != nil {
		return nil, errors.Wrap(err, "create coupon metrics")
	}
	var history coupon.OrderHistory
	if cfg.Coupon.EnforceFirstOrder {
		history = orderRepo
	}
	validator := coupon.NewValidator(couponRepo, categories, history, metrics)
	applicator := coupon.NewApplicator(couponRepo, metrics)
	orderService := order.NewService(
		productRepo,
		validator,
		applicator,
		orderRepo,
		postgres.NewTransactor(deps.Pool),
		deps.TracerProvider,
	)
	h := handler.NewHandler(
		validator,
		coupon.NewDiscovery(cartRepo, couponRepo, validator),
		coupon.NewAdmin(couponRepo),
		couponRepo,
		orderService,
	)

	r := chi.NewRouter()
	r.Use(
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.RequestID(),
		httpmiddleware.LogRequests(),
		httpmiddleware.Recovery(),
	)
	r.Get("/livez", hs.LiveEndpoint)
	r.Get("/readyz", hs.ReadyEndpoint)
	h.Routes(r, httpmiddleware.RateLimit(limiter, httpmiddleware.RateLimitConfig{
		Max:     cfg.RateLimit.Max,
		KeyFunc: httpmiddleware.KeyFunc(cfg.RateLimit.TrustProxyHeaders),
	}))
	return r, nil
}
