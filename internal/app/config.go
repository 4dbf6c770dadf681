package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (COUPON_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (COUPON_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Redis       RedisConfig
	RateLimit   RateLimitConfig
	Coupon      CouponConfig
	Graceful    GracefulConfig
}

// RedisConfig configures the optional Redis instance. An empty Addr disables
// the category cache and the shared rate limiter.
type RedisConfig struct {
	Addr        string        `default:"" usage:"Redis address, empty to disable"`
	Password    string        `default:"" usage:"Redis password"`
	DB          int           `default:"0" usage:"Redis database number"`
	CategoryTTL time.Duration `default:"5m" usage:"TTL of cached product categories" flag:"redis-category-ttl"`
}

// RateLimitConfig limits requests to the code-accepting coupon endpoints.
type RateLimitConfig struct {
	Max    int           `default:"30" usage:"Max coupon requests per client per window"`
	Window time.Duration `default:"1m" usage:"Rate limit window duration"`
	// TrustProxyHeaders keys clients by X-User-ID / X-Forwarded-For. Enable
	// only behind a gateway that overwrites those headers.
	TrustProxyHeaders bool `default:"false" usage:"Key rate limits by proxy-set client headers" flag:"trust-proxy-headers"`
}

// CouponConfig toggles optional engine rules.
type CouponConfig struct {
	EnforceFirstOrder bool `default:"true" usage:"Reject first-order-only coupons for users with completed orders" flag:"enforce-first-order"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "COUPON",
		Files:     []string{"config.yaml", "/etc/coupon-engine/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.DatabaseURL == "":
		return errors.New("database URL is required: set COUPON_DATABASE_URL or DATABASE_URL")
	case c.RateLimit.Max <= 0:
		return errors.Errorf("rate limit max must be positive, got %d", c.RateLimit.Max)
	case c.RateLimit.Window <= 0:
		return errors.Errorf("rate limit window must be positive, got %s", c.RateLimit.Window)
	}
	return nil
}

// applyPlatformDefaults maps the platform DATABASE_URL, REDIS_ADDR and PORT
// to the COUPON_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = os.Getenv("REDIS_ADDR")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
