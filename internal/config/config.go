package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	pkgconfig "github.com/utafrali/facetindex/pkg/config"
)

// Cache backends for the result cache.
const (
	CacheBackendPostgres = "postgres"
	CacheBackendRedis    = "redis"
	CacheBackendMemory   = "memory"
)

// Config holds all configuration for the facet index service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"FACETINDEX_HTTP_PORT" envDefault:"8013"`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"ecommerce"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"ecommerce_secret"`
	PostgresDB   string `env:"FACETINDEX_DB_NAME" envDefault:"catalog_db"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Database pool
	DBMaxConns            int32 `env:"DB_MAX_CONNS" envDefault:"25"`
	DBMinConns            int32 `env:"DB_MIN_CONNS" envDefault:"2"`
	DBMaxConnLifetimeMins int   `env:"DB_MAX_CONN_LIFETIME_MINUTES" envDefault:"60"`
	DBMaxConnIdleTimeMins int   `env:"DB_MAX_CONN_IDLE_TIME_MINUTES" envDefault:"30"`

	// Kafka
	KafkaBrokers       []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	KafkaConsumerGroup string   `env:"FACETINDEX_CONSUMER_GROUP" envDefault:"facetindex-service"`
	KafkaEnableDLQ     bool     `env:"KAFKA_ENABLE_DLQ" envDefault:"true"`

	// Redis
	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"FACETINDEX_REDIS_DB" envDefault:"3"`

	// Result cache
	CacheBackend string `env:"FACETINDEX_CACHE_BACKEND" envDefault:"postgres"`
	CacheLRUSize int    `env:"FACETINDEX_CACHE_LRU_SIZE" envDefault:"4096"`

	// Event de-duplication: "memory" or "redis"
	IdempotencyBackend string `env:"FACETINDEX_IDEMPOTENCY_BACKEND" envDefault:"memory"`
	IdempotencyTTLMins int    `env:"FACETINDEX_IDEMPOTENCY_TTL_MINUTES" envDefault:"60"`

	// Price calculator
	PricingServiceURL string `env:"PRICING_SERVICE_URL" envDefault:"http://localhost:8002"`
	PricingTimeoutMs  int    `env:"PRICING_TIMEOUT_MS" envDefault:"2000"`
	PricingMaxRetries int    `env:"PRICING_MAX_RETRIES" envDefault:"2"`

	// Price index engine
	PriceIndexPageSize      int `env:"PRICE_INDEX_PAGE_SIZE" envDefault:"100"`
	PriceIndexTimeBudgetMs  int `env:"PRICE_INDEX_TIME_BUDGET_MS" envDefault:"5000"`
	PriceIndexMemoryLimitMB int `env:"PRICE_INDEX_MEMORY_LIMIT_MB" envDefault:"0"`
	PriceIndexScheduleMins  int `env:"PRICE_INDEX_SCHEDULE_MINUTES" envDefault:"0"`

	// Index trigger and admin API shared secret
	IndexSecret string `env:"FACETINDEX_SECRET"`

	// Per-client limit on the token-authenticated trigger endpoints; 0 disables.
	TriggerRateRPS   float64 `env:"FACETINDEX_TRIGGER_RATE_RPS" envDefault:"2"`
	TriggerRateBurst int     `env:"FACETINDEX_TRIGGER_RATE_BURST" envDefault:"10"`

	// Catalog defaults
	DefaultShopID int64 `env:"FACETINDEX_DEFAULT_SHOP_ID" envDefault:"1"`

	// Bootstrap: auto template below AutoTemplateThreshold products, full
	// price and attribute index below AutoIndexThreshold products.
	BootstrapOnStart      bool `env:"FACETINDEX_BOOTSTRAP_ON_START" envDefault:"false"`
	AutoTemplateThreshold int  `env:"FACETINDEX_AUTO_TEMPLATE_THRESHOLD" envDefault:"20000"`
	AutoIndexThreshold    int  `env:"FACETINDEX_AUTO_INDEX_THRESHOLD" envDefault:"5000"`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// Slow query logging
	SlowQueryThresholdMs int `env:"LOG_SLOW_QUERY_MS" envDefault:"500"`
}

// Load reads configuration from the process environment.
func Load() (*Config, error) {
	return LoadWithOverrides(nil)
}

// LoadWithOverrides reads configuration from the process environment with
// overrides taking precedence. Override keys are environment variable names.
func LoadWithOverrides(overrides map[string]string) (*Config, error) {
	environ := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			environ[k] = v
		}
	}
	for k, v := range overrides {
		environ[k] = v
	}

	cfg := &Config{}
	if err := pkgconfig.LoadFrom(cfg, environ); err != nil {
		return nil, fmt.Errorf("load facetindex config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.PostgresHost == "" {
		return fmt.Errorf("POSTGRES_HOST is required")
	}
	if c.PostgresUser == "" {
		return fmt.Errorf("POSTGRES_USER is required")
	}
	if len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required")
	}
	if c.IndexSecret == "" {
		return fmt.Errorf("FACETINDEX_SECRET is required")
	}
	switch c.CacheBackend {
	case CacheBackendPostgres, CacheBackendRedis, CacheBackendMemory:
	default:
		return fmt.Errorf("FACETINDEX_CACHE_BACKEND must be one of postgres, redis, memory, got %q", c.CacheBackend)
	}
	if c.CacheBackend == CacheBackendMemory && c.CacheLRUSize <= 0 {
		return fmt.Errorf("FACETINDEX_CACHE_LRU_SIZE must be > 0, got %d", c.CacheLRUSize)
	}
	if c.IdempotencyBackend != CacheBackendMemory && c.IdempotencyBackend != CacheBackendRedis {
		return fmt.Errorf("FACETINDEX_IDEMPOTENCY_BACKEND must be memory or redis, got %q", c.IdempotencyBackend)
	}
	if c.PricingServiceURL == "" {
		return fmt.Errorf("PRICING_SERVICE_URL is required")
	}
	if c.PriceIndexPageSize <= 0 {
		return fmt.Errorf("PRICE_INDEX_PAGE_SIZE must be > 0, got %d", c.PriceIndexPageSize)
	}
	if c.PriceIndexTimeBudgetMs <= 0 {
		return fmt.Errorf("PRICE_INDEX_TIME_BUDGET_MS must be > 0, got %d", c.PriceIndexTimeBudgetMs)
	}
	if c.TriggerRateRPS < 0 || c.TriggerRateBurst < 0 {
		return fmt.Errorf("FACETINDEX_TRIGGER_RATE_RPS and FACETINDEX_TRIGGER_RATE_BURST must be >= 0")
	}
	if c.DefaultShopID <= 0 {
		return fmt.Errorf("FACETINDEX_DEFAULT_SHOP_ID must be > 0, got %d", c.DefaultShopID)
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1.0 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.OTELSampleRate)
	}
	return nil
}

// UsesRedis reports whether any component needs a Redis connection.
func (c *Config) UsesRedis() bool {
	return c.CacheBackend == CacheBackendRedis || c.IdempotencyBackend == CacheBackendRedis
}

// PriceIndexTimeBudget returns the per-invocation wall clock budget.
func (c *Config) PriceIndexTimeBudget() time.Duration {
	return time.Duration(c.PriceIndexTimeBudgetMs) * time.Millisecond
}

// PriceIndexMemoryLimit returns the heap ceiling in bytes; zero disables it.
func (c *Config) PriceIndexMemoryLimit() uint64 {
	if c.PriceIndexMemoryLimitMB <= 0 {
		return 0
	}
	return uint64(c.PriceIndexMemoryLimitMB) << 20
}
