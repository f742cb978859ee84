package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math/rand/v2"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"github.com/utafrali/facetindex/internal/config"
	"github.com/utafrali/facetindex/internal/event"
	handler "github.com/utafrali/facetindex/internal/handler/http"
	"github.com/utafrali/facetindex/migrations"
	"github.com/utafrali/facetindex/pkg/database"
	"github.com/utafrali/facetindex/pkg/health"
	pkgkafka "github.com/utafrali/facetindex/pkg/kafka"
	"github.com/utafrali/facetindex/pkg/middleware"
	"github.com/utafrali/facetindex/pkg/tracing"
)

const serviceName = "facetindex"

// App wires together all dependencies and runs the facet index service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *goredis.Client
	producer       *pkgkafka.Producer
	dlq            *pkgkafka.DLQProducer
	httpServer     *http.Server
	consumers      []*pkgkafka.Consumer
	components     *Components
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	pool, err := database.NewPostgresPool(ctx, PostgresConfig(cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)
	if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool, serviceName); err != nil {
		logger.Warn("pool metrics not registered", slog.String("error", err.Error()))
	}

	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	rdb, err := NewRedis(ctx, cfg)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	if rdb != nil {
		logger.Info("connected to Redis", slog.String("host", cfg.RedisHost), slog.Int("db", cfg.RedisDB))
	}

	store, err := NewResultCacheStore(cfg, pool, rdb)
	if err != nil {
		pool.Close()
		return nil, err
	}

	producer := pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
	if err := pingKafkaWithRetry(ctx, producer, logger); err != nil {
		logger.Warn("kafka producer ping failed after retries, continuing in degraded mode",
			slog.String("error", err.Error()),
		)
	} else {
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}

	components := NewComponents(cfg, pool, store, event.NewContinuationProducer(producer, logger), logger)

	var dlq *pkgkafka.DLQProducer
	if cfg.KafkaEnableDLQ {
		dlq = pkgkafka.NewDLQProducer(cfg.KafkaBrokers, logger)
	}

	idempotencyTTL := time.Duration(cfg.IdempotencyTTLMins) * time.Minute
	var idempotency pkgkafka.IdempotencyStore = pkgkafka.NewMemoryIdempotencyStore(idempotencyTTL)
	if cfg.IdempotencyBackend == config.CacheBackendRedis {
		idempotency = pkgkafka.NewRedisIdempotencyStore(rdb, "facetindex:events:", idempotencyTTL)
	}

	routes := event.NewConsumer(components.Hooks, logger).Routes()
	routes[event.TopicPriceIndexContinue] = event.NewContinuationConsumer(components.PriceIndex, logger).HandleContinue

	consumers := make([]*pkgkafka.Consumer, 0, len(routes))
	for _, topic := range slices.Sorted(maps.Keys(routes)) {
		consumers = append(consumers, pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
			Brokers:  cfg.KafkaBrokers,
			GroupID:  consumerGroup(cfg.KafkaConsumerGroup, topic),
			Topic:    topic,
			MinBytes: 1,
			MaxBytes: 10e6,
			DLQ:      dlq,
		}, pkgkafka.IdempotentHandler(idempotency, routes[topic], logger), logger))
	}

	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthHandler.RegisterNonCritical("kafka", func(ctx context.Context) error {
		return producer.Ping(ctx)
	})
	if rdb != nil {
		healthHandler.RegisterNonCritical("redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
	}

	triggerLimit := middleware.RateLimitConfig{RPS: cfg.TriggerRateRPS, Burst: cfg.TriggerRateBurst}
	router := handler.NewRouter(handler.Services{
		Templates:    components.Templates,
		Entries:      components.Resolver,
		Registry:     components.Registry,
		Settings:     components.Settings,
		Cache:        components.Cache,
		Prices:       components.PriceIndex,
		Flattener:    components.Flattener,
		Token:        components.Token,
		TriggerLimit: triggerLimit,
	}, healthHandler, logger)

	// Price index invocations may run up to their time budget.
	writeTimeout := 15*time.Second + cfg.PriceIndexTimeBudget()
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		cfg:            cfg,
		logger:         logger,
		pool:           pool,
		redis:          rdb,
		producer:       producer,
		dlq:            dlq,
		httpServer:     httpServer,
		consumers:      consumers,
		components:     components,
		tracerShutdown: tracerShutdown,
	}, nil
}

// Run starts the HTTP server, Kafka consumers and background jobs, then
// blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, len(a.consumers)+1)

	go func() {
		a.logger.Info("starting HTTP server", slog.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	for _, c := range a.consumers {
		go func() {
			if err := c.Start(ctx); err != nil {
				errCh <- fmt.Errorf("kafka consumer: %w", err)
			}
		}()
	}

	if a.cfg.PriceIndexScheduleMins > 0 {
		go a.components.PriceIndex.RunSchedule(ctx, time.Duration(a.cfg.PriceIndexScheduleMins)*time.Minute)
	}

	if a.cfg.BootstrapOnStart {
		go a.bootstrap(ctx)
	}

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		_ = a.Shutdown()
		return err
	}

	return a.Shutdown()
}

func (a *App) bootstrap(ctx context.Context) {
	res, err := a.components.Bootstrap.Bootstrap(ctx)
	if err != nil {
		a.logger.ErrorContext(ctx, "bootstrap failed", slog.String("error", err.Error()))
		return
	}
	a.logger.InfoContext(ctx, "bootstrap completed", slog.Int("products", res.Products))
}

// Shutdown gracefully stops all components in order: HTTP server, tracer,
// consumers, background price index runs, producers, Redis and finally the
// PostgreSQL pool.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	for _, c := range a.consumers {
		if err := c.Close(); err != nil {
			a.logger.Error("kafka consumer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	a.components.PriceIndex.Close()

	if a.dlq != nil {
		if err := a.dlq.Close(); err != nil {
			a.logger.Error("dlq producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if err := a.producer.Close(); err != nil {
		a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	a.pool.Close()

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

// consumerGroup derives one consumer group per topic so each topic keeps
// its own offsets.
func consumerGroup(base, topic string) string {
	return base + "-" + strings.ReplaceAll(strings.TrimPrefix(topic, "ecommerce."), ".", "-")
}

// pingKafkaWithRetry attempts to ping the Kafka producer with exponential
// backoff (3 attempts, 1s/2s/4s with ±25% jitter).
func pingKafkaWithRetry(ctx context.Context, producer *pkgkafka.Producer, logger *slog.Logger) error {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if lastErr = producer.Ping(ctx); lastErr == nil {
			return nil
		}
		if attempt < 2 {
			base := time.Duration(1<<uint(attempt)) * time.Second
			jitter := time.Duration(float64(base) * 0.25 * (2*rand.Float64() - 1)) // #nosec G404 -- non-cryptographic jitter
			wait := base + jitter
			logger.Warn("kafka producer ping failed, retrying",
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", wait),
				slog.String("error", lastErr.Error()),
			)
			select {
			case <-ctx.Done():
				return fmt.Errorf("kafka ping: context canceled during retry: %w", ctx.Err())
			case <-time.After(wait):
			}
		}
	}
	return fmt.Errorf("kafka producer ping failed after 3 attempts: %w", lastErr)
}
