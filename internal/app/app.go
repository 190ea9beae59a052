package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/utafrali/searchsync/internal/batch"
	"github.com/utafrali/searchsync/internal/config"
	"github.com/utafrali/searchsync/internal/engine"
	esengine "github.com/utafrali/searchsync/internal/engine/elasticsearch"
	"github.com/utafrali/searchsync/internal/engine/memory"
	"github.com/utafrali/searchsync/internal/event"
	"github.com/utafrali/searchsync/internal/guard"
	handler "github.com/utafrali/searchsync/internal/handler/http"
	"github.com/utafrali/searchsync/internal/repository/postgres"
	"github.com/utafrali/searchsync/internal/service"
	"github.com/utafrali/searchsync/migrations"
	"github.com/utafrali/searchsync/pkg/database"
	"github.com/utafrali/searchsync/pkg/health"
	pkgkafka "github.com/utafrali/searchsync/pkg/kafka"
	"github.com/utafrali/searchsync/pkg/tracing"
)

// App wires together all dependencies and runs the sync engine.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *redis.Client
	producer       *pkgkafka.Producer
	consumers      []*pkgkafka.Consumer
	batcher        *batch.Batcher
	reindex        *service.ReindexService
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    "searchsync",
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	// Initialize PostgreSQL connection pool (dead letters, reindex jobs).
	pgCfg := cfg.Postgres()
	pool, err := database.NewPostgresPoolWithLogger(ctx, &pgCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL",
		slog.String("host", pgCfg.Host),
		slog.Int("port", pgCfg.Port),
		slog.String("database", pgCfg.DBName),
	)
	database.RegisterPoolMetrics(pool, "searchsync")

	// Run database migrations.
	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	// Configure slow query logging.
	if cfg.SlowQueryThresholdMs > 0 {
		database.SetSlowQueryLogging(time.Duration(cfg.SlowQueryThresholdMs)*time.Millisecond, logger)
	}

	// Initialize Redis for the idempotency guard store.
	redisClient, err := database.NewRedisClient(ctx, cfg.Redis())
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info("connected to Redis", slog.String("addr", cfg.Redis().Addr()))

	// Initialize the search engine based on configuration.
	var eng engine.Engine
	var esEng *esengine.Engine
	switch cfg.SearchEngine {
	case "elasticsearch":
		esEng, err = esengine.New(cfg.ElasticsearchURL, cfg.IndexAlias, logger)
		if err != nil {
			pool.Close()
			_ = redisClient.Close()
			return nil, fmt.Errorf("init elasticsearch engine: %w", err)
		}
		eng = esEng
		logger.Info("elasticsearch engine initialized",
			slog.String("url", cfg.ElasticsearchURL),
			slog.String("alias", cfg.IndexAlias),
		)
	default:
		eng = memory.New(cfg.IndexAlias)
		logger.Info("in-memory engine initialized", slog.String("alias", cfg.IndexAlias))
	}

	// Bind the alias to its initial physical index on first start.
	if err := eng.EnsureIndex(ctx); err != nil {
		pool.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("ensure index: %w", err)
	}

	// Write path: batcher -> migration mirror -> circuit breaker -> engine.
	breaker := engine.NewBreakerWriter(eng, engine.BreakerConfig{
		Name:         "index-writes",
		MaxRequests:  cfg.CBMaxRequests,
		Interval:     time.Duration(cfg.CBInterval) * time.Second,
		Timeout:      time.Duration(cfg.CBTimeout) * time.Second,
		FailureRatio: cfg.CBFailureRatio,
		MinRequests:  cfg.CBMinRequests,
	}, logger)
	mirror := engine.NewMigrationWriter(breaker, eng, logger)

	batcher := batch.New(mirror, batch.Config{
		MaxBatchSize:  cfg.BatchMaxSize,
		FlushInterval: cfg.BatchFlushInterval,
		FlushTimeout:  cfg.BatchFlushTimeout,
		Retry: batch.RetryPolicy{
			MaxAttempts: cfg.BatchRetryAttempts,
			BaseDelay:   cfg.BatchRetryBase,
			MaxDelay:    cfg.BatchRetryMax,
		},
	}, logger)

	// Idempotency guard backed by Redis. Store outages degrade to
	// processing, so Redis is not a readiness dependency.
	idemGuard := guard.New(guard.NewRedisStore(redisClient, cfg.GuardTTL), logger)

	// Kafka producer, used to republish replayed dead letters.
	producer := pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
	logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))

	// Build the service layer.
	dlRepo := postgres.NewDeadLetterRepository(pool)
	jobsRepo := postgres.NewReindexJobRepository(pool)
	dlService := service.NewDeadLetterService(dlRepo, producer, logger)

	// All topic consumers share one fetch limiter so engine backpressure
	// slows every stream at once.
	burst := int(cfg.ThrottleMaxRate)
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(cfg.ThrottleMaxRate), burst)
	throttle := service.NewThrottle(limiter, service.ThrottleConfig{
		MinRate:  cfg.ThrottleMinRate,
		MaxRate:  cfg.ThrottleMaxRate,
		Step:     cfg.ThrottleStep,
		Backoff:  cfg.ThrottleBackoff,
		Cooldown: cfg.ThrottleCooldown,
	}, logger)

	indexer := service.NewIndexerService(idemGuard, batcher, dlService, throttle, logger)

	reindexSvc := service.NewReindexService(eng, jobsRepo, mirror, cfg.IndexAlias, service.ReindexConfig{
		PageSize:     cfg.ReindexPageSize,
		DeltaSlack:   cfg.ReindexDeltaSlack,
		DeltaPasses:  cfg.ReindexDeltaPasses,
		VerifySample: cfg.ReindexVerifySample,
		RetireGrace:  cfg.ReindexRetireGrace,
	}, logger)

	// One consumer per source topic, all in the same group.
	var consumers []*pkgkafka.Consumer
	topics := event.Topics()
	for _, topic := range topics {
		c := pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
			Brokers:  cfg.KafkaBrokers,
			GroupID:  cfg.KafkaGroupID,
			Topic:    topic,
			MinBytes: 1,
			MaxBytes: 10e6, // 10 MB
			Limiter:  limiter,
		}, indexer.Handle, logger)
		consumers = append(consumers, c)
	}
	logger.Info("kafka consumers initialized",
		slog.Any("brokers", cfg.KafkaBrokers),
		slog.String("group", cfg.KafkaGroupID),
		slog.Int("topic_count", len(topics)),
	)

	// Health checks.
	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	if esEng != nil {
		healthHandler.RegisterCritical("elasticsearch", esEng.Ping)
	}
	healthHandler.RegisterNonCritical("redis", func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	})
	healthHandler.RegisterNonCritical("kafka", func(ctx context.Context) error {
		return pkgkafka.PingBrokers(ctx, cfg.KafkaBrokers)
	})

	// HTTP router (admin API, health, metrics, pprof).
	adminHandler := handler.NewAdminHandler(reindexSvc, dlService, logger)
	router := handler.NewRouter(cfg, adminHandler, healthHandler, logger)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		cfg:            cfg,
		logger:         logger,
		pool:           pool,
		redis:          redisClient,
		producer:       producer,
		consumers:      consumers,
		batcher:        batcher,
		reindex:        reindexSvc,
		httpServer:     httpServer,
		tracerShutdown: tracerShutdown,
	}, nil
}

// Run starts the consumers and the HTTP server, blocking until the context
// is canceled or a component fails.
func (a *App) Run(ctx context.Context) error {
	// Resume any reindex job interrupted by the previous shutdown. A
	// failure here is not fatal: the job stays open and an operator can
	// resume it through the admin API once the store is back.
	if err := a.reindex.Recover(ctx); err != nil {
		a.logger.Warn("could not resume open reindex job",
			slog.String("error", err.Error()),
		)
	}

	errCh := make(chan error, 1+len(a.consumers))

	for _, c := range a.consumers {
		c := c
		go func() {
			if err := c.Start(ctx); err != nil {
				errCh <- fmt.Errorf("kafka consumer: %w", err)
			}
		}()
	}

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		// A consumer exits only when a message cannot reach a terminal
		// outcome. Shut down cleanly and let the restart redeliver it.
		a.logger.Error("component failed, shutting down",
			slog.String("error", err.Error()),
		)
		return errors.Join(err, a.Shutdown())
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components in dependency order:
// 1. Kafka consumers (stop intake)
// 2. Batcher (flush pending index writes)
// 3. Reindex runners (checkpoint and release)
// 4. HTTP server (drain admin requests)
// 5. Tracer (flush pending spans)
// 6. Kafka producer, Redis, PostgreSQL pool
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	// 1. Stop fetching before flushing so no new ops land mid-drain.
	for _, c := range a.consumers {
		if err := c.Close(); err != nil {
			a.logger.Error("kafka consumer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// 2. Flush whatever the consumers already submitted.
	if err := a.batcher.Close(); err != nil {
		a.logger.Error("batcher close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 3. Pause reindex runners; open jobs keep their checkpoint and are
	// resumed by Recover on the next start.
	a.reindex.Close()

	// 4. Drain in-flight HTTP requests (5s budget).
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 5. Flush pending spans after the drain so in-flight request spans
	// are captured.
	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// 6. Close connections.
	if err := a.producer.Close(); err != nil {
		a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	if err := a.redis.Close(); err != nil {
		a.logger.Error("redis close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	a.pool.Close()

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}
