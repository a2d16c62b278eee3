package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/utafrali/catalog-indexer/internal/config"
	"github.com/utafrali/catalog-indexer/internal/domain"
	"github.com/utafrali/catalog-indexer/internal/engine"
	esengine "github.com/utafrali/catalog-indexer/internal/engine/elasticsearch"
	memengine "github.com/utafrali/catalog-indexer/internal/engine/memory"
	"github.com/utafrali/catalog-indexer/internal/event"
	"github.com/utafrali/catalog-indexer/internal/export"
	handler "github.com/utafrali/catalog-indexer/internal/handler/http"
	"github.com/utafrali/catalog-indexer/internal/lock"
	"github.com/utafrali/catalog-indexer/internal/migrations"
	"github.com/utafrali/catalog-indexer/internal/pipeline"
	"github.com/utafrali/catalog-indexer/internal/repository"
	"github.com/utafrali/catalog-indexer/internal/repository/memory"
	"github.com/utafrali/catalog-indexer/internal/repository/postgres"
	redisrepo "github.com/utafrali/catalog-indexer/internal/repository/redis"
	"github.com/utafrali/catalog-indexer/internal/service"
	"github.com/utafrali/catalog-indexer/pkg/database"
	"github.com/utafrali/catalog-indexer/pkg/health"
	pkgkafka "github.com/utafrali/catalog-indexer/pkg/kafka"
	"github.com/utafrali/catalog-indexer/pkg/tracing"
)

const serviceName = "catalog-indexer"

// App wires together all dependencies of the catalog indexer.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	engine      engine.SearchEngine
	esEngine    *esengine.Engine
	pool        *pgxpool.Pool
	redis       *goredis.Client
	checkpoints repository.CheckpointRepository
	locks       *lock.Manager
	idempotency pkgkafka.IdempotencyStore

	orchestrator *pipeline.Orchestrator
	catalogs     *service.CatalogService

	shutdownTracer func(context.Context) error
}

// New initializes storage, the search engine and the indexing pipeline.
// Background runs started through the catalog service derive from ctx.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}

	shutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:  serviceName,
		Environment:  cfg.Environment,
		OTLPEndpoint: cfg.OTLPEndpoint,
		SampleRate:   cfg.TraceSampleRate,
		Enabled:      cfg.TracingEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	a.shutdownTracer = shutdown

	if err := a.initEngine(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initCheckpoints(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initRedis(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.orchestrator = pipeline.New(a.pipelineConfig(), pipeline.Deps{
		Engine:      a.engine,
		Locks:       a.locks,
		Checkpoints: a.checkpoints,
		Ranks:       a.ranks(),
		Exporters:   a.exporter,
		Filter:      a.documentFilter(),
	}, logger)

	a.catalogs = service.NewCatalogService(ctx, a.checkpoints, a.locks, a.orchestrator, logger)
	return a, nil
}

func (a *App) initEngine() error {
	switch a.cfg.SearchEngine {
	case "elasticsearch":
		es, err := esengine.New(a.cfg.ElasticsearchURL, a.logger)
		if err != nil {
			return fmt.Errorf("init elasticsearch engine: %w", err)
		}
		a.engine, a.esEngine = es, es
		a.logger.Info("elasticsearch search engine initialized",
			slog.String("url", a.cfg.ElasticsearchURL),
			slog.String("index_prefix", a.cfg.IndexPrefix),
		)
	default:
		a.engine = memengine.New()
		a.logger.Info("in-memory search engine initialized")
	}
	return nil
}

func (a *App) initCheckpoints(ctx context.Context) error {
	if a.cfg.CheckpointStore != "postgres" {
		a.checkpoints = memory.NewCheckpointRepository()
		a.logger.Info("in-memory checkpoint store initialized")
		return nil
	}

	pool, err := database.NewPostgresPool(ctx, database.DefaultPostgresConfig(a.cfg.DatabaseURL), a.logger)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	a.pool = pool

	if err := database.RunMigrations(ctx, pool, migrations.FS, a.logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool, serviceName); err != nil {
		a.logger.Warn("failed to register pool metrics", slog.String("error", err.Error()))
	}
	database.SetSlowQueryLogging(200*time.Millisecond, a.logger)

	a.checkpoints = postgres.NewCheckpointRepository(pool)
	a.logger.Info("postgres checkpoint store initialized")
	return nil
}

func (a *App) initRedis(ctx context.Context) error {
	if a.cfg.LockStore != "redis" {
		a.locks = lock.NewManager(memory.NewLockRepository(), a.checkpoints, a.logger)
		a.idempotency = pkgkafka.NewMemoryIdempotencyStore(a.cfg.EventDedupTTL)
		a.logger.Info("in-memory lock store initialized")
		return nil
	}

	client, err := database.NewRedisClient(ctx, a.cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	a.redis = client
	a.locks = lock.NewManager(redisrepo.NewLockRepository(client), a.checkpoints, a.logger)
	a.idempotency = redisrepo.NewIdempotencyStore(client, a.cfg.EventDedupTTL)
	a.logger.Info("redis lock store initialized")
	return nil
}

func (a *App) ranks() repository.RankRepository {
	if a.redis != nil {
		return redisrepo.NewRankRepository(a.redis)
	}
	return memory.NewRankRepository()
}

func (a *App) pipelineConfig() pipeline.Config {
	pc := pipeline.DefaultConfig()
	pc.IndexPrefix = a.cfg.IndexPrefix
	pc.Writer.BatchSize = a.cfg.BatchSize
	pc.Writer.MaxRetries = a.cfg.MaxRetries
	pc.Writer.RetryDelay = a.cfg.RetryDelay
	pc.Assembler.MaxInMemory = a.cfg.MaxInMemory
	pc.Checkpoint.Enabled = a.cfg.CheckpointEnabled
	pc.Checkpoint.Debounce = a.cfg.CheckpointDebounce
	pc.Checkpoint.FlushInterval = a.cfg.CheckpointFlushInterval
	return pc
}

func (a *App) documentFilter() domain.FieldFilter {
	if len(a.cfg.DocumentFields) > 0 {
		return domain.NewAllowList(a.cfg.DocumentFields...)
	}
	return domain.NewAllowList(domain.DefaultDocumentFields...)
}

// exporter builds a Shopify export client for a catalog key. Plain handles
// get the configured shop suffix.
func (a *App) exporter(key string) (pipeline.Exporter, error) {
	if a.cfg.ShopifyAccessToken == "" {
		return nil, errors.New("SHOPIFY_ACCESS_TOKEN is not configured")
	}
	shop := key
	if !strings.Contains(shop, ".") {
		shop += a.cfg.ShopifyShopSuffix
	}
	ec := export.DefaultConfig(shop, a.cfg.ShopifyAccessToken)
	ec.APIVersion = a.cfg.ShopifyAPIVersion
	ec.RateLimit = a.cfg.ShopifyRateLimit
	ec.PollMaxDelay = a.cfg.ShopifyPollMax
	ec.TempDir = a.cfg.ExportTempDir
	return export.NewClient(ec, a.logger), nil
}

// Orchestrator returns the indexing pipeline.
func (a *App) Orchestrator() *pipeline.Orchestrator { return a.orchestrator }

// Catalogs returns the catalog operations service.
func (a *App) Catalogs() *service.CatalogService { return a.catalogs }

// Locks returns the catalog lock manager.
func (a *App) Locks() *lock.Manager { return a.locks }

// Serve runs the HTTP server and, when enabled, the Kafka sync consumer until
// ctx is canceled or a component fails.
func (a *App) Serve(ctx context.Context) error {
	healthHandler := health.NewHandler()
	if a.esEngine != nil {
		healthHandler.Register("elasticsearch", a.esEngine.Ping)
	}
	if a.pool != nil {
		healthHandler.Register("postgres", a.pool.Ping)
	}
	if a.redis != nil {
		healthHandler.Register("redis", func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		})
	}

	var (
		consumer *pkgkafka.Consumer
		producer *pkgkafka.Producer
		dlq      *pkgkafka.DLQProducer
	)
	if a.cfg.KafkaEnabled {
		producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(a.cfg.KafkaBrokers), a.logger)
		dlq = pkgkafka.NewDLQProducer(a.cfg.KafkaBrokers, a.logger)

		syncConsumer := event.NewConsumer(a.orchestrator, event.NewProducer(producer, a.logger), a.logger)
		consumer = pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
			Brokers:  a.cfg.KafkaBrokers,
			GroupID:  a.cfg.KafkaGroupID,
			Topic:    event.TopicSyncRequested,
			MinBytes: 1,
			MaxBytes: 10e6, // 10 MB
		},
			pkgkafka.IdempotentHandler(a.idempotency, event.TopicSyncRequested, syncConsumer.Handle, a.logger),
			a.logger,
			pkgkafka.WithDeadLetter(dlq),
		)
		healthHandler.Register("kafka", func(ctx context.Context) error {
			return pkgkafka.PingBrokers(ctx, a.cfg.KafkaBrokers)
		})
		a.logger.Info("kafka consumer initialized",
			slog.Any("brokers", a.cfg.KafkaBrokers),
			slog.String("topic", event.TopicSyncRequested),
		)
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.HTTPPort),
		Handler:      handler.NewRouter(a.catalogs, healthHandler, a.cfg.PprofAllowedCIDRs, a.logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	if consumer != nil {
		g.Go(func() error {
			if err := consumer.Start(gctx); err != nil {
				return fmt.Errorf("kafka consumer: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		a.logger.Info("starting HTTP server", slog.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		var errs []error
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		a.catalogs.Wait()
		if producer != nil {
			if err := producer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close producer: %w", err))
			}
		}
		if dlq != nil {
			if err := dlq.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close dlq producer: %w", err))
			}
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

// Close releases storage connections and flushes traces.
func (a *App) Close() error {
	var errs []error
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.shutdownTracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.shutdownTracer(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer: %w", err))
		}
	}
	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}
