package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/matheusmosca/order-placement-engine/internal/config"
	"github.com/matheusmosca/order-placement-engine/internal/httpapi"
	"github.com/matheusmosca/order-placement-engine/internal/idempotency"
	"github.com/matheusmosca/order-placement-engine/internal/logging"
	"github.com/matheusmosca/order-placement-engine/internal/memstore"
	mongostore "github.com/matheusmosca/order-placement-engine/internal/mongo"
	"github.com/matheusmosca/order-placement-engine/internal/orders"
	"github.com/matheusmosca/order-placement-engine/internal/outbox"
	"github.com/matheusmosca/order-placement-engine/internal/postgres"
	"github.com/matheusmosca/order-placement-engine/internal/telemetry"
)

// store is what every driver provides.
type store interface {
	orders.TxManager
	orders.ProductRepository
	orders.OrderRepository
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger, err := logging.New(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("orders service stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	var (
		st     store
		health func(context.Context) error
	)
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		dsn := cfg.Database.DSN()
		pool, err := postgres.Connect(ctx, postgres.Config{
			DSN:      dsn,
			MaxConns: cfg.Database.MaxConns,
			MinConns: cfg.Database.MinConns,
		}, logger)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := postgres.Migrate(ctx, dsn); err != nil {
			return err
		}
		isolation, err := postgres.ParseIsolation(cfg.Database.Isolation)
		if err != nil {
			return err
		}
		st = postgres.NewStore(pool, isolation)
		health = pool.Ping

		outboxStore := postgres.NewOutboxStore(pool)
		if len(cfg.Kafka.Brokers) > 0 {
			writer := outbox.NewKafkaWriter(cfg.Kafka.Brokers)
			defer func() { _ = writer.Close() }()

			relay := outbox.NewRelay(logger, outboxStore, outbox.NewPublisher(logger, writer, cfg.Kafka.Topic), relayID(), outbox.RelayOptions{
				BatchSize: cfg.Outbox.BatchSize,
				Interval:  cfg.Outbox.PollInterval,
				Lease:     cfg.Outbox.Lease,
				Workers:   cfg.Outbox.Workers,
			})
			g.Go(func() error { return relay.Run(gctx) })
		} else {
			logger.Warn("KAFKA_BROKERS not set, outbox events stay pending")
		}

		purger := outbox.NewPurger(logger, outboxStore, cfg.Outbox.Retention)
		g.Go(func() error { return purger.Run(gctx, cfg.Outbox.PurgeSchedule) })

	case config.DriverMongo:
		client, err := mongostore.Connect(ctx, cfg.Mongo.URI, logger)
		if err != nil {
			return err
		}
		defer func() { _ = client.Disconnect(context.Background()) }()

		ms := mongostore.NewStore(client, cfg.Mongo.Database)
		if err := ms.EnsureIndexes(ctx); err != nil {
			return err
		}
		st = ms
		health = func(ctx context.Context) error { return client.Ping(ctx, nil) }

	case config.DriverMemory:
		logger.Warn("using in-memory store, data is lost on restart")
		st = memstore.New()
	}

	var idem httpapi.IdempotencyStore
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		idem = idempotency.NewStore(rdb, cfg.Redis.IdempotencyTTL)
	}

	metrics, err := orders.NewMetrics(providers.Meter)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}
	runner := orders.NewTxRunner(st, orders.RetryPolicy{
		MaxAttempts:     uint(cfg.Orders.RetryMaxAttempts),
		InitialInterval: cfg.Orders.RetryInitialInterval,
		MaxInterval:     cfg.Orders.RetryMaxInterval,
	}, logger, metrics)

	router := httpapi.NewRouter(httpapi.Dependencies{
		Orders:       orders.NewOrderUseCase(runner, st, st, logger, providers.Tracer, metrics),
		Products:     orders.NewProductUseCase(runner, st, logger, providers.Tracer),
		Idempotency:  idem,
		Logger:       logger,
		Tracer:       providers.Tracer,
		ServiceName:  cfg.Telemetry.ServiceName,
		JWTSecret:    []byte(cfg.Auth.JWTSecret),
		OrderTimeout: cfg.Orders.Timeout,
		Health:       health,
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	g.Go(func() error {
		logger.Info("orders service listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func relayID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "relay"
	}
	return host + "-" + uuid.NewString()[:8]
}
