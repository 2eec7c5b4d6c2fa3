package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cimillas/ticket-reservations/internal/app"
	"github.com/cimillas/ticket-reservations/internal/clock"
	"github.com/cimillas/ticket-reservations/internal/config"
	"github.com/cimillas/ticket-reservations/internal/kvstore"
	"github.com/cimillas/ticket-reservations/internal/logging"
	"github.com/cimillas/ticket-reservations/internal/metrics"
	"github.com/cimillas/ticket-reservations/internal/observability"
	"github.com/cimillas/ticket-reservations/internal/outbox"
	"github.com/cimillas/ticket-reservations/internal/storage/postgres"
	transporthttp "github.com/cimillas/ticket-reservations/internal/transport/http"
	"github.com/cimillas/ticket-reservations/migrations"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const serviceName = "ticket-reservations"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "api: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := pflag.String("config", os.Getenv("CONFIG_PATH"), "path to a YAML config file")
	migrateOnly := pflag.Bool("migrate-only", false, "apply migrations and exit")
	pflag.Parse()

	if wd, err := os.Getwd(); err == nil {
		if _, err := config.LoadDotEnv(wd); err != nil {
			fmt.Fprintf(os.Stderr, "WARN: failed to load .env: %v\n", err)
		}
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Config{Level: cfg.LogLevel, Env: cfg.Env})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.With(zap.String("service", serviceName), zap.String("env", cfg.Env))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, observability.TracerConfig{
		ServiceName: serviceName,
		Environment: cfg.Env,
		Endpoint:    cfg.Otel.Endpoint,
		Enabled:     cfg.Otel.Enabled,
	})
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(flushCtx); err != nil {
			logger.Warn("tracer shutdown", zap.Error(err))
		}
	}()

	startupCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := postgres.NewPool(startupCtx, cfg.Postgres.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := migrations.Apply(startupCtx, pool, logger); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	if *migrateOnly {
		logger.Info("migrations applied, exiting")
		return nil
	}

	clk := clock.NewSystem()
	reg := metrics.New()

	ledger, ledgerPing, closeLedger, err := newLedger(startupCtx, cfg, logger, clk)
	if err != nil {
		return err
	}
	defer closeLedger()

	healthChecks := map[string]transporthttp.Pinger{"postgres": pool}
	if ledgerPing != nil {
		healthChecks["redis"] = ledgerPing
	}

	outboxStore := postgres.NewOutboxStore(pool, postgres.WithMaxAttempts(cfg.Kafka.MaxAttempts))
	reservations := app.NewReservationService(
		postgres.NewOrderRepository(pool),
		ledger,
		clk,
		app.WithLedgerTTL(cfg.Ledger.TTL),
		app.WithReservationTTL(cfg.ReservationTTL),
		app.WithEventRecorder(outboxStore),
		app.WithLogger(logger.Named("reservations")),
		app.WithMetrics(reg),
	)

	handler := transporthttp.NewRouter(transporthttp.RouterDeps{
		Users:          app.NewUserService(postgres.NewUserRepository(pool), clk),
		Events:         app.NewEventService(postgres.NewEventRepository(pool), clk),
		Reservations:   reservations,
		Observer:       reg,
		MetricsHandler: reg.Handler(),
		HealthChecks:   healthChecks,
		CORSOrigins:    cfg.HTTP.CORSOrigins,
		Logger:         logger.Named("http"),
	})

	server := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           handler,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("api listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})

	if cfg.Kafka.OutboxEnabled {
		writer := outbox.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer func() { _ = writer.Close() }()

		relay := outbox.NewRelay(
			logger.Named("outbox"),
			outboxStore,
			outbox.NewDispatcher(logger.Named("outbox"), writer),
			uuid.NewString(),
			outbox.WithCounter(reg),
			outbox.WithBatchSize(cfg.Kafka.BatchSize),
		)
		g.Go(func() error {
			return relay.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received, stopping server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}

type redisPinger struct {
	rdb *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}

// newLedger builds the idempotency ledger selected by LEDGER_BACKEND. The
// returned pinger is nil for the in-process backend.
func newLedger(ctx context.Context, cfg *config.Config, logger *zap.Logger, clk clock.Clock) (kvstore.Store[app.LedgerEntry], transporthttp.Pinger, func(), error) {
	switch cfg.Ledger.Backend {
	case config.LedgerRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		store := kvstore.NewRedis[app.LedgerEntry](rdb,
			kvstore.WithLogger(logger.Named("ledger")),
			kvstore.WithBreaker(kvstore.NewBreaker("ledger", logger.Named("ledger"))),
		)
		logger.Info("using redis ledger", zap.String("addr", cfg.Redis.Addr))
		return store, redisPinger{rdb: rdb}, func() { _ = rdb.Close() }, nil
	default:
		logger.Info("using in-memory ledger")
		return kvstore.NewMemory[app.LedgerEntry](kvstore.NewLock(), clk), nil, func() {}, nil
	}
}
