package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/tournevent/delivery/internal/config"
	"github.com/tournevent/delivery/internal/delivery"
	"github.com/tournevent/delivery/internal/store"
	"github.com/tournevent/delivery/internal/syncer"
	"github.com/tournevent/delivery/internal/telemetry"
	"github.com/tournevent/delivery/pkg/agency"
	"github.com/tournevent/delivery/pkg/agency/bestdelivery"
	"github.com/tournevent/delivery/pkg/agency/navex"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// app holds every long-lived component of the process.
type app struct {
	cfg        *config.Config
	logger     *otelzap.Logger
	tracer     trace.Tracer
	prometheus *prometheus.Registry
	metrics    *telemetry.Metrics
	db         *gorm.DB
	redis      *redis.Client
	registry   *agency.Registry
	deliveries *delivery.Service
	syncer     *syncer.Service

	shutdownTracer func(context.Context) error
}

func newApp(ctx context.Context) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	if a.cfg, err = loadConfig(); err != nil {
		return nil, err
	}
	if a.logger, err = initLogger(a.cfg.LogLevel); err != nil {
		return nil, err
	}

	a.tracer, a.shutdownTracer, err = initTracer(ctx, a.cfg)
	if err != nil {
		a.logger.Warn("Failed to initialize tracer", zap.Error(err))
		a.tracer, a.shutdownTracer = nil, nil
	}

	a.prometheus = prometheus.NewRegistry()
	a.prometheus.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = telemetry.NewMetrics(a.prometheus)

	if a.db, err = initDatabase(a.cfg); err != nil {
		return nil, err
	}

	a.registry = initAgencyRegistry(a.cfg, a.db, a.metrics, a.logger, a.tracer)
	a.registry.EnsureInitialized(ctx)

	shipments := store.NewGormShipmentRepository(a.db)
	a.deliveries = delivery.NewService(delivery.Repositories{
		Shipments:  shipments,
		Logs:       store.NewGormStatusLogRepository(a.db),
		Orders:     store.NewGormOrderRepository(a.db),
		Activities: store.NewGormActivityRepository(a.db),
	}, a.registry, a.logger,
		delivery.WithTracer(a.tracer),
		delivery.WithTransitionRecorder(a.metrics),
	)

	opts := []syncer.Option{
		syncer.WithRecorder(a.metrics),
		syncer.WithTracer(a.tracer),
	}
	if a.cfg.RedisAddr != "" {
		if a.redis, err = syncer.OpenRedis(ctx, a.cfg.RedisAddr, a.cfg.RedisPassword, a.cfg.RedisDB); err != nil {
			return nil, err
		}
		opts = append(opts, syncer.WithLocker(syncer.NewRedisLock(a.redis, syncer.DefaultLockKey, a.cfg.SyncLockTTL)))
		a.logger.Info("Distributed sync lock enabled", zap.String("redis", a.cfg.RedisAddr))
	}
	a.syncer = syncer.NewService(a.deliveries, shipments, a.registry, syncer.Config{
		CallDelay:      a.cfg.SyncCallDelay,
		StaleThreshold: a.cfg.SyncStaleThreshold,
	}, a.logger, opts...)

	return a, nil
}

// close releases resources in reverse order of creation.
func (a *app) close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = store.Close(a.db)
	}
	if a.shutdownTracer != nil {
		_ = a.shutdownTracer(context.Background())
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

func loadConfig() (*config.Config, error) {
	return config.Load()
}

func initLogger(level string) (*otelzap.Logger, error) {
	return telemetry.NewLogger(level)
}

func initTracer(ctx context.Context, cfg *config.Config) (trace.Tracer, func(context.Context) error, error) {
	if !cfg.OTELEnabled {
		return nil, nil, nil
	}
	return telemetry.InitTracer(ctx, cfg.OTELEndpoint, cfg.ServiceName, cfg.Version, cfg.Attributes()...)
}

func initDatabase(cfg *config.Config) (*gorm.DB, error) {
	db, err := store.Open(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseAutoMigrate {
		if err := store.Migrate(db); err != nil {
			_ = store.Close(db)
			return nil, fmt.Errorf("migrating database: %w", err)
		}
	}
	return db, nil
}

func initAgencyRegistry(cfg *config.Config, db *gorm.DB, metrics *telemetry.Metrics, logger *otelzap.Logger, tracer trace.Tracer) *agency.Registry {
	transport := agency.TransportConfig{
		Timeout:    cfg.AdapterTimeout,
		MaxRetries: cfg.AdapterMaxRetries,
		Breaker: agency.BreakerConfig{
			ConsecutiveFailures: cfg.AdapterBreakerFailures,
			OpenTimeout:         cfg.AdapterBreakerTimeout,
		},
		Observer: metrics,
	}

	bd := bestdelivery.New(bestdelivery.Config{
		BaseURL:   cfg.BestDeliveryURL,
		UseMock:   cfg.BestDeliveryUseMock,
		Transport: transport,
	}, logger, tracer)

	nvx := navex.New(navex.Config{
		BaseURL:   cfg.NavexURL,
		UseMock:   cfg.NavexUseMock,
		Transport: transport,
	}, logger, tracer)

	return agency.NewRegistry(store.NewGormAgencyRepository(db), logger, bd, nvx)
}
