package app

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tree-estimator/adapters/ratecache"
	"tree-estimator/adapters/ratefile"
	"tree-estimator/adapters/ratestore"
	"tree-estimator/adapters/storage"
	"tree-estimator/core/rates"
	"tree-estimator/internal/config"
	ierrors "tree-estimator/internal/errors"
	"tree-estimator/internal/metrics"
)

// Dependencies holds every adapter built from a Config
type Dependencies struct {
	Rates   *ratestore.Store
	Cache   *ratecache.Cache // nil unless the cache is enabled
	Redis   *redis.Client
	Results storage.Store // nil when opened with OpenRates
	Service *Service

	logger *zap.Logger
}

// Open builds the rate store, the optional rate cache, the result store
// and a Service over them.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) (*Dependencies, error) {
	deps, err := OpenRates(ctx, cfg, logger, m)
	if err != nil {
		return nil, err
	}

	results, err := storage.Open(ctx, storage.Options{
		Backend:   storage.Backend(cfg.Storage.Backend),
		Directory: cfg.Storage.Directory,
		DynamoDB: storage.DynamoDBOptions{
			Table:           cfg.Storage.DynamoDB.Table,
			Region:          cfg.Storage.DynamoDB.Region,
			Endpoint:        cfg.Storage.DynamoDB.Endpoint,
			AccessKeyID:     cfg.Storage.DynamoDB.AccessKeyID,
			SecretAccessKey: cfg.Storage.DynamoDB.SecretAccessKey,
		},
		Logger: logger,
	})
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.Results = results
	deps.Service = NewService(deps.Source(), cfg.Calculator,
		WithStore(results),
		WithLogger(logger),
		WithMetrics(m))
	return deps, nil
}

// OpenRates opens only the rate side: store, migrations, startup import and cache.
// Service is built without a result store.
func OpenRates(ctx context.Context, cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) (*Dependencies, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	store, err := ratestore.Open(cfg.RateStore.Driver, cfg.RateStore.DSN,
		ratestore.WithLogger(logger.Named("ratestore")))
	if err != nil {
		return nil, err
	}
	deps := &Dependencies{Rates: store, logger: logger}

	if cfg.RateStore.MigrateOnStart {
		if err := store.Migrate(ctx); err != nil {
			deps.Close()
			return nil, err
		}
	}
	if cfg.RateStore.RatesFile != "" {
		records, err := ratefile.Load(cfg.RateStore.RatesFile)
		if err != nil {
			deps.Close()
			return nil, err
		}
		if _, _, err := store.Import(ctx, records); err != nil {
			deps.Close()
			return nil, err
		}
	}

	if cfg.Cache.Enabled {
		opts, err := redis.ParseURL(cfg.Cache.RedisURL)
		if err != nil {
			deps.Close()
			return nil, ierrors.Config("invalid cache.redis_url", err)
		}
		deps.Redis = redis.NewClient(opts)
		deps.Cache = ratecache.New(deps.Redis, store, cfg.Cache.TTL(),
			ratecache.WithMetrics(m),
			ratecache.WithLogger(logger.Named("ratecache")))
	}

	deps.Service = NewService(deps.Source(), cfg.Calculator, WithLogger(logger), WithMetrics(m))
	return deps, nil
}

// Source is the cache when enabled, the rate store otherwise
func (d *Dependencies) Source() rates.Source {
	if d.Cache != nil {
		return d.Cache
	}
	return d.Rates
}

// InvalidateRates drops cached history after a rate write.
// Failures are logged; entries expire with their TTL anyway.
func (d *Dependencies) InvalidateRates(ctx context.Context, subjects ...rates.Subject) {
	if d.Cache == nil || len(subjects) == 0 {
		return
	}
	if err := d.Cache.Invalidate(ctx, subjects...); err != nil {
		d.logger.Warn("rate cache invalidation failed", zap.Error(err))
	}
}

// Close releases everything Open acquired
func (d *Dependencies) Close() error {
	var errs []error
	if d.Results != nil {
		errs = append(errs, d.Results.Close())
	}
	if d.Redis != nil {
		errs = append(errs, d.Redis.Close())
	}
	if d.Rates != nil {
		errs = append(errs, d.Rates.Close())
	}
	return errors.Join(errs...)
}
