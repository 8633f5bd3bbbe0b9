package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/formworks/profile-cli/internal/aggregate"
	"github.com/formworks/profile-cli/internal/cache"
	"github.com/formworks/profile-cli/internal/monitoring"
	"github.com/formworks/profile-cli/internal/registry"
	"github.com/formworks/profile-cli/internal/resilience"
	"github.com/formworks/profile-cli/internal/store"
	"github.com/formworks/profile-cli/internal/suggest"
)

// app bundles the wired components every command works against.
type app struct {
	store      store.Store
	aggregator *aggregate.Aggregator
	engine     *suggest.Engine
	metrics    *monitoring.Collector
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		zap.L().Warn("closing store", zap.Error(err))
	}
}

// initApp opens the store, runs migrations and wires the aggregation and
// suggestion components from config.
func initApp(ctx context.Context) (*app, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	// Migrations retry on transient store errors (locked file, flaky
	// connection) before giving up.
	if err := resilience.Do(ctx, resilience.RetryConfig{
		OnRetry: resilience.RetryLogger("store", "migrate"),
	}, func(ctx context.Context) error {
		return st.Migrate(ctx)
	}); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	reg := registry.New()
	if cfg.Registry.AliasFile != "" {
		if err := reg.LoadFile(cfg.Registry.AliasFile); err != nil {
			_ = st.Close()
			return nil, err
		}
	}

	metrics := monitoring.NewCollector()
	agg := aggregate.New(st, reg, cache.New(nil), metrics, aggregate.Config{
		AcceptThreshold: cfg.Profile.AcceptThreshold,
		LockTimeout:     cfg.Profile.LockTimeout(),
		CacheTTL:        cfg.Profile.CacheTTL(),
	})
	engine := suggest.New(agg, metrics, suggest.Config{
		Weights: suggest.Weights{
			NameSimilarity: cfg.Suggest.WeightSimilarity,
			Confidence:     cfg.Suggest.WeightConfidence,
			Recency:        cfg.Suggest.WeightRecency,
			SourceCount:    cfg.Suggest.WeightSourceCount,
		},
		HalfLifeDays: cfg.Suggest.HalfLifeDays,
		MaxResults:   cfg.Suggest.MaxResults,
	})

	return &app{store: st, aggregator: agg, engine: engine, metrics: metrics}, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "profiles.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}
