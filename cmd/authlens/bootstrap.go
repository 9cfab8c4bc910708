package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/miradorstack/mirador-authlens/internal/actions"
	"github.com/miradorstack/mirador-authlens/internal/cache"
	"github.com/miradorstack/mirador-authlens/internal/config"
	"github.com/miradorstack/mirador-authlens/internal/engine"
	"github.com/miradorstack/mirador-authlens/internal/repo"
	"github.com/miradorstack/mirador-authlens/internal/services"
)

// stack holds the wired analytics service and everything that must be closed
// with it.
type stack struct {
	service *services.AnalyticsService
	closers []func()
}

func (s *stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func buildStack(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stack, error) {
	st := &stack{}

	cacheProvider := newCacheProvider(cfg.Cache, logger)
	st.closers = append(st.closers, func() { _ = cacheProvider.Close() })

	client, err := repo.NewBigQueryClient(ctx, cfg.Warehouse)
	if err != nil {
		st.Close()
		return nil, err
	}
	st.closers = append(st.closers, func() {
		if err := client.Close(); err != nil {
			logger.Warn("bigquery client close", slog.Any("error", err))
		}
	})

	executor := repo.NewBigQueryExecutor(client, cfg.Warehouse.QueryTimeout, logger)
	warehouse := repo.NewWarehouse(executor, cfg.Warehouse)
	analytics := engine.NewAnalytics(logger, warehouse, warehouse, warehouse)

	var publisher actions.Publisher = actions.NoopPublisher{}
	if cfg.Actions.Enabled {
		natsPublisher, err := actions.NewNATSPublisher(cfg.Actions.NATSURL, cfg.Actions.Subject, cacheProvider, cfg.Actions.DedupWindow, logger)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("automated actions: %w", err)
		}
		publisher = natsPublisher
		st.closers = append(st.closers, natsPublisher.Close)
		logger.Info("automated actions enabled", slog.String("subject", cfg.Actions.Subject))
	}

	var ttl = cfg.Cache.Revalidate
	if !cfg.Cache.Enabled {
		ttl = 0
	}
	st.service = services.NewAnalyticsService(logger, analytics, cacheProvider, publisher, services.Options{
		CacheTTL:       ttl,
		ComputeTimeout: cfg.Server.RequestTimeout,
	})
	return st, nil
}

// newCacheProvider prefers Valkey, falling back to an in-process cache when no
// address is configured or the server is unreachable.
func newCacheProvider(cfg config.CacheConfig, logger *slog.Logger) cache.Provider {
	if !cfg.Enabled {
		return cache.NoopProvider{}
	}
	if cfg.Addr == "" {
		return cache.NewMemoryProvider()
	}
	provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxRetries:   cfg.MaxRetries,
		TLS:          cfg.TLS,
	})
	if err != nil {
		logger.Warn("valkey cache unavailable, using in-memory cache", slog.Any("error", err))
		return cache.NewMemoryProvider()
	}
	return provider
}
