package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/miradorstack/mirador-authlens/internal/actions"
	"github.com/miradorstack/mirador-authlens/internal/cache"
	"github.com/miradorstack/mirador-authlens/internal/metrics"
	"github.com/miradorstack/mirador-authlens/internal/models"
	"github.com/miradorstack/mirador-authlens/internal/utils"
)

// Aggregator computes the four category results.
type Aggregator interface {
	Descriptive(ctx context.Context) (models.DescriptiveResult, error)
	Diagnostic(ctx context.Context) ([]models.DiagnosticRow, error)
	Predictive(ctx context.Context) (models.PredictiveResult, error)
	Prescriptive(ctx context.Context) ([]models.Recommendation, error)
}

// Options tunes the analytics service.
type Options struct {
	// CacheTTL is how long a successful category result is served from cache.
	// Zero disables caching.
	CacheTTL time.Duration
	// ComputeTimeout bounds a shared computation independently of any single
	// caller's context.
	ComputeTimeout time.Duration
}

// AnalyticsService fronts the aggregator with result caching, request
// collapsing and automated action dispatch.
type AnalyticsService struct {
	logger    *slog.Logger
	analytics Aggregator
	cache     cache.Provider
	actions   actions.Publisher
	opts      Options
	flights   singleflight.Group
	latencies *utils.LatencyTracker
}

// NewAnalyticsService constructs the analytics facade.
func NewAnalyticsService(logger *slog.Logger, analytics Aggregator, store cache.Provider, publisher actions.Publisher, opts Options) *AnalyticsService {
	if logger == nil {
		logger = slog.Default()
	}
	if store == nil {
		store = cache.NoopProvider{}
	}
	if publisher == nil {
		publisher = actions.NoopPublisher{}
	}
	if opts.ComputeTimeout <= 0 {
		opts.ComputeTimeout = 45 * time.Second
	}
	return &AnalyticsService{
		logger:    logger,
		analytics: analytics,
		cache:     store,
		actions:   publisher,
		opts:      opts,
		latencies: utils.NewLatencyTracker(1024),
	}
}

// Category returns the JSON encoding of a category result. Failures are never
// cached; concurrent callers for the same category share one computation.
func (s *AnalyticsService) Category(ctx context.Context, category models.Category) (json.RawMessage, error) {
	if s.analytics == nil {
		return nil, utils.NewAppError("analytics.category", "analytics engine not configured", nil)
	}

	key := cacheKey(category)
	if s.opts.CacheTTL > 0 {
		data, err := s.cache.Get(ctx, key)
		switch {
		case err == nil:
			metrics.ObserveCacheLookup(metrics.CacheHit)
			return data, nil
		case errors.Is(err, cache.ErrCacheMiss):
			metrics.ObserveCacheLookup(metrics.CacheMiss)
		default:
			metrics.ObserveCacheLookup(metrics.CacheMiss)
			s.logger.Warn("category cache lookup failed", slog.String("category", category.String()), slog.Any("error", err))
		}
	}

	result, err, shared := s.flights.Do(string(category), func() (interface{}, error) {
		return s.compute(ctx, category)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.logger.Debug("category computation shared", slog.String("category", category.String()))
	}
	return result.(json.RawMessage), nil
}

func (s *AnalyticsService) compute(parent context.Context, category models.Category) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), s.opts.ComputeTimeout)
	defer cancel()

	start := time.Now()
	payload, err := s.run(ctx, category)
	duration := time.Since(start)
	if err != nil {
		metrics.ObserveCategory(category.String(), duration, metrics.OutcomeError)
		return nil, err
	}
	metrics.ObserveCategory(category.String(), duration, metrics.OutcomeSuccess)
	s.observeLatency(duration)

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, utils.NewAppError("analytics.encode", "failed to encode "+category.String()+" result", err)
	}
	if s.opts.CacheTTL > 0 {
		if err := s.cache.Set(ctx, cacheKey(category), data, s.opts.CacheTTL); err != nil {
			s.logger.Warn("category cache store failed", slog.String("category", category.String()), slog.Any("error", err))
		}
	}
	return data, nil
}

func (s *AnalyticsService) run(ctx context.Context, category models.Category) (any, error) {
	switch category {
	case models.CategoryDescriptive:
		return s.analytics.Descriptive(ctx)
	case models.CategoryDiagnostic:
		return s.analytics.Diagnostic(ctx)
	case models.CategoryPredictive:
		return s.analytics.Predictive(ctx)
	case models.CategoryPrescriptive:
		recs, err := s.analytics.Prescriptive(ctx)
		if err != nil {
			return nil, err
		}
		s.dispatch(ctx, recs)
		return recs, nil
	default:
		return nil, utils.NewAppError("analytics.category", fmt.Sprintf("unknown analytics category %q", category), nil)
	}
}

// dispatch publishes automated actions. Publish failures never fail the request.
func (s *AnalyticsService) dispatch(ctx context.Context, recs []models.Recommendation) {
	sent, err := s.actions.Publish(ctx, recs)
	if err != nil {
		s.logger.Error("automated action dispatch failed", slog.Int("sent", sent), slog.Any("error", err))
		return
	}
	if sent > 0 {
		s.logger.Info("automated actions dispatched", slog.Int("count", sent))
	}
}

func (s *AnalyticsService) observeLatency(d time.Duration) {
	s.latencies.Observe(d)
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		s.logger.Info("category latency", slog.Duration("p95", s.latencies.Percentile(95)), slog.Int("samples", count))
	}
}

// LatencyP95 returns the current p95 category computation latency.
func (s *AnalyticsService) LatencyP95() time.Duration {
	if s.latencies == nil {
		return 0
	}
	return s.latencies.Percentile(95)
}

func cacheKey(category models.Category) string {
	return "authlens:category:" + category.String()
}
