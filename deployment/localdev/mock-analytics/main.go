package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-authlens/internal/api"
	"github.com/miradorstack/mirador-authlens/internal/cache"
	"github.com/miradorstack/mirador-authlens/internal/engine"
	"github.com/miradorstack/mirador-authlens/internal/models"
	"github.com/miradorstack/mirador-authlens/internal/services"
	"github.com/miradorstack/mirador-authlens/internal/utils"
)

func main() {
	if err := newCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	var (
		addr    string
		failing []string
		latency time.Duration
	)
	cmd := &cobra.Command{
		Use:          "mock-analytics",
		Short:        "Serve synthetic analytics envelopes for local dashboard development",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := utils.NewLogger("debug", false)
			store := &syntheticStore{now: time.Now, latency: latency, failing: map[string]bool{}}
			for _, name := range failing {
				store.failing[strings.TrimSpace(name)] = true
			}

			analytics := engine.NewAnalytics(logger, store, store, store)
			service := services.NewAnalyticsService(logger, analytics, cache.NoopProvider{}, nil, services.Options{})
			server := &http.Server{
				Addr: addr,
				Handler: api.NewRouter(&api.Handler{
					Service: service,
					Logger:  logger,
					Models:  models.DefaultModelCatalog(),
				}, 0),
				ReadHeaderTimeout: 5 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = server.Shutdown(shutdownCtx)
			}()

			logger.Info("mock analytics listening", slog.String("address", addr), slog.Any("failing", failing))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address")
	cmd.Flags().StringSliceVar(&failing, "fail", nil, "Queries to fail (summary, timeline, diagnostic, anomalies, risk, activity)")
	cmd.Flags().DurationVar(&latency, "latency", 0, "Artificial delay added to every query")
	return cmd
}

// syntheticStore fabricates a small, stable data set around a handful of
// attacking sources.
type syntheticStore struct {
	now     func() time.Time
	latency time.Duration
	failing map[string]bool
}

func (s *syntheticStore) wait(ctx context.Context, query string) error {
	if s.latency > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.latency):
		}
	}
	if s.failing[query] {
		return utils.NewAppError("mock."+query, fmt.Sprintf("query %s failed: synthetic outage", query), nil)
	}
	return nil
}

func (s *syntheticStore) Summary(ctx context.Context) (models.Summary, error) {
	if err := s.wait(ctx, "summary"); err != nil {
		return models.Summary{}, err
	}
	return models.Summary{
		TotalEvents:    18240,
		TotalFailures:  2315,
		TotalSuccesses: 15925,
		UniqueIPs:      412,
		UniqueUsers:    187,
		FailureRate:    12.69,
	}, nil
}

func (s *syntheticStore) TopFailedLogins(ctx context.Context, minAttempts int64, limit int) ([]models.FailedLogin, error) {
	if err := s.wait(ctx, "summary"); err != nil {
		return nil, err
	}
	now := s.now()
	return []models.FailedLogin{
		{IPAddress: "203.0.113.7", UserPrincipalName: "alice@example.com", FailedAttempts: 64, FirstSeen: models.NewTimestamp(now.Add(-6 * time.Hour)), LastSeen: models.NewTimestamp(now.Add(-5 * time.Minute))},
		{IPAddress: "198.51.100.23", UserPrincipalName: "bob@example.com", FailedAttempts: 27, FirstSeen: models.NewTimestamp(now.Add(-3 * time.Hour)), LastSeen: models.NewTimestamp(now.Add(-20 * time.Minute))},
		{IPAddress: "192.0.2.44", UserPrincipalName: "carol@example.com", FailedAttempts: 12, FirstSeen: models.NewTimestamp(now.Add(-2 * time.Hour)), LastSeen: models.NewTimestamp(now.Add(-45 * time.Minute))},
	}, nil
}

func (s *syntheticStore) RecentTimeline(ctx context.Context, hours int) ([]models.TimelineBucket, error) {
	if err := s.wait(ctx, "timeline"); err != nil {
		return nil, err
	}
	top := s.now().Truncate(time.Hour)
	buckets := make([]models.TimelineBucket, 0, hours)
	for i := 0; i < hours; i++ {
		failures := int64(20 + (i*7)%35)
		if i == 3 {
			failures = 180
		}
		successes := int64(600 + (i*13)%90)
		buckets = append(buckets, models.TimelineBucket{
			Hour:        models.NewTimestamp(top.Add(-time.Duration(i) * time.Hour)),
			TotalEvents: failures + successes,
			Failures:    failures,
			Successes:   successes,
		})
	}
	return buckets, nil
}

func (s *syntheticStore) SpikeDiagnostics(ctx context.Context, spikeThreshold int64, limit int) ([]models.DiagnosticRow, error) {
	if err := s.wait(ctx, "diagnostic"); err != nil {
		return nil, err
	}
	return []models.DiagnosticRow{
		{IPAddress: "203.0.113.7", UserPrincipalName: "alice@example.com", FailureCount: 58, ErrorCodes: []int64{models.BruteForceErrorCode, 50053}, LogTypes: "SignInLogs"},
		{IPAddress: "198.51.100.23", UserPrincipalName: "bob@example.com", FailureCount: 22, ErrorCodes: []int64{models.BruteForceErrorCode}, LogTypes: "SignInLogs, NonInteractive"},
	}, nil
}

func (s *syntheticStore) ActivityRollups(ctx context.Context, limit int) ([]models.ActivityRollup, error) {
	if err := s.wait(ctx, "activity"); err != nil {
		return nil, err
	}
	now := s.now()
	return []models.ActivityRollup{
		{IPAddress: "203.0.113.7", UserPrincipalName: "alice@example.com", TotalEvents: 70, AuthFailures: 64, BruteForceAttempts: 58, LastActivity: models.NewTimestamp(now.Add(-5 * time.Minute))},
		{IPAddress: "198.51.100.23", UserPrincipalName: "bob@example.com", TotalEvents: 40, AuthFailures: 27, BruteForceAttempts: 22, LastActivity: models.NewTimestamp(now.Add(-20 * time.Minute))},
		{IPAddress: "192.0.2.44", UserPrincipalName: "carol@example.com", TotalEvents: 30, AuthFailures: 12, BruteForceAttempts: 4, LastActivity: models.NewTimestamp(now.Add(-45 * time.Minute))},
		{IPAddress: "10.1.2.3", UserPrincipalName: "dave@example.com", TotalEvents: 55, AuthFailures: 3, LastActivity: models.NewTimestamp(now.Add(-2 * time.Hour))},
	}, nil
}

func (s *syntheticStore) Anomalies(ctx context.Context, limit int) ([]models.Anomaly, error) {
	if err := s.wait(ctx, "anomalies"); err != nil {
		return nil, err
	}
	return []models.Anomaly{
		{IPAddress: "203.0.113.7", TotalAttempts: 70, FailedAttempts: 64, Cluster: 3, AnomalyScore: 8.41},
		{IPAddress: "198.51.100.23", TotalAttempts: 40, FailedAttempts: 27, Cluster: 3, AnomalyScore: 4.02},
		{IPAddress: "10.1.2.3", TotalAttempts: 55, FailedAttempts: 3, Cluster: 1, AnomalyScore: 0.37},
	}, nil
}

func (s *syntheticStore) HighRisk(ctx context.Context, limit int) ([]models.RiskPrediction, error) {
	if err := s.wait(ctx, "risk"); err != nil {
		return nil, err
	}
	return []models.RiskPrediction{
		{IPAddress: "203.0.113.7", UserPrincipalName: "alice@example.com", TotalAttempts: 70, Failures: 64, PredictedHighRisk: true, RiskScore: 0.97},
		{IPAddress: "198.51.100.23", UserPrincipalName: "bob@example.com", TotalAttempts: 40, Failures: 27, PredictedHighRisk: true, RiskScore: 0.81},
	}, nil
}
