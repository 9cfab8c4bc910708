package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/mirador-authlens/internal/models"
)

// Result shaping applied to every category regardless of what the store returns.
const (
	TopFailedMinAttempts int64 = 5
	TopFailedLimit             = 10
	TimelineHours              = 24
	SpikeThreshold       int64 = 10
	DiagnosticLimit            = 10
	AnomalyLimit               = 15
	RiskLimit                  = 10
	RecommendationLimit        = 20
)

// Store defines the warehouse reads backing the descriptive, diagnostic and
// prescriptive categories.
type Store interface {
	Summary(ctx context.Context) (models.Summary, error)
	TopFailedLogins(ctx context.Context, minAttempts int64, limit int) ([]models.FailedLogin, error)
	RecentTimeline(ctx context.Context, hours int) ([]models.TimelineBucket, error)
	SpikeDiagnostics(ctx context.Context, spikeThreshold int64, limit int) ([]models.DiagnosticRow, error)
	ActivityRollups(ctx context.Context, limit int) ([]models.ActivityRollup, error)
}

// AnomalyModel scores source IPs by distance from learned behaviour clusters.
type AnomalyModel interface {
	Anomalies(ctx context.Context, limit int) ([]models.Anomaly, error)
}

// RiskModel predicts which (ip, principal) pairs are high risk.
type RiskModel interface {
	HighRisk(ctx context.Context, limit int) ([]models.RiskPrediction, error)
}

// Analytics computes the four category results. Each method either returns a
// complete result or an error; partial data is never returned.
type Analytics struct {
	logger  *slog.Logger
	store   Store
	anomaly AnomalyModel
	risk    RiskModel
}

// NewAnalytics constructs the aggregator.
func NewAnalytics(logger *slog.Logger, store Store, anomaly AnomalyModel, risk RiskModel) *Analytics {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analytics{logger: logger, store: store, anomaly: anomaly, risk: risk}
}

// Descriptive runs the summary, top failed logins and timeline queries together.
func (a *Analytics) Descriptive(ctx context.Context) (models.DescriptiveResult, error) {
	if a.store == nil {
		return models.DescriptiveResult{}, fmt.Errorf("analytics store not configured")
	}

	var (
		summary  models.Summary
		failed   []models.FailedLogin
		timeline []models.TimelineBucket
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		summary, err = a.store.Summary(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		failed, err = a.store.TopFailedLogins(gctx, TopFailedMinAttempts, TopFailedLimit)
		return err
	})
	g.Go(func() error {
		var err error
		timeline, err = a.store.RecentTimeline(gctx, TimelineHours)
		return err
	})
	if err := g.Wait(); err != nil {
		return models.DescriptiveResult{}, err
	}

	return models.DescriptiveResult{
		Summary:   summary,
		TopFailed: shapeTopFailed(failed),
		Timeline:  chronological(timeline),
	}, nil
}

// Diagnostic attributes failures inside spike hours to their sources.
func (a *Analytics) Diagnostic(ctx context.Context) ([]models.DiagnosticRow, error) {
	if a.store == nil {
		return nil, fmt.Errorf("analytics store not configured")
	}
	rows, err := a.store.SpikeDiagnostics(ctx, SpikeThreshold, DiagnosticLimit)
	if err != nil {
		return nil, err
	}

	out := make([]models.DiagnosticRow, 0, len(rows))
	out = append(out, rows...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].FailureCount > out[j].FailureCount
	})
	if len(out) > DiagnosticLimit {
		out = out[:DiagnosticLimit]
	}
	for i := range out {
		if out[i].ErrorCodes == nil {
			out[i].ErrorCodes = []int64{}
		}
	}
	return out, nil
}

// Predictive runs anomaly and risk inference together.
func (a *Analytics) Predictive(ctx context.Context) (models.PredictiveResult, error) {
	if a.anomaly == nil || a.risk == nil {
		return models.PredictiveResult{}, fmt.Errorf("predictive models not configured")
	}

	var (
		anomalies []models.Anomaly
		risks     []models.RiskPrediction
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		anomalies, err = a.anomaly.Anomalies(gctx, AnomalyLimit)
		return err
	})
	g.Go(func() error {
		var err error
		risks, err = a.risk.HighRisk(gctx, RiskLimit)
		return err
	})
	if err := g.Wait(); err != nil {
		return models.PredictiveResult{}, err
	}

	return models.PredictiveResult{
		Anomalies: shapeAnomalies(anomalies),
		Risks:     shapeRisks(risks),
	}, nil
}

// Prescriptive scores per-source activity and returns the riskiest first.
func (a *Analytics) Prescriptive(ctx context.Context) ([]models.Recommendation, error) {
	if a.store == nil {
		return nil, fmt.Errorf("analytics store not configured")
	}
	rollups, err := a.store.ActivityRollups(ctx, RecommendationLimit)
	if err != nil {
		return nil, err
	}

	recs := BuildRecommendations(rollups, RecommendationLimit)
	automated := 0
	for _, rec := range recs {
		if rec.TriggerAutomatedAction {
			automated++
		}
	}
	if automated > 0 {
		a.logger.Info("prescriptive analysis flagged automated actions", slog.Int("count", automated))
	}
	return recs, nil
}

func shapeTopFailed(rows []models.FailedLogin) []models.FailedLogin {
	out := make([]models.FailedLogin, 0, len(rows))
	for _, row := range rows {
		if row.FailedAttempts > TopFailedMinAttempts {
			out = append(out, row)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].FailedAttempts > out[j].FailedAttempts
	})
	if len(out) > TopFailedLimit {
		out = out[:TopFailedLimit]
	}
	return out
}

// chronological keeps the newest TimelineHours buckets and returns them oldest
// first.
func chronological(buckets []models.TimelineBucket) []models.TimelineBucket {
	out := make([]models.TimelineBucket, 0, len(buckets))
	out = append(out, buckets...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Hour.After(out[j].Hour.Time)
	})
	if len(out) > TimelineHours {
		out = out[:TimelineHours]
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func shapeAnomalies(rows []models.Anomaly) []models.Anomaly {
	out := make([]models.Anomaly, 0, len(rows))
	out = append(out, rows...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].AnomalyScore > out[j].AnomalyScore
	})
	if len(out) > AnomalyLimit {
		out = out[:AnomalyLimit]
	}
	return out
}

func shapeRisks(rows []models.RiskPrediction) []models.RiskPrediction {
	out := make([]models.RiskPrediction, 0, len(rows))
	for _, row := range rows {
		if row.PredictedHighRisk {
			out = append(out, row)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RiskScore > out[j].RiskScore
	})
	if len(out) > RiskLimit {
		out = out[:RiskLimit]
	}
	return out
}
