package repo

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/miradorstack/mirador-authlens/internal/config"
	"github.com/miradorstack/mirador-authlens/internal/models"
)

// Query names, used as metric labels and in error messages.
const (
	QuerySummary         = "summary"
	QueryTopFailedLogins = "top_failed_logins"
	QueryTimeline        = "timeline"
	QueryDiagnostic      = "diagnostic"
	QueryAnomalies       = "anomalies"
	QueryRiskPredictions = "risk_predictions"
	QueryActivityRollups = "activity_rollups"
)

// Warehouse issues the typed constituent queries against the auth log table.
// It also satisfies the predictive model interfaces by running ML.PREDICT.
type Warehouse struct {
	exec   Executor
	tables Tables
}

// NewWarehouse builds a Warehouse for the configured dataset.
func NewWarehouse(exec Executor, cfg config.WarehouseConfig) *Warehouse {
	return &Warehouse{
		exec:   exec,
		tables: NewTables(cfg.ProjectID, cfg.Dataset, cfg.Table, cfg.AnomalyModel, cfg.RiskModel),
	}
}

type summaryRow struct {
	TotalEvents    int64                `bigquery:"total_events"`
	TotalFailures  int64                `bigquery:"total_failures"`
	TotalSuccesses int64                `bigquery:"total_successes"`
	UniqueIPs      int64                `bigquery:"unique_ips"`
	UniqueUsers    int64                `bigquery:"unique_users"`
	FailureRate    bigquery.NullFloat64 `bigquery:"failure_rate"`
}

type failedLoginRow struct {
	IPAddress         string    `bigquery:"ipAddress"`
	UserPrincipalName string    `bigquery:"userPrincipalName"`
	FailedAttempts    int64     `bigquery:"failed_attempts"`
	FirstSeen         time.Time `bigquery:"first_seen"`
	LastSeen          time.Time `bigquery:"last_seen"`
}

type timelineRow struct {
	Hour        time.Time `bigquery:"hour"`
	TotalEvents int64     `bigquery:"total_events"`
	Failures    int64     `bigquery:"failures"`
	Successes   int64     `bigquery:"successes"`
}

type diagnosticRow struct {
	IPAddress         string              `bigquery:"ipAddress"`
	UserPrincipalName string              `bigquery:"userPrincipalName"`
	FailureCount      int64               `bigquery:"failure_count"`
	ErrorCodes        []int64             `bigquery:"error_codes"`
	LogTypes          bigquery.NullString `bigquery:"log_types"`
}

type anomalyRow struct {
	IPAddress      string  `bigquery:"ipAddress"`
	TotalAttempts  int64   `bigquery:"total_attempts"`
	FailedAttempts int64   `bigquery:"failed_attempts"`
	Cluster        int64   `bigquery:"cluster"`
	AnomalyScore   float64 `bigquery:"anomaly_score"`
}

type riskRow struct {
	IPAddress         string               `bigquery:"ipAddress"`
	UserPrincipalName string               `bigquery:"userPrincipalName"`
	TotalAttempts     int64                `bigquery:"total_attempts"`
	Failures          int64                `bigquery:"failures"`
	PredictedHighRisk bool                 `bigquery:"predicted_high_risk"`
	RiskScore         bigquery.NullFloat64 `bigquery:"risk_score"`
}

type activityRow struct {
	IPAddress          string    `bigquery:"ipAddress"`
	UserPrincipalName  string    `bigquery:"userPrincipalName"`
	TotalEvents        int64     `bigquery:"total_events"`
	AuthFailures       int64     `bigquery:"auth_failures"`
	BruteForceAttempts int64     `bigquery:"brute_force_attempts"`
	LastActivity       time.Time `bigquery:"last_activity"`
}

// Summary returns table-wide totals.
func (w *Warehouse) Summary(ctx context.Context) (models.Summary, error) {
	rows, err := Collect[summaryRow](ctx, w.exec, Query{
		Name:   QuerySummary,
		SQL:    summarySQL(w.tables),
		Params: statusParams(),
	})
	if err != nil {
		return models.Summary{}, err
	}
	if len(rows) == 0 {
		return models.Summary{}, &QueryError{Query: QuerySummary, Err: fmt.Errorf("aggregate returned no rows")}
	}
	r := rows[0]
	return models.Summary{
		TotalEvents:    r.TotalEvents,
		TotalFailures:  r.TotalFailures,
		TotalSuccesses: r.TotalSuccesses,
		UniqueIPs:      r.UniqueIPs,
		UniqueUsers:    r.UniqueUsers,
		FailureRate:    r.FailureRate.Float64,
	}, nil
}

// TopFailedLogins returns (ip, principal) pairs with more than minAttempts
// failures, most failures first.
func (w *Warehouse) TopFailedLogins(ctx context.Context, minAttempts int64, limit int) ([]models.FailedLogin, error) {
	rows, err := Collect[failedLoginRow](ctx, w.exec, Query{
		Name: QueryTopFailedLogins,
		SQL:  topFailedLoginsSQL(w.tables),
		Params: []bigquery.QueryParameter{
			{Name: "failure_status", Value: string(models.AuthStatusFailure)},
			{Name: "min_failed_attempts", Value: minAttempts},
			limitParam(limit),
		},
	})
	if err != nil {
		return nil, err
	}
	out := make([]models.FailedLogin, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.FailedLogin{
			IPAddress:         r.IPAddress,
			UserPrincipalName: r.UserPrincipalName,
			FailedAttempts:    r.FailedAttempts,
			FirstSeen:         models.NewTimestamp(r.FirstSeen),
			LastSeen:          models.NewTimestamp(r.LastSeen),
		})
	}
	return out, nil
}

// RecentTimeline returns the newest hourly buckets, newest first.
func (w *Warehouse) RecentTimeline(ctx context.Context, hours int) ([]models.TimelineBucket, error) {
	rows, err := Collect[timelineRow](ctx, w.exec, Query{
		Name:   QueryTimeline,
		SQL:    timelineSQL(w.tables),
		Params: append(statusParams(), limitParam(hours)),
	})
	if err != nil {
		return nil, err
	}
	out := make([]models.TimelineBucket, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.TimelineBucket{
			Hour:        models.NewTimestamp(r.Hour),
			TotalEvents: r.TotalEvents,
			Failures:    r.Failures,
			Successes:   r.Successes,
		})
	}
	return out, nil
}

// SpikeDiagnostics attributes failures inside hours with more than
// spikeThreshold failures to (ip, principal) pairs, most failures first.
func (w *Warehouse) SpikeDiagnostics(ctx context.Context, spikeThreshold int64, limit int) ([]models.DiagnosticRow, error) {
	rows, err := Collect[diagnosticRow](ctx, w.exec, Query{
		Name: QueryDiagnostic,
		SQL:  diagnosticSQL(w.tables),
		Params: []bigquery.QueryParameter{
			{Name: "failure_status", Value: string(models.AuthStatusFailure)},
			{Name: "spike_threshold", Value: spikeThreshold},
			limitParam(limit),
		},
	})
	if err != nil {
		return nil, err
	}
	out := make([]models.DiagnosticRow, 0, len(rows))
	for _, r := range rows {
		codes := r.ErrorCodes
		if codes == nil {
			codes = []int64{}
		}
		out = append(out, models.DiagnosticRow{
			IPAddress:         r.IPAddress,
			UserPrincipalName: r.UserPrincipalName,
			FailureCount:      r.FailureCount,
			ErrorCodes:        codes,
			LogTypes:          r.LogTypes.StringVal,
		})
	}
	return out, nil
}

// Anomalies runs k-means inference and returns the most distant sources first.
func (w *Warehouse) Anomalies(ctx context.Context, limit int) ([]models.Anomaly, error) {
	rows, err := Collect[anomalyRow](ctx, w.exec, Query{
		Name: QueryAnomalies,
		SQL:  anomalySQL(w.tables),
		Params: []bigquery.QueryParameter{
			{Name: "failure_status", Value: string(models.AuthStatusFailure)},
			{Name: "brute_force_code", Value: models.BruteForceErrorCode},
			limitParam(limit),
		},
	})
	if err != nil {
		return nil, err
	}
	out := make([]models.Anomaly, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.Anomaly(r))
	}
	return out, nil
}

// HighRisk runs logistic-regression inference and returns pairs predicted high
// risk, most probable first.
func (w *Warehouse) HighRisk(ctx context.Context, limit int) ([]models.RiskPrediction, error) {
	rows, err := Collect[riskRow](ctx, w.exec, Query{
		Name: QueryRiskPredictions,
		SQL:  riskSQL(w.tables),
		Params: []bigquery.QueryParameter{
			{Name: "failure_status", Value: string(models.AuthStatusFailure)},
			limitParam(limit),
		},
	})
	if err != nil {
		return nil, err
	}
	out := make([]models.RiskPrediction, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.RiskPrediction{
			IPAddress:         r.IPAddress,
			UserPrincipalName: r.UserPrincipalName,
			TotalAttempts:     r.TotalAttempts,
			Failures:          r.Failures,
			PredictedHighRisk: r.PredictedHighRisk,
			RiskScore:         r.RiskScore.Float64,
		})
	}
	return out, nil
}

// ActivityRollups returns per (ip, principal) activity for pairs with at least
// one failure, most failures first.
func (w *Warehouse) ActivityRollups(ctx context.Context, limit int) ([]models.ActivityRollup, error) {
	rows, err := Collect[activityRow](ctx, w.exec, Query{
		Name: QueryActivityRollups,
		SQL:  activitySQL(w.tables),
		Params: []bigquery.QueryParameter{
			{Name: "failure_status", Value: string(models.AuthStatusFailure)},
			{Name: "brute_force_code", Value: models.BruteForceErrorCode},
			limitParam(limit),
		},
	})
	if err != nil {
		return nil, err
	}
	out := make([]models.ActivityRollup, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.ActivityRollup{
			IPAddress:          r.IPAddress,
			UserPrincipalName:  r.UserPrincipalName,
			TotalEvents:        r.TotalEvents,
			AuthFailures:       r.AuthFailures,
			BruteForceAttempts: r.BruteForceAttempts,
			LastActivity:       models.NewTimestamp(r.LastActivity),
		})
	}
	return out, nil
}

func statusParams() []bigquery.QueryParameter {
	return []bigquery.QueryParameter{
		{Name: "failure_status", Value: string(models.AuthStatusFailure)},
		{Name: "success_status", Value: string(models.AuthStatusSuccess)},
	}
}

func limitParam(limit int) bigquery.QueryParameter {
	return bigquery.QueryParameter{Name: "row_limit", Value: int64(limit)}
}
