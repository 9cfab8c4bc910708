package repo

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/miradorstack/mirador-authlens/internal/config"
	"github.com/miradorstack/mirador-authlens/internal/models"
)

type sliceIterator struct {
	rows []any
	pos  int
}

func (s *sliceIterator) Next(dst interface{}) error {
	if s.pos >= len(s.rows) {
		return iterator.Done
	}
	reflect.ValueOf(dst).Elem().Set(reflect.ValueOf(s.rows[s.pos]))
	s.pos++
	return nil
}

type fakeExecutor struct {
	rows    map[string][]any
	errs    map[string]error
	queries []Query
}

func (f *fakeExecutor) Execute(ctx context.Context, q Query, consume func(RowIterator) error) error {
	f.queries = append(f.queries, q)
	if err := f.errs[q.Name]; err != nil {
		return &QueryError{Query: q.Name, Err: err}
	}
	return consume(&sliceIterator{rows: f.rows[q.Name]})
}

func (f *fakeExecutor) param(t *testing.T, query, name string) any {
	t.Helper()
	for _, q := range f.queries {
		if q.Name != query {
			continue
		}
		for _, p := range q.Params {
			if p.Name == name {
				return p.Value
			}
		}
	}
	t.Fatalf("query %s has no parameter %s", query, name)
	return nil
}

func testWarehouse(exec Executor) *Warehouse {
	return NewWarehouse(exec, config.WarehouseConfig{
		ProjectID:    "proj-a",
		Dataset:      "auth_analytics",
		Table:        "auth_logs",
		AnomalyModel: "anomaly_model",
		RiskModel:    "risk_model",
	})
}

func TestNewTablesQualifiesNames(t *testing.T) {
	tables := NewTables("proj-a", "auth_analytics", "auth_logs", "anomaly_model", "risk_model")
	assert.Equal(t, "`proj-a.auth_analytics.auth_logs`", tables.AuthLogs)
	assert.Equal(t, "`proj-a.auth_analytics.anomaly_model`", tables.AnomalyModel)
	assert.Contains(t, riskSQL(tables), "MODEL `proj-a.auth_analytics.risk_model`")
	assert.Contains(t, anomalySQL(tables), "MODEL `proj-a.auth_analytics.anomaly_model`")
}

func TestSummaryMapsRow(t *testing.T) {
	exec := &fakeExecutor{rows: map[string][]any{
		QuerySummary: {summaryRow{
			TotalEvents: 200, TotalFailures: 40, TotalSuccesses: 160,
			UniqueIPs: 12, UniqueUsers: 9,
			FailureRate: bigquery.NullFloat64{Float64: 20, Valid: true},
		}},
	}}

	summary, err := testWarehouse(exec).Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.Summary{
		TotalEvents: 200, TotalFailures: 40, TotalSuccesses: 160,
		UniqueIPs: 12, UniqueUsers: 9, FailureRate: 20,
	}, summary)
	assert.Equal(t, "failure", exec.param(t, QuerySummary, "failure_status"))
	assert.Equal(t, "success", exec.param(t, QuerySummary, "success_status"))
}

func TestSummaryEmptyTableHasZeroRate(t *testing.T) {
	exec := &fakeExecutor{rows: map[string][]any{QuerySummary: {summaryRow{}}}}

	summary, err := testWarehouse(exec).Summary(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.FailureRate)
}

func TestSummaryWithoutRowsFails(t *testing.T) {
	_, err := testWarehouse(&fakeExecutor{}).Summary(context.Background())
	var qerr *QueryError
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, QuerySummary, qerr.Query)
}

func TestTopFailedLoginsBindsThresholds(t *testing.T) {
	seen := time.Date(2025, 1, 2, 3, 0, 0, 0, time.UTC)
	exec := &fakeExecutor{rows: map[string][]any{
		QueryTopFailedLogins: {failedLoginRow{
			IPAddress: "1.2.3.4", UserPrincipalName: "alice",
			FailedAttempts: 60, FirstSeen: seen, LastSeen: seen.Add(time.Hour),
		}},
	}}

	rows, err := testWarehouse(exec).TopFailedLogins(context.Background(), 5, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(60), rows[0].FailedAttempts)
	assert.True(t, rows[0].LastSeen.Time.Equal(seen.Add(time.Hour)))
	assert.Equal(t, int64(5), exec.param(t, QueryTopFailedLogins, "min_failed_attempts"))
	assert.Equal(t, int64(10), exec.param(t, QueryTopFailedLogins, "row_limit"))
}

func TestSpikeDiagnosticsNormalizesNulls(t *testing.T) {
	exec := &fakeExecutor{rows: map[string][]any{
		QueryDiagnostic: {diagnosticRow{IPAddress: "1.2.3.4", UserPrincipalName: "alice", FailureCount: 12}},
	}}

	rows, err := testWarehouse(exec).SpikeDiagnostics(context.Background(), 10, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.NotNil(t, rows[0].ErrorCodes)
	assert.Empty(t, rows[0].ErrorCodes)
	assert.Equal(t, "", rows[0].LogTypes)
	assert.Equal(t, int64(10), exec.param(t, QueryDiagnostic, "spike_threshold"))
}

func TestEmptyResultsAreNonNil(t *testing.T) {
	w := testWarehouse(&fakeExecutor{})
	ctx := context.Background()

	timeline, err := w.RecentTimeline(ctx, 24)
	require.NoError(t, err)
	assert.NotNil(t, timeline)

	anomalies, err := w.Anomalies(ctx, 15)
	require.NoError(t, err)
	assert.NotNil(t, anomalies)

	risks, err := w.HighRisk(ctx, 10)
	require.NoError(t, err)
	assert.NotNil(t, risks)

	rollups, err := w.ActivityRollups(ctx, 20)
	require.NoError(t, err)
	assert.NotNil(t, rollups)
}

func TestPredictiveQueriesBindModelInputs(t *testing.T) {
	exec := &fakeExecutor{rows: map[string][]any{
		QueryAnomalies: {anomalyRow{IPAddress: "9.9.9.9", TotalAttempts: 100, FailedAttempts: 90, Cluster: 2, AnomalyScore: 7.5}},
		QueryRiskPredictions: {riskRow{
			IPAddress: "1.2.3.4", UserPrincipalName: "alice", TotalAttempts: 70, Failures: 60,
			PredictedHighRisk: true, RiskScore: bigquery.NullFloat64{Float64: 0.97, Valid: true},
		}},
	}}
	w := testWarehouse(exec)

	anomalies, err := w.Anomalies(context.Background(), 15)
	require.NoError(t, err)
	assert.Equal(t, []models.Anomaly{{IPAddress: "9.9.9.9", TotalAttempts: 100, FailedAttempts: 90, Cluster: 2, AnomalyScore: 7.5}}, anomalies)
	assert.Equal(t, models.BruteForceErrorCode, exec.param(t, QueryAnomalies, "brute_force_code"))

	risks, err := w.HighRisk(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, risks, 1)
	assert.InDelta(t, 0.97, risks[0].RiskScore, 1e-9)
	assert.Equal(t, int64(10), exec.param(t, QueryRiskPredictions, "row_limit"))
}

func TestExecutorErrorPropagates(t *testing.T) {
	exec := &fakeExecutor{errs: map[string]error{QueryActivityRollups: errors.New("boom")}}

	_, err := testWarehouse(exec).ActivityRollups(context.Background(), 20)
	var qerr *QueryError
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, QueryActivityRollups, qerr.Query)
}

func TestBigQueryExecutorWrapsAPIErrors(t *testing.T) {
	apiErr := &googleapi.Error{Code: 404, Message: "Not found: Table proj-a:auth_analytics.auth_logs"}
	exec := newExecutor(func(ctx context.Context, q Query) (RowIterator, error) {
		return nil, apiErr
	}, time.Second, nil)

	err := exec.Execute(context.Background(), Query{Name: QuerySummary}, func(RowIterator) error { return nil })
	var qerr *QueryError
	require.ErrorAs(t, err, &qerr)
	assert.ErrorIs(t, err, apiErr)
	assert.Equal(t, "Not found: Table proj-a:auth_analytics.auth_logs", qerr.PublicMessage())
}

func TestBigQueryExecutorAppliesTimeout(t *testing.T) {
	exec := newExecutor(func(ctx context.Context, q Query) (RowIterator, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, 20*time.Millisecond, nil)

	err := exec.Execute(context.Background(), Query{Name: QueryAnomalies}, func(RowIterator) error { return nil })
	var qerr *QueryError
	require.ErrorAs(t, err, &qerr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "query anomalies timed out", qerr.PublicMessage())
}

func TestBigQueryExecutorPassesRows(t *testing.T) {
	exec := newExecutor(func(ctx context.Context, q Query) (RowIterator, error) {
		assert.Equal(t, "SELECT 1", q.SQL)
		return &sliceIterator{rows: []any{timelineRow{TotalEvents: 3}}}, nil
	}, time.Second, nil)

	rows, err := Collect[timelineRow](context.Background(), exec, Query{Name: QueryTimeline, SQL: "SELECT 1"})
	require.NoError(t, err)
	assert.Equal(t, []timelineRow{{TotalEvents: 3}}, rows)
}
