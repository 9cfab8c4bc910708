package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-authlens/internal/engine"
	"github.com/miradorstack/mirador-authlens/internal/models"
	"github.com/miradorstack/mirador-authlens/internal/services"
)

type stubService struct {
	data map[models.Category]json.RawMessage
	errs map[models.Category]error
}

func (s *stubService) Category(ctx context.Context, category models.Category) (json.RawMessage, error) {
	if err := s.errs[category]; err != nil {
		return nil, err
	}
	return s.data[category], nil
}

type publicErr struct{ msg string }

func (e publicErr) Error() string         { return "query diagnostic: googleapi: " + e.msg }
func (e publicErr) PublicMessage() string { return e.msg }

func newTestRouter(svc CategoryService, logs io.Writer) http.Handler {
	logger := slog.New(slog.NewTextHandler(logs, nil))
	return NewRouter(&Handler{
		Service:    svc,
		Logger:     logger,
		Models:     models.DefaultModelCatalog(),
		Revalidate: time.Minute,
	}, time.Second)
}

func get(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, Envelope) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var env Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func TestCategorySuccessEnvelope(t *testing.T) {
	svc := &stubService{data: map[models.Category]json.RawMessage{
		models.CategoryDiagnostic: json.RawMessage(`[]`),
	}}
	router := newTestRouter(svc, io.Discard)

	for _, path := range []string{"/analytics/diagnostic", "/api/analytics/diagnostic"} {
		rec, env := get(t, router, path)
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.True(t, env.Success)
		assert.JSONEq(t, `[]`, string(env.Data))
		assert.Empty(t, env.Error)
		assert.Equal(t, "public, max-age=60", rec.Header().Get("Cache-Control"))
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	}
}

func TestCategoryFailureEnvelope(t *testing.T) {
	var logs bytes.Buffer
	svc := &stubService{errs: map[models.Category]error{
		models.CategoryPredictive: publicErr{msg: "Not found: Model proj:ds.anomaly_model"},
	}}
	router := newTestRouter(svc, &logs)

	rec, env := get(t, router, "/analytics/predictive")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.False(t, env.Success)
	assert.Nil(t, env.Data)
	assert.Equal(t, "Not found: Model proj:ds.anomaly_model", env.Error)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Contains(t, logs.String(), "category=predictive")
	assert.Contains(t, logs.String(), "level=ERROR")

	var raw map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.NotContains(t, raw, "data")
}

func TestUnknownCategoryIsNotFound(t *testing.T) {
	router := newTestRouter(&stubService{}, io.Discard)

	rec, env := get(t, router, "/analytics/forensic")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, env.Success)
	assert.NotEmpty(t, env.Error)
}

func TestModelCatalog(t *testing.T) {
	router := newTestRouter(&stubService{}, io.Discard)

	rec, env := get(t, router, "/analytics/models")
	assert.Equal(t, http.StatusOK, rec.Code)
	var catalog []models.ModelInfo
	require.NoError(t, json.Unmarshal(env.Data, &catalog))
	require.Len(t, catalog, 2)
	assert.Equal(t, "anomaly_model", catalog[0].Name)
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(&stubService{}, io.Discard)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestBuildEnvelopeRejectsEmptySuccess(t *testing.T) {
	status, env := BuildEnvelope(slog.New(slog.NewTextHandler(io.Discard, nil)), models.CategoryDescriptive, nil, nil)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.False(t, env.Success)
	assert.NotEmpty(t, env.Error)
}

// analyticsStore serves a fixed dataset with a single brute-force source.
type analyticsStore struct {
	diagErr error
}

func (s *analyticsStore) Summary(ctx context.Context) (models.Summary, error) {
	return models.Summary{TotalEvents: 70, TotalFailures: 60, TotalSuccesses: 10, UniqueIPs: 2, UniqueUsers: 2, FailureRate: 85.71}, nil
}

func (s *analyticsStore) TopFailedLogins(ctx context.Context, minAttempts int64, limit int) ([]models.FailedLogin, error) {
	return []models.FailedLogin{{IPAddress: "1.2.3.4", UserPrincipalName: "alice", FailedAttempts: 60}}, nil
}

func (s *analyticsStore) RecentTimeline(ctx context.Context, hours int) ([]models.TimelineBucket, error) {
	return []models.TimelineBucket{}, nil
}

func (s *analyticsStore) SpikeDiagnostics(ctx context.Context, spikeThreshold int64, limit int) ([]models.DiagnosticRow, error) {
	if s.diagErr != nil {
		return nil, s.diagErr
	}
	return []models.DiagnosticRow{{IPAddress: "1.2.3.4", UserPrincipalName: "alice", FailureCount: 60, ErrorCodes: []int64{50126}}}, nil
}

func (s *analyticsStore) ActivityRollups(ctx context.Context, limit int) ([]models.ActivityRollup, error) {
	return []models.ActivityRollup{
		{IPAddress: "10.0.0.9", UserPrincipalName: "carol", TotalEvents: 45, AuthFailures: 30, BruteForceAttempts: 12},
		{IPAddress: "1.2.3.4", UserPrincipalName: "alice", TotalEvents: 60, AuthFailures: 60, BruteForceAttempts: 60},
		{IPAddress: "10.0.0.7", UserPrincipalName: "bob", TotalEvents: 10, AuthFailures: 0},
	}, nil
}

func newStackRouter(store *analyticsStore) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	analytics := engine.NewAnalytics(logger, store, nil, nil)
	svc := services.NewAnalyticsService(logger, analytics, nil, nil, services.Options{})
	return NewRouter(&Handler{Service: svc, Logger: logger, Revalidate: time.Minute}, time.Second)
}

func TestPrescriptiveEndToEnd(t *testing.T) {
	router := newStackRouter(&analyticsStore{})

	rec, env := get(t, router, "/analytics/prescriptive")
	require.Equal(t, http.StatusOK, rec.Code)
	var recs []map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &recs))
	require.Len(t, recs, 2)
	assert.Equal(t, "1.2.3.4", recs[0]["ipAddress"])
	assert.Equal(t, "alice", recs[0]["userPrincipalName"])
	assert.EqualValues(t, 95, recs[0]["risk_score"])
	assert.Equal(t, "IMMEDIATE: Suspend account and block IP address", recs[0]["recommended_action"])
	assert.Equal(t, true, recs[0]["trigger_automated_action"])

	assert.Equal(t, "carol", recs[1]["userPrincipalName"])
	assert.EqualValues(t, 30, recs[1]["auth_failures"])
	assert.EqualValues(t, 85, recs[1]["risk_score"])
	assert.Equal(t, "HIGH PRIORITY: Quarantine user and investigate", recs[1]["recommended_action"])
	assert.Equal(t, false, recs[1]["trigger_automated_action"])
}

func TestDiagnosticOutageIsolated(t *testing.T) {
	router := newStackRouter(&analyticsStore{diagErr: errors.New("Table not found")})

	paths := []string{"/analytics/diagnostic", "/analytics/descriptive"}
	recs := make([]*httptest.ResponseRecorder, len(paths))
	var wg sync.WaitGroup
	for i, path := range paths {
		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()
			recs[i] = httptest.NewRecorder()
			router.ServeHTTP(recs[i], httptest.NewRequest(http.MethodGet, path, nil))
		}(i, path)
	}
	wg.Wait()

	var env Envelope
	require.NoError(t, json.Unmarshal(recs[0].Body.Bytes(), &env))
	assert.Equal(t, http.StatusInternalServerError, recs[0].Code)
	assert.False(t, env.Success)
	assert.Equal(t, "Table not found", env.Error)

	env = Envelope{}
	require.NoError(t, json.Unmarshal(recs[1].Body.Bytes(), &env))
	assert.Equal(t, http.StatusOK, recs[1].Code)
	assert.True(t, env.Success)
	var result models.DescriptiveResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, int64(70), result.Summary.TotalEvents)
	assert.NotNil(t, result.Timeline)
}

func TestPredictiveWithoutModelsFails(t *testing.T) {
	router := newStackRouter(&analyticsStore{})

	rec, env := get(t, router, "/analytics/predictive")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "predictive models not configured", env.Error)
}
