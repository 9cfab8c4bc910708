package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-authlens/internal/models"
)

type fetchFunc func(ctx context.Context, category models.Category) (json.RawMessage, error)

func (f fetchFunc) Fetch(ctx context.Context, category models.Category) (json.RawMessage, error) {
	return f(ctx, category)
}

var samplePayloads = map[models.Category]json.RawMessage{
	models.CategoryDescriptive:  json.RawMessage(`{"summary":{"total_events":70,"total_failures":60},"topFailed":[],"timeline":[]}`),
	models.CategoryDiagnostic:   json.RawMessage(`[{"ipAddress":"1.2.3.4","userPrincipalName":"alice","failure_count":60,"error_codes":[50126],"log_types":"signin"}]`),
	models.CategoryPredictive:   json.RawMessage(`{"anomalies":[],"risks":[]}`),
	models.CategoryPrescriptive: json.RawMessage(`[{"ipAddress":"1.2.3.4","userPrincipalName":"alice","auth_failures":60,"risk_score":95,"recommended_action":"IMMEDIATE: Suspend account and block IP address","trigger_automated_action":true}]`),
}

func okFetcher() fetchFunc {
	return func(ctx context.Context, category models.Category) (json.RawMessage, error) {
		return samplePayloads[category], nil
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPoller(f Fetcher, policy FailurePolicy) *Poller {
	return NewPoller(f, PollerOptions{Interval: time.Hour, Policy: policy, Logger: quietLogger()})
}

func TestRunCyclePopulatesView(t *testing.T) {
	p := newTestPoller(okFetcher(), FailurePolicyClear)

	require.True(t, p.RunCycle(context.Background()))
	view := p.View()
	require.NotNil(t, view.Descriptive)
	assert.Equal(t, int64(70), view.Descriptive.Summary.TotalEvents)
	require.Len(t, view.Diagnostic, 1)
	require.NotNil(t, view.Predictive)
	assert.NotNil(t, view.Predictive.Anomalies)
	require.Len(t, view.Prescriptive, 1)
	assert.True(t, view.Prescriptive[0].TriggerAutomatedAction)
	assert.Empty(t, view.Errors)
	assert.False(t, view.LastUpdate.IsZero())
	assert.False(t, p.ShowLoading())
}

func TestFailedCategoryClearsUnderDefaultPolicy(t *testing.T) {
	var failDiag atomic.Bool
	fetcher := fetchFunc(func(ctx context.Context, category models.Category) (json.RawMessage, error) {
		if category == models.CategoryDiagnostic && failDiag.Load() {
			return nil, &EnvelopeError{Category: category, Status: 500, Message: "Table not found"}
		}
		return samplePayloads[category], nil
	})
	p := newTestPoller(fetcher, "")

	require.True(t, p.RunCycle(context.Background()))
	failDiag.Store(true)
	require.True(t, p.RunCycle(context.Background()))

	view := p.View()
	assert.Nil(t, view.Diagnostic)
	assert.Contains(t, view.Errors[models.CategoryDiagnostic], "Table not found")
	assert.False(t, view.Stale[models.CategoryDiagnostic])
	assert.NotNil(t, view.Descriptive)
	assert.NotNil(t, view.Predictive)
	assert.NotNil(t, view.Prescriptive)
}

func TestRetainStaleKeepsLastGoodValue(t *testing.T) {
	var failDiag atomic.Bool
	fetcher := fetchFunc(func(ctx context.Context, category models.Category) (json.RawMessage, error) {
		if category == models.CategoryDiagnostic && failDiag.Load() {
			return nil, &TransportError{Category: category, Err: errors.New("connection refused")}
		}
		return samplePayloads[category], nil
	})
	p := newTestPoller(fetcher, FailurePolicyRetainStale)

	require.True(t, p.RunCycle(context.Background()))
	failDiag.Store(true)
	require.True(t, p.RunCycle(context.Background()))

	view := p.View()
	require.Len(t, view.Diagnostic, 1)
	assert.True(t, view.Stale[models.CategoryDiagnostic])
	assert.Contains(t, view.Errors[models.CategoryDiagnostic], "connection refused")
	assert.False(t, view.Stale[models.CategoryDescriptive])
}

func TestRetainStaleWithoutHistoryStaysAbsent(t *testing.T) {
	fetcher := fetchFunc(func(ctx context.Context, category models.Category) (json.RawMessage, error) {
		return nil, errors.New("offline")
	})
	p := newTestPoller(fetcher, FailurePolicyRetainStale)

	require.True(t, p.RunCycle(context.Background()))
	view := p.View()
	for _, category := range models.Categories {
		assert.False(t, view.Has(category), category)
		assert.False(t, view.Stale[category], category)
		assert.Equal(t, "offline", view.Errors[category])
	}
}

func TestMalformedPayloadCountsAsFailure(t *testing.T) {
	fetcher := fetchFunc(func(ctx context.Context, category models.Category) (json.RawMessage, error) {
		if category == models.CategoryPredictive {
			return json.RawMessage(`"not an object"`), nil
		}
		return samplePayloads[category], nil
	})
	p := newTestPoller(fetcher, FailurePolicyClear)

	require.True(t, p.RunCycle(context.Background()))
	view := p.View()
	assert.Nil(t, view.Predictive)
	assert.Contains(t, view.Errors[models.CategoryPredictive], "decode predictive")
}

func TestSupersededCycleIsDiscarded(t *testing.T) {
	gate := make(chan struct{})
	var calls atomic.Int32
	fetcher := fetchFunc(func(ctx context.Context, category models.Category) (json.RawMessage, error) {
		if calls.Add(1) <= int32(len(models.Categories)) {
			<-gate
			return nil, errors.New("late failure")
		}
		return samplePayloads[category], nil
	})
	p := newTestPoller(fetcher, FailurePolicyClear)

	first := make(chan bool, 1)
	go func() { first <- p.RunCycle(context.Background()) }()
	require.Eventually(t, func() bool { return calls.Load() == int32(len(models.Categories)) }, time.Second, time.Millisecond)

	require.True(t, p.RunCycle(context.Background()))
	close(gate)
	assert.False(t, <-first)

	view := p.View()
	assert.Equal(t, uint64(2), view.Cycle)
	assert.Empty(t, view.Errors)
	assert.NotNil(t, view.Descriptive)
}

func TestCycleJoinsAllCategoriesBeforePublishing(t *testing.T) {
	gate := make(chan struct{})
	fetcher := fetchFunc(func(ctx context.Context, category models.Category) (json.RawMessage, error) {
		if category == models.CategoryPrescriptive {
			<-gate
		}
		return samplePayloads[category], nil
	})
	p := newTestPoller(fetcher, FailurePolicyClear)

	done := make(chan bool, 1)
	go func() { done <- p.RunCycle(context.Background()) }()

	select {
	case <-p.Updates():
		t.Fatal("view published before every category completed")
	case <-time.After(30 * time.Millisecond):
	}
	assert.True(t, p.ShowLoading())

	close(gate)
	require.True(t, <-done)
	view := <-p.Updates()
	assert.NotNil(t, view.Descriptive)
	assert.NotNil(t, view.Prescriptive)
}

func TestShowLoadingOnlyWithoutDescriptive(t *testing.T) {
	release := make(chan struct{})
	var blocking atomic.Bool
	fetcher := fetchFunc(func(ctx context.Context, category models.Category) (json.RawMessage, error) {
		if blocking.Load() {
			<-release
		}
		return samplePayloads[category], nil
	})
	p := newTestPoller(fetcher, FailurePolicyClear)
	assert.False(t, p.ShowLoading())

	require.True(t, p.RunCycle(context.Background()))
	blocking.Store(true)

	done := make(chan bool, 1)
	go func() { done <- p.RunCycle(context.Background()) }()
	require.Eventually(t, p.Loading, time.Second, time.Millisecond)
	assert.False(t, p.ShowLoading())

	close(release)
	require.True(t, <-done)
	assert.False(t, p.Loading())
}

func TestRunPollsImmediatelyAndOnRefresh(t *testing.T) {
	var calls atomic.Int32
	fetcher := fetchFunc(func(ctx context.Context, category models.Category) (json.RawMessage, error) {
		calls.Add(1)
		return samplePayloads[category], nil
	})
	p := newTestPoller(fetcher, FailurePolicyClear)

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() { errs <- p.Run(ctx) }()

	first := <-p.Updates()
	assert.Equal(t, uint64(1), first.Cycle)

	p.Refresh()
	second := <-p.Updates()
	assert.Equal(t, uint64(2), second.Cycle)
	assert.Equal(t, int32(2*len(models.Categories)), calls.Load())

	cancel()
	assert.ErrorIs(t, <-errs, context.Canceled)
}

func TestRunRefreshDuringSlowCycleDoesNotStarve(t *testing.T) {
	firstGate := make(chan struct{})
	secondGate := make(chan struct{})
	var calls atomic.Int32
	fetcher := fetchFunc(func(ctx context.Context, category models.Category) (json.RawMessage, error) {
		gate := secondGate
		if calls.Add(1) <= int32(len(models.Categories)) {
			gate = firstGate
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return samplePayloads[category], nil
	})
	p := newTestPoller(fetcher, FailurePolicyClear)

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() { errs <- p.Run(ctx) }()
	require.Eventually(t, func() bool { return calls.Load() == int32(len(models.Categories)) }, time.Second, time.Millisecond)

	for i := 0; i < 5; i++ {
		p.Refresh()
		time.Sleep(5 * time.Millisecond)
	}
	assert.True(t, p.Loading())
	assert.Equal(t, int32(len(models.Categories)), calls.Load())

	close(firstGate)
	first := <-p.Updates()
	assert.Equal(t, uint64(1), first.Cycle)
	assert.Empty(t, first.Errors)
	assert.NotNil(t, first.Descriptive)

	require.Eventually(t, func() bool { return calls.Load() == int32(2*len(models.Categories)) }, time.Second, time.Millisecond)
	close(secondGate)
	second := <-p.Updates()
	assert.Equal(t, uint64(2), second.Cycle)
	assert.Empty(t, second.Errors)

	cancel()
	assert.ErrorIs(t, <-errs, context.Canceled)
	assert.Equal(t, int32(2*len(models.Categories)), calls.Load())
}

func TestRunTicksOnInterval(t *testing.T) {
	p := NewPoller(okFetcher(), PollerOptions{Interval: 20 * time.Millisecond, Logger: quietLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = p.Run(ctx) }()

	seen := map[uint64]bool{}
	deadline := time.After(2 * time.Second)
	for len(seen) < 3 {
		select {
		case view := <-p.Updates():
			seen[view.Cycle] = true
		case <-deadline:
			t.Fatalf("only saw cycles %v", seen)
		}
	}
}

func TestResultsAfterStopAreDiscarded(t *testing.T) {
	gate := make(chan struct{})
	fetcher := fetchFunc(func(ctx context.Context, category models.Category) (json.RawMessage, error) {
		<-gate
		return samplePayloads[category], nil
	})
	p := newTestPoller(fetcher, FailurePolicyClear)

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() { errs <- p.Run(ctx) }()
	require.Eventually(t, p.Loading, time.Second, time.Millisecond)

	cancel()
	time.AfterFunc(10*time.Millisecond, func() { close(gate) })
	assert.ErrorIs(t, <-errs, context.Canceled)

	view := p.View()
	assert.Nil(t, view.Descriptive)
	assert.Zero(t, view.Cycle)
	assert.False(t, p.RunCycle(context.Background()))
}

func TestParseFailurePolicy(t *testing.T) {
	policy, err := ParseFailurePolicy("")
	require.NoError(t, err)
	assert.Equal(t, FailurePolicyClear, policy)

	policy, err = ParseFailurePolicy("retain-stale")
	require.NoError(t, err)
	assert.Equal(t, FailurePolicyRetainStale, policy)

	_, err = ParseFailurePolicy("forever")
	assert.Error(t, err)
}
