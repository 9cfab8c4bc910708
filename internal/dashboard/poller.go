package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/miradorstack/mirador-authlens/internal/metrics"
	"github.com/miradorstack/mirador-authlens/internal/models"
)

// FailurePolicy decides what a category shows after a failed fetch.
type FailurePolicy string

const (
	// FailurePolicyClear resets a failed category to absent.
	FailurePolicyClear FailurePolicy = "clear"
	// FailurePolicyRetainStale keeps the last good value and marks it stale.
	FailurePolicyRetainStale FailurePolicy = "retain-stale"
)

// ParseFailurePolicy resolves a policy name; empty selects FailurePolicyClear.
func ParseFailurePolicy(name string) (FailurePolicy, error) {
	switch FailurePolicy(name) {
	case "", FailurePolicyClear:
		return FailurePolicyClear, nil
	case FailurePolicyRetainStale:
		return FailurePolicyRetainStale, nil
	default:
		return "", fmt.Errorf("unknown failure policy %q", name)
	}
}

// Fetcher retrieves the data of one category envelope.
type Fetcher interface {
	Fetch(ctx context.Context, category models.Category) (json.RawMessage, error)
}

// ViewModel is the dashboard state. A nil category field means no data is
// available. It is replaced wholesale on every applied cycle.
type ViewModel struct {
	Descriptive  *models.DescriptiveResult
	Diagnostic   []models.DiagnosticRow
	Predictive   *models.PredictiveResult
	Prescriptive []models.Recommendation

	// Errors holds the failure message of every category that failed in the
	// applied cycle.
	Errors map[models.Category]string
	// Stale marks categories showing data from an earlier cycle.
	Stale map[models.Category]bool

	LastUpdate time.Time
	Cycle      uint64
}

// Has reports whether category currently has data.
func (v ViewModel) Has(category models.Category) bool {
	switch category {
	case models.CategoryDescriptive:
		return v.Descriptive != nil
	case models.CategoryDiagnostic:
		return v.Diagnostic != nil
	case models.CategoryPredictive:
		return v.Predictive != nil
	case models.CategoryPrescriptive:
		return v.Prescriptive != nil
	}
	return false
}

func (v ViewModel) clone() ViewModel {
	out := v
	out.Errors = make(map[models.Category]string, len(v.Errors))
	for k, msg := range v.Errors {
		out.Errors[k] = msg
	}
	out.Stale = make(map[models.Category]bool, len(v.Stale))
	for k, stale := range v.Stale {
		out.Stale[k] = stale
	}
	return out
}

// PollerOptions configures a Poller.
type PollerOptions struct {
	Interval time.Duration
	Policy   FailurePolicy
	Logger   *slog.Logger
}

// Poller refreshes all four categories immediately, then on every interval and
// on demand. Only the most recently started cycle may update the view; results
// from superseded cycles or arriving after Run returns are discarded.
type Poller struct {
	fetcher  Fetcher
	interval time.Duration
	policy   FailurePolicy
	logger   *slog.Logger
	now      func() time.Time

	refresh chan struct{}
	updates chan ViewModel

	mu          sync.Mutex
	view        ViewModel
	loading     bool
	latest      uint64
	stopped     bool
	cancelCycle context.CancelFunc
}

// NewPoller constructs a poller. The interval defaults to 60s.
func NewPoller(fetcher Fetcher, opts PollerOptions) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = 60 * time.Second
	}
	if opts.Policy == "" {
		opts.Policy = FailurePolicyClear
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Poller{
		fetcher:  fetcher,
		interval: opts.Interval,
		policy:   opts.Policy,
		logger:   opts.Logger,
		now:      time.Now,
		refresh:  make(chan struct{}, 1),
		updates:  make(chan ViewModel, 1),
		view:     ViewModel{Errors: map[models.Category]string{}, Stale: map[models.Category]bool{}},
	}
}

// Run drives cycles until ctx is cancelled, then waits for in-flight cycles
// and returns ctx.Err(). At most one cycle runs at a time: ticks and refreshes
// that arrive while a cycle is in flight start a single follow-up cycle once it
// completes, so a server slower than the request rate still gets every cycle
// applied.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var (
		wg       sync.WaitGroup
		done     = make(chan struct{}, 1)
		inFlight bool
		pending  bool
	)
	launch := func() {
		inFlight = true
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.RunCycle(ctx)
			done <- struct{}{}
		}()
	}
	request := func() {
		if inFlight {
			pending = true
			return
		}
		launch()
	}

	launch()
	for {
		select {
		case <-ctx.Done():
			p.stop()
			wg.Wait()
			return ctx.Err()
		case <-done:
			inFlight = false
			if pending {
				pending = false
				launch()
			}
		case <-ticker.C:
			request()
		case <-p.refresh:
			request()
		}
	}
}

// Refresh requests an out-of-band cycle. Requests made while one is already
// pending are coalesced. Under Run, a refresh during an in-flight cycle never
// cancels it; one follow-up cycle starts when it completes.
func (p *Poller) Refresh() {
	select {
	case p.refresh <- struct{}{}:
	default:
	}
}

// Updates delivers the view after each applied cycle. Only the newest
// undelivered view is kept.
func (p *Poller) Updates() <-chan ViewModel {
	return p.updates
}

// View returns a snapshot of the current view.
func (p *Poller) View() ViewModel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.view.clone()
}

// Loading reports whether the latest cycle is still in flight.
func (p *Poller) Loading() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loading
}

// ShowLoading is true only while loading with no descriptive data to show.
func (p *Poller) ShowLoading() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loading && p.view.Descriptive == nil
}

// RunCycle fetches all four categories concurrently, waits for every one, and
// applies the results if this is still the latest cycle. It reports whether
// the results were applied.
func (p *Poller) RunCycle(ctx context.Context) bool {
	id, cctx, ok := p.begin(ctx)
	if !ok {
		return false
	}

	results := make(map[models.Category]outcome, len(models.Categories))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, category := range models.Categories {
		wg.Add(1)
		go func(category models.Category) {
			defer wg.Done()
			data, err := p.fetcher.Fetch(cctx, category)
			mu.Lock()
			results[category] = outcome{data: data, err: err}
			mu.Unlock()
		}(category)
	}
	wg.Wait()

	return p.apply(id, results)
}

type outcome struct {
	data json.RawMessage
	err  error
}

func (p *Poller) begin(ctx context.Context) (uint64, context.Context, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return 0, nil, false
	}
	if p.cancelCycle != nil {
		p.cancelCycle()
	}
	cctx, cancel := context.WithCancel(ctx)
	p.cancelCycle = cancel
	p.latest++
	p.loading = true
	return p.latest, cctx, true
}

func (p *Poller) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	p.loading = false
	if p.cancelCycle != nil {
		p.cancelCycle()
		p.cancelCycle = nil
	}
}

func (p *Poller) apply(id uint64, results map[models.Category]outcome) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped || id != p.latest {
		metrics.ObservePollCycle("discarded")
		p.logger.Debug("discarding superseded poll cycle", slog.Uint64("cycle", id), slog.Uint64("latest", p.latest))
		return false
	}

	prev := p.view
	next := ViewModel{
		Errors:     map[models.Category]string{},
		Stale:      map[models.Category]bool{},
		LastUpdate: p.now(),
		Cycle:      id,
	}
	for _, category := range models.Categories {
		res := results[category]
		err := res.err
		if err == nil {
			err = next.decode(category, res.data)
		}
		if err == nil {
			continue
		}
		next.Errors[category] = err.Error()
		p.logger.Warn("dashboard category unavailable", slog.String("category", category.String()), slog.Any("error", err))
		if p.policy == FailurePolicyRetainStale && prev.Has(category) {
			next.retain(category, prev)
			next.Stale[category] = true
		}
	}

	p.view = next
	p.loading = false
	if p.cancelCycle != nil {
		p.cancelCycle()
		p.cancelCycle = nil
	}
	metrics.ObservePollCycle("applied")
	p.publish(next.clone())
	return true
}

func (p *Poller) publish(view ViewModel) {
	select {
	case p.updates <- view:
		return
	default:
	}
	select {
	case <-p.updates:
	default:
	}
	select {
	case p.updates <- view:
	default:
	}
}

func (v *ViewModel) decode(category models.Category, data json.RawMessage) error {
	var err error
	switch category {
	case models.CategoryDescriptive:
		var out models.DescriptiveResult
		if err = json.Unmarshal(data, &out); err == nil {
			v.Descriptive = &out
		}
	case models.CategoryDiagnostic:
		out := []models.DiagnosticRow{}
		if err = json.Unmarshal(data, &out); err == nil {
			v.Diagnostic = out
		}
	case models.CategoryPredictive:
		var out models.PredictiveResult
		if err = json.Unmarshal(data, &out); err == nil {
			v.Predictive = &out
		}
	case models.CategoryPrescriptive:
		out := []models.Recommendation{}
		if err = json.Unmarshal(data, &out); err == nil {
			v.Prescriptive = out
		}
	}
	if err != nil {
		return fmt.Errorf("decode %s: %w", category, err)
	}
	return nil
}

func (v *ViewModel) retain(category models.Category, prev ViewModel) {
	switch category {
	case models.CategoryDescriptive:
		v.Descriptive = prev.Descriptive
	case models.CategoryDiagnostic:
		v.Diagnostic = prev.Diagnostic
	case models.CategoryPredictive:
		v.Predictive = prev.Predictive
	case models.CategoryPrescriptive:
		v.Prescriptive = prev.Prescriptive
	}
}
