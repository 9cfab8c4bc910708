package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/miradorstack/mirador-authlens/internal/cache"
	"github.com/miradorstack/mirador-authlens/internal/metrics"
	"github.com/miradorstack/mirador-authlens/internal/models"
)

// Event is the message published for every recommendation that calls for an
// automated response.
type Event struct {
	ID                string           `json:"id"`
	IPAddress         string           `json:"ipAddress"`
	UserPrincipalName string           `json:"userPrincipalName"`
	Action            string           `json:"recommended_action"`
	RiskScore         int              `json:"risk_score"`
	AuthFailures      int64            `json:"auth_failures"`
	LastActivity      models.Timestamp `json:"last_activity"`
	EmittedAt         time.Time        `json:"emitted_at"`
}

// Publisher dispatches automated actions. It returns how many events were sent.
type Publisher interface {
	Publish(ctx context.Context, recs []models.Recommendation) (int, error)
	Close()
}

// NoopPublisher drops every action.
type NoopPublisher struct{}

// Publish implements Publisher.
func (NoopPublisher) Publish(context.Context, []models.Recommendation) (int, error) { return 0, nil }

// Close implements Publisher.
func (NoopPublisher) Close() {}

// conn is the subset of *nats.Conn the publisher needs.
type conn interface {
	Publish(subject string, data []byte) error
	Drain() error
	Close()
}

// NATSPublisher publishes action events to a NATS subject. An (ip, principal)
// pair is published at most once per dedup window.
type NATSPublisher struct {
	conn    conn
	subject string
	dedup   cache.Provider
	window  time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// NewNATSPublisher connects to url.
func NewNATSPublisher(url, subject string, dedup cache.Provider, window time.Duration, logger *slog.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(url, nats.Name("mirador-authlens"))
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return newNATSPublisher(nc, subject, dedup, window, logger), nil
}

func newNATSPublisher(c conn, subject string, dedup cache.Provider, window time.Duration, logger *slog.Logger) *NATSPublisher {
	if dedup == nil {
		dedup = cache.NoopProvider{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSPublisher{
		conn:    c,
		subject: subject,
		dedup:   dedup,
		window:  window,
		logger:  logger,
		now:     time.Now,
	}
}

// Publish sends one event per automated recommendation not already sent within
// the dedup window. A failed send releases its dedup claim so the next run
// retries it, and does not stop the rest of the batch.
func (p *NATSPublisher) Publish(ctx context.Context, recs []models.Recommendation) (int, error) {
	sent := 0
	var errs []error
	for _, rec := range recs {
		if !rec.TriggerAutomatedAction {
			continue
		}
		key := dedupKey(rec)
		fresh, err := p.dedup.SetNX(ctx, key, []byte("1"), p.window)
		if err != nil {
			p.logger.Warn("action dedup lookup failed", slog.String("ip", rec.IPAddress), slog.Any("error", err))
			fresh = true
		}
		if !fresh {
			continue
		}

		if err := p.send(rec); err != nil {
			metrics.ObserveActionPublished(metrics.OutcomeError)
			errs = append(errs, fmt.Errorf("publish action for %s/%s: %w", rec.IPAddress, rec.UserPrincipalName, err))
			if derr := p.dedup.Del(ctx, key); derr != nil {
				p.logger.Warn("action dedup release failed", slog.String("ip", rec.IPAddress), slog.Any("error", derr))
			}
			continue
		}
		metrics.ObserveActionPublished(metrics.OutcomeSuccess)
		sent++
		p.logger.Info("automated action published",
			slog.String("ip", rec.IPAddress),
			slog.String("user", rec.UserPrincipalName),
			slog.String("action", rec.RecommendedAction))
	}
	return sent, errors.Join(errs...)
}

func (p *NATSPublisher) send(rec models.Recommendation) error {
	data, err := json.Marshal(p.event(rec))
	if err != nil {
		return err
	}
	return p.conn.Publish(p.subject, data)
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() {
	if p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.logger.Warn("nats drain failed", slog.Any("error", err))
	}
	p.conn.Close()
}

func (p *NATSPublisher) event(rec models.Recommendation) Event {
	return Event{
		ID:                uuid.NewString(),
		IPAddress:         rec.IPAddress,
		UserPrincipalName: rec.UserPrincipalName,
		Action:            rec.RecommendedAction,
		RiskScore:         rec.RiskScore,
		AuthFailures:      rec.AuthFailures,
		LastActivity:      rec.LastActivity,
		EmittedAt:         p.now().UTC(),
	}
}

func dedupKey(rec models.Recommendation) string {
	return "authlens:action:" + rec.IPAddress + ":" + rec.UserPrincipalName
}
