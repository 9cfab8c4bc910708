package repo

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/bigquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/option"

	"github.com/miradorstack/mirador-authlens/internal/config"
	"github.com/miradorstack/mirador-authlens/internal/metrics"
)

const tracerName = "github.com/miradorstack/mirador-authlens/internal/repo"

// NewBigQueryClient constructs the process-wide warehouse client. The caller
// owns it and must Close it on shutdown.
func NewBigQueryClient(ctx context.Context, cfg config.WarehouseConfig) (*bigquery.Client, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		if _, err := os.Stat(cfg.CredentialsFile); err != nil {
			return nil, fmt.Errorf("warehouse credentials file %s: %w", cfg.CredentialsFile, err)
		}
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := bigquery.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create bigquery client for %s: %w", cfg.ProjectID, err)
	}
	if cfg.Location != "" {
		client.Location = cfg.Location
	}
	return client, nil
}

// BigQueryExecutor runs queries against BigQuery with a per-call deadline,
// recording a span and a latency sample for every call.
type BigQueryExecutor struct {
	read    func(ctx context.Context, q Query) (RowIterator, error)
	timeout time.Duration
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewBigQueryExecutor wraps client. A non-positive timeout falls back to 20s.
func NewBigQueryExecutor(client *bigquery.Client, timeout time.Duration, logger *slog.Logger) *BigQueryExecutor {
	exec := newExecutor(nil, timeout, logger)
	exec.read = func(ctx context.Context, q Query) (RowIterator, error) {
		job := client.Query(q.SQL)
		job.Parameters = q.Params
		return job.Read(ctx)
	}
	return exec
}

func newExecutor(read func(context.Context, Query) (RowIterator, error), timeout time.Duration, logger *slog.Logger) *BigQueryExecutor {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BigQueryExecutor{
		read:    read,
		timeout: timeout,
		logger:  logger,
		tracer:  otel.Tracer(tracerName),
	}
}

// Execute implements Executor.
func (e *BigQueryExecutor) Execute(ctx context.Context, q Query, consume func(RowIterator) error) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	ctx, span := e.tracer.Start(ctx, "warehouse.query", trace.WithAttributes(
		attribute.String("authlens.query", q.Name),
		attribute.Int("authlens.query.params", len(q.Params)),
	))
	defer span.End()

	start := time.Now()
	err := e.run(ctx, q, consume)
	duration := time.Since(start)

	if err != nil {
		metrics.ObserveQuery(q.Name, duration, metrics.OutcomeError)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Debug("warehouse query failed", slog.String("query", q.Name), slog.Duration("duration", duration), slog.Any("error", err))
		return &QueryError{Query: q.Name, Err: err}
	}

	metrics.ObserveQuery(q.Name, duration, metrics.OutcomeSuccess)
	e.logger.Debug("warehouse query completed", slog.String("query", q.Name), slog.Duration("duration", duration))
	return nil
}

func (e *BigQueryExecutor) run(ctx context.Context, q Query, consume func(RowIterator) error) error {
	it, err := e.read(ctx, q)
	if err != nil {
		return err
	}
	return consume(it)
}
