package repo

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// Query is one named, parameterized warehouse statement.
type Query struct {
	Name   string
	SQL    string
	Params []bigquery.QueryParameter
}

// RowIterator yields rows in warehouse order. Next returns iterator.Done once
// exhausted; *bigquery.RowIterator satisfies it.
type RowIterator interface {
	Next(dst interface{}) error
}

// Executor runs a single query and hands its rows to consume. The context given
// to consume's iterator stays live until consume returns. Executors never retry.
type Executor interface {
	Execute(ctx context.Context, q Query, consume func(RowIterator) error) error
}

// QueryError reports a query the warehouse rejected or failed to complete.
type QueryError struct {
	Query string
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query %s: %v", e.Query, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// PublicMessage returns the warehouse's own message, without the Go wrapping.
func (e *QueryError) PublicMessage() string {
	var apiErr *googleapi.Error
	if errors.As(e.Err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return fmt.Sprintf("query %s timed out", e.Query)
	}
	return e.Err.Error()
}

// Collect drains q into a slice of T, preserving warehouse order. The result is
// never nil so that empty results encode as [].
func Collect[T any](ctx context.Context, exec Executor, q Query) ([]T, error) {
	rows := make([]T, 0)
	err := exec.Execute(ctx, q, func(it RowIterator) error {
		for {
			var row T
			err := it.Next(&row)
			if errors.Is(err, iterator.Done) {
				return nil
			}
			if err != nil {
				return err
			}
			rows = append(rows, row)
		}
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}
