package dialect

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/realize-engineering/pipebird/pkg/replication"
)

// bigqueryAdapter adapts the BigQuery client to the row-oriented contract.
// The database field carries the GCP project; auth uses the destination's
// service-account credential rather than host/port/password.
type bigqueryAdapter struct {
	client *bigquery.Client
}

func openBigQuery(ctx context.Context, params replication.ConnectionParams) (Adapter, error) {
	if params.ServiceAccountJSON == "" {
		return nil, fmt.Errorf("%w: bigquery requires a service account credential", replication.ErrMissingCredentials)
	}
	client, err := bigquery.NewClient(ctx, params.Database,
		option.WithCredentialsJSON([]byte(params.ServiceAccountJSON)))
	if err != nil {
		return nil, fmt.Errorf("open bigquery: %w", err)
	}
	return &bigqueryAdapter{client: client}, nil
}

func (a *bigqueryAdapter) Query(ctx context.Context, stmt replication.Statement) ([]replication.Row, error) {
	return a.run(ctx, stmt.SQL, stmt.Args)
}

func (a *bigqueryAdapter) QueryUnsafe(ctx context.Context, sql string) ([]replication.Row, error) {
	return a.run(ctx, sql, nil)
}

func (a *bigqueryAdapter) run(ctx context.Context, sql string, args []any) ([]replication.Row, error) {
	it, err := a.read(ctx, sql, args)
	if err != nil {
		return nil, err
	}
	out := make([]replication.Row, 0)
	for {
		row, err := nextBigQueryRow(it)
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
}

func (a *bigqueryAdapter) QueryStream(ctx context.Context, stmt replication.Statement) (replication.RowStream, error) {
	it, err := a.read(ctx, stmt.SQL, stmt.Args)
	if err != nil {
		return nil, err
	}
	return &bigqueryStream{it: it}, nil
}

func (a *bigqueryAdapter) read(ctx context.Context, sql string, args []any) (*bigquery.RowIterator, error) {
	query := a.client.Query(sql)
	if len(args) > 0 {
		params := make([]bigquery.QueryParameter, 0, len(args))
		for _, arg := range args {
			params = append(params, bigquery.QueryParameter{Value: arg})
		}
		query.Parameters = params
	}
	it, err := query.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("query bigquery: %w", err)
	}
	return it, nil
}

func (a *bigqueryAdapter) Close() error {
	return a.client.Close()
}

type bigqueryStream struct {
	it      *bigquery.RowIterator
	current replication.Row
	err     error
	done    bool
}

func (s *bigqueryStream) Next() bool {
	if s.done || s.err != nil {
		return false
	}
	row, err := nextBigQueryRow(s.it)
	if errors.Is(err, iterator.Done) {
		s.done = true
		return false
	}
	if err != nil {
		s.err = err
		return false
	}
	s.current = row
	return true
}

func (s *bigqueryStream) Row() replication.Row { return s.current }

func (s *bigqueryStream) Columns() []string {
	schema := s.it.Schema
	columns := make([]string, 0, len(schema))
	for _, field := range schema {
		columns = append(columns, field.Name)
	}
	return columns
}

func (s *bigqueryStream) Err() error   { return s.err }
func (s *bigqueryStream) Close() error { return s.err }

func nextBigQueryRow(it *bigquery.RowIterator) (replication.Row, error) {
	var values []bigquery.Value
	if err := it.Next(&values); err != nil {
		if errors.Is(err, iterator.Done) {
			return nil, iterator.Done
		}
		return nil, fmt.Errorf("read bigquery row: %w", err)
	}
	row := make(replication.Row, len(values))
	for i, field := range it.Schema {
		if i < len(values) {
			row[field.Name] = values[i]
		}
	}
	return row, nil
}
