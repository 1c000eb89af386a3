package dialect

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/realize-engineering/pipebird/pkg/replication"
)

// sqlAdapter wraps a database/sql pool. MySQL-family and Snowflake adapters
// share it; only DSN construction differs.
type sqlAdapter struct {
	db *sql.DB
}

func (a *sqlAdapter) Query(ctx context.Context, stmt replication.Statement) ([]replication.Row, error) {
	rows, err := a.db.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer func() { logCloseError("rows", rows.Close()) }()
	return collectSQLRows(rows)
}

func (a *sqlAdapter) QueryUnsafe(ctx context.Context, query string) ([]replication.Row, error) {
	rows, err := a.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer func() { logCloseError("rows", rows.Close()) }()
	return collectSQLRows(rows)
}

func (a *sqlAdapter) QueryStream(ctx context.Context, stmt replication.Statement) (replication.RowStream, error) {
	rows, err := a.db.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	columns, err := rows.Columns()
	if err != nil {
		logCloseError("rows", rows.Close())
		return nil, fmt.Errorf("read columns: %w", err)
	}
	return &sqlStream{rows: rows, columns: columns}, nil
}

func (a *sqlAdapter) Close() error {
	return a.db.Close()
}

// sqlStream adapts sql.Rows to the pull-based stream contract. database/sql
// already fetches lazily, so the cursor applies backpressure upstream.
type sqlStream struct {
	rows    *sql.Rows
	columns []string
	current replication.Row
	err     error
}

func (s *sqlStream) Next() bool {
	if s.err != nil {
		return false
	}
	if !s.rows.Next() {
		s.err = s.rows.Err()
		return false
	}
	row, err := scanSQLRow(s.rows, s.columns)
	if err != nil {
		s.err = err
		return false
	}
	s.current = row
	return true
}

func (s *sqlStream) Row() replication.Row { return s.current }
func (s *sqlStream) Columns() []string    { return s.columns }
func (s *sqlStream) Err() error           { return s.err }

func (s *sqlStream) Close() error {
	if err := s.rows.Close(); err != nil && s.err == nil {
		s.err = err
	}
	return s.err
}

func collectSQLRows(rows *sql.Rows) ([]replication.Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}
	out := make([]replication.Row, 0)
	for rows.Next() {
		row, err := scanSQLRow(rows, columns)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

func scanSQLRow(rows *sql.Rows, columns []string) (replication.Row, error) {
	values := make([]any, len(columns))
	targets := make([]any, len(columns))
	for i := range values {
		targets[i] = &values[i]
	}
	if err := rows.Scan(targets...); err != nil {
		return nil, fmt.Errorf("scan row: %w", err)
	}
	row := make(replication.Row, len(columns))
	for i, col := range columns {
		if raw, ok := values[i].([]byte); ok {
			row[col] = string(raw)
			continue
		}
		row[col] = values[i]
	}
	return row, nil
}
