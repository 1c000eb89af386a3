package dialect

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/realize-engineering/pipebird/pkg/replication"
)

// postgresAdapter speaks to Postgres, CockroachDB and Redshift through pgx.
type postgresAdapter struct {
	pool *pgxpool.Pool
}

func openPostgres(ctx context.Context, params replication.ConnectionParams, readOnly bool) (Adapter, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		params.Username, params.Password, params.Host, params.Port, params.Database)
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if readOnly {
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			if _, err := conn.Exec(ctx, "SET SESSION CHARACTERISTICS AS TRANSACTION READ ONLY"); err != nil {
				return fmt.Errorf("set session read only: %w", err)
			}
			return nil
		}
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &postgresAdapter{pool: pool}, nil
}

func (a *postgresAdapter) Query(ctx context.Context, stmt replication.Statement) ([]replication.Row, error) {
	rows, err := a.pool.Query(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()
	return collectPgxRows(rows)
}

func (a *postgresAdapter) QueryUnsafe(ctx context.Context, sql string) ([]replication.Row, error) {
	rows, err := a.pool.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()
	return collectPgxRows(rows)
}

func (a *postgresAdapter) QueryStream(ctx context.Context, stmt replication.Statement) (replication.RowStream, error) {
	conn, err := a.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	rows, err := conn.Query(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		conn.Release()
		return nil, fmt.Errorf("open stream: %w", err)
	}
	return &pgxStream{conn: conn, rows: rows, columns: pgxColumns(rows)}, nil
}

func (a *postgresAdapter) Close() error {
	a.pool.Close()
	return nil
}

// pgxStream holds a dedicated connection until the cursor is drained or
// closed, then releases it back to the pool.
type pgxStream struct {
	conn     *pgxpool.Conn
	rows     pgx.Rows
	columns  []string
	current  replication.Row
	err      error
	released bool
}

func (s *pgxStream) Next() bool {
	if s.err != nil {
		return false
	}
	if !s.rows.Next() {
		s.err = s.rows.Err()
		s.release()
		return false
	}
	values, err := s.rows.Values()
	if err != nil {
		s.err = fmt.Errorf("read row: %w", err)
		s.release()
		return false
	}
	row := make(replication.Row, len(s.columns))
	for i, col := range s.columns {
		row[col] = values[i]
	}
	s.current = row
	return true
}

func (s *pgxStream) Row() replication.Row { return s.current }
func (s *pgxStream) Columns() []string    { return s.columns }
func (s *pgxStream) Err() error           { return s.err }

func (s *pgxStream) Close() error {
	s.rows.Close()
	s.release()
	return s.err
}

func (s *pgxStream) release() {
	if s.released {
		return
	}
	s.released = true
	s.conn.Release()
}

func collectPgxRows(rows pgx.Rows) ([]replication.Row, error) {
	columns := pgxColumns(rows)
	out := make([]replication.Row, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		row := make(replication.Row, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

func pgxColumns(rows pgx.Rows) []string {
	fields := rows.FieldDescriptions()
	columns := make([]string, 0, len(fields))
	for _, field := range fields {
		columns = append(columns, field.Name)
	}
	return columns
}

func logCloseError(what string, err error) {
	if err != nil {
		log.Printf("close %s: %v", what, err)
	}
}
