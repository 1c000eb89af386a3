package dialect

import (
	"context"
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/realize-engineering/pipebird/pkg/replication"
)

func newMockAdapter(t *testing.T) (*sqlAdapter, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &sqlAdapter{db: db}, mock
}

func TestQueryMapsRowsByColumn(t *testing.T) {
	adapter, mock := newMockAdapter(t)
	mock.ExpectQuery("select id, name from orders where tenant = ?").
		WithArgs("t-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow(int64(1), []byte("widget")).
			AddRow(int64(2), nil))

	rows, err := adapter.Query(context.Background(), replication.Statement{
		SQL:  "select id, name from orders where tenant = ?",
		Args: []any{"t-1"},
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0]["id"] != int64(1) {
		t.Fatalf("id = %v (%T)", rows[0]["id"], rows[0]["id"])
	}
	// Raw bytes from the driver must surface as strings.
	if rows[0]["name"] != "widget" {
		t.Fatalf("name = %v (%T)", rows[0]["name"], rows[0]["name"])
	}
	if rows[1]["name"] != nil {
		t.Fatalf("NULL should map to nil, got %v", rows[1]["name"])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestQueryWrapsDriverError(t *testing.T) {
	adapter, mock := newMockAdapter(t)
	driverErr := errors.New("relation does not exist")
	mock.ExpectQuery("select 1=1").WillReturnError(driverErr)

	_, err := adapter.QueryUnsafe(context.Background(), "select 1=1")
	if !errors.Is(err, driverErr) {
		t.Fatalf("expected wrapped driver error, got %v", err)
	}
}

func TestQueryStreamPullsLazily(t *testing.T) {
	adapter, mock := newMockAdapter(t)
	mock.ExpectQuery("select id from orders").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)).AddRow(int64(2)))

	stream, err := adapter.QueryStream(context.Background(), replication.Statement{SQL: "select id from orders"})
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	if got := stream.Columns(); len(got) != 1 || got[0] != "id" {
		t.Fatalf("columns = %v", got)
	}

	var ids []int64
	for stream.Next() {
		ids = append(ids, stream.Row()["id"].(int64))
	}
	if stream.Err() != nil {
		t.Fatalf("stream err: %v", stream.Err())
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Fatalf("ids = %v", ids)
	}
}

func TestQueryStreamSurfacesIterationError(t *testing.T) {
	adapter, mock := newMockAdapter(t)
	rowErr := errors.New("connection reset")
	mock.ExpectQuery("select id from orders").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)).RowError(0, rowErr))

	stream, err := adapter.QueryStream(context.Background(), replication.Statement{SQL: "select id from orders"})
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	for stream.Next() {
	}
	if !errors.Is(stream.Err(), rowErr) {
		t.Fatalf("expected row error, got %v", stream.Err())
	}
	_ = stream.Close()
}
