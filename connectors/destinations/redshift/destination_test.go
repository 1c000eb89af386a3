package redshift

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/realize-engineering/pipebird/internal/extract"
	"github.com/realize-engineering/pipebird/internal/loader"
	"github.com/realize-engineering/pipebird/internal/model"
	"github.com/realize-engineering/pipebird/pkg/replication"
)

type recordingConn struct {
	statements []string
	failOn     string
}

func (c *recordingConn) Query(context.Context, replication.Statement) ([]replication.Row, error) {
	return nil, nil
}

func (c *recordingConn) QueryStream(context.Context, replication.Statement) (replication.RowStream, error) {
	return nil, errors.New("not used")
}

func (c *recordingConn) QueryUnsafe(_ context.Context, sql string) ([]replication.Row, error) {
	c.statements = append(c.statements, sql)
	if c.failOn != "" && strings.HasPrefix(sql, c.failOn) {
		return nil, errors.New("injected failure")
	}
	return nil, nil
}

type recordingStager struct {
	uploads  []string
	payloads [][]byte
	deletes  []string
}

func (s *recordingStager) Bucket() string { return "stage-bucket" }

func (s *recordingStager) StagingCredentials() (string, string, string) {
	return "AKIA", "secret", ""
}

func (s *recordingStager) Upload(_ context.Context, key string, body io.Reader) error {
	payload, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.uploads = append(s.uploads, key)
	s.payloads = append(s.payloads, payload)
	return nil
}

func (s *recordingStager) DeletePrefix(_ context.Context, prefix string) error {
	s.deletes = append(s.deletes, prefix)
	return nil
}

func testRequest() loader.Request {
	return loader.Request{
		Source: model.Source{Nickname: "acme"},
		View: model.View{
			Columns: []model.ViewColumn{
				{Name: "id", IsPrimaryKey: true},
				{Name: "updated_at", IsLastModified: true},
				{Name: "customer_id", IsTenantColumn: true},
			},
		},
		Configuration: model.Configuration{
			ID: 7,
			Columns: []model.ColumnMapping{
				{NameInSource: "id", NameInDestination: "order_id", DataType: "integer"},
				{NameInSource: "total", NameInDestination: "total", DataType: "numeric"},
			},
		},
		Destination: model.Destination{
			Nickname: "warehouse",
			Type:     replication.DestinationRedshift, Host: "cluster.redshift.amazonaws.com",
			Username: "loader", Password: "pw", Database: "dev", Schema: "shared",
		},
	}
}

func TestCheck(t *testing.T) {
	dest := testRequest().Destination
	dest.Schema = ""
	if err := Check(dest); !errors.Is(err, replication.ErrMissingCredentials) {
		t.Fatalf("expected ErrMissingCredentials, got %v", err)
	}
	if err := Check(testRequest().Destination); err != nil {
		t.Fatalf("complete destination should pass: %v", err)
	}
}

func TestUpsertDecomposesIntoThreeStatements(t *testing.T) {
	conn := &recordingConn{}
	dest := New(conn, &recordingStager{}, testRequest(), time.UnixMilli(1680000000123))

	if err := dest.Upsert(context.Background()); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if len(conn.statements) != 3 {
		t.Fatalf("expected update/delete/insert, got %v", conn.statements)
	}
	if !strings.HasPrefix(conn.statements[0], "update") ||
		!strings.HasPrefix(conn.statements[1], "delete from") ||
		!strings.HasPrefix(conn.statements[2], "insert into") {
		t.Fatalf("unexpected upsert order: %v", conn.statements)
	}
	if !strings.Contains(conn.statements[0], `update "shared"."SharedData_warehouse_7" set "total" = newData."total"`) {
		t.Fatalf("update statement wrong: %q", conn.statements[0])
	}
}

func TestStageUploadsThenCopies(t *testing.T) {
	conn := &recordingConn{}
	stager := &recordingStager{}
	dest := New(conn, stager, testRequest(), time.UnixMilli(1680000000123))

	if err := dest.Stage(context.Background(), strings.NewReader("csv")); err != nil {
		t.Fatalf("stage: %v", err)
	}
	if len(stager.uploads) != 1 {
		t.Fatalf("expected one upload, got %v", stager.uploads)
	}
	if len(conn.statements) != 2 {
		t.Fatalf("expected temp table and copy, got %v", conn.statements)
	}
	if !strings.HasPrefix(conn.statements[0], "create temp table if not exists") {
		t.Fatalf("expected temp stage first: %q", conn.statements[0])
	}
	copyStmt := conn.statements[1]
	if !strings.Contains(copyStmt, "'s3://stage-bucket/snapshots/7/SharedData_TempStage_7_1680000000123.csv.gz'") {
		t.Fatalf("copy missing object URL: %q", copyStmt)
	}
	if !strings.Contains(copyStmt, "csv gzip") {
		t.Fatalf("copy missing format options: %q", copyStmt)
	}
}

type stubRows struct {
	columns []string
	rows    []replication.Row
	idx     int
}

func (r *stubRows) Next() bool {
	if r.idx >= len(r.rows) {
		return false
	}
	r.idx++
	return true
}

func (r *stubRows) Row() replication.Row { return r.rows[r.idx-1] }
func (r *stubRows) Columns() []string    { return r.columns }
func (r *stubRows) Err() error           { return nil }
func (r *stubRows) Close() error         { return nil }

// Stages a real extracted batch and checks the COPY timeformat against the
// timestamps actually written to the object, so the two cannot drift apart.
func TestStagedTimestampsMatchCopyTimeformat(t *testing.T) {
	conn := &recordingConn{}
	stager := &recordingStager{}
	dest := New(conn, stager, testRequest(), time.UnixMilli(1680000000123))

	stream := &stubRows{
		columns: []string{"order_id", "updated_at"},
		rows: []replication.Row{
			{"order_id": int64(1), "updated_at": time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
		},
	}
	batch := extract.OpenCSVGzip(stream, []string{"order_id", "updated_at"})
	if err := dest.Stage(context.Background(), batch); err != nil {
		t.Fatalf("stage: %v", err)
	}

	gz, err := gzip.NewReader(bytes.NewReader(stager.payloads[0]))
	if err != nil {
		t.Fatalf("staged object is not gzip: %v", err)
	}
	records, err := csv.NewReader(gz).ReadAll()
	if err != nil {
		t.Fatalf("staged object is not CSV: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected header and one row, got %v", records)
	}
	cell := records[1][1]
	if _, err := time.Parse(time.RFC3339Nano, cell); err != nil {
		t.Fatalf("staged timestamp %q is not RFC 3339: %v", cell, err)
	}
	copyStmt := conn.statements[1]
	if !strings.Contains(copyStmt, "timeformat as 'auto'") {
		t.Fatalf("copy must accept ISO 8601 timestamps: %q", copyStmt)
	}
	if strings.Contains(copyStmt, "epochmillisecs") {
		t.Fatalf("copy timeformat contradicts the staged CSV: %q", copyStmt)
	}
}

func TestStageWrapsCopyFailure(t *testing.T) {
	conn := &recordingConn{failOn: "copy"}
	dest := New(conn, &recordingStager{}, testRequest(), time.UnixMilli(1))
	err := dest.Stage(context.Background(), strings.NewReader("csv"))
	if !errors.Is(err, replication.ErrStagingFailure) {
		t.Fatalf("expected ErrStagingFailure, got %v", err)
	}
}

func TestTearDownDropsStageAndObjects(t *testing.T) {
	conn := &recordingConn{}
	stager := &recordingStager{}
	dest := New(conn, stager, testRequest(), time.UnixMilli(1))

	if err := dest.TearDown(context.Background()); err != nil {
		t.Fatalf("teardown: %v", err)
	}
	if len(conn.statements) != 1 || !strings.HasPrefix(conn.statements[0], "drop table if exists") {
		t.Fatalf("expected drop table, got %v", conn.statements)
	}
	if len(stager.deletes) != 1 {
		t.Fatalf("expected staged object cleanup, got %v", stager.deletes)
	}
}
