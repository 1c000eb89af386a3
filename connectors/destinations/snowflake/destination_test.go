package snowflake

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/realize-engineering/pipebird/internal/loader"
	"github.com/realize-engineering/pipebird/internal/model"
	"github.com/realize-engineering/pipebird/pkg/replication"
)

type recordingConn struct {
	statements []string
}

func (c *recordingConn) Query(context.Context, replication.Statement) ([]replication.Row, error) {
	return nil, nil
}

func (c *recordingConn) QueryStream(context.Context, replication.Statement) (replication.RowStream, error) {
	return nil, errors.New("not used")
}

func (c *recordingConn) QueryUnsafe(_ context.Context, sql string) ([]replication.Row, error) {
	c.statements = append(c.statements, sql)
	return nil, nil
}

type recordingStager struct {
	uploads []string
	deletes []string
}

func (s *recordingStager) Bucket() string { return "stage-bucket" }

func (s *recordingStager) StagingCredentials() (string, string, string) {
	return "AKIA", "secret", "kms-key"
}

func (s *recordingStager) Upload(_ context.Context, key string, body io.Reader) error {
	if _, err := io.Copy(io.Discard, body); err != nil {
		return err
	}
	s.uploads = append(s.uploads, key)
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
			Type:     replication.DestinationSnowflake, Host: "acct.snowflakecomputing.com",
			Username: "loader", Password: "pw", Database: "SHARED", Schema: "DATA", Warehouse: "LOADING",
		},
	}
}

func TestCheckReportsMissingFields(t *testing.T) {
	dest := testRequest().Destination
	dest.Warehouse = ""
	dest.Password = ""
	err := Check(dest)
	if !errors.Is(err, replication.ErrMissingCredentials) {
		t.Fatalf("expected ErrMissingCredentials, got %v", err)
	}
	var credentials *replication.CredentialsError
	if !errors.As(err, &credentials) {
		t.Fatalf("expected CredentialsError, got %T", err)
	}
	if len(credentials.Missing) != 2 {
		t.Fatalf("expected two missing fields, got %v", credentials.Missing)
	}

	if err := Check(testRequest().Destination); err != nil {
		t.Fatalf("complete destination should pass: %v", err)
	}
}

func TestLifecycleStatementSequence(t *testing.T) {
	conn := &recordingConn{}
	stager := &recordingStager{}
	now := time.UnixMilli(1680000000123)
	dest := New(conn, stager, testRequest(), now)
	ctx := context.Background()

	if err := dest.CreateTable(ctx); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if err := dest.BeginTransaction(ctx); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := dest.Stage(ctx, strings.NewReader("csv")); err != nil {
		t.Fatalf("stage: %v", err)
	}
	if err := dest.Upsert(ctx); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := dest.CommitTransaction(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := dest.TearDown(ctx); err != nil {
		t.Fatalf("teardown: %v", err)
	}

	wantPrefixes := []string{
		"create schema if not exists",
		"create table if not exists",
		"begin",
		"create or replace stage",
		"merge into",
		"commit",
		"drop stage if exists",
	}
	if len(conn.statements) != len(wantPrefixes) {
		t.Fatalf("expected %d statements, got %v", len(wantPrefixes), conn.statements)
	}
	for i, prefix := range wantPrefixes {
		if !strings.HasPrefix(conn.statements[i], prefix) {
			t.Fatalf("statement %d: expected prefix %q, got %q", i, prefix, conn.statements[i])
		}
	}

	if len(stager.uploads) != 1 || !strings.HasPrefix(stager.uploads[0], "snapshots/7/SharedData_TempStage_7_") {
		t.Fatalf("unexpected uploads %v", stager.uploads)
	}
	if len(stager.deletes) != 1 {
		t.Fatalf("expected staged object cleanup, got %v", stager.deletes)
	}

	stage := conn.statements[3]
	if !strings.Contains(stage, "url='s3://stage-bucket/snapshots/7/SharedData_TempStage_7_1680000000123.csv.gz'") {
		t.Fatalf("stage statement missing object URL: %q", stage)
	}
	if !strings.Contains(stage, "aws_key_id='AKIA'") || !strings.Contains(stage, "KMS_KEY_ID='kms-key'") {
		t.Fatalf("stage statement missing credentials: %q", stage)
	}

	merge := conn.statements[4]
	if !strings.Contains(merge, `"DATA"."SharedData_warehouse_7"`) {
		t.Fatalf("merge targets wrong table: %q", merge)
	}
	if !strings.Contains(merge, `on "DATA"."SharedData_warehouse_7"."order_id" = newData."order_id"`) {
		t.Fatalf("merge keyed on wrong column: %q", merge)
	}
}

func TestUpsertRequiresMappedPrimaryKey(t *testing.T) {
	req := testRequest()
	req.Configuration.Columns = req.Configuration.Columns[1:]
	dest := New(&recordingConn{}, &recordingStager{}, req, time.UnixMilli(1))
	if err := dest.Upsert(context.Background()); err == nil {
		t.Fatalf("expected error for unmapped primary key")
	}
}
