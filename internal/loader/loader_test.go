package loader

import (
	"errors"
	"testing"
	"time"

	"github.com/realize-engineering/pipebird/internal/model"
	"github.com/realize-engineering/pipebird/pkg/replication"
)

func testRequest() Request {
	return Request{
		Source: model.Source{ID: 3, Nickname: "acme"},
		View: model.View{
			ID: 5,
			Columns: []model.ViewColumn{
				{Name: "id", DataType: "integer", IsPrimaryKey: true},
				{Name: "updated_at", DataType: "timestamp with time zone", IsLastModified: true},
				{Name: "customer_id", DataType: "text", IsTenantColumn: true},
				{Name: "total", DataType: "numeric"},
			},
		},
		Configuration: model.Configuration{
			ID: 7,
			Columns: []model.ColumnMapping{
				{NameInSource: "id", NameInDestination: "order_id", DataType: "integer"},
				{NameInSource: "total", NameInDestination: "total", DataType: "numeric"},
			},
		},
		Destination: model.Destination{ID: 9, Nickname: "warehouse"},
	}
}

func TestTableNameUsesDestinationNickname(t *testing.T) {
	req := testRequest()
	if got := req.TableName(); got != "SharedData_warehouse_7" {
		t.Fatalf("unexpected table name %q", got)
	}
}

func TestTableNameReplacesSpacesInNickname(t *testing.T) {
	req := testRequest()
	req.Destination.Nickname = "acme prod warehouse"
	if got := req.TableName(); got != "SharedData_acme_prod_warehouse_7" {
		t.Fatalf("unexpected table name %q", got)
	}
}

func TestStageNameUsesMillis(t *testing.T) {
	req := testRequest()
	now := time.UnixMilli(1680000000123)
	if got := req.StageName(now); got != "SharedData_TempStage_7_1680000000123" {
		t.Fatalf("unexpected stage name %q", got)
	}
	if got := req.StageKey(now); got != "snapshots/7/SharedData_TempStage_7_1680000000123.csv.gz" {
		t.Fatalf("unexpected stage key %q", got)
	}
}

func TestStageNamesDifferAcrossAttempts(t *testing.T) {
	req := testRequest()
	first := req.StageName(time.UnixMilli(1))
	second := req.StageName(time.UnixMilli(2))
	if first == second {
		t.Fatalf("expected distinct stage names per attempt")
	}
}

func TestColumnDefsFollowMappingOrder(t *testing.T) {
	defs := testRequest().ColumnDefs()
	if len(defs) != 2 || defs[0].Name != "order_id" || defs[1].SourceType != "numeric" {
		t.Fatalf("unexpected defs %+v", defs)
	}
}

func TestPrimaryKeyDestName(t *testing.T) {
	pk, err := testRequest().PrimaryKeyDestName()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pk != "order_id" {
		t.Fatalf("expected mapped primary key name, got %q", pk)
	}
}

func TestPrimaryKeyDestNameUnmapped(t *testing.T) {
	req := testRequest()
	req.Configuration.Columns = req.Configuration.Columns[1:]
	if _, err := req.PrimaryKeyDestName(); err == nil {
		t.Fatalf("expected error when the primary key is not mapped")
	}
}

func TestPrimaryKeyDestNameMissingTag(t *testing.T) {
	req := testRequest()
	req.View.Columns[0].IsPrimaryKey = false
	_, err := req.PrimaryKeyDestName()
	if !errors.Is(err, replication.ErrMissingTaggedColumn) {
		t.Fatalf("expected ErrMissingTaggedColumn, got %v", err)
	}
}
