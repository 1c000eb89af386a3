// Package model holds the persisted entities the replication engine operates
// on.
package model

import (
	"fmt"
	"time"

	"github.com/realize-engineering/pipebird/pkg/replication"
)

// Source is a reachable operational database registered after a liveness
// probe.
type Source struct {
	ID       int64
	Nickname string
	Engine   replication.EngineType
	Host     string
	Port     int
	Username string
	Password string
	Database string
	Status   string
}

// ConnectionParams renders the pool parameters for the source.
func (s Source) ConnectionParams() replication.ConnectionParams {
	return replication.ConnectionParams{
		Engine:   s.Engine,
		Host:     s.Host,
		Port:     s.Port,
		Username: s.Username,
		Password: s.Password,
		Database: s.Database,
	}
}

// ViewColumn is one declared column of a view, optionally tagged as the
// primary-key, last-modified, or tenant column.
type ViewColumn struct {
	Name           string
	DataType       string
	IsPrimaryKey   bool
	IsLastModified bool
	IsTenantColumn bool
}

// View is a named, column-typed projection over a source table or
// expression. Immutable once configurations reference it.
type View struct {
	ID        int64
	SourceID  int64
	TableName string
	Columns   []ViewColumn
}

// TaggedColumns resolves the view's primary-key, last-modified and tenant
// columns. Exactly one of each must be declared; the coordinator refuses to
// extract otherwise.
func (v View) TaggedColumns() (primaryKey, lastModified, tenant ViewColumn, err error) {
	pk := v.columnsWhere(func(c ViewColumn) bool { return c.IsPrimaryKey })
	lm := v.columnsWhere(func(c ViewColumn) bool { return c.IsLastModified })
	tn := v.columnsWhere(func(c ViewColumn) bool { return c.IsTenantColumn })
	if len(pk) != 1 {
		return primaryKey, lastModified, tenant,
			fmt.Errorf("%w: view %d declares %d primary key columns", replication.ErrMissingTaggedColumn, v.ID, len(pk))
	}
	if len(lm) != 1 {
		return primaryKey, lastModified, tenant,
			fmt.Errorf("%w: view %d declares %d last-modified columns", replication.ErrMissingTaggedColumn, v.ID, len(lm))
	}
	if len(tn) != 1 {
		return primaryKey, lastModified, tenant,
			fmt.Errorf("%w: view %d declares %d tenant columns", replication.ErrMissingTaggedColumn, v.ID, len(tn))
	}
	return pk[0], lm[0], tn[0], nil
}

func (v View) columnsWhere(match func(ViewColumn) bool) []ViewColumn {
	out := []ViewColumn{}
	for _, col := range v.Columns {
		if match(col) {
			out = append(out, col)
		}
	}
	return out
}

// ColumnMapping maps one view column to its destination name. DataType
// carries the view column's source type for destination type mapping.
type ColumnMapping struct {
	NameInSource      string
	NameInDestination string
	DataType          string
}

// Configuration binds a view to a destination with a column mapping and the
// per-destination watermark.
type Configuration struct {
	ID             int64
	ViewID         int64
	DestinationID  int64
	TenantID       string
	WarehouseID    string
	LastModifiedAt time.Time
	Columns        []ColumnMapping
}

// DestinationNames returns the mapped column names in declaration order.
func (c Configuration) DestinationNames() []string {
	names := make([]string, 0, len(c.Columns))
	for _, col := range c.Columns {
		names = append(names, col.NameInDestination)
	}
	return names
}

// Destination is a replication target. Warehouse, staging bucket and service
// account apply only to the destination types that need them.
type Destination struct {
	ID                 int64
	Nickname           string
	Type               replication.DestinationType
	Host               string
	Port               int
	Username           string
	Password           string
	Database           string
	Schema             string
	Warehouse          string
	ServiceAccountJSON string
	StagingBucket      string
	Status             string
}

// ConnectionParams renders the pool parameters for a warehouse destination.
func (d Destination) ConnectionParams() replication.ConnectionParams {
	return replication.ConnectionParams{
		Engine:             d.Type.Engine(),
		Host:               d.Host,
		Port:               d.Port,
		Username:           d.Username,
		Password:           d.Password,
		Database:           d.Database,
		Schema:             d.Schema,
		Warehouse:          d.Warehouse,
		ServiceAccountJSON: d.ServiceAccountJSON,
	}
}

// TransferStatus is the persisted transfer state. Transitions are enforced
// by the transfer package.
type TransferStatus string

const (
	TransferStarted   TransferStatus = "STARTED"
	TransferPending   TransferStatus = "PENDING"
	TransferComplete  TransferStatus = "COMPLETE"
	TransferCancelled TransferStatus = "CANCELLED"
	TransferFailed    TransferStatus = "FAILED"
)

// Transfer is one execution of the replication pipeline for a configuration.
type Transfer struct {
	ID              int64
	ConfigurationID int64
	Status          TransferStatus
	CreatedAt       time.Time
}

// TransferResult records the finalized outcome. ObjectURL is present only
// for object-store destinations.
type TransferResult struct {
	TransferID  int64
	FinalizedAt time.Time
	ObjectURL   string
}

// Webhook receives transfer.finalized notifications signed with its secret.
type Webhook struct {
	ID        int64
	URL       string
	SecretKey string
}
