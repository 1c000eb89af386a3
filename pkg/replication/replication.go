package replication

import "context"

// EngineType identifies a database family the pool can speak to.
type EngineType string

const (
	EnginePostgres    EngineType = "POSTGRES"
	EngineCockroachDB EngineType = "COCKROACHDB"
	EngineRedshift    EngineType = "REDSHIFT"
	EngineMySQL       EngineType = "MYSQL"
	EngineMariaDB     EngineType = "MARIADB"
	EngineSnowflake   EngineType = "SNOWFLAKE"
	EngineBigQuery    EngineType = "BIGQUERY"
)

// DestinationType identifies where a transfer delivers data.
type DestinationType string

const (
	DestinationProvisionedS3 DestinationType = "PROVISIONED_S3"
	DestinationSnowflake     DestinationType = "SNOWFLAKE"
	DestinationRedshift      DestinationType = "REDSHIFT"
	DestinationBigQuery      DestinationType = "BIGQUERY"
)

// Engine returns the database family used to reach a destination type.
func (d DestinationType) Engine() EngineType {
	switch d {
	case DestinationSnowflake:
		return EngineSnowflake
	case DestinationRedshift:
		return EngineRedshift
	case DestinationBigQuery:
		return EngineBigQuery
	default:
		return ""
	}
}

// ConnectionParams carries everything needed to open a pool for one endpoint.
// BigQuery authenticates with a service-account credential instead of
// host/port/password.
type ConnectionParams struct {
	Engine             EngineType
	Host               string
	Port               int
	Username           string
	Password           string
	Database           string
	Schema             string
	Warehouse          string
	ServiceAccountJSON string
}

// Statement is a parameterized SQL statement with positional bindings.
type Statement struct {
	SQL  string
	Args []any
}

// Row maps column names to values for one result row.
type Row map[string]any

// RowStream is a pull-based, finite, non-restartable sequence of rows. The
// underlying connection is released only after the stream is drained or
// closed, so callers must Close on early exit.
type RowStream interface {
	Next() bool
	Row() Row
	Columns() []string
	Err() error
	Close() error
}

// Conn is the dialect-agnostic handle set returned by the pool.
type Conn interface {
	Query(ctx context.Context, stmt Statement) ([]Row, error)
	QueryStream(ctx context.Context, stmt Statement) (RowStream, error)
	// QueryUnsafe executes a fully rendered SQL string for engine-specific
	// DDL/DCL that cannot be parameterized. Identifiers must be pre-quoted;
	// never interpolate user-controlled raw text.
	QueryUnsafe(ctx context.Context, sql string) ([]Row, error)
}
