// Package snowflake loads batches into Snowflake through an S3-backed
// external stage and a positional MERGE.
package snowflake

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/realize-engineering/pipebird/internal/loader"
	"github.com/realize-engineering/pipebird/internal/model"
	"github.com/realize-engineering/pipebird/internal/sqlgen"
	"github.com/realize-engineering/pipebird/pkg/replication"
)

// Check validates the warehouse connection fields before any pool is
// acquired for the destination.
func Check(dest model.Destination) error {
	missing := []string{}
	for field, value := range map[string]string{
		"host":      dest.Host,
		"username":  dest.Username,
		"password":  dest.Password,
		"database":  dest.Database,
		"schema":    dest.Schema,
		"warehouse": dest.Warehouse,
	} {
		if value == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return &replication.CredentialsError{Destination: string(replication.DestinationSnowflake), Missing: missing}
	}
	return nil
}

// Destination implements loader.Loader against a pooled Snowflake
// connection. The staged object lives in S3 and is exposed to Snowflake
// through a short-lived named stage.
type Destination struct {
	conn  replication.Conn
	store loader.ObjectStager
	req   loader.Request

	schema string
	table  string
	stage  string
	key    string
}

func New(conn replication.Conn, store loader.ObjectStager, req loader.Request, now time.Time) *Destination {
	return &Destination{
		conn:   conn,
		store:  store,
		req:    req,
		schema: req.Destination.Schema,
		table:  req.TableName(),
		stage:  req.StageName(now),
		key:    req.StageKey(now),
	}
}

func (d *Destination) CreateTable(ctx context.Context) error {
	ddl := sqlgen.CreateSchema(sqlgen.DialectSnowflake, d.req.Destination.Database, d.schema)
	if _, err := d.conn.QueryUnsafe(ctx, ddl); err != nil {
		return fmt.Errorf("create schema %s: %w", d.schema, err)
	}
	ddl = sqlgen.CreateTable(sqlgen.DialectSnowflake, []string{d.schema, d.table}, d.req.ColumnDefs())
	if _, err := d.conn.QueryUnsafe(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", d.table, err)
	}
	return nil
}

func (d *Destination) Stage(ctx context.Context, contents io.Reader) error {
	if err := d.store.Upload(ctx, d.key, contents); err != nil {
		return fmt.Errorf("%w: upload %s: %w", replication.ErrStagingFailure, d.key, err)
	}
	accessKeyID, secretKey, kmsKeyID := d.store.StagingCredentials()
	stmt := sqlgen.SnowflakeCreateStage(
		d.schema, d.stage,
		fmt.Sprintf("s3://%s/%s", d.store.Bucket(), d.key),
		accessKeyID, secretKey, kmsKeyID,
	)
	if _, err := d.conn.QueryUnsafe(ctx, stmt); err != nil {
		return fmt.Errorf("%w: create stage %s: %w", replication.ErrStagingFailure, d.stage, err)
	}
	return nil
}

func (d *Destination) Upsert(ctx context.Context) error {
	pk, err := d.req.PrimaryKeyDestName()
	if err != nil {
		return err
	}
	stmt := sqlgen.SnowflakeMerge(d.schema, d.table, d.stage, d.req.Configuration.DestinationNames(), pk)
	if _, err := d.conn.QueryUnsafe(ctx, stmt); err != nil {
		return fmt.Errorf("%w: merge into %s: %w", replication.ErrUpsertFailure, d.table, err)
	}
	return nil
}

func (d *Destination) TearDown(ctx context.Context) error {
	drop := fmt.Sprintf("drop stage if exists %s.%s",
		sqlgen.QuoteIdent(d.schema, '"'), sqlgen.QuoteIdent(d.stage, '"'))
	if _, err := d.conn.QueryUnsafe(ctx, drop); err != nil {
		return fmt.Errorf("drop stage %s: %w", d.stage, err)
	}
	return d.store.DeletePrefix(ctx, d.key)
}

func (d *Destination) BeginTransaction(ctx context.Context) error {
	_, err := d.conn.QueryUnsafe(ctx, "begin")
	return err
}

func (d *Destination) CommitTransaction(ctx context.Context) error {
	_, err := d.conn.QueryUnsafe(ctx, "commit")
	return err
}

func (d *Destination) RollbackTransaction(ctx context.Context) error {
	_, err := d.conn.QueryUnsafe(ctx, "rollback")
	return err
}
