// Package redshift loads batches into Redshift with COPY from S3 into a
// session temp table, then a decomposed update/delete/insert upsert.
// Redshift has no MERGE, so the three statements run inside one transaction.
package redshift

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

// Check validates the cluster connection fields before any pool is acquired.
func Check(dest model.Destination) error {
	missing := []string{}
	for field, value := range map[string]string{
		"host":     dest.Host,
		"username": dest.Username,
		"password": dest.Password,
		"database": dest.Database,
		"schema":   dest.Schema,
	} {
		if value == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return &replication.CredentialsError{Destination: string(replication.DestinationRedshift), Missing: missing}
	}
	return nil
}

// Destination implements loader.Loader against a pooled Redshift connection.
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
	ddl := sqlgen.CreateSchema(sqlgen.DialectRedshift, d.req.Destination.Database, d.schema)
	if _, err := d.conn.QueryUnsafe(ctx, ddl); err != nil {
		return fmt.Errorf("create schema %s: %w", d.schema, err)
	}
	ddl = sqlgen.CreateTable(sqlgen.DialectRedshift, []string{d.schema, d.table}, d.req.ColumnDefs())
	if _, err := d.conn.QueryUnsafe(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", d.table, err)
	}
	return nil
}

func (d *Destination) Stage(ctx context.Context, contents io.Reader) error {
	if err := d.store.Upload(ctx, d.key, contents); err != nil {
		return fmt.Errorf("%w: upload %s: %w", replication.ErrStagingFailure, d.key, err)
	}
	stmt := sqlgen.RedshiftCreateTempStage(d.stage, d.schema, d.table)
	if _, err := d.conn.QueryUnsafe(ctx, stmt); err != nil {
		return fmt.Errorf("%w: create temp stage %s: %w", replication.ErrStagingFailure, d.stage, err)
	}
	accessKeyID, secretKey, _ := d.store.StagingCredentials()
	stmt = sqlgen.RedshiftCopy(d.stage,
		fmt.Sprintf("s3://%s/%s", d.store.Bucket(), d.key),
		accessKeyID, secretKey)
	if _, err := d.conn.QueryUnsafe(ctx, stmt); err != nil {
		return fmt.Errorf("%w: copy into %s: %w", replication.ErrStagingFailure, d.stage, err)
	}
	return nil
}

// Upsert applies the staged rows in three steps: update matched rows, drop
// the now-applied staged rows, insert the remainder.
func (d *Destination) Upsert(ctx context.Context) error {
	pk, err := d.req.PrimaryKeyDestName()
	if err != nil {
		return err
	}
	columns := d.req.Configuration.DestinationNames()
	for _, stmt := range []string{
		sqlgen.RedshiftUpdateFromStage(d.schema, d.table, d.stage, columns, pk),
		sqlgen.RedshiftDeleteApplied(d.stage, d.schema, d.table, pk),
		sqlgen.RedshiftInsertFromStage(d.schema, d.table, d.stage),
	} {
		if _, err := d.conn.QueryUnsafe(ctx, stmt); err != nil {
			return fmt.Errorf("%w: %w", replication.ErrUpsertFailure, err)
		}
	}
	return nil
}

func (d *Destination) TearDown(ctx context.Context) error {
	drop := fmt.Sprintf("drop table if exists %s", sqlgen.QuoteIdent(d.stage, '"'))
	if _, err := d.conn.QueryUnsafe(ctx, drop); err != nil {
		return fmt.Errorf("drop temp stage %s: %w", d.stage, err)
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
