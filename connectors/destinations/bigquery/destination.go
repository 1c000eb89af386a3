// Package bigquery loads batches into BigQuery by staging the object in GCS,
// registering an external table over it, and merging into the target table.
// BigQuery DML is atomic per statement, so the transaction hooks are no-ops.
package bigquery

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

// Check validates the project credentials before any client is opened.
// Database carries the GCP project ID for this destination type.
func Check(dest model.Destination) error {
	missing := []string{}
	for field, value := range map[string]string{
		"database":           dest.Database,
		"schema":             dest.Schema,
		"serviceAccountJson": dest.ServiceAccountJSON,
		"stagingBucket":      dest.StagingBucket,
	} {
		if value == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return &replication.CredentialsError{Destination: string(replication.DestinationBigQuery), Missing: missing}
	}
	return nil
}

// StagingBucket is the GCS client surface this destination needs.
// Satisfied by objectstore.GCSBucket.
type StagingBucket interface {
	Name() string
	Upload(ctx context.Context, objectPath string, contents io.Reader) error
	Delete(ctx context.Context, objectPath string) error
}

// Destination implements loader.Loader against a pooled BigQuery connection
// with a GCS staging bucket.
type Destination struct {
	conn   replication.Conn
	bucket StagingBucket
	req    loader.Request

	project string
	schema  string
	table   string
	stage   string
	object  string
}

func New(conn replication.Conn, bucket StagingBucket, req loader.Request, now time.Time) *Destination {
	return &Destination{
		conn:    conn,
		bucket:  bucket,
		req:     req,
		project: req.Destination.Database,
		schema:  req.Destination.Schema,
		table:   req.TableName(),
		stage:   req.StageName(now),
		object:  req.StageKey(now),
	}
}

func (d *Destination) CreateTable(ctx context.Context) error {
	ddl := sqlgen.CreateSchema(sqlgen.DialectBigQuery, d.project, d.schema)
	if _, err := d.conn.QueryUnsafe(ctx, ddl); err != nil {
		return fmt.Errorf("create dataset %s: %w", d.schema, err)
	}
	ddl = sqlgen.CreateTable(sqlgen.DialectBigQuery, []string{d.project, d.schema, d.table}, d.req.ColumnDefs())
	if _, err := d.conn.QueryUnsafe(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", d.table, err)
	}
	return nil
}

func (d *Destination) Stage(ctx context.Context, contents io.Reader) error {
	if err := d.bucket.Upload(ctx, d.object, contents); err != nil {
		return fmt.Errorf("%w: upload %s: %w", replication.ErrStagingFailure, d.object, err)
	}
	stmt := sqlgen.BigQueryCreateExternalStage(d.project, d.schema, d.stage, d.req.ColumnDefs(),
		fmt.Sprintf("gs://%s/%s", d.bucket.Name(), d.object))
	if _, err := d.conn.QueryUnsafe(ctx, stmt); err != nil {
		return fmt.Errorf("%w: create external stage %s: %w", replication.ErrStagingFailure, d.stage, err)
	}
	return nil
}

func (d *Destination) Upsert(ctx context.Context) error {
	pk, err := d.req.PrimaryKeyDestName()
	if err != nil {
		return err
	}
	stmt := sqlgen.BigQueryMerge(d.project, d.schema, d.table, d.stage, d.req.Configuration.DestinationNames(), pk)
	if _, err := d.conn.QueryUnsafe(ctx, stmt); err != nil {
		return fmt.Errorf("%w: merge into %s: %w", replication.ErrUpsertFailure, d.table, err)
	}
	return nil
}

func (d *Destination) TearDown(ctx context.Context) error {
	const q = '`'
	drop := fmt.Sprintf("drop external table if exists %s.%s.%s",
		sqlgen.QuoteIdent(d.project, q), sqlgen.QuoteIdent(d.schema, q), sqlgen.QuoteIdent(d.stage, q))
	if _, err := d.conn.QueryUnsafe(ctx, drop); err != nil {
		return fmt.Errorf("drop external stage %s: %w", d.stage, err)
	}
	return d.bucket.Delete(ctx, d.object)
}

func (d *Destination) BeginTransaction(ctx context.Context) error    { return nil }
func (d *Destination) CommitTransaction(ctx context.Context) error   { return nil }
func (d *Destination) RollbackTransaction(ctx context.Context) error { return nil }
