package transfer

import (
	"context"
	"fmt"
	"time"

	bqdest "github.com/realize-engineering/pipebird/connectors/destinations/bigquery"
	rsdest "github.com/realize-engineering/pipebird/connectors/destinations/redshift"
	s3dest "github.com/realize-engineering/pipebird/connectors/destinations/s3"
	sfdest "github.com/realize-engineering/pipebird/connectors/destinations/snowflake"
	"github.com/realize-engineering/pipebird/internal/loader"
	"github.com/realize-engineering/pipebird/internal/pool"
	"github.com/realize-engineering/pipebird/pkg/objectstore"
	"github.com/realize-engineering/pipebird/pkg/replication"
)

// LoaderFactory builds the destination loader for a transfer. Credentials
// are checked before any pool or client is opened, so a misconfigured
// destination fails without consuming a connection.
type LoaderFactory struct {
	Pools   *pool.Registry
	Staging objectstore.S3Config
	Now     func() time.Time
}

func (f *LoaderFactory) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now()
}

func (f *LoaderFactory) New(ctx context.Context, req loader.Request) (loader.Loader, error) {
	switch req.Destination.Type {
	case replication.DestinationProvisionedS3:
		if err := s3dest.Check(req.Destination); err != nil {
			return nil, err
		}
		cfg := f.Staging
		cfg.Bucket = req.Destination.StagingBucket
		client, err := objectstore.NewS3(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("open provisioned bucket: %w", err)
		}
		return s3dest.New(client, req, f.now()), nil

	case replication.DestinationSnowflake:
		if err := sfdest.Check(req.Destination); err != nil {
			return nil, err
		}
		conn, err := f.Pools.Acquire(ctx, req.Destination.ConnectionParams())
		if err != nil {
			return nil, err
		}
		client, err := objectstore.NewS3(ctx, f.Staging)
		if err != nil {
			return nil, fmt.Errorf("open staging bucket: %w", err)
		}
		return sfdest.New(conn, client, req, f.now()), nil

	case replication.DestinationRedshift:
		if err := rsdest.Check(req.Destination); err != nil {
			return nil, err
		}
		conn, err := f.Pools.Acquire(ctx, req.Destination.ConnectionParams())
		if err != nil {
			return nil, err
		}
		client, err := objectstore.NewS3(ctx, f.Staging)
		if err != nil {
			return nil, fmt.Errorf("open staging bucket: %w", err)
		}
		return rsdest.New(conn, client, req, f.now()), nil

	case replication.DestinationBigQuery:
		if err := bqdest.Check(req.Destination); err != nil {
			return nil, err
		}
		conn, err := f.Pools.Acquire(ctx, req.Destination.ConnectionParams())
		if err != nil {
			return nil, err
		}
		bucket, err := objectstore.OpenGCSBucket(ctx, req.Destination.StagingBucket, req.Destination.ServiceAccountJSON)
		if err != nil {
			return nil, fmt.Errorf("open staging bucket: %w", err)
		}
		return bqdest.New(conn, bucket, req, f.now()), nil

	default:
		return nil, fmt.Errorf("%w: destination type %s", replication.ErrNotImplemented, req.Destination.Type)
	}
}
