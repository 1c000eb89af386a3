// Package s3 delivers finalized batches straight to a provisioned S3 bucket
// as gzip-compressed CSV objects, retrievable through a presigned URL.
package s3

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/realize-engineering/pipebird/internal/loader"
	"github.com/realize-engineering/pipebird/internal/model"
	"github.com/realize-engineering/pipebird/pkg/replication"
)

// Check validates the destination fields required for provisioned S3
// delivery before any pool or client is opened.
func Check(dest model.Destination) error {
	missing := []string{}
	if dest.StagingBucket == "" {
		missing = append(missing, "stagingBucket")
	}
	if len(missing) > 0 {
		return &replication.CredentialsError{Destination: string(replication.DestinationProvisionedS3), Missing: missing}
	}
	return nil
}

// Store is the object client surface this destination needs. Satisfied by
// objectstore.S3Client.
type Store interface {
	loader.ObjectStager
	PresignGet(ctx context.Context, key string) (string, error)
}

// Destination implements loader.Loader for direct object delivery. The
// uploaded object is the deliverable, so TearDown keeps it and only a
// rollback removes it.
type Destination struct {
	store Store
	req   loader.Request
	key   string
}

func New(store Store, req loader.Request, now time.Time) *Destination {
	return &Destination{store: store, req: req, key: req.StageKey(now)}
}

// CreateTable is a no-op: there is no destination table to ensure.
func (d *Destination) CreateTable(ctx context.Context) error { return nil }

func (d *Destination) Stage(ctx context.Context, contents io.Reader) error {
	if err := d.store.Upload(ctx, d.key, contents); err != nil {
		return fmt.Errorf("%w: upload %s: %w", replication.ErrStagingFailure, d.key, err)
	}
	return nil
}

// Upsert is a no-op: the object landed in full during Stage.
func (d *Destination) Upsert(ctx context.Context) error { return nil }

func (d *Destination) TearDown(ctx context.Context) error { return nil }

func (d *Destination) BeginTransaction(ctx context.Context) error  { return nil }
func (d *Destination) CommitTransaction(ctx context.Context) error { return nil }

func (d *Destination) RollbackTransaction(ctx context.Context) error {
	return d.store.DeletePrefix(ctx, d.key)
}

// ObjectURL presigns the delivered object for time-limited retrieval.
func (d *Destination) ObjectURL(ctx context.Context) (string, error) {
	return d.store.PresignGet(ctx, d.key)
}
