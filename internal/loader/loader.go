// Package loader defines the staged destination loader contract shared by
// every destination type.
package loader

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/realize-engineering/pipebird/internal/model"
	"github.com/realize-engineering/pipebird/internal/sqlgen"
)

// Loader moves one extracted batch into a destination through a staged
// lifecycle: ensure the destination table, stage the batch, merge it, then
// tear the staging resources down. Implementations that support
// transactional finalization expose it through the Begin/Commit/Rollback
// trio; the rest treat those as no-ops.
type Loader interface {
	// CreateTable ensures the destination schema and table exist with the
	// configuration's mapped columns.
	CreateTable(ctx context.Context) error

	// Stage lands the compressed CSV batch in the destination's staging
	// area. Contents reads header-first CSV, gzip compressed.
	Stage(ctx context.Context, contents io.Reader) error

	// Upsert merges the staged batch into the destination table, matching
	// on the configuration's primary key.
	Upsert(ctx context.Context) error

	// TearDown removes staging resources. Safe to call after a failed
	// Stage or Upsert.
	TearDown(ctx context.Context) error

	BeginTransaction(ctx context.Context) error
	CommitTransaction(ctx context.Context) error
	RollbackTransaction(ctx context.Context) error
}

// ObjectStager is the slice of the S3 client warehouse loaders stage
// through.
type ObjectStager interface {
	Bucket() string
	StagingCredentials() (accessKeyID, secretAccessKey, kmsKeyID string)
	Upload(ctx context.Context, key string, body io.Reader) error
	DeletePrefix(ctx context.Context, prefix string) error
}

// Finalizer is implemented by loaders that produce a retrievable artifact
// (object-store destinations) rather than loading a warehouse table.
type Finalizer interface {
	// ObjectURL returns a time-limited URL for the finalized batch.
	ObjectURL(ctx context.Context) (string, error)
}

// Request carries the per-transfer inputs every loader needs.
type Request struct {
	Transfer      model.Transfer
	Configuration model.Configuration
	View          model.View
	Source        model.Source
	Destination   model.Destination
}

// TableName derives the deterministic destination table name from the
// destination nickname and configuration ID. Nicknames are free-form text,
// so spaces become underscores to keep the identifier portable.
func (r Request) TableName() string {
	nickname := strings.ReplaceAll(r.Destination.Nickname, " ", "_")
	return fmt.Sprintf("SharedData_%s_%d", nickname, r.Configuration.ID)
}

// StageName derives a collision-free staging name for this attempt.
func (r Request) StageName(now time.Time) string {
	return fmt.Sprintf("SharedData_TempStage_%d_%d", r.Configuration.ID, now.UnixMilli())
}

// StageKey is the object key batches are staged under for destinations that
// stage through an object store.
func (r Request) StageKey(now time.Time) string {
	return fmt.Sprintf("snapshots/%d/%s.csv.gz", r.Configuration.ID, r.StageName(now))
}

// ColumnDefs renders the configuration's mapped columns with their source
// types, in declaration order.
func (r Request) ColumnDefs() []sqlgen.ColumnDef {
	defs := make([]sqlgen.ColumnDef, 0, len(r.Configuration.Columns))
	for _, col := range r.Configuration.Columns {
		defs = append(defs, sqlgen.ColumnDef{Name: col.NameInDestination, SourceType: col.DataType})
	}
	return defs
}

// PrimaryKeyDestName resolves the destination-side name of the view's
// primary-key column through the configuration mapping.
func (r Request) PrimaryKeyDestName() (string, error) {
	pk, _, _, err := r.View.TaggedColumns()
	if err != nil {
		return "", err
	}
	for _, col := range r.Configuration.Columns {
		if col.NameInSource == pk.Name {
			return col.NameInDestination, nil
		}
	}
	return "", fmt.Errorf("configuration %d does not map primary key column %q", r.Configuration.ID, pk.Name)
}
