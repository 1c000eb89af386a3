package transfer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/realize-engineering/pipebird/internal/dialect"
	"github.com/realize-engineering/pipebird/internal/extract"
	"github.com/realize-engineering/pipebird/internal/loader"
	"github.com/realize-engineering/pipebird/internal/model"
	"github.com/realize-engineering/pipebird/internal/pool"
	"github.com/realize-engineering/pipebird/internal/sqlgen"
	"github.com/realize-engineering/pipebird/internal/store"
	"github.com/realize-engineering/pipebird/pkg/replication"
)

// Persistence is the slice of the store the coordinator needs.
type Persistence interface {
	GetTransfer(ctx context.Context, id int64) (model.Transfer, error)
	GetConfiguration(ctx context.Context, id int64) (model.Configuration, error)
	GetView(ctx context.Context, id int64) (model.View, error)
	GetSource(ctx context.Context, id int64) (model.Source, error)
	GetDestination(ctx context.Context, id int64) (model.Destination, error)
	TransitionTransfer(ctx context.Context, id int64, from, to model.TransferStatus) error
	AdvanceWatermark(ctx context.Context, configurationID int64, watermark time.Time) error
	RecordResult(ctx context.Context, result model.TransferResult) error
}

// LoaderBuilder builds the destination loader for one transfer.
type LoaderBuilder interface {
	New(ctx context.Context, req loader.Request) (loader.Loader, error)
}

// Notifier receives finalized transfers. Result is nil unless the transfer
// produced a retrievable artifact.
type Notifier interface {
	TransferFinalized(ctx context.Context, t model.Transfer, result *model.TransferResult)
}

// Coordinator drives one transfer end to end: claim, extract, load,
// finalize. It is safe to run concurrently for different transfers; the
// guarded claim serializes duplicate deliveries of the same one.
type Coordinator struct {
	Store    Persistence
	Pools    *pool.Registry
	Loaders  LoaderBuilder
	Notifier Notifier
	Tracer   trace.Tracer
	Logger   *log.Logger
	Now      func() time.Time
}

func (c *Coordinator) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Coordinator) logf(format string, args ...any) {
	if c.Logger != nil {
		c.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

// Run executes the transfer pipeline. A transfer may only be processed from
// STARTED; anything else is ErrInvalidTransition. Losing the guarded claim to
// a concurrent worker is not an error, the transfer is simply theirs.
func (c *Coordinator) Run(ctx context.Context, transferID int64) error {
	tracer := c.Tracer
	if tracer == nil {
		tracer = otel.Tracer("pipebird/transfer")
	}
	ctx, span := tracer.Start(ctx, "transfer.run",
		trace.WithAttributes(attribute.Int64("transfer.id", transferID)))
	defer span.End()

	t, err := c.Store.GetTransfer(ctx, transferID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if t.Status != model.TransferStarted {
		err := fmt.Errorf("%w: transfer %d is %s, only STARTED transfers can run", ErrInvalidTransition, t.ID, t.Status)
		span.RecordError(err)
		return err
	}
	if err := c.Store.TransitionTransfer(ctx, t.ID, model.TransferStarted, model.TransferPending); err != nil {
		if errors.Is(err, store.ErrStaleTransfer) {
			c.logf("transfer %d claimed elsewhere, skipping", t.ID)
			return nil
		}
		span.RecordError(err)
		return err
	}
	t.Status = model.TransferPending

	if err := c.run(ctx, span, t); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

func (c *Coordinator) run(ctx context.Context, span trace.Span, t model.Transfer) error {
	cfg, err := c.Store.GetConfiguration(ctx, t.ConfigurationID)
	if err != nil {
		return c.fail(ctx, t, nil, false, err)
	}
	view, err := c.Store.GetView(ctx, cfg.ViewID)
	if err != nil {
		return c.fail(ctx, t, nil, false, err)
	}
	src, err := c.Store.GetSource(ctx, view.SourceID)
	if err != nil {
		return c.fail(ctx, t, nil, false, err)
	}
	dest, err := c.Store.GetDestination(ctx, cfg.DestinationID)
	if err != nil {
		return c.fail(ctx, t, nil, false, err)
	}
	span.SetAttributes(
		attribute.Int64("configuration.id", cfg.ID),
		attribute.String("destination.type", string(dest.Type)),
	)

	_, lastModified, tenant, err := view.TaggedColumns()
	if err != nil {
		return c.fail(ctx, t, nil, false, err)
	}

	conn, err := c.Pools.Acquire(ctx, src.ConnectionParams())
	if err != nil {
		return c.fail(ctx, t, nil, false, fmt.Errorf("acquire source: %w", err))
	}

	d := sqlgen.DialectFor(src.Engine)
	maxSQL := sqlgen.SelectMaxLastModified(d, view.TableName, lastModified.Name, tenant.Name,
		dialect.Placeholder(src.Engine, 1))
	rows, err := conn.Query(ctx, replication.Statement{SQL: maxSQL, Args: []any{cfg.TenantID}})
	if err != nil {
		return c.fail(ctx, t, nil, false, fmt.Errorf("%w: probe last modified: %w", replication.ErrDatabaseError, err))
	}
	watermark, ok := maxWatermark(rows)
	if !ok {
		// Nothing for this tenant: the transfer had no work to do.
		c.logf("transfer %d: no rows for tenant, cancelling", t.ID)
		if err := c.Store.TransitionTransfer(ctx, t.ID, model.TransferPending, model.TransferCancelled); err != nil {
			return err
		}
		t.Status = model.TransferCancelled
		c.notify(ctx, t, nil)
		return nil
	}

	req := loader.Request{Transfer: t, Configuration: cfg, View: view, Source: src, Destination: dest}
	ld, err := c.Loaders.New(ctx, req)
	if err != nil {
		return c.fail(ctx, t, nil, false, err)
	}

	// Tracks whether a loader transaction is open; fail only rolls back
	// when one is.
	began := false
	if err := ld.CreateTable(ctx); err != nil {
		return c.fail(ctx, t, ld, began, err)
	}
	if err := ld.BeginTransaction(ctx); err != nil {
		return c.fail(ctx, t, ld, began, err)
	}
	began = true

	aliases := make([]sqlgen.ColumnAlias, 0, len(cfg.Columns))
	for _, col := range cfg.Columns {
		aliases = append(aliases, sqlgen.ColumnAlias{Source: col.NameInSource, Dest: col.NameInDestination})
	}
	deltaSQL := sqlgen.SelectDelta(d, view.TableName, aliases,
		tenant.Name, dialect.Placeholder(src.Engine, 1),
		lastModified.Name, dialect.Placeholder(src.Engine, 2))
	stream, err := conn.QueryStream(ctx, replication.Statement{
		SQL:  deltaSQL,
		Args: []any{cfg.TenantID, cfg.LastModifiedAt},
	})
	if err != nil {
		return c.fail(ctx, t, ld, began, fmt.Errorf("%w: open extraction cursor: %w", replication.ErrDatabaseError, err))
	}

	contents := extract.OpenCSVGzip(stream, cfg.DestinationNames())
	stageErr := ld.Stage(ctx, contents)
	if closeErr := contents.Close(); stageErr == nil && closeErr != nil {
		stageErr = closeErr
	}
	if stageErr != nil {
		return c.fail(ctx, t, ld, began, stageErr)
	}

	if err := ld.Upsert(ctx); err != nil {
		return c.fail(ctx, t, ld, began, err)
	}
	if err := ld.CommitTransaction(ctx); err != nil {
		return c.fail(ctx, t, ld, began, err)
	}
	began = false
	if err := ld.TearDown(ctx); err != nil {
		// Load is committed; leaked staging resources are not fatal.
		c.logf("transfer %d: teardown: %v", t.ID, err)
	}

	result := model.TransferResult{TransferID: t.ID, FinalizedAt: c.now()}
	if fin, ok := ld.(loader.Finalizer); ok {
		url, err := fin.ObjectURL(ctx)
		if err != nil {
			return c.fail(ctx, t, ld, began, fmt.Errorf("presign result: %w", err))
		}
		result.ObjectURL = url
	}
	if err := c.Store.RecordResult(ctx, result); err != nil {
		return c.fail(ctx, t, ld, began, err)
	}
	if err := c.Store.AdvanceWatermark(ctx, cfg.ID, watermark); err != nil {
		return c.fail(ctx, t, ld, began, err)
	}
	if err := c.Store.TransitionTransfer(ctx, t.ID, model.TransferPending, model.TransferComplete); err != nil {
		return err
	}
	t.Status = model.TransferComplete
	c.logf("transfer %d complete, watermark %s", t.ID, watermark.UTC().Format(time.RFC3339))
	c.notify(ctx, t, &result)
	return nil
}

// Cancel moves a non-terminal transfer to CANCELLED. Cancelling a finalized
// transfer is a precondition failure.
func (c *Coordinator) Cancel(ctx context.Context, transferID int64) error {
	t, err := c.Store.GetTransfer(ctx, transferID)
	if err != nil {
		return err
	}
	if IsTerminal(t.Status) {
		return fmt.Errorf("%w: transfer %d is %s", ErrInvalidTransition, t.ID, t.Status)
	}
	if err := c.Store.TransitionTransfer(ctx, t.ID, t.Status, model.TransferCancelled); err != nil {
		return err
	}
	t.Status = model.TransferCancelled
	c.notify(ctx, t, nil)
	return nil
}

func (c *Coordinator) fail(ctx context.Context, t model.Transfer, ld loader.Loader, began bool, cause error) error {
	if ld != nil {
		if began {
			if err := ld.RollbackTransaction(ctx); err != nil {
				c.logf("transfer %d: rollback: %v", t.ID, err)
			}
		}
		if err := ld.TearDown(ctx); err != nil {
			c.logf("transfer %d: teardown after failure: %v", t.ID, err)
		}
	}
	if err := c.Store.TransitionTransfer(ctx, t.ID, model.TransferPending, model.TransferFailed); err != nil {
		c.logf("transfer %d: mark failed: %v", t.ID, err)
	} else {
		t.Status = model.TransferFailed
		c.notify(ctx, t, nil)
	}
	return fmt.Errorf("transfer %d: %w", t.ID, cause)
}

func (c *Coordinator) notify(ctx context.Context, t model.Transfer, result *model.TransferResult) {
	if c.Notifier == nil {
		return
	}
	c.Notifier.TransferFinalized(ctx, t, result)
}

// maxWatermark digs the probe result out of the single aggregate row. A
// missing row or NULL aggregate means the tenant has no rows at all.
func maxWatermark(rows []replication.Row) (time.Time, bool) {
	if len(rows) == 0 {
		return time.Time{}, false
	}
	for _, value := range rows[0] {
		if ts, ok := asTime(value); ok {
			return ts, true
		}
	}
	return time.Time{}, false
}

func asTime(value any) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		return v, true
	case *time.Time:
		if v == nil {
			return time.Time{}, false
		}
		return *v, true
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05.999999999", "2006-01-02 15:04:05"} {
			if ts, err := time.Parse(layout, v); err == nil {
				return ts, true
			}
		}
	}
	return time.Time{}, false
}
