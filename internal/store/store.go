// Package store persists the control-plane entities in Postgres. All status
// transitions are guarded updates so concurrent workers cannot double-apply
// a transfer.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/realize-engineering/pipebird/internal/model"
	"github.com/realize-engineering/pipebird/pkg/replication"
)

var (
	// ErrNotFound signals a lookup for an entity that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStaleTransfer signals a guarded transition whose precondition no
	// longer held, typically a transfer already claimed or finalized.
	ErrStaleTransfer = errors.New("transfer not in expected status")
)

// Store wraps the pgx pool with entity-level operations.
type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("postgres DSN is required")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := runMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) CreateSource(ctx context.Context, src model.Source) (model.Source, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO sources (nickname, engine, host, port, username, password, database, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		src.Nickname, string(src.Engine), src.Host, src.Port, src.Username, src.Password, src.Database, src.Status)
	if err := row.Scan(&src.ID); err != nil {
		return model.Source{}, fmt.Errorf("insert source: %w", err)
	}
	return src, nil
}

func (s *Store) GetSource(ctx context.Context, id int64) (model.Source, error) {
	var src model.Source
	var engine string
	err := s.pool.QueryRow(ctx,
		`SELECT id, nickname, engine, host, port, username, password, database, status
		 FROM sources WHERE id = $1`, id).
		Scan(&src.ID, &src.Nickname, &engine, &src.Host, &src.Port, &src.Username, &src.Password, &src.Database, &src.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Source{}, fmt.Errorf("source %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Source{}, fmt.Errorf("get source %d: %w", id, err)
	}
	src.Engine = replication.EngineType(engine)
	return src, nil
}

func (s *Store) CreateView(ctx context.Context, view model.View) (model.View, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return model.View{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		"INSERT INTO views (source_id, table_name) VALUES ($1, $2) RETURNING id",
		view.SourceID, view.TableName)
	if err := row.Scan(&view.ID); err != nil {
		return model.View{}, fmt.Errorf("insert view: %w", err)
	}
	for _, col := range view.Columns {
		_, err := tx.Exec(ctx,
			`INSERT INTO view_columns (view_id, name, data_type, is_primary_key, is_last_modified, is_tenant_column)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			view.ID, col.Name, col.DataType, col.IsPrimaryKey, col.IsLastModified, col.IsTenantColumn)
		if err != nil {
			return model.View{}, fmt.Errorf("insert view column %s: %w", col.Name, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return model.View{}, fmt.Errorf("commit view: %w", err)
	}
	return view, nil
}

func (s *Store) GetView(ctx context.Context, id int64) (model.View, error) {
	var view model.View
	err := s.pool.QueryRow(ctx,
		"SELECT id, source_id, table_name FROM views WHERE id = $1", id).
		Scan(&view.ID, &view.SourceID, &view.TableName)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.View{}, fmt.Errorf("view %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.View{}, fmt.Errorf("get view %d: %w", id, err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT name, data_type, is_primary_key, is_last_modified, is_tenant_column
		 FROM view_columns WHERE view_id = $1 ORDER BY id`, id)
	if err != nil {
		return model.View{}, fmt.Errorf("get view %d columns: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var col model.ViewColumn
		if err := rows.Scan(&col.Name, &col.DataType, &col.IsPrimaryKey, &col.IsLastModified, &col.IsTenantColumn); err != nil {
			return model.View{}, fmt.Errorf("scan view column: %w", err)
		}
		view.Columns = append(view.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return model.View{}, fmt.Errorf("iterate view columns: %w", err)
	}
	return view, nil
}

func (s *Store) CreateDestination(ctx context.Context, dest model.Destination) (model.Destination, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO destinations
		 (nickname, destination_type, host, port, username, password, database, schema_name, warehouse, service_account_json, staging_bucket, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) RETURNING id`,
		dest.Nickname, string(dest.Type), dest.Host, dest.Port, dest.Username, dest.Password,
		dest.Database, dest.Schema, dest.Warehouse, dest.ServiceAccountJSON, dest.StagingBucket, dest.Status)
	if err := row.Scan(&dest.ID); err != nil {
		return model.Destination{}, fmt.Errorf("insert destination: %w", err)
	}
	return dest, nil
}

func (s *Store) GetDestination(ctx context.Context, id int64) (model.Destination, error) {
	var dest model.Destination
	var destType string
	err := s.pool.QueryRow(ctx,
		`SELECT id, nickname, destination_type, host, port, username, password, database, schema_name, warehouse, service_account_json, staging_bucket, status
		 FROM destinations WHERE id = $1`, id).
		Scan(&dest.ID, &dest.Nickname, &destType, &dest.Host, &dest.Port, &dest.Username, &dest.Password,
			&dest.Database, &dest.Schema, &dest.Warehouse, &dest.ServiceAccountJSON, &dest.StagingBucket, &dest.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Destination{}, fmt.Errorf("destination %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Destination{}, fmt.Errorf("get destination %d: %w", id, err)
	}
	dest.Type = replication.DestinationType(destType)
	return dest, nil
}

func (s *Store) CreateConfiguration(ctx context.Context, cfg model.Configuration) (model.Configuration, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return model.Configuration{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`INSERT INTO configurations (view_id, destination_id, tenant_id, warehouse_id, last_modified_at)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		cfg.ViewID, cfg.DestinationID, cfg.TenantID, cfg.WarehouseID, cfg.LastModifiedAt)
	if err := row.Scan(&cfg.ID); err != nil {
		return model.Configuration{}, fmt.Errorf("insert configuration: %w", err)
	}
	for _, col := range cfg.Columns {
		_, err := tx.Exec(ctx,
			`INSERT INTO configuration_columns (configuration_id, name_in_source, name_in_destination, data_type)
			 VALUES ($1, $2, $3, $4)`,
			cfg.ID, col.NameInSource, col.NameInDestination, col.DataType)
		if err != nil {
			return model.Configuration{}, fmt.Errorf("insert configuration column %s: %w", col.NameInSource, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Configuration{}, fmt.Errorf("commit configuration: %w", err)
	}
	return cfg, nil
}

func (s *Store) GetConfiguration(ctx context.Context, id int64) (model.Configuration, error) {
	var cfg model.Configuration
	err := s.pool.QueryRow(ctx,
		`SELECT id, view_id, destination_id, tenant_id, warehouse_id, last_modified_at
		 FROM configurations WHERE id = $1`, id).
		Scan(&cfg.ID, &cfg.ViewID, &cfg.DestinationID, &cfg.TenantID, &cfg.WarehouseID, &cfg.LastModifiedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Configuration{}, fmt.Errorf("configuration %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Configuration{}, fmt.Errorf("get configuration %d: %w", id, err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT name_in_source, name_in_destination, data_type
		 FROM configuration_columns WHERE configuration_id = $1 ORDER BY id`, id)
	if err != nil {
		return model.Configuration{}, fmt.Errorf("get configuration %d columns: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var col model.ColumnMapping
		if err := rows.Scan(&col.NameInSource, &col.NameInDestination, &col.DataType); err != nil {
			return model.Configuration{}, fmt.Errorf("scan configuration column: %w", err)
		}
		cfg.Columns = append(cfg.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return model.Configuration{}, fmt.Errorf("iterate configuration columns: %w", err)
	}
	return cfg, nil
}

// AdvanceWatermark persists a new watermark only if it moves forward. A
// stale candidate leaves the stored value untouched.
func (s *Store) AdvanceWatermark(ctx context.Context, configurationID int64, watermark time.Time) error {
	_, err := s.pool.Exec(ctx,
		"UPDATE configurations SET last_modified_at = $2 WHERE id = $1 AND last_modified_at < $2",
		configurationID, watermark)
	if err != nil {
		return fmt.Errorf("advance watermark for configuration %d: %w", configurationID, err)
	}
	return nil
}

func (s *Store) CreateTransfer(ctx context.Context, configurationID int64) (model.Transfer, error) {
	t := model.Transfer{ConfigurationID: configurationID, Status: model.TransferStarted}
	row := s.pool.QueryRow(ctx,
		"INSERT INTO transfers (configuration_id, status) VALUES ($1, $2) RETURNING id, created_at",
		configurationID, string(t.Status))
	if err := row.Scan(&t.ID, &t.CreatedAt); err != nil {
		return model.Transfer{}, fmt.Errorf("insert transfer: %w", err)
	}
	return t, nil
}

func (s *Store) GetTransfer(ctx context.Context, id int64) (model.Transfer, error) {
	var t model.Transfer
	var status string
	err := s.pool.QueryRow(ctx,
		"SELECT id, configuration_id, status, created_at FROM transfers WHERE id = $1", id).
		Scan(&t.ID, &t.ConfigurationID, &status, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Transfer{}, fmt.Errorf("transfer %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Transfer{}, fmt.Errorf("get transfer %d: %w", id, err)
	}
	t.Status = model.TransferStatus(status)
	return t, nil
}

func (s *Store) ListTransfers(ctx context.Context, configurationID int64) ([]model.Transfer, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, configuration_id, status, created_at FROM transfers
		 WHERE configuration_id = $1 ORDER BY created_at DESC`, configurationID)
	if err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}
	defer rows.Close()
	return scanTransfers(rows)
}

// ListTransfersByStatus feeds the worker's poll loop.
func (s *Store) ListTransfersByStatus(ctx context.Context, status model.TransferStatus, limit int) ([]model.Transfer, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, configuration_id, status, created_at FROM transfers
		 WHERE status = $1 ORDER BY created_at LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list transfers by status: %w", err)
	}
	defer rows.Close()
	return scanTransfers(rows)
}

// TransitionTransfer applies a guarded status transition. ErrStaleTransfer
// means the transfer was not in the expected prior status, which callers
// treat as "someone else got there first".
func (s *Store) TransitionTransfer(ctx context.Context, id int64, from, to model.TransferStatus) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE transfers SET status = $3 WHERE id = $1 AND status = $2",
		id, string(from), string(to))
	if err != nil {
		return fmt.Errorf("transition transfer %d %s->%s: %w", id, from, to, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("transfer %d not %s: %w", id, from, ErrStaleTransfer)
	}
	return nil
}

func (s *Store) RecordResult(ctx context.Context, result model.TransferResult) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO transfer_results (transfer_id, finalized_at, object_url) VALUES ($1, $2, $3)
		 ON CONFLICT (transfer_id) DO UPDATE SET finalized_at = EXCLUDED.finalized_at, object_url = EXCLUDED.object_url`,
		result.TransferID, result.FinalizedAt, result.ObjectURL)
	if err != nil {
		return fmt.Errorf("record transfer result: %w", err)
	}
	return nil
}

func (s *Store) GetResult(ctx context.Context, transferID int64) (model.TransferResult, error) {
	var result model.TransferResult
	err := s.pool.QueryRow(ctx,
		"SELECT transfer_id, finalized_at, object_url FROM transfer_results WHERE transfer_id = $1", transferID).
		Scan(&result.TransferID, &result.FinalizedAt, &result.ObjectURL)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.TransferResult{}, fmt.Errorf("result for transfer %d: %w", transferID, ErrNotFound)
	}
	if err != nil {
		return model.TransferResult{}, fmt.Errorf("get transfer result %d: %w", transferID, err)
	}
	return result, nil
}

func (s *Store) CreateWebhook(ctx context.Context, hook model.Webhook) (model.Webhook, error) {
	row := s.pool.QueryRow(ctx,
		"INSERT INTO webhooks (url, secret_key) VALUES ($1, $2) RETURNING id",
		hook.URL, hook.SecretKey)
	if err := row.Scan(&hook.ID); err != nil {
		return model.Webhook{}, fmt.Errorf("insert webhook: %w", err)
	}
	return hook, nil
}

func (s *Store) ListWebhooks(ctx context.Context) ([]model.Webhook, error) {
	rows, err := s.pool.Query(ctx, "SELECT id, url, secret_key FROM webhooks ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	defer rows.Close()

	hooks := []model.Webhook{}
	for rows.Next() {
		var hook model.Webhook
		if err := rows.Scan(&hook.ID, &hook.URL, &hook.SecretKey); err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		hooks = append(hooks, hook)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate webhooks: %w", err)
	}
	return hooks, nil
}

func scanTransfers(rows pgx.Rows) ([]model.Transfer, error) {
	items := []model.Transfer{}
	for rows.Next() {
		var t model.Transfer
		var status string
		if err := rows.Scan(&t.ID, &t.ConfigurationID, &status, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transfer: %w", err)
		}
		t.Status = model.TransferStatus(status)
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transfers: %w", err)
	}
	return items, nil
}
