// Package dialect normalizes per-database-family connection and query logic
// behind one adapter interface consumed by the pool.
package dialect

import (
	"context"
	"fmt"

	"github.com/realize-engineering/pipebird/pkg/replication"
)

// Adapter is a live pool/client for one engine family. Adapters are owned by
// the pool registry for the life of the process.
type Adapter interface {
	replication.Conn
	Close() error
}

// Open establishes an adapter for the engine named in params. It does not
// probe; the pool registry runs the liveness probe before registering.
func Open(ctx context.Context, params replication.ConnectionParams) (Adapter, error) {
	switch params.Engine {
	case replication.EnginePostgres, replication.EngineCockroachDB:
		// Force read-only sessions on operational sources.
		return openPostgres(ctx, params, true)
	case replication.EngineRedshift:
		return openPostgres(ctx, params, false)
	case replication.EngineMySQL, replication.EngineMariaDB:
		return openMySQL(params)
	case replication.EngineSnowflake:
		return openSnowflake(params)
	case replication.EngineBigQuery:
		return openBigQuery(ctx, params)
	default:
		return nil, fmt.Errorf("%w: %s", replication.ErrNotImplemented, params.Engine)
	}
}

// Placeholder renders the engine's positional bind marker, 1-indexed.
func Placeholder(engine replication.EngineType, index int) string {
	switch engine {
	case replication.EnginePostgres, replication.EngineCockroachDB, replication.EngineRedshift:
		return fmt.Sprintf("$%d", index)
	default:
		return "?"
	}
}
