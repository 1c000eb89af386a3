package dialect

import (
	"database/sql"
	"fmt"

	"github.com/snowflakedb/gosnowflake"

	"github.com/realize-engineering/pipebird/pkg/replication"
)

func openSnowflake(params replication.ConnectionParams) (Adapter, error) {
	cfg := gosnowflake.Config{
		Account:   params.Host,
		Host:      params.Host,
		User:      params.Username,
		Password:  params.Password,
		Database:  params.Database,
		Schema:    params.Schema,
		Warehouse: params.Warehouse,
	}
	if params.Port != 0 {
		cfg.Port = params.Port
	}
	dsn, err := gosnowflake.DSN(&cfg)
	if err != nil {
		return nil, fmt.Errorf("build snowflake dsn: %w", err)
	}
	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, fmt.Errorf("open snowflake: %w", err)
	}
	return &sqlAdapter{db: db}, nil
}
