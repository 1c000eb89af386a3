package dialect

import (
	"database/sql"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/realize-engineering/pipebird/pkg/replication"
)

func openMySQL(params replication.ConnectionParams) (Adapter, error) {
	cfg := mysql.NewConfig()
	cfg.User = params.Username
	cfg.Passwd = params.Password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", params.Host, params.Port)
	cfg.DBName = params.Database
	cfg.ParseTime = true
	// Session variables ride in the DSN so every pooled connection gets
	// ANSI-quoted identifiers and a read-only transaction mode.
	cfg.Params = map[string]string{
		"sql_mode":              "'ANSI_QUOTES'",
		"transaction_read_only": "1",
	}

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	return &sqlAdapter{db: db}, nil
}
