package mysql

import (
	"context"
	"database/sql"
	"fmt"

	"auction-relay/internal/config"

	"github.com/go-sql-driver/mysql"
)

// driverConfig parses the DSN and forces time parsing, which the journal
// depends on for DATETIME columns.
func driverConfig(dsn string) (*mysql.Config, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	return cfg, nil
}

// Open connects to MySQL with the pool limits from cfg and pings it.
func Open(ctx context.Context, cfg config.MySQLConfig) (*sql.DB, error) {
	driverCfg, err := driverConfig(cfg.DSN)
	if err != nil {
		return nil, err
	}

	connector, err := mysql.NewConnector(driverCfg)
	if err != nil {
		return nil, err
	}
	db := sql.OpenDB(connector)

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return db, nil
}
