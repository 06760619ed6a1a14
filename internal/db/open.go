package db

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/diane-assistant/agent-gateway/internal/common/config"
)

// Open builds a Pool from the database configuration. SQLite gets a single
// writer connection plus a read-only reader pool; Postgres shares one pool
// for both roles.
func Open(cfg *config.DatabaseConfig) (*Pool, error) {
	switch cfg.Driver {
	case "sqlite", "sqlite3":
		writer, err := OpenSQLite(cfg.Path)
		if err != nil {
			return nil, err
		}
		reader, err := OpenSQLiteReader(cfg.Path)
		if err != nil {
			_ = writer.Close()
			return nil, err
		}
		return NewPool(sqlx.NewDb(writer, "sqlite3"), sqlx.NewDb(reader, "sqlite3")), nil
	case "postgres", "pgx":
		conn, err := OpenPostgres(cfg.DSN(), cfg.MaxConns)
		if err != nil {
			return nil, err
		}
		shared := sqlx.NewDb(conn, "pgx")
		return NewPool(shared, shared), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
