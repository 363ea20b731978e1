// Package db wires the shared Postgres connection used by the stock,
// order, and queue stores (the Redis connection lives in
// internal/redisclient). Connection lifecycle lives here; domain
// queries live in the packages that own the relevant table.
package db

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// OpenPostgres connects to Postgres via sqlx/lib-pq, matching the
// teacher's pool sizing.
func OpenPostgres(url string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return db, nil
}
