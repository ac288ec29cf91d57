package config

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
)

const (
	maxOpenConnections = 10
	maxIdleConnections = 2
	maxConnLifetime    = time.Hour
)

// SQLDB opens and pings a *sql.DB (lib/pq) for the test database.
func SQLDB(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open("postgres", PostgresDSN())
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(maxOpenConnections)
	db.SetMaxIdleConns(maxIdleConnections)
	db.SetConnMaxLifetime(maxConnLifetime)

	if pingErr := db.PingContext(ctx); pingErr != nil {
		_ = db.Close()
		return nil, pingErr
	}

	return db, nil
}

// SQLX opens and pings a *sqlx.DB (lib/pq) for the test database.
func SQLX(ctx context.Context) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", PostgresDSN())
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(maxOpenConnections)
	db.SetMaxIdleConns(maxIdleConnections)
	db.SetConnMaxLifetime(maxConnLifetime)

	if pingErr := db.PingContext(ctx); pingErr != nil {
		_ = db.Close()
		return nil, pingErr
	}

	return db, nil
}
