package config

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGXPool opens and pings a small pgxpool.Pool for the test database.
func PGXPool(ctx context.Context) (*pgxpool.Pool, error) {
	const maxConnections = int32(10)
	const minConnections = int32(1)
	const connectTimeout = time.Second * 2

	dbConfig, err := pgxpool.ParseConfig(PostgresDSN())
	if err != nil {
		return nil, err
	}

	dbConfig.MaxConns = maxConnections
	dbConfig.MinConns = minConnections
	dbConfig.ConnConfig.ConnectTimeout = connectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, dbConfig)
	if err != nil {
		return nil, err
	}

	if pingErr := pool.Ping(ctx); pingErr != nil {
		pool.Close()
		return nil, pingErr
	}

	return pool, nil
}
