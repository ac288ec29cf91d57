// Package config opens PostgreSQL connections for the result cache integration tests.
//
// It creates one connection per supported adapter type (pgxpool.Pool, sql.DB, sqlx.DB).
// The DSN comes from QUERYLOADER_TEST_POSTGRES_DSN and falls back to a local test database.
// Every constructor pings the database so tests can skip when none is reachable.
package config
