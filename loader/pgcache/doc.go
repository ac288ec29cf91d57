// Package pgcache persists query results in PostgreSQL so they survive process restarts.
//
// Cache implements loader.CacheBackend and plugs into corestore via corestore.WithCacheBackend.
// It runs on a pgxpool.Pool, a database/sql DB or a sqlx DB, and builds its SQL with goqu.
//
// Rows live in a single table (default "query_cache") keyed by the serialized cache key:
//
//	cache_key  text primary key
//	result     jsonb not null
//	source_map jsonb
//	fetched_at timestamptz not null
//
// Migrate creates the table when it does not exist, DeleteExpired removes stale rows.
package pgcache
