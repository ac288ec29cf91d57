package pgcache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	jsoniter "github.com/json-iterator/go"

	"github.com/AntonStoeckl/live-query-loader-go/loader"
	"github.com/AntonStoeckl/live-query-loader-go/loader/pgcache/internal/adapters"
)

const (
	defaultTableName = "query_cache"
	dialectPostgres  = "postgres"
	colCacheKey      = "cache_key"
	colResult        = "result"
	colSourceMap     = "source_map"
	colFetchedAt     = "fetched_at"
	excludedPrefix   = "excluded."
	castJsonb        = "?::jsonb"
	castTimestamp    = "?::timestamp with time zone"
	nullJSON         = "null"
)

// Cache is a PostgreSQL implementation of loader.CacheBackend.
type Cache struct {
	db               adapters.DBAdapter
	tableName        string
	now              func() time.Time
	logger           loader.Logger
	contextualLogger loader.ContextualLogger
	metricsCollector loader.MetricsCollector
	tracingCollector loader.TracingCollector
}

var _ loader.CacheBackend = (*Cache)(nil)

// NewCacheFromPGXPool creates a new Cache using a pgx Pool with optional configuration.
func NewCacheFromPGXPool(db *pgxpool.Pool, options ...Option) (*Cache, error) {
	if db == nil {
		return nil, loader.ErrNilDatabaseConnection
	}

	return newCache(adapters.NewPGXAdapter(db), options...)
}

// NewCacheFromPGXPoolWithReplica creates a new Cache that writes to primary and loads from replica.
func NewCacheFromPGXPoolWithReplica(primary *pgxpool.Pool, replica *pgxpool.Pool, options ...Option) (*Cache, error) {
	if primary == nil || replica == nil {
		return nil, loader.ErrNilDatabaseConnection
	}

	return newCache(adapters.NewPGXAdapterWithReplica(primary, replica), options...)
}

// NewCacheFromSQLDB creates a new Cache using a sql.DB with optional configuration.
func NewCacheFromSQLDB(db *sql.DB, options ...Option) (*Cache, error) {
	if db == nil {
		return nil, loader.ErrNilDatabaseConnection
	}

	return newCache(adapters.NewSQLAdapter(db), options...)
}

// NewCacheFromSQLX creates a new Cache using a sqlx.DB with optional configuration.
func NewCacheFromSQLX(db *sqlx.DB, options ...Option) (*Cache, error) {
	if db == nil {
		return nil, loader.ErrNilDatabaseConnection
	}

	return newCache(adapters.NewSQLXAdapter(db), options...)
}

func newCache(db adapters.DBAdapter, options ...Option) (*Cache, error) {
	c := &Cache{
		db:        db,
		tableName: defaultTableName,
		now:       time.Now,
	}

	for _, option := range options {
		if err := option(c); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// TableName returns the configured table name.
func (c *Cache) TableName() string {
	return c.tableName
}

// Load returns the persisted result for key together with its fetch time. ok is false when nothing is stored.
func (c *Cache) Load(ctx context.Context, key string) (loader.CachedResult, bool, error) {
	observer, ctx := c.startObserver(ctx, operationLoad)

	sqlQuery, args, buildErr := c.buildLoadQuery(key)
	if buildErr != nil {
		c.logError(ctx, logMsgBuildQueryFailed, logAttrError, buildErr.Error())
		observer.failure(buildErr)
		return loader.CachedResult{}, false, errors.Join(loader.ErrBuildingQueryFailed, buildErr)
	}

	start := time.Now()
	rows, queryErr := c.db.Query(ctx, sqlQuery, args...)
	c.logSQL(ctx, operationLoad, sqlQuery, time.Since(start))

	if queryErr != nil {
		c.logError(ctx, logMsgDBQueryFailed, logAttrError, queryErr.Error(), logAttrQuery, sqlQuery)
		observer.failure(queryErr)
		return loader.CachedResult{}, false, errors.Join(loader.ErrLoadingCachedResultFailed, queryErr)
	}
	defer c.closeRows(ctx, rows)

	cached, found, scanErr := c.scanCachedResult(ctx, rows)
	if scanErr != nil {
		observer.failure(scanErr)
		return loader.CachedResult{}, false, errors.Join(loader.ErrLoadingCachedResultFailed, scanErr)
	}

	if found {
		c.incrementCounter(ctx, metricLoadHits, nil)
	} else {
		c.incrementCounter(ctx, metricLoadMisses, nil)
	}

	c.logDebug(ctx, logMsgResultLoaded, logAttrFound, found)
	observer.success()

	return cached, found, nil
}

// scanCachedResult reads at most one row of (result, source_map, fetched_at).
func (c *Cache) scanCachedResult(ctx context.Context, rows adapters.DBRows) (loader.CachedResult, bool, error) {
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			c.logError(ctx, logMsgDBQueryFailed, logAttrError, err.Error())
			return loader.CachedResult{}, false, err
		}

		return loader.CachedResult{}, false, nil
	}

	var (
		result, sourceMap []byte
		fetchedAt         time.Time
	)
	if err := rows.Scan(&result, &sourceMap, &fetchedAt); err != nil {
		c.logError(ctx, logMsgScanRowFailed, logAttrError, err.Error())
		return loader.CachedResult{}, false, err
	}

	envelope := loader.Envelope{Result: jsoniter.RawMessage(result)}
	if len(sourceMap) > 0 && string(sourceMap) != nullJSON {
		envelope.SourceMap = loader.SourceMap(sourceMap)
	}

	return loader.CachedResult{Envelope: envelope, FetchedAt: fetchedAt}, true, nil
}

// Save upserts result under key. A zero FetchedAt is stamped with the current time.
func (c *Cache) Save(ctx context.Context, key string, result loader.CachedResult) error {
	observer, ctx := c.startObserver(ctx, operationSave)

	sqlQuery, args, buildErr := c.buildSaveQuery(key, result)
	if buildErr != nil {
		c.logError(ctx, logMsgBuildQueryFailed, logAttrError, buildErr.Error())
		observer.failure(buildErr)
		return errors.Join(loader.ErrBuildingQueryFailed, buildErr)
	}

	if _, execErr := c.exec(ctx, operationSave, sqlQuery, args); execErr != nil {
		observer.failure(execErr)
		return errors.Join(loader.ErrSavingCachedResultFailed, execErr)
	}

	c.logDebug(ctx, logMsgResultSaved)
	observer.success()

	return nil
}

// Delete removes the row stored under key. Deleting a missing key is not an error.
func (c *Cache) Delete(ctx context.Context, key string) error {
	observer, ctx := c.startObserver(ctx, operationDelete)

	sqlQuery, args, buildErr := goqu.Dialect(dialectPostgres).
		Delete(c.tableName).
		Where(goqu.C(colCacheKey).Eq(key)).
		Prepared(true).
		ToSQL()
	if buildErr != nil {
		c.logError(ctx, logMsgBuildQueryFailed, logAttrError, buildErr.Error())
		observer.failure(buildErr)
		return errors.Join(loader.ErrBuildingQueryFailed, buildErr)
	}

	if _, execErr := c.exec(ctx, operationDelete, sqlQuery, args); execErr != nil {
		observer.failure(execErr)
		return errors.Join(loader.ErrDeletingCachedResultFailed, execErr)
	}

	observer.success()

	return nil
}

// DeleteExpired removes every row fetched more than maxAge ago and returns how many were removed.
func (c *Cache) DeleteExpired(ctx context.Context, maxAge time.Duration) (int64, error) {
	observer, ctx := c.startObserver(ctx, operationDeleteExpired)

	cutoff := c.now().Add(-maxAge)

	sqlQuery, args, buildErr := goqu.Dialect(dialectPostgres).
		Delete(c.tableName).
		Where(goqu.C(colFetchedAt).Lt(goqu.L(castTimestamp, cutoff))).
		Prepared(true).
		ToSQL()
	if buildErr != nil {
		c.logError(ctx, logMsgBuildQueryFailed, logAttrError, buildErr.Error())
		observer.failure(buildErr)
		return 0, errors.Join(loader.ErrBuildingQueryFailed, buildErr)
	}

	rowsAffected, execErr := c.exec(ctx, operationDeleteExpired, sqlQuery, args)
	if execErr != nil {
		observer.failure(execErr)
		return 0, errors.Join(loader.ErrDeletingCachedResultFailed, execErr)
	}

	c.logInfo(ctx, logMsgExpiredDeleted, logAttrTable, c.tableName, logAttrRowsAffected, rowsAffected)
	observer.success()

	return rowsAffected, nil
}

// Migrate creates the cache table and its fetched_at index when they do not exist.
func (c *Cache) Migrate(ctx context.Context) error {
	observer, ctx := c.startObserver(ctx, operationMigrate)

	for _, statement := range c.migrationStatements() {
		if _, execErr := c.exec(ctx, operationMigrate, statement, nil); execErr != nil {
			observer.failure(execErr)
			return execErr
		}
	}

	c.logInfo(ctx, logMsgMigrated, logAttrTable, c.tableName)
	observer.success()

	return nil
}

func (c *Cache) migrationStatements() []string {
	table := pgx.Identifier{c.tableName}.Sanitize()
	index := pgx.Identifier{c.tableName + "_" + colFetchedAt + "_idx"}.Sanitize()

	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	%s text PRIMARY KEY,
	%s jsonb NOT NULL,
	%s jsonb,
	%s timestamp with time zone NOT NULL
)`, table, colCacheKey, colResult, colSourceMap, colFetchedAt),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (%s)`, index, table, colFetchedAt),
	}
}

// exec runs a statement and returns the affected row count.
func (c *Cache) exec(ctx context.Context, operation, sqlQuery string, args []any) (int64, error) {
	start := time.Now()
	result, execErr := c.db.Exec(ctx, sqlQuery, args...)
	c.logSQL(ctx, operation, sqlQuery, time.Since(start))

	if execErr != nil {
		c.logError(ctx, logMsgDBExecFailed, logAttrError, execErr.Error(), logAttrQuery, sqlQuery)
		return 0, execErr
	}

	rowsAffected, rowsErr := result.RowsAffected()
	if rowsErr != nil {
		c.logError(ctx, logMsgDBExecFailed, logAttrError, rowsErr.Error())
		return 0, rowsErr
	}

	return rowsAffected, nil
}

// closeRows safely closes database rows and logs any errors.
func (c *Cache) closeRows(ctx context.Context, rows adapters.DBRows) {
	if closeErr := rows.Close(); closeErr != nil {
		c.logWarn(ctx, logMsgCloseRowsFailed, logAttrError, closeErr.Error())
	}
}

func (c *Cache) buildLoadQuery(key string) (string, []any, error) {
	return goqu.Dialect(dialectPostgres).
		From(c.tableName).
		Select(colResult, colSourceMap, colFetchedAt).
		Where(goqu.C(colCacheKey).Eq(key)).
		Limit(1).
		Prepared(true).
		ToSQL()
}

func (c *Cache) buildSaveQuery(key string, cached loader.CachedResult) (string, []any, error) {
	envelope := cached.Envelope

	result := string(envelope.Result)
	if len(envelope.Result) == 0 {
		result = nullJSON
	}

	fetchedAt := cached.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = c.now()
	}

	var sourceMap any
	if len(envelope.SourceMap) > 0 {
		sourceMap = string(envelope.SourceMap)
	}

	return goqu.Dialect(dialectPostgres).
		Insert(c.tableName).
		Rows(goqu.Record{
			colCacheKey:  key,
			colResult:    goqu.L(castJsonb, result),
			colSourceMap: goqu.L(castJsonb, sourceMap),
			colFetchedAt: goqu.L(castTimestamp, fetchedAt),
		}).
		OnConflict(goqu.DoUpdate(colCacheKey, goqu.Record{
			colResult:    goqu.I(excludedPrefix + colResult),
			colSourceMap: goqu.I(excludedPrefix + colSourceMap),
			colFetchedAt: goqu.I(excludedPrefix + colFetchedAt),
		})).
		Prepared(true).
		ToSQL()
}
