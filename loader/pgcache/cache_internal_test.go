package pgcache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/live-query-loader-go/loader"
	"github.com/AntonStoeckl/live-query-loader-go/loader/pgcache/internal/adapters"
	"github.com/AntonStoeckl/live-query-loader-go/testutil/observability/testdoubles"
)

type recordedStatement struct {
	query string
	args  []any
}

type dbAdapterStub struct {
	statements   []recordedStatement
	rows         [][]any
	queryErr     error
	execErr      error
	rowsAffected int64
}

func (d *dbAdapterStub) Query(_ context.Context, query string, args ...any) (adapters.DBRows, error) {
	d.statements = append(d.statements, recordedStatement{query: query, args: args})
	if d.queryErr != nil {
		return nil, d.queryErr
	}

	return &rowsStub{rows: d.rows, index: -1}, nil
}

func (d *dbAdapterStub) Exec(_ context.Context, query string, args ...any) (adapters.DBResult, error) {
	d.statements = append(d.statements, recordedStatement{query: query, args: args})
	if d.execErr != nil {
		return nil, d.execErr
	}

	return resultStub(d.rowsAffected), nil
}

type rowsStub struct {
	rows   [][]any
	index  int
	closed bool
}

func (r *rowsStub) Next() bool {
	r.index++
	return r.index < len(r.rows)
}

func (r *rowsStub) Scan(dest ...any) error {
	row := r.rows[r.index]
	for i := range dest {
		switch target := dest[i].(type) {
		case *[]byte:
			if row[i] == nil {
				*target = nil
				continue
			}

			*target = []byte(row[i].(string))
		case *time.Time:
			*target = row[i].(time.Time)
		default:
			return errors.New("unexpected scan target")
		}
	}

	return nil
}

func (r *rowsStub) Err() error { return nil }

func (r *rowsStub) Close() error {
	r.closed = true
	return nil
}

type resultStub int64

func (r resultStub) RowsAffected() (int64, error) { return int64(r), nil }

func fixedClock() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func Test_Load_When_RowExists_ReturnsEnvelope(t *testing.T) {
	// setup
	db := &dbAdapterStub{rows: [][]any{{`{"title":"a"}`, `{"mappings":{}}`, fixedClock()}}}
	metrics := testdoubles.NewMetricsCollectorSpy(true)
	c, err := newCache(db, WithMetrics(metrics))
	require.NoError(t, err)

	// act
	cached, ok, loadErr := c.Load(context.Background(), "key-1")

	// assert
	require.NoError(t, loadErr)
	assert.True(t, ok)
	assert.JSONEq(t, `{"title":"a"}`, string(cached.Envelope.Result))
	assert.JSONEq(t, `{"mappings":{}}`, string(cached.Envelope.SourceMap))
	assert.Equal(t, fixedClock(), cached.FetchedAt)
	require.Len(t, db.statements, 1)
	assert.Contains(t, db.statements[0].query, `"fetched_at"`)
	assert.Contains(t, db.statements[0].query, `FROM "query_cache"`)
	assert.Contains(t, db.statements[0].query, `"cache_key" = $1`)
	assert.Equal(t, "key-1", db.statements[0].args[0])
	assert.True(t, metrics.HasCounterRecord(metricLoadHits))
}

func Test_Load_When_RowMissing_ReportsNotFound(t *testing.T) {
	// setup
	db := &dbAdapterStub{}
	metrics := testdoubles.NewMetricsCollectorSpy(true)
	c, err := newCache(db, WithMetrics(metrics))
	require.NoError(t, err)

	// act
	_, ok, loadErr := c.Load(context.Background(), "missing")

	// assert
	require.NoError(t, loadErr)
	assert.False(t, ok)
	assert.True(t, metrics.HasCounterRecord(metricLoadMisses))
}

func Test_Load_When_SourceMapIsNull_LeavesItUndefined(t *testing.T) {
	// setup
	db := &dbAdapterStub{rows: [][]any{{`[1,2]`, nil, fixedClock()}}}
	c, err := newCache(db)
	require.NoError(t, err)

	// act
	cached, ok, loadErr := c.Load(context.Background(), "key")

	// assert
	require.NoError(t, loadErr)
	assert.True(t, ok)
	assert.Nil(t, cached.Envelope.SourceMap)
}

func Test_Load_When_QueryFails_JoinsSentinel(t *testing.T) {
	// setup
	cause := errors.New("connection reset")
	db := &dbAdapterStub{queryErr: cause}
	logger := testdoubles.NewLoggerSpy()
	tracing := testdoubles.NewTracingCollectorSpy()
	c, err := newCache(db, WithLogger(logger), WithTracing(tracing))
	require.NoError(t, err)

	// act
	_, _, loadErr := c.Load(context.Background(), "key")

	// assert
	assert.ErrorIs(t, loadErr, loader.ErrLoadingCachedResultFailed)
	assert.ErrorIs(t, loadErr, cause)
	assert.True(t, logger.HasErrorLog(logMsgDBQueryFailed))

	span, found := tracing.Find(spanNamePrefix + operationLoad)
	require.True(t, found)
	assert.Equal(t, statusError, span.Status)
}

func Test_Save_BuildsUpsertWithTimestamp(t *testing.T) {
	// setup
	db := &dbAdapterStub{rowsAffected: 1}
	c, err := newCache(db, WithClock(fixedClock), WithTableName("preview_cache"))
	require.NoError(t, err)

	// act
	saveErr := c.Save(context.Background(), "key", loader.CachedResult{Envelope: loader.Envelope{Result: []byte(`{"a":1}`)}})

	// assert
	require.NoError(t, saveErr)
	require.Len(t, db.statements, 1)

	statement := db.statements[0]
	assert.Contains(t, statement.query, `INSERT INTO "preview_cache"`)
	assert.Contains(t, statement.query, `ON CONFLICT (cache_key) DO UPDATE SET`)
	assert.Contains(t, statement.query, `::jsonb`)
	assert.Contains(t, statement.args, "key")
	assert.Contains(t, statement.args, `{"a":1}`)
	assert.Contains(t, statement.args, fixedClock())
}

func Test_Save_When_ResultIsUndefined_StoresJSONNull(t *testing.T) {
	// setup
	db := &dbAdapterStub{rowsAffected: 1}
	c, err := newCache(db)
	require.NoError(t, err)

	// act
	saveErr := c.Save(context.Background(), "key", loader.CachedResult{})

	// assert
	require.NoError(t, saveErr)
	assert.Contains(t, db.statements[0].args, nullJSON)
}

func Test_Save_When_ExecFails_JoinsSentinel(t *testing.T) {
	// setup
	cause := errors.New("disk full")
	db := &dbAdapterStub{execErr: cause}
	c, err := newCache(db)
	require.NoError(t, err)

	// act
	saveErr := c.Save(context.Background(), "key", loader.CachedResult{Envelope: loader.Envelope{Result: []byte(`1`)}})

	// assert
	assert.ErrorIs(t, saveErr, loader.ErrSavingCachedResultFailed)
	assert.ErrorIs(t, saveErr, cause)
}

func Test_Save_KeepsTheGivenFetchTime(t *testing.T) {
	// setup
	db := &dbAdapterStub{rowsAffected: 1}
	c, err := newCache(db, WithClock(fixedClock))
	require.NoError(t, err)
	fetchedAt := fixedClock().Add(-10 * time.Minute)

	// act
	saveErr := c.Save(context.Background(), "key", loader.CachedResult{
		Envelope:  loader.Envelope{Result: []byte(`1`)},
		FetchedAt: fetchedAt,
	})

	// assert
	require.NoError(t, saveErr)
	assert.Contains(t, db.statements[0].args, fetchedAt)
	assert.NotContains(t, db.statements[0].args, fixedClock())
}

func Test_DeleteExpired_UsesClockCutoff(t *testing.T) {
	// setup
	db := &dbAdapterStub{rowsAffected: 3}
	logger := testdoubles.NewLoggerSpy()
	c, err := newCache(db, WithClock(fixedClock), WithLogger(logger))
	require.NoError(t, err)

	// act
	deleted, deleteErr := c.DeleteExpired(context.Background(), time.Hour)

	// assert
	require.NoError(t, deleteErr)
	assert.Equal(t, int64(3), deleted)
	assert.Contains(t, db.statements[0].query, `DELETE FROM "query_cache"`)
	assert.Contains(t, db.statements[0].args, fixedClock().Add(-time.Hour))
	assert.True(t, logger.HasInfoLog(logMsgExpiredDeleted))
}

func Test_Delete_When_ExecFails_JoinsSentinel(t *testing.T) {
	// setup
	db := &dbAdapterStub{execErr: errors.New("boom")}
	c, err := newCache(db)
	require.NoError(t, err)

	// act
	deleteErr := c.Delete(context.Background(), "key")

	// assert
	assert.ErrorIs(t, deleteErr, loader.ErrDeletingCachedResultFailed)
}

func Test_Migrate_QuotesTableName(t *testing.T) {
	// setup
	db := &dbAdapterStub{}
	c, err := newCache(db, WithTableName("cache"))
	require.NoError(t, err)

	// act
	migrateErr := c.Migrate(context.Background())

	// assert
	require.NoError(t, migrateErr)
	require.Len(t, db.statements, 2)
	assert.Contains(t, db.statements[0].query, `CREATE TABLE IF NOT EXISTS "cache"`)
	assert.Contains(t, db.statements[1].query, `CREATE INDEX IF NOT EXISTS "cache_fetched_at_idx"`)
}
