package querystore_test

import (
	"context"
	"errors"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/live-query-loader-go/loader"
	"github.com/AntonStoeckl/live-query-loader-go/loader/querystore"
	"github.com/AntonStoeckl/live-query-loader-go/testutil/fakestore"
	"github.com/AntonStoeckl/live-query-loader-go/testutil/observability/testdoubles"
)

func Test_New_ErrorCases(t *testing.T) {
	t.Run("nil external store", func(t *testing.T) {
		_, err := querystore.New(nil)
		assert.ErrorIs(t, err, loader.ErrNilExternalStore)
	})

	t.Run("nil scheduler", func(t *testing.T) {
		_, err := querystore.New(fakestore.New(), querystore.WithScheduler(nil))
		assert.ErrorIs(t, err, querystore.ErrNilScheduler)
	})
}

func Test_QueryRaw_RefusesBrowserContextBeforeFetching(t *testing.T) {
	// setup
	store := fakestore.New()
	logger := testdoubles.NewLoggerSpy()
	metrics := testdoubles.NewMetricsCollectorSpy(true)
	qs := newQueryStore(t, store, querystore.WithLogger(logger), querystore.WithMetrics(metrics))
	ctx := loader.WithBrowserEnvironment(context.Background())

	// act
	_, err := qs.QueryRaw(ctx, postsQuery, nil)

	// assert
	var unsafeErr *loader.UnsafeContextError
	require.ErrorAs(t, err, &unsafeErr)
	assert.ErrorIs(t, err, loader.ErrUnsafeContext)
	assert.NotEmpty(t, unsafeErr.Guidance)
	assert.Empty(t, store.FakeCache().Keys())
	assert.True(t, logger.HasWarnLog("one-shot query refused in browser context"))
	assert.True(t, metrics.HasCounterRecord("querystore_unsafe_context_total"))
}

func Test_QueryRaw_TracesTheRefusal_When_ContextIsBrowser(t *testing.T) {
	// setup
	store := fakestore.New()
	tracing := testdoubles.NewTracingCollectorSpy()
	qs := newQueryStore(t, store, querystore.WithTracing(tracing))
	ctx := loader.WithBrowserEnvironment(context.Background())

	// act
	_, err := qs.QueryRaw(ctx, postsQuery, nil)

	// assert
	require.ErrorIs(t, err, loader.ErrUnsafeContext)

	span, found := tracing.Find("querystore.query")
	require.True(t, found)
	assert.True(t, span.Finished)
	assert.Equal(t, "error", span.Status)
	assert.Equal(t, "unsafe_context", span.EndAttributes["error_type"])
	assert.Empty(t, store.FakeCache().Keys())
}

func Test_Query_RefusesBrowserContext_When_DetectorReportsOne(t *testing.T) {
	// setup
	store := fakestore.New()
	qs := newQueryStore(t, store, querystore.WithBrowserDetector(func(context.Context) bool { return true }))

	// act
	_, err := querystore.Query[[]post](context.Background(), qs, postsQuery, nil)

	// assert
	assert.ErrorIs(t, err, loader.ErrUnsafeContext)
	assert.Empty(t, store.FakeCache().Keys())
}

func Test_QueryRaw_ReturnsOnlyTheResult(t *testing.T) {
	// setup
	store := fakestore.New()
	store.FakeCache().Response = loader.Envelope{
		Result:    jsoniter.RawMessage(`[{"title":"hello"}]`),
		SourceMap: loader.SourceMap(`{"documents":[]}`),
	}
	tracing := testdoubles.NewTracingCollectorSpy()
	qs := newQueryStore(t, store, querystore.WithTracing(tracing))

	// act
	result, err := qs.QueryRaw(loader.WithServerEnvironment(context.Background()), postsQuery, loader.QueryParams{"limit": 1})

	// assert
	require.NoError(t, err)
	assert.JSONEq(t, `[{"title":"hello"}]`, string(result))
	assert.Equal(t, []string{`{"query":"*[_type == 'post']","params":{"limit":1}}`}, store.FakeCache().Keys())

	span, found := tracing.Find("querystore.query")
	require.True(t, found)
	assert.True(t, span.Finished)
	assert.Equal(t, "success", span.Status)
}

func Test_QueryRaw_When_ParamsAreNil(t *testing.T) {
	// setup
	store := fakestore.New()
	store.FakeCache().Response = loader.Envelope{Result: jsoniter.RawMessage(`1`)}
	qs := newQueryStore(t, store)

	// act
	_, err := qs.QueryRaw(context.Background(), "count(*)", nil)

	// assert
	require.NoError(t, err)
	assert.Equal(t, []string{`{"query":"count(*)","params":{}}`}, store.FakeCache().Keys())
}

func Test_QueryRaw_ErrorCases(t *testing.T) {
	fetchErr := errors.New("upstream responded with 500")

	tests := []struct {
		name        string
		query       string
		params      loader.QueryParams
		cacheErr    error
		expectedErr error
	}{
		{name: "empty query", query: "", expectedErr: loader.ErrEmptyQuery},
		{name: "unserializable params", query: postsQuery, params: loader.QueryParams{"c": make(chan int)}, expectedErr: loader.ErrEncodingParamsFailed},
		{name: "fetch error", query: postsQuery, cacheErr: fetchErr, expectedErr: fetchErr},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := fakestore.New()
			store.FakeCache().Err = tt.cacheErr
			qs := newQueryStore(t, store)

			_, err := qs.QueryRaw(context.Background(), tt.query, tt.params)

			assert.ErrorIs(t, err, tt.expectedErr)
		})
	}
}

func Test_QueryRaw_PropagatesFetchErrorsUnmodified(t *testing.T) {
	// setup
	fetchErr := errors.New("query execution failed")
	store := fakestore.New()
	store.FakeCache().Err = fetchErr
	logger := testdoubles.NewLoggerSpy()
	qs := newQueryStore(t, store, querystore.WithContextualLogger(logger))

	// act
	_, err := qs.QueryRaw(context.Background(), postsQuery, nil)

	// assert
	assert.Same(t, fetchErr, err)
	record, found := logger.Find(testdoubles.LevelError, "one-shot query failed")
	require.True(t, found)
	assert.NotNil(t, record.Context)
}

func Test_Query_DecodesTheResult(t *testing.T) {
	// setup
	store := fakestore.New()
	store.FakeCache().Response = loader.Envelope{Result: jsoniter.RawMessage(`[{"title":"a"},{"title":"b"}]`)}
	qs := newQueryStore(t, store)

	// act
	posts, err := querystore.Query[[]post](context.Background(), qs, postsQuery, nil)

	// assert
	require.NoError(t, err)
	assert.Equal(t, []post{{Title: "a"}, {Title: "b"}}, posts)
}

func Test_Query_When_ResultDoesNotDecode(t *testing.T) {
	// setup
	store := fakestore.New()
	store.FakeCache().Response = loader.Envelope{Result: jsoniter.RawMessage(`{"title":"a"}`)}
	qs := newQueryStore(t, store)

	// act
	_, err := querystore.Query[[]post](context.Background(), qs, postsQuery, nil)

	// assert
	assert.ErrorIs(t, err, loader.ErrDecodingResultFailed)
}
