package querystore_test

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/live-query-loader-go/loader"
	"github.com/AntonStoeckl/live-query-loader-go/loader/querystore"
	"github.com/AntonStoeckl/live-query-loader-go/testutil/fakestore"
	"github.com/AntonStoeckl/live-query-loader-go/testutil/observability/testdoubles"
)

const postsQuery = `*[_type == 'post']`

type post struct {
	Title string `json:"title"`
}

func newQueryStore(t *testing.T, store *fakestore.Store, options ...querystore.Option) *querystore.QueryStore {
	t.Helper()

	qs, err := querystore.New(store, options...)
	require.NoError(t, err)
	t.Cleanup(qs.Close)

	return qs
}

func loaded(data string) loader.RawSnapshot {
	return loader.RawSnapshot{Data: jsoniter.RawMessage(data)}
}

func Test_UseQuery_When_NoSeedIsGiven(t *testing.T) {
	// setup
	store := fakestore.New()
	qs := newQueryStore(t, store)

	// act
	binding := querystore.UseQuery[[]post](qs, postsQuery, loader.QueryParams{})
	defer binding.Close()

	// assert
	assert.Equal(t, loader.Snapshot[[]post]{Loading: true}, binding.Snapshot())
	assert.Equal(t, 1, store.TotalSubscriptions())
}

func Test_UseQuery_When_SeedIsGiven(t *testing.T) {
	// setup
	store := fakestore.New()
	qs := newQueryStore(t, store)
	seed := []post{{Title: "seeded"}}
	sourceMap := loader.SourceMap(`{"documents":[]}`)

	// act
	binding := querystore.UseQuery[[]post](qs, postsQuery, nil, querystore.UseQueryOptions[[]post]{
		InitialData:      &seed,
		InitialSourceMap: sourceMap,
	})
	defer binding.Close()

	// assert
	snapshot := binding.Snapshot()
	assert.True(t, snapshot.Loading)
	assert.Same(t, &seed, snapshot.Data)
	assert.Equal(t, sourceMap, snapshot.SourceMap)
	assert.NoError(t, snapshot.Error)
}

func Test_UseQuery_PassesSeedsToTheExternalStore(t *testing.T) {
	// setup
	store := fakestore.New()
	qs := newQueryStore(t, store)
	seed := []post{{Title: "seeded"}}

	// act
	binding := querystore.UseQuery[[]post](qs, postsQuery, nil, querystore.UseQueryOptions[[]post]{
		InitialData:      &seed,
		InitialSourceMap: loader.SourceMap(`{"documents":[]}`),
	})
	defer binding.Close()

	// assert
	seeds := store.Query(postsQuery, nil).Seeds()
	require.Len(t, seeds, 1)
	assert.True(t, seeds[0].Loading)
	assert.JSONEq(t, `[{"title":"seeded"}]`, string(seeds[0].Data))
	assert.JSONEq(t, `{"documents":[]}`, string(seeds[0].SourceMap))
}

func Test_UseQuery_DoesNotResubscribe_When_ParamsAreEqualButDistinct(t *testing.T) {
	// setup
	store := fakestore.New()
	qs := newQueryStore(t, store)
	p1 := loader.QueryParams{"slug": "hello", "tags": []any{"a", "b"}}
	p2 := loader.QueryParams{"tags": []any{"a", "b"}, "slug": "hello"}

	// arrange
	binding := querystore.UseQuery[[]post](qs, postsQuery, p1)
	defer binding.Close()

	// act
	binding.Render(postsQuery, p2)
	binding.Render(postsQuery, loader.QueryParams{"slug": "hello", "tags": []any{"a", "b"}})
	binding.Render(postsQuery, p2)

	// assert
	assert.Equal(t, 1, store.TotalSubscriptions())
	assert.Equal(t, 1, store.HandlesCreated())
	assert.Equal(t, 1, store.Query(postsQuery, p1).Active())
}

func Test_UseQuery_NilAndEmptyParamsShareOneSubscription(t *testing.T) {
	// setup
	store := fakestore.New()
	qs := newQueryStore(t, store)

	// arrange
	binding := querystore.UseQuery[[]post](qs, postsQuery, nil)
	defer binding.Close()

	// act
	binding.Render(postsQuery, loader.QueryParams{})
	binding.Render(postsQuery, nil)

	// assert
	assert.Equal(t, 1, store.TotalSubscriptions())
}

func Test_UseQuery_Resubscribes_When_InputsChange(t *testing.T) {
	// setup
	store := fakestore.New()
	qs := newQueryStore(t, store)
	first := loader.QueryParams{"slug": "first"}
	second := loader.QueryParams{"slug": "second"}

	// arrange
	binding := querystore.UseQuery[post](qs, `*[slug == $slug][0]`, first)
	defer binding.Close()

	// act
	binding.Render(`*[slug == $slug][0]`, second)

	// assert
	assert.Equal(t, 0, store.Query(`*[slug == $slug][0]`, first).Active())
	assert.Equal(t, 1, store.Query(`*[slug == $slug][0]`, first).Unsubscribes())
	assert.Equal(t, 1, store.Query(`*[slug == $slug][0]`, second).Active())

	// act
	binding.Render(`*[slug == $slug][1]`, second)

	// assert
	assert.Equal(t, 0, store.Query(`*[slug == $slug][0]`, second).Active())
	assert.Equal(t, 1, store.Query(`*[slug == $slug][1]`, second).Active())
	assert.Equal(t, 1, store.PeakActiveSubscriptions())
}

func Test_UseQuery_AppliesUpdatesInEmissionOrder(t *testing.T) {
	// setup
	store := fakestore.New()
	qs := newQueryStore(t, store)
	var observed []loader.Snapshot[post]

	binding := querystore.UseQuery[post](qs, postsQuery, nil, querystore.UseQueryOptions[post]{
		OnChange: func(s loader.Snapshot[post]) { observed = append(observed, s) },
	})
	defer binding.Close()

	updates := []loader.RawSnapshot{
		{Loading: true},
		loaded(`{"title":"one"}`),
		loaded(`{"title":"two"}`),
		{Error: errors.New("gone")},
		loaded(`{"title":"three"}`),
	}

	// act
	query := store.Query(postsQuery, nil)
	for _, update := range updates {
		query.Emit(update)
	}

	// assert
	require.Len(t, observed, len(updates))
	assert.True(t, observed[0].Loading)
	assert.Equal(t, "one", observed[1].Data.Title)
	assert.Equal(t, "two", observed[2].Data.Title)
	assert.EqualError(t, observed[3].Error, "gone")
	assert.Nil(t, observed[3].Data)
	assert.Equal(t, "three", observed[4].Data.Title)
	assert.Equal(t, observed[4], binding.Snapshot())
}

func Test_UseQuery_AppliesUpdatesThroughScheduler(t *testing.T) {
	// setup
	store := fakestore.New()
	qs := newQueryStore(t, store)
	queue := loader.NewTransitionQueue()
	type item = map[string]any

	binding := querystore.UseQuery[[]item](qs, postsQuery, loader.QueryParams{}, querystore.UseQueryOptions[[]item]{
		Scheduler: queue.Schedule,
	})
	defer binding.Close()

	emitted := loader.RawSnapshot{
		Data:      jsoniter.RawMessage(`[{"_id":"p1","title":"hello"}]`),
		SourceMap: loader.SourceMap(`{"documents":[{"_id":"p1"}]}`),
	}

	// act
	store.Query(postsQuery, nil).Emit(emitted)

	// assert
	assert.Equal(t, loader.Snapshot[[]item]{Loading: true}, binding.Snapshot())
	assert.Equal(t, 1, queue.Pending())

	// act
	queue.Flush()

	// assert
	snapshot := binding.Snapshot()
	assert.False(t, snapshot.Loading)
	assert.NoError(t, snapshot.Error)
	require.NotNil(t, snapshot.Data)
	assert.Equal(t, []item{{"_id": "p1", "title": "hello"}}, *snapshot.Data)
	assert.Equal(t, emitted.SourceMap, snapshot.SourceMap)
}

func Test_UseQuery_UsesTheStoreDefaultScheduler(t *testing.T) {
	// setup
	store := fakestore.New()
	queue := loader.NewTransitionQueue()
	qs := newQueryStore(t, store, querystore.WithScheduler(queue.Schedule))

	binding := querystore.UseQuery[post](qs, postsQuery, nil)
	defer binding.Close()

	// act
	store.Query(postsQuery, nil).Emit(loaded(`{"title":"deferred"}`))

	// assert
	assert.True(t, binding.Snapshot().Loading)
	queue.Flush()
	assert.Equal(t, "deferred", binding.Snapshot().Data.Title)
}

func Test_UseQuery_DropsQueuedUpdatesOfReleasedSubscription(t *testing.T) {
	// setup
	store := fakestore.New()
	qs := newQueryStore(t, store)
	queue := loader.NewTransitionQueue()
	old := loader.QueryParams{"slug": "old"}

	binding := querystore.UseQuery[post](qs, postsQuery, old, querystore.UseQueryOptions[post]{Scheduler: queue.Schedule})
	defer binding.Close()

	// arrange
	store.Query(postsQuery, old).Emit(loaded(`{"title":"stale"}`))

	// act
	binding.Render(postsQuery, loader.QueryParams{"slug": "new"})
	queue.Flush()

	// assert
	assert.True(t, binding.Snapshot().Loading)
	assert.Nil(t, binding.Snapshot().Data)
}

func Test_Close_IsIdempotentAndStopsUpdates(t *testing.T) {
	// setup
	store := fakestore.New()
	qs := newQueryStore(t, store)
	changes := 0

	binding := querystore.UseQuery[post](qs, postsQuery, nil, querystore.UseQueryOptions[post]{
		OnChange: func(loader.Snapshot[post]) { changes++ },
	})
	query := store.Query(postsQuery, nil)
	query.Emit(loaded(`{"title":"before"}`))

	// act
	binding.Close()
	binding.Close()
	query.EmitToReleased(loaded(`{"title":"late"}`))
	query.Emit(loaded(`{"title":"after"}`))
	binding.Render(postsQuery, loader.QueryParams{"other": true})

	// assert
	assert.Equal(t, 1, changes)
	assert.Equal(t, "before", binding.Snapshot().Data.Title)
	assert.Equal(t, 1, query.Unsubscribes())
	assert.Equal(t, 0, store.ActiveSubscriptions())
	assert.Equal(t, 1, store.TotalSubscriptions())
}

func Test_Close_DropsQueuedUpdates(t *testing.T) {
	// setup
	store := fakestore.New()
	qs := newQueryStore(t, store)
	queue := loader.NewTransitionQueue()

	binding := querystore.UseQuery[post](qs, postsQuery, nil, querystore.UseQueryOptions[post]{Scheduler: queue.Schedule})
	store.Query(postsQuery, nil).Emit(loaded(`{"title":"queued"}`))

	// act
	binding.Close()
	queue.Flush()

	// assert
	assert.True(t, binding.Snapshot().Loading)
}

func Test_UseQuery_ReportsErrorsInTheSnapshot(t *testing.T) {
	tests := []struct {
		name        string
		query       string
		params      loader.QueryParams
		emit        *loader.RawSnapshot
		assertError func(t *testing.T, err error)
	}{
		{
			name:  "empty query",
			query: "",
			assertError: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, loader.ErrEmptyQuery)
			},
		},
		{
			name:   "params that can't be serialized",
			query:  postsQuery,
			params: loader.QueryParams{"bad": math.NaN()},
			assertError: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, loader.ErrEncodingParamsFailed)
			},
		},
		{
			name:  "undecodable data",
			query: postsQuery,
			emit:  &loader.RawSnapshot{Data: jsoniter.RawMessage(`"not an object"`)},
			assertError: func(t *testing.T, err error) {
				var streamErr *loader.StreamError
				require.ErrorAs(t, err, &streamErr)
				assert.Equal(t, postsQuery, streamErr.Query)
				assert.ErrorIs(t, err, loader.ErrDecodingResultFailed)
			},
		},
		{
			name:  "store error",
			query: postsQuery,
			emit:  &loader.RawSnapshot{Error: errors.New("query failed")},
			assertError: func(t *testing.T, err error) {
				assert.EqualError(t, err, "query failed")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := fakestore.New()
			qs := newQueryStore(t, store)

			binding := querystore.UseQuery[post](qs, tt.query, tt.params)
			defer binding.Close()

			if tt.emit != nil {
				store.Query(tt.query, tt.params).Emit(*tt.emit)
			}

			snapshot := binding.Snapshot()
			assert.False(t, snapshot.Loading)
			assert.Nil(t, snapshot.Data)
			tt.assertError(t, snapshot.Error)
		})
	}
}

func Test_UseQuery_When_ResultIsNull(t *testing.T) {
	// setup
	store := fakestore.New()
	qs := newQueryStore(t, store)

	binding := querystore.UseQuery[post](qs, `*[_id == "missing"][0]`, nil)
	defer binding.Close()

	// act
	store.Query(`*[_id == "missing"][0]`, nil).Emit(loaded(`null`))

	// assert
	snapshot := binding.Snapshot()
	assert.False(t, snapshot.Loading)
	assert.NoError(t, snapshot.Error)
	require.NotNil(t, snapshot.Data)
	assert.Equal(t, post{}, *snapshot.Data)
}

func Test_UseQuery_RecoversAfterEmptyQuery(t *testing.T) {
	// setup
	store := fakestore.New()
	qs := newQueryStore(t, store)

	binding := querystore.UseQuery[post](qs, "", nil)
	defer binding.Close()
	require.ErrorIs(t, binding.Snapshot().Error, loader.ErrEmptyQuery)

	// act
	binding.Render(postsQuery, nil)
	store.Query(postsQuery, nil).Emit(loaded(`{"title":"ok"}`))

	// assert
	assert.NoError(t, binding.Snapshot().Error)
	assert.Equal(t, "ok", binding.Snapshot().Data.Title)
}

func Test_UseQuery_When_SeedCannotBeEncoded(t *testing.T) {
	// setup
	store := fakestore.New()
	logger := testdoubles.NewLoggerSpy()
	qs := newQueryStore(t, store, querystore.WithLogger(logger))
	seed := math.NaN()

	// act
	binding := querystore.UseQuery[float64](qs, "count(*)", nil, querystore.UseQueryOptions[float64]{
		InitialData: &seed,
	})
	defer binding.Close()

	// assert
	snapshot := binding.Snapshot()
	assert.True(t, snapshot.Loading)
	assert.Nil(t, snapshot.Data)

	var streamErr *loader.StreamError
	require.ErrorAs(t, snapshot.Error, &streamErr)
	assert.Equal(t, "count(*)", streamErr.Query)
	assert.ErrorIs(t, snapshot.Error, loader.ErrEncodingParamsFailed)
	assert.True(t, logger.HasWarnLog("initial data could not be encoded"))

	seeds := store.Query("count(*)", nil).Seeds()
	require.Len(t, seeds, 1)
	assert.Nil(t, seeds[0].Data)
}

func Test_Close_NoChangeIsReportedAfterCloseReturns(t *testing.T) {
	// setup
	store := fakestore.New()
	qs := newQueryStore(t, store)
	query := store.Query(postsQuery, nil)

	var closeReturned atomic.Bool
	var lateChanges atomic.Int32

	binding := querystore.UseQuery[post](qs, postsQuery, nil, querystore.UseQueryOptions[post]{
		OnChange: func(loader.Snapshot[post]) {
			if closeReturned.Load() {
				lateChanges.Add(1)
			}
		},
	})

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				query.Emit(loaded(`{"title":"tick"}`))
				query.EmitToReleased(loaded(`{"title":"late"}`))
			}
		}
	}()

	// act
	binding.Close()
	closeReturned.Store(true)

	for i := 0; i < 100; i++ {
		query.EmitToReleased(loaded(`{"title":"after"}`))
	}
	close(stop)
	wg.Wait()

	// assert
	assert.Equal(t, int32(0), lateChanges.Load())
}

func Test_Render_WhileUpdatesArriveConcurrently(t *testing.T) {
	// setup
	const otherQuery = `*[_type == 'author']`

	store := fakestore.New()
	qs := newQueryStore(t, store)
	queries := []*fakestore.Query{store.Query(postsQuery, nil), store.Query(otherQuery, nil)}

	var mu sync.Mutex
	var failedQueries []string

	binding := querystore.UseQuery[post](qs, postsQuery, nil, querystore.UseQueryOptions[post]{
		OnChange: func(s loader.Snapshot[post]) {
			var streamErr *loader.StreamError
			if errors.As(s.Error, &streamErr) {
				mu.Lock()
				failedQueries = append(failedQueries, streamErr.Query)
				mu.Unlock()
			}
		},
	})
	defer binding.Close()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for _, q := range queries {
		wg.Add(1)
		go func(q *fakestore.Query) {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					q.Emit(loaded(`"not a post"`))
					q.EmitToReleased(loaded(`"not a post"`))
				}
			}
		}(q)
	}

	// act
	for i := 0; i < 200; i++ {
		if i%2 == 0 {
			binding.Render(otherQuery, nil)
		} else {
			binding.Render(postsQuery, nil)
		}
	}
	close(stop)
	wg.Wait()

	// assert
	mu.Lock()
	defer mu.Unlock()
	for _, q := range failedQueries {
		assert.Contains(t, []string{postsQuery, otherQuery}, q)
	}
}
