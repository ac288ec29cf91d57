package querystore

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"

	"github.com/AntonStoeckl/live-query-loader-go/loader"
)

// UseQueryOptions configures a query binding. All fields are read once, when the binding is created.
type UseQueryOptions[R any] struct {
	// InitialData and InitialSourceMap seed the snapshot until the first update arrives.
	InitialData      *R
	InitialSourceMap loader.SourceMap

	// Scheduler commits pushed updates. Defaults to the QueryStore's scheduler.
	Scheduler loader.Scheduler

	// OnChange is called after every applied update. It runs before a concurrent Close returns,
	// so it must not call Render or Close, nor wait on a goroutine that does.
	OnChange func(loader.Snapshot[R])
}

// QueryBinding keeps a typed snapshot of one query in sync with the external store.
// It holds at most one subscription at a time.
type QueryBinding[R any] struct {
	qs               *QueryStore
	scheduler        loader.Scheduler
	onChange         func(loader.Snapshot[R])
	initialData      jsoniter.RawMessage
	initialSourceMap loader.SourceMap

	// guarded by subMu
	subMu       sync.Mutex
	query       string
	paramsRef   loader.QueryParams // pins the map so paramsID cannot be reused
	paramsID    uintptr
	paramsKey   string
	paramsErr   error
	bound       bool
	unsubscribe func()

	// generation identifies the active subscription; bumped under applyMu on every release.
	generation atomic.Uint64
	closed     atomic.Bool
	applyMu    sync.Mutex

	mu       sync.Mutex
	snapshot loader.Snapshot[R]
}

// UseQuery binds query and params for reactive consumption and subscribes immediately.
//
// The returned binding starts with {Loading: true, Data: InitialData, SourceMap: InitialSourceMap}.
// Errors never surface synchronously: they are reported in Snapshot().Error.
func UseQuery[R any](
	qs *QueryStore,
	query string,
	params loader.QueryParams,
	options ...UseQueryOptions[R],
) *QueryBinding[R] {
	var opts UseQueryOptions[R]
	if len(options) > 0 {
		opts = options[0]
	}

	b := &QueryBinding[R]{
		qs:               qs,
		scheduler:        opts.Scheduler,
		onChange:         opts.OnChange,
		initialSourceMap: opts.InitialSourceMap,
		snapshot: loader.Snapshot[R]{
			Loading:   true,
			Data:      opts.InitialData,
			SourceMap: opts.InitialSourceMap,
		},
	}

	if b.scheduler == nil {
		b.scheduler = qs.scheduler
	}

	if opts.InitialData != nil {
		raw, err := loader.Encode(opts.InitialData)
		if err != nil {
			// the store never sees this seed, so the snapshot must not show it either
			b.snapshot.Data = nil
			b.snapshot.Error = &loader.StreamError{Query: query, Cause: err}
			qs.logWarnContext(context.Background(), logMsgSeedEncodingFailed, logAttrQuery, query, logAttrError, err.Error())
		} else {
			b.initialData = raw
		}
	}

	b.Render(query, params)

	return b
}

// Render is called on every re-render with the current inputs. It re-subscribes only when the
// query string or the canonical params key changed, releasing the old subscription first.
// It returns the current snapshot.
func (b *QueryBinding[R]) Render(query string, params loader.QueryParams) loader.Snapshot[R] {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	if b.closed.Load() {
		return b.Snapshot()
	}

	if params == nil {
		params = loader.DefaultParams
	}

	key, keyErr := b.canonicalKey(params)

	if b.bound && query == b.query && key == b.paramsKey && sameError(keyErr, b.paramsErr) {
		return b.Snapshot()
	}

	b.release()

	b.query = query
	b.paramsKey = key
	b.paramsErr = keyErr
	b.bound = true

	b.subscribe(query, params, keyErr)

	return b.Snapshot()
}

// Snapshot returns the most recently applied snapshot, or the seeded placeholder.
func (b *QueryBinding[R]) Snapshot() loader.Snapshot[R] {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.snapshot
}

// Close releases the subscription. No update is applied and no OnChange runs once Close has returned.
// Close is idempotent.
func (b *QueryBinding[R]) Close() {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	if b.closed.Swap(true) {
		return
	}

	b.release()
}

// canonicalKey re-derives the key only when a different params map is passed.
func (b *QueryBinding[R]) canonicalKey(params loader.QueryParams) (string, error) {
	id := reflect.ValueOf(params).Pointer()
	if b.bound && id == b.paramsID {
		return b.paramsKey, b.paramsErr
	}

	key, err := loader.CanonicalParams(params)
	b.paramsRef = params
	b.paramsID = id

	return key, err
}

// subscribe must be called with subMu held.
func (b *QueryBinding[R]) subscribe(query string, params loader.QueryParams, keyErr error) {
	generation := b.generation.Load()

	switch {
	case query == "":
		b.push(generation, query, loader.RawSnapshot{Error: loader.ErrEmptyQuery})
		return
	case keyErr != nil:
		b.push(generation, query, loader.RawSnapshot{Error: keyErr})
		return
	}

	handle := b.qs.external.CreateSubscribableQuery(query, params, b.initialData, b.initialSourceMap)
	b.unsubscribe = handle.Subscribe(func(raw loader.RawSnapshot) {
		b.push(generation, query, raw)
	})

	b.qs.incrementCounter(context.Background(), metricSubscriptions, nil)
	b.qs.logDebug(logMsgSubscribed, logAttrQuery, query, logAttrParams, b.paramsKey)
}

// release must be called with subMu held.
func (b *QueryBinding[R]) release() {
	b.applyMu.Lock()
	b.generation.Add(1)
	b.applyMu.Unlock()

	if b.unsubscribe != nil {
		b.unsubscribe()
		b.unsubscribe = nil
		b.qs.logDebug(logMsgReleased, logAttrQuery, b.query, logAttrParams, b.paramsKey)
	}
}

func (b *QueryBinding[R]) stale(generation uint64) bool {
	return b.closed.Load() || b.generation.Load() != generation
}

func (b *QueryBinding[R]) push(generation uint64, query string, raw loader.RawSnapshot) {
	if b.stale(generation) {
		return
	}

	b.scheduler(func() { b.apply(generation, query, raw) })
}

func (b *QueryBinding[R]) apply(generation uint64, query string, raw loader.RawSnapshot) {
	b.applyMu.Lock()
	defer b.applyMu.Unlock()

	if b.stale(generation) {
		return
	}

	snapshot := b.project(query, raw)

	b.mu.Lock()
	b.snapshot = snapshot
	b.mu.Unlock()

	if b.onChange != nil {
		b.onChange(snapshot)
	}
}

// project turns a raw snapshot into a typed one, keeping "exactly one of Data and Error" once loaded.
func (b *QueryBinding[R]) project(query string, raw loader.RawSnapshot) loader.Snapshot[R] {
	snapshot := loader.Snapshot[R]{
		Loading:   raw.Loading,
		SourceMap: raw.SourceMap,
		Error:     raw.Error,
	}

	if raw.Error != nil {
		if raw.Loading {
			snapshot.Data = b.decodeSeed(raw.Data)
		}

		return snapshot
	}

	if raw.Loading {
		snapshot.Data = b.decodeSeed(raw.Data)
		return snapshot
	}

	data, err := loader.Decode[R](raw.Data)
	if err != nil {
		return loader.Snapshot[R]{Error: &loader.StreamError{Query: query, Cause: err}}
	}

	snapshot.Data = data

	return snapshot
}

func (b *QueryBinding[R]) decodeSeed(raw jsoniter.RawMessage) *R {
	if raw == nil {
		return nil
	}

	data, err := loader.Decode[R](raw)
	if err != nil {
		return nil
	}

	return data
}

func sameError(a, b error) bool {
	return (a == nil) == (b == nil)
}
