package querystore

import (
	"context"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"github.com/AntonStoeckl/live-query-loader-go/loader"
)

// QueryStore adapts a loader.ExternalStore into query bindings, a shared live-mode
// binding and a one-shot query that is refused in browser contexts.
type QueryStore struct {
	external        loader.ExternalStore
	initialLiveMode loader.LiveModeState
	scheduler       loader.Scheduler
	browserDetector func(ctx context.Context) bool

	logger           loader.Logger
	contextualLogger loader.ContextualLogger
	metricsCollector loader.MetricsCollector
	tracingCollector loader.TracingCollector

	liveMu     sync.Mutex
	live       *sharedLiveMode
	liveClosed bool
}

// New creates a QueryStore on top of external.
// The current live-mode value is captured here. When it is undefined, live mode counts as disabled.
func New(external loader.ExternalStore, options ...Option) (*QueryStore, error) {
	if external == nil {
		return nil, loader.ErrNilExternalStore
	}

	qs := &QueryStore{
		external:  external,
		scheduler: loader.ImmediateScheduler,
	}

	if state, ok := external.LiveMode().Get(); ok {
		qs.initialLiveMode = state
	}

	for _, option := range options {
		if err := option(qs); err != nil {
			return nil, err
		}
	}

	return qs, nil
}

// InitialLiveMode returns the live-mode value captured at construction.
func (qs *QueryStore) InitialLiveMode() loader.LiveModeState {
	return qs.initialLiveMode
}

// Close releases the shared live-mode subscription. Query bindings are owned by
// their callers and must be closed separately.
func (qs *QueryStore) Close() {
	qs.liveMu.Lock()
	live := qs.live
	qs.live = nil
	qs.liveClosed = true
	qs.liveMu.Unlock()

	if live != nil {
		live.close()
	}
}

// QueryRaw executes query once through the external store's result cache and returns only the result.
//
// It fails with *loader.UnsafeContextError before touching the cache when ctx belongs to browser
// rendering. Errors from the cache are returned unmodified.
func (qs *QueryStore) QueryRaw(ctx context.Context, query string, params loader.QueryParams) (jsoniter.RawMessage, error) {
	if qs.inBrowser(ctx) {
		observer, _ := qs.startQueryObserver(ctx, query)
		err := loader.NewUnsafeContextError()
		observer.refused(err)

		return nil, err
	}

	if query == "" {
		return nil, loader.ErrEmptyQuery
	}

	if params == nil {
		params = loader.DefaultParams
	}

	key, err := loader.CacheKey(query, params)
	if err != nil {
		return nil, err
	}

	observer, ctx := qs.startQueryObserver(ctx, query)

	envelope, err := qs.external.Cache().Fetch(ctx, key)
	if err != nil {
		observer.failure(errorTypeFetch, err)
		return nil, err
	}

	observer.success()

	return envelope.Result, nil
}

// Query executes query once and decodes the result into R. See QueryStore.QueryRaw.
func Query[R any](ctx context.Context, qs *QueryStore, query string, params loader.QueryParams) (R, error) {
	var zero R

	raw, err := qs.QueryRaw(ctx, query, params)
	if err != nil {
		return zero, err
	}

	out, err := loader.Decode[R](raw)
	if err != nil {
		return zero, err
	}

	return *out, nil
}

func (qs *QueryStore) inBrowser(ctx context.Context) bool {
	if loader.HasDocument(ctx) {
		return true
	}

	return qs.browserDetector != nil && qs.browserDetector(ctx)
}
