package loader

import (
	"context"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// ExternalStore is the reactive query store the query bindings are built on.
type ExternalStore interface {
	// CreateSubscribableQuery returns a handle for the query described by query and params.
	// Handles for equivalent (query, canonical params) pairs share one underlying stream.
	CreateSubscribableQuery(
		query string,
		params QueryParams,
		initialData jsoniter.RawMessage,
		initialSourceMap SourceMap,
	) QueryHandle

	// LiveMode returns the single live-mode flag of this store.
	LiveMode() LiveModeSource

	// Cache returns the cache-backed fetch used for one-shot queries.
	Cache() ResultCache
}

// QueryHandle is a subscribable query stream.
type QueryHandle interface {
	// Subscribe registers onChange and returns an idempotent unsubscribe function.
	// onChange is called for every snapshot emitted after registration, in emission order.
	Subscribe(onChange func(RawSnapshot)) (unsubscribe func())

	// GetSnapshot returns the current snapshot without blocking.
	GetSnapshot() RawSnapshot
}

// LiveModeSource is the subscribe/get contract of the live-mode flag.
type LiveModeSource interface {
	Subscribe(onChange func(LiveModeState)) (unsubscribe func())

	// Get returns the current value; ok is false when no value has been set yet.
	Get() (state LiveModeState, ok bool)
}

// ResultCache executes a query identified by a serialized cache key (see CacheKey).
type ResultCache interface {
	Fetch(ctx context.Context, key string) (Envelope, error)
}

// Fetcher executes a single query against the content API.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (Envelope, error)
}

// MutationSource streams change notifications for the documents a query matches.
// The returned channel is closed when ctx is done or the stream ends.
type MutationSource interface {
	Listen(ctx context.Context, query string, params QueryParams) (<-chan MutationEvent, error)
}

// CacheBackend persists fetched results across processes.
//
// Save must store FetchedAt as given and Load must return it unchanged: the result cache
// decides freshness from it. A zero FetchedAt on Save means "now" in the backend's clock.
type CacheBackend interface {
	Load(ctx context.Context, key string) (CachedResult, bool, error)
	Save(ctx context.Context, key string, result CachedResult) error
}

// CachedResult is a persisted Envelope together with the time it was fetched from the content API.
type CachedResult struct {
	Envelope  Envelope
	FetchedAt time.Time
}
