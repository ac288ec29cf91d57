// Package loader provides the core abstractions and types for loading content
// queries into render-oriented consumers.
//
// This package defines the fundamental types, contracts and helpers shared by
// the other loader packages:
//   - QueryParams and their canonical serialization (CanonicalParams, CacheKey)
//   - Snapshot / RawSnapshot: point-in-time query result state
//   - LiveModeState: the "live preview" flag
//   - ExternalStore, QueryHandle, LiveModeSource, ResultCache: the reactive store contract
//   - Fetcher, MutationSource, CacheBackend: the collaborators of the reactive store
//   - Scheduler and TransitionQueue: how pushed updates are committed
//   - render environment markers carried in a context.Context
//
// Common usage pattern:
//
//	client, _ := contentclient.New(contentclient.Config{ProjectID: "abc123", Dataset: "production", APIVersion: "2023-06-21"})
//	store, _ := corestore.New(client)
//	qs, _ := querystore.New(store)
//
//	// server side, one-shot
//	posts, err := querystore.Query[[]Post](ctx, qs, `*[_type == "post"]`, nil)
//
//	// reactive binding
//	binding := querystore.UseQuery[[]Post](qs, `*[_type == "post"]`, loader.QueryParams{"limit": 10})
//	defer binding.Close()
//	snapshot := binding.Snapshot()
package loader
