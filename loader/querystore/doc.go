// Package querystore binds a reactive loader.ExternalStore to render-oriented consumers.
//
// It offers three entry points:
//   - UseQuery: a typed QueryBinding that keeps one subscription per (query, canonical params),
//     applies pushed snapshots through a loader.Scheduler and drops late updates after release
//   - QueryStore.UseLiveMode: a LiveModeBinding on the single, shared live-mode subscription
//   - QueryStore.QueryRaw and Query: a one-shot fetch through the store's result cache that is
//     refused with *loader.UnsafeContextError in browser contexts
//
// A binding follows the render lifecycle of its owner:
//
//	binding := querystore.UseQuery[[]Post](qs, query, params, querystore.UseQueryOptions[[]Post]{
//		InitialData: &seed,
//		Scheduler:   queue.Schedule,
//		OnChange:    func(loader.Snapshot[[]Post]) { requestRender() },
//	})
//	defer binding.Close()
//
//	// on every render
//	snapshot := binding.Render(query, params)
package querystore
