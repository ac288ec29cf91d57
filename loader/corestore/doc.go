// Package corestore provides the reactive query store used by the query bindings.
//
// A Store multiplexes subscriptions onto one stream per cache key, serves one-shot
// fetches through an in-memory result cache with in-flight de-duplication, and owns
// the live-mode flag. While live mode is enabled and a MutationSource is configured,
// every active stream refetches draft content whenever a matching document changes.
//
// Store implements loader.ExternalStore:
//
//	store, err := corestore.New(client,
//		corestore.WithMutationSource(client),
//		corestore.WithCacheTTL(time.Minute),
//		corestore.WithLogger(logger),
//	)
//	if err != nil {
//		return err
//	}
//	defer store.Close()
//
//	disable := store.EnableLiveMode("https://studio.example.com")
//	defer disable()
package corestore
