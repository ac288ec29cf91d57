package corestore

import (
	"context"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/AntonStoeckl/live-query-loader-go/loader"
)

// Store is the reactive query store. It implements loader.ExternalStore.
//
// Handles created for equivalent (query, params) pairs share one query stream per cache key.
// A stream fetches through the result cache when its first listener subscribes, refetches
// drafts on mutations while live mode is enabled, and stops when its last listener leaves.
type Store struct {
	cache     *Cache
	live      *Atom[loader.LiveModeState]
	mutations loader.MutationSource

	logger           loader.Logger
	contextualLogger loader.ContextualLogger
	metricsCollector loader.MetricsCollector
	tracingCollector loader.TracingCollector

	mu      sync.Mutex
	streams map[string]*queryStream
	closed  bool
	baseCtx context.Context
	stopAll context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a Store that fetches query results with fetcher.
func New(fetcher loader.Fetcher, options ...Option) (*Store, error) {
	if fetcher == nil {
		return nil, loader.ErrNilFetcher
	}

	baseCtx, stopAll := context.WithCancel(context.Background())

	s := &Store{
		live:    NewAtom[loader.LiveModeState](),
		streams: make(map[string]*queryStream),
		baseCtx: baseCtx,
		stopAll: stopAll,
	}

	s.cache = &Cache{
		store:       s,
		fetcher:     fetcher,
		sourceMaps:  true,
		perspective: loader.PerspectivePublished,
		now:         time.Now,
		entries:     make(map[string]cacheEntry),
		invalidated: make(map[string]time.Time),
		flights:     make(map[string]*flight),
	}

	for _, option := range options {
		if err := option(s); err != nil {
			stopAll()
			return nil, err
		}
	}

	return s, nil
}

// CreateSubscribableQuery returns a handle for (query, params).
// The seeds are reported by GetSnapshot until the shared stream produced a result.
func (s *Store) CreateSubscribableQuery(
	query string,
	params loader.QueryParams,
	initialData jsoniter.RawMessage,
	initialSourceMap loader.SourceMap,
) loader.QueryHandle {
	if params == nil {
		params = loader.DefaultParams
	}

	key, err := loader.CacheKey(query, params)

	return &queryHandle{
		store:  s,
		query:  query,
		params: params,
		key:    key,
		keyErr: err,
		seed:   loader.LoadingRawSnapshot(initialData, initialSourceMap),
	}
}

// LiveMode returns the live-mode flag of this store.
func (s *Store) LiveMode() loader.LiveModeSource {
	return liveModeSource{atom: s.live}
}

// Cache returns the result cache.
func (s *Store) Cache() loader.ResultCache {
	return s.cache
}

// ResultCache returns the concrete result cache, for invalidation.
func (s *Store) ResultCache() *Cache {
	return s.cache
}

// SetLiveMode replaces the live-mode state. Active streams switch between cached
// published results and live draft results accordingly.
func (s *Store) SetLiveMode(state loader.LiveModeState) {
	s.logInfo(s.baseCtx, logMsgLiveModeChanged, logAttrLiveEnabled, state.Enabled)
	s.live.Set(state)
}

// EnableLiveMode turns live mode on and returns a function that turns it off again.
func (s *Store) EnableLiveMode(studioOrigin string) (disable func()) {
	s.SetLiveMode(loader.LiveModeState{
		Enabled:      true,
		Connected:    s.mutations != nil,
		StudioOrigin: studioOrigin,
	})

	var once sync.Once

	return func() {
		once.Do(func() {
			s.SetLiveMode(loader.LiveModeState{StudioOrigin: studioOrigin})
		})
	}
}

// Refresh drops the cached result of (query, params) and makes an active stream refetch it.
func (s *Store) Refresh(query string, params loader.QueryParams) error {
	key, err := loader.CacheKey(query, params)
	if err != nil {
		return err
	}

	s.cache.Invalidate(key)

	s.mu.Lock()
	stream := s.streams[key]
	s.mu.Unlock()

	if stream != nil {
		stream.requestRefresh()
	}

	return nil
}

// ActiveStreams returns the number of query streams with at least one listener.
func (s *Store) ActiveStreams() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.streams)
}

// Close stops all query streams and waits for them to finish.
// Handles subscribed after Close never receive updates.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.streams = make(map[string]*queryStream)
	s.mu.Unlock()

	s.stopAll()
	s.wg.Wait()
}

func (s *Store) liveEnabled() bool {
	return s.live.Value().Enabled
}

// acquire returns the stream for key, creating it when needed. created reports whether
// the caller must start it.
func (s *Store) acquire(key, query string, params loader.QueryParams) (stream *queryStream, created bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, false
	}

	if existing, ok := s.streams[key]; ok {
		existing.refs++
		return existing, false
	}

	stream = newQueryStream(s.baseCtx, key, query, params)
	stream.refs = 1
	s.streams[key] = stream
	s.recordActiveStreams(len(s.streams))

	return stream, true
}

func (s *Store) release(stream *queryStream) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stream.refs--
	if stream.refs > 0 {
		return
	}

	if s.streams[stream.key] == stream {
		delete(s.streams, stream.key)
	}

	stream.cancel()
	s.recordActiveStreams(len(s.streams))
}

func (s *Store) lookupStream(key string) *queryStream {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.streams[key]
}

type liveModeSource struct {
	atom *Atom[loader.LiveModeState]
}

func (l liveModeSource) Subscribe(onChange func(loader.LiveModeState)) func() {
	return l.atom.Listen(onChange)
}

func (l liveModeSource) Get() (loader.LiveModeState, bool) {
	return l.atom.Get()
}
