// Package fakestore provides a scriptable loader.ExternalStore for tests.
//
// Handles for equivalent (query, canonical params) pairs share one Query, like a real store.
// Tests push snapshots with Query.Emit and inspect subscription counts.
package fakestore

import (
	"context"
	"sort"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"github.com/AntonStoeckl/live-query-loader-go/loader"
)

// Store is a fake loader.ExternalStore.
type Store struct {
	mu      sync.Mutex
	queries map[string]*Query
	created int

	peakActive int

	live  *LiveMode
	cache *Cache
}

// New creates an empty Store with an undefined live-mode value.
func New() *Store {
	return &Store{
		queries: make(map[string]*Query),
		live:    &LiveMode{listeners: make(map[int]func(loader.LiveModeState))},
		cache:   &Cache{},
	}
}

// CreateSubscribableQuery implements loader.ExternalStore.
func (s *Store) CreateSubscribableQuery(
	query string,
	params loader.QueryParams,
	initialData jsoniter.RawMessage,
	initialSourceMap loader.SourceMap,
) loader.QueryHandle {
	q := s.Query(query, params)
	seed := loader.LoadingRawSnapshot(initialData, initialSourceMap)

	q.mu.Lock()
	q.seeds = append(q.seeds, seed)
	q.mu.Unlock()

	s.mu.Lock()
	s.created++
	s.mu.Unlock()

	return &handle{query: q, seed: seed}
}

// LiveMode implements loader.ExternalStore.
func (s *Store) LiveMode() loader.LiveModeSource {
	return s.live
}

// Cache implements loader.ExternalStore.
func (s *Store) Cache() loader.ResultCache {
	return s.cache
}

// Live returns the fake live-mode source.
func (s *Store) Live() *LiveMode {
	return s.live
}

// FakeCache returns the fake result cache.
func (s *Store) FakeCache() *Cache {
	return s.cache
}

// HandlesCreated returns how often CreateSubscribableQuery was called.
func (s *Store) HandlesCreated() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.created
}

// Query returns the shared Query for (query, params), creating it if needed.
func (s *Store) Query(query string, params loader.QueryParams) *Query {
	key, err := loader.CacheKey(query, params)
	if err != nil {
		panic(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.queries[key]
	if !ok {
		q = &Query{Key: key, store: s, listeners: make(map[int]func(loader.RawSnapshot))}
		s.queries[key] = q
	}

	return q
}

// TotalSubscriptions returns the number of Subscribe calls across all queries.
func (s *Store) TotalSubscriptions() int {
	s.mu.Lock()
	queries := make([]*Query, 0, len(s.queries))
	for _, q := range s.queries {
		queries = append(queries, q)
	}
	s.mu.Unlock()

	total := 0
	for _, q := range queries {
		total += q.Subscriptions()
	}

	return total
}

// ActiveSubscriptions returns the number of registered listeners across all queries.
func (s *Store) ActiveSubscriptions() int {
	s.mu.Lock()
	queries := make([]*Query, 0, len(s.queries))
	for _, q := range s.queries {
		queries = append(queries, q)
	}
	s.mu.Unlock()

	total := 0
	for _, q := range queries {
		total += q.Active()
	}

	return total
}

// PeakActiveSubscriptions returns the highest number of simultaneously registered query listeners.
func (s *Store) PeakActiveSubscriptions() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.peakActive
}

func (s *Store) trackPeak() {
	active := s.ActiveSubscriptions()

	s.mu.Lock()
	defer s.mu.Unlock()

	if active > s.peakActive {
		s.peakActive = active
	}
}

// Query is the shared stream of one cache key.
type Query struct {
	Key   string
	store *Store

	mu            sync.Mutex
	nextID        int
	listeners     map[int]func(loader.RawSnapshot)
	released      []func(loader.RawSnapshot)
	subscriptions int
	unsubscribes  int
	current       *loader.RawSnapshot
	seeds         []loader.RawSnapshot
}

// Seeds returns the hydration seeds passed with every CreateSubscribableQuery call for this query.
func (q *Query) Seeds() []loader.RawSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	return append([]loader.RawSnapshot(nil), q.seeds...)
}

// Emit pushes snapshot to all registered listeners, in registration order, on the calling goroutine.
func (q *Query) Emit(snapshot loader.RawSnapshot) {
	q.mu.Lock()
	q.current = &snapshot

	ids := make([]int, 0, len(q.listeners))
	for id := range q.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	listeners := make([]func(loader.RawSnapshot), 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, q.listeners[id])
	}
	q.mu.Unlock()

	for _, listener := range listeners {
		listener(snapshot)
	}
}

// EmitToReleased calls listeners that were already unsubscribed, simulating callbacks
// that race teardown.
func (q *Query) EmitToReleased(snapshot loader.RawSnapshot) {
	q.mu.Lock()
	released := append([]func(loader.RawSnapshot){}, q.released...)
	q.mu.Unlock()

	for _, listener := range released {
		listener(snapshot)
	}
}

// Subscriptions returns the number of Subscribe calls.
func (q *Query) Subscriptions() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.subscriptions
}

// Unsubscribes returns the number of effective unsubscribe calls.
func (q *Query) Unsubscribes() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.unsubscribes
}

// Active returns the number of registered listeners.
func (q *Query) Active() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.listeners)
}

type handle struct {
	query *Query
	seed  loader.RawSnapshot
}

func (h *handle) Subscribe(onChange func(loader.RawSnapshot)) func() {
	q := h.query

	q.mu.Lock()
	q.nextID++
	id := q.nextID
	q.listeners[id] = onChange
	q.subscriptions++
	q.mu.Unlock()

	q.store.trackPeak()

	var once sync.Once

	return func() {
		once.Do(func() {
			q.mu.Lock()
			defer q.mu.Unlock()

			delete(q.listeners, id)
			q.released = append(q.released, onChange)
			q.unsubscribes++
		})
	}
}

func (h *handle) GetSnapshot() loader.RawSnapshot {
	h.query.mu.Lock()
	defer h.query.mu.Unlock()

	if h.query.current != nil {
		return *h.query.current
	}

	return h.seed
}

// LiveMode is a fake loader.LiveModeSource.
type LiveMode struct {
	mu            sync.Mutex
	value         loader.LiveModeState
	defined       bool
	nextID        int
	listeners     map[int]func(loader.LiveModeState)
	subscriptions int
}

// Set defines the value and notifies listeners on the calling goroutine.
func (l *LiveMode) Set(state loader.LiveModeState) {
	l.mu.Lock()
	l.value = state
	l.defined = true

	ids := make([]int, 0, len(l.listeners))
	for id := range l.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	listeners := make([]func(loader.LiveModeState), 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, l.listeners[id])
	}
	l.mu.Unlock()

	for _, listener := range listeners {
		listener(state)
	}
}

func (l *LiveMode) Subscribe(onChange func(loader.LiveModeState)) func() {
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	l.listeners[id] = onChange
	l.subscriptions++
	l.mu.Unlock()

	var once sync.Once

	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()

			delete(l.listeners, id)
		})
	}
}

func (l *LiveMode) Get() (loader.LiveModeState, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.value, l.defined
}

// Subscriptions returns the number of Subscribe calls.
func (l *LiveMode) Subscriptions() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.subscriptions
}

// Active returns the number of registered listeners.
func (l *LiveMode) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.listeners)
}

// Cache is a fake loader.ResultCache that records requested keys.
type Cache struct {
	mu       sync.Mutex
	keys     []string
	Response loader.Envelope
	Err      error
}

func (c *Cache) Fetch(ctx context.Context, key string) (loader.Envelope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.keys = append(c.keys, key)

	if err := ctx.Err(); err != nil {
		return loader.Envelope{}, err
	}

	return c.Response, c.Err
}

// Keys returns the keys passed to Fetch.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]string(nil), c.keys...)
}

var _ loader.ExternalStore = (*Store)(nil)
