package corestore

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/AntonStoeckl/live-query-loader-go/loader"
)

// queryStream is the shared result stream of one cache key.
type queryStream struct {
	id      uuid.UUID
	key     string
	query   string
	params  loader.QueryParams
	atom    *Atom[loader.RawSnapshot]
	refs    int // guarded by Store.mu
	ctx     context.Context
	cancel  context.CancelFunc
	refresh chan struct{}
}

func newQueryStream(parent context.Context, key, query string, params loader.QueryParams) *queryStream {
	ctx, cancel := context.WithCancel(parent)

	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}

	return &queryStream{
		id:      id,
		key:     key,
		query:   query,
		params:  params,
		atom:    NewAtom[loader.RawSnapshot](),
		ctx:     ctx,
		cancel:  cancel,
		refresh: make(chan struct{}, 1),
	}
}

func (st *queryStream) requestRefresh() {
	select {
	case st.refresh <- struct{}{}:
	default:
	}
}

// start launches the stream goroutine unless the store is closed.
func (s *Store) start(stream *queryStream) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		stream.cancel()

		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(stream)
}

func (s *Store) run(stream *queryStream) {
	defer s.wg.Done()

	ctx := stream.ctx
	s.logDebug(ctx, logMsgStreamStarted, logAttrStreamID, stream.id.String(), logAttrQuery, stream.query)

	defer s.logDebug(ctx, logMsgStreamStopped, logAttrStreamID, stream.id.String(), logAttrQuery, stream.query)

	liveChanged := make(chan struct{}, 1)
	unlisten := s.live.Listen(func(loader.LiveModeState) {
		select {
		case liveChanged <- struct{}{}:
		default:
		}
	})
	defer unlisten()

	live := s.liveEnabled()
	events, stopListening := s.listen(ctx, stream, live)
	defer func() { stopListening() }()

	s.load(ctx, stream, live, false)

	for {
		select {
		case <-ctx.Done():
			return

		case <-liveChanged:
			now := s.liveEnabled()
			if now == live {
				continue
			}

			live = now
			stopListening()
			events, stopListening = s.listen(ctx, stream, live)
			s.load(ctx, stream, live, false)

		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}

			s.incrementCounter(ctx, metricMutationsReceived, nil)
			s.logDebug(ctx, logMsgMutationReceived,
				logAttrStreamID, stream.id.String(),
				logAttrDocumentID, event.DocumentID,
				logAttrTransition, event.Transition,
			)
			s.load(ctx, stream, true, true)

		case <-stream.refresh:
			s.load(ctx, stream, live, true)
		}
	}
}

// listen opens a mutation listener when live mode is on and a MutationSource is configured.
func (s *Store) listen(
	ctx context.Context,
	stream *queryStream,
	live bool,
) (<-chan loader.MutationEvent, context.CancelFunc) {
	noop := func() {}

	if !live || s.mutations == nil {
		return nil, noop
	}

	listenCtx, cancel := context.WithCancel(ctx)

	events, err := s.mutations.Listen(listenCtx, stream.query, stream.params)
	if err != nil {
		cancel()
		s.logWarn(ctx, logMsgListenFailed, err, logAttrStreamID, stream.id.String(), logAttrQuery, stream.query)

		return nil, noop
	}

	return events, cancel
}

// load fetches the current result and publishes it. Live loads go straight to the fetcher.
func (s *Store) load(ctx context.Context, stream *queryStream, live bool, force bool) {
	var (
		envelope loader.Envelope
		err      error
	)

	switch {
	case live:
		envelope, err = s.cache.fetchLive(ctx, stream.query, stream.params)
	case force:
		s.cache.Invalidate(stream.key)
		envelope, err = s.cache.fetch(ctx, stream.key, stream.query, stream.params)
	default:
		envelope, err = s.cache.fetch(ctx, stream.key, stream.query, stream.params)
	}

	if ctx.Err() != nil {
		return
	}

	if err != nil {
		stream.atom.Set(loader.RawSnapshot{Error: err})
		return
	}

	stream.atom.Set(loader.RawSnapshot{Data: envelope.Result, SourceMap: envelope.SourceMap})
}

// queryHandle is the per-binding view on a shared query stream.
type queryHandle struct {
	store  *Store
	query  string
	params loader.QueryParams
	key    string
	keyErr error
	seed   loader.RawSnapshot
}

// Subscribe registers onChange with the shared stream. If the stream already holds
// a result, onChange is called with it first.
func (h *queryHandle) Subscribe(onChange func(loader.RawSnapshot)) func() {
	if h.keyErr != nil {
		onChange(loader.RawSnapshot{Error: h.keyErr})
		return func() {}
	}

	stream, created := h.store.acquire(h.key, h.query, h.params)
	if stream == nil {
		return func() {}
	}

	unsubscribe := stream.atom.Subscribe(onChange)

	if created {
		h.store.start(stream)
	}

	var once sync.Once

	return func() {
		once.Do(func() {
			unsubscribe()
			h.store.release(stream)
		})
	}
}

// GetSnapshot returns the shared stream's latest result, or the seeded placeholder.
func (h *queryHandle) GetSnapshot() loader.RawSnapshot {
	if h.keyErr != nil {
		return loader.RawSnapshot{Error: h.keyErr}
	}

	if stream := h.store.lookupStream(h.key); stream != nil {
		if snapshot, ok := stream.atom.Get(); ok {
			return snapshot
		}
	}

	return h.seed
}
