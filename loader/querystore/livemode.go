package querystore

import (
	"sort"
	"sync"

	"github.com/AntonStoeckl/live-query-loader-go/loader"
)

// LiveModeOptions configures a live-mode binding.
type LiveModeOptions struct {
	// OnChange is called through the QueryStore's scheduler whenever the live-mode value changes.
	OnChange func(loader.LiveModeState)
}

// sharedLiveMode is the one listener registration on the external live-mode source.
// Bindings fan out from it.
type sharedLiveMode struct {
	scheduler   loader.Scheduler
	unsubscribe func()

	mu     sync.Mutex
	value  loader.LiveModeState
	nextID uint64
	hooks  map[uint64]func(loader.LiveModeState)
}

func (qs *QueryStore) sharedLiveMode() *sharedLiveMode {
	qs.liveMu.Lock()
	defer qs.liveMu.Unlock()

	if qs.live != nil || qs.liveClosed {
		return qs.live
	}

	source := qs.external.LiveMode()
	listen := source.Subscribe

	shared := &sharedLiveMode{
		scheduler: qs.scheduler,
		value:     qs.initialLiveMode,
		hooks:     make(map[uint64]func(loader.LiveModeState)),
	}

	shared.unsubscribe = listen(shared.set)

	if state, ok := source.Get(); ok {
		shared.mu.Lock()
		shared.value = state
		shared.mu.Unlock()
	}

	qs.live = shared

	return shared
}

func (s *sharedLiveMode) set(state loader.LiveModeState) {
	s.mu.Lock()
	s.value = state

	ids := make([]uint64, 0, len(s.hooks))
	for id := range s.hooks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	hooks := make([]func(loader.LiveModeState), 0, len(ids))
	for _, id := range ids {
		hooks = append(hooks, s.hooks[id])
	}
	s.mu.Unlock()

	for _, hook := range hooks {
		s.scheduler(func() { hook(state) })
	}
}

func (s *sharedLiveMode) current() loader.LiveModeState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.value
}

func (s *sharedLiveMode) addHook(hook func(loader.LiveModeState)) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	s.hooks[s.nextID] = hook

	return s.nextID
}

func (s *sharedLiveMode) removeHook(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.hooks, id)
}

func (s *sharedLiveMode) close() {
	s.unsubscribe()

	s.mu.Lock()
	s.hooks = make(map[uint64]func(loader.LiveModeState))
	s.mu.Unlock()
}

// LiveModeBinding reads the shared live-mode value.
type LiveModeBinding struct {
	qs     *QueryStore
	shared *sharedLiveMode
	hookID uint64

	mu     sync.Mutex
	pinned loader.LiveModeState
	closed bool
}

// UseLiveMode binds the live-mode flag. All bindings of a QueryStore share one
// subscription, created on first use and released by QueryStore.Close.
func (qs *QueryStore) UseLiveMode(options ...LiveModeOptions) *LiveModeBinding {
	var opts LiveModeOptions
	if len(options) > 0 {
		opts = options[0]
	}

	b := &LiveModeBinding{qs: qs, shared: qs.sharedLiveMode()}

	if b.shared != nil && opts.OnChange != nil {
		onChange := opts.OnChange
		b.hookID = b.shared.addHook(func(state loader.LiveModeState) {
			b.mu.Lock()
			closed := b.closed
			b.mu.Unlock()

			if !closed {
				onChange(state)
			}
		})
	}

	b.Render()

	return b
}

// Render reads the current value and pins it for the render pass.
func (b *LiveModeBinding) Render() loader.LiveModeState {
	state := b.qs.initialLiveMode
	if b.shared != nil {
		state = b.shared.current()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.pinned = state

	return state
}

// Value returns the value pinned by the last Render.
func (b *LiveModeBinding) Value() loader.LiveModeState {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.pinned
}

// ServerSnapshot returns the value captured when the QueryStore was created.
func (b *LiveModeBinding) ServerSnapshot() loader.LiveModeState {
	return b.qs.initialLiveMode
}

// Close removes the binding's change hook. It is idempotent.
func (b *LiveModeBinding) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	if b.shared != nil && b.hookID != 0 {
		b.shared.removeHook(b.hookID)
	}
}
