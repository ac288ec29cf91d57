package corestore

import (
	"sort"
	"sync"
)

// Atom is a goroutine-safe observable value.
//
// Every listener receives values in the order they were set. Delivery to a listener
// never overlaps with itself, and a listener may set the atom from inside its callback.
type Atom[T any] struct {
	mu        sync.Mutex
	value     T
	set       bool
	nextID    uint64
	listeners map[uint64]*atomListener[T]
}

type atomListener[T any] struct {
	id       uint64
	fn       func(T)
	mu       sync.Mutex
	active   bool
	draining bool
	queue    []T
}

// NewAtom creates an Atom without a value.
func NewAtom[T any]() *Atom[T] {
	return &Atom[T]{listeners: make(map[uint64]*atomListener[T])}
}

// NewAtomWithValue creates an Atom holding value.
func NewAtomWithValue[T any](value T) *Atom[T] {
	a := NewAtom[T]()
	a.value = value
	a.set = true

	return a
}

// Get returns the current value and whether one was ever set.
func (a *Atom[T]) Get() (T, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.value, a.set
}

// Value returns the current value, or the zero value if none was set.
func (a *Atom[T]) Value() T {
	v, _ := a.Get()
	return v
}

// Set stores value and notifies all listeners.
func (a *Atom[T]) Set(value T) {
	a.mu.Lock()
	a.value = value
	a.set = true

	listeners := a.sortedListeners()
	for _, l := range listeners {
		l.enqueue(value)
	}
	a.mu.Unlock()

	for _, l := range listeners {
		l.drain()
	}
}

// Listen registers fn for values set after registration.
// The returned function removes fn. It is safe to call more than once.
func (a *Atom[T]) Listen(fn func(T)) (unlisten func()) {
	return a.register(fn, false)
}

// Subscribe is like Listen, but first calls fn with the current value if one was set.
func (a *Atom[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	return a.register(fn, true)
}

// ListenerCount returns the number of registered listeners.
func (a *Atom[T]) ListenerCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return len(a.listeners)
}

func (a *Atom[T]) register(fn func(T), replay bool) func() {
	l := &atomListener[T]{fn: fn, active: true}

	a.mu.Lock()
	a.nextID++
	l.id = a.nextID
	a.listeners[l.id] = l

	if replay && a.set {
		l.enqueue(a.value)
	}
	a.mu.Unlock()

	l.drain()

	var once sync.Once

	return func() {
		once.Do(func() {
			a.mu.Lock()
			delete(a.listeners, l.id)
			a.mu.Unlock()

			l.deactivate()
		})
	}
}

// sortedListeners must be called with a.mu held.
func (a *Atom[T]) sortedListeners() []*atomListener[T] {
	listeners := make([]*atomListener[T], 0, len(a.listeners))
	for _, l := range a.listeners {
		listeners = append(listeners, l)
	}

	sort.Slice(listeners, func(i, j int) bool { return listeners[i].id < listeners[j].id })

	return listeners
}

func (l *atomListener[T]) enqueue(value T) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.active {
		l.queue = append(l.queue, value)
	}
}

func (l *atomListener[T]) deactivate() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.active = false
	l.queue = nil
}

func (l *atomListener[T]) drain() {
	l.mu.Lock()
	if l.draining {
		l.mu.Unlock()
		return
	}
	l.draining = true

	for l.active && len(l.queue) > 0 {
		next := l.queue[0]
		l.queue = l.queue[1:]

		l.mu.Unlock()
		l.fn(next)
		l.mu.Lock()
	}

	l.draining = false
	l.mu.Unlock()
}
