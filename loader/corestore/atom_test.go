package corestore_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AntonStoeckl/live-query-loader-go/loader/corestore"
)

func Test_Atom_Get_When_NothingWasSet(t *testing.T) {
	// setup
	atom := corestore.NewAtom[int]()

	// act
	value, ok := atom.Get()

	// assert
	assert.False(t, ok)
	assert.Equal(t, 0, value)
}

func Test_Atom_Listen_DeliversInOrder(t *testing.T) {
	// setup
	atom := corestore.NewAtom[int]()
	var got []int

	// arrange
	unlisten := atom.Listen(func(v int) { got = append(got, v) })
	defer unlisten()

	// act
	for i := 1; i <= 5; i++ {
		atom.Set(i)
	}

	// assert
	assert.Equal(t, []int{1, 2, 3, 4, 5}, got)
}

func Test_Atom_Listen_DoesNotReplay(t *testing.T) {
	// setup
	atom := corestore.NewAtomWithValue("initial")
	var got []string

	// act
	unlisten := atom.Listen(func(v string) { got = append(got, v) })
	defer unlisten()

	// assert
	assert.Empty(t, got)
}

func Test_Atom_Subscribe_ReplaysCurrentValue(t *testing.T) {
	// setup
	atom := corestore.NewAtomWithValue("initial")
	var got []string

	// act
	unsubscribe := atom.Subscribe(func(v string) { got = append(got, v) })
	defer unsubscribe()
	atom.Set("next")

	// assert
	assert.Equal(t, []string{"initial", "next"}, got)
}

func Test_Atom_Unlisten_IsIdempotent(t *testing.T) {
	// setup
	atom := corestore.NewAtom[int]()
	calls := 0

	// arrange
	unlisten := atom.Listen(func(int) { calls++ })

	// act
	unlisten()
	unlisten()
	atom.Set(1)

	// assert
	assert.Equal(t, 0, calls)
	assert.Equal(t, 0, atom.ListenerCount())
}

func Test_Atom_Set_When_ListenerSetsFromCallback(t *testing.T) {
	// setup
	atom := corestore.NewAtom[int]()
	var got []int

	// arrange
	unlisten := atom.Listen(func(v int) {
		got = append(got, v)
		if v < 3 {
			atom.Set(v + 1)
		}
	})
	defer unlisten()

	// act
	atom.Set(1)

	// assert
	assert.Equal(t, []int{1, 2, 3}, got)
	assert.Equal(t, 3, atom.Value())
}

func Test_Atom_Set_ConcurrentWritersKeepPerListenerOrder(t *testing.T) {
	// setup
	atom := corestore.NewAtom[int]()
	var mu sync.Mutex
	var first, second []int

	// arrange
	unlistenFirst := atom.Listen(func(v int) {
		mu.Lock()
		first = append(first, v)
		mu.Unlock()
	})
	defer unlistenFirst()

	unlistenSecond := atom.Listen(func(v int) {
		mu.Lock()
		second = append(second, v)
		mu.Unlock()
	})
	defer unlistenSecond()

	// act
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			atom.Set(v)
		}(i)
	}
	wg.Wait()

	// assert
	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, first, 50)
	assert.Equal(t, first, second)
}
