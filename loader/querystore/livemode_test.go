package querystore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AntonStoeckl/live-query-loader-go/loader"
	"github.com/AntonStoeckl/live-query-loader-go/loader/querystore"
	"github.com/AntonStoeckl/live-query-loader-go/testutil/fakestore"
)

func Test_UseLiveMode_ReturnsInitialValueThenEmittedValue(t *testing.T) {
	// setup
	store := fakestore.New()
	store.Live().Set(loader.LiveModeState{Enabled: false})
	qs := newQueryStore(t, store)

	// act
	binding := qs.UseLiveMode()
	defer binding.Close()

	// assert
	assert.Equal(t, loader.LiveModeState{Enabled: false}, binding.Value())

	// act
	store.Live().Set(loader.LiveModeState{Enabled: true, Connected: true})

	// assert
	assert.True(t, binding.Render().Enabled)
	assert.True(t, binding.Value().Enabled)
	assert.False(t, binding.ServerSnapshot().Enabled)
}

func Test_UseLiveMode_When_ValueIsUndefined(t *testing.T) {
	// setup
	store := fakestore.New()
	qs := newQueryStore(t, store)

	// act
	binding := qs.UseLiveMode()
	defer binding.Close()

	// assert
	assert.Equal(t, loader.LiveModeState{}, qs.InitialLiveMode())
	assert.Equal(t, loader.LiveModeState{}, binding.Value())
	assert.Equal(t, loader.LiveModeState{}, binding.ServerSnapshot())
}

func Test_UseLiveMode_ValueIsPinnedUntilNextRender(t *testing.T) {
	// setup
	store := fakestore.New()
	qs := newQueryStore(t, store)
	binding := qs.UseLiveMode()
	defer binding.Close()

	// act
	rendered := binding.Render()
	store.Live().Set(loader.LiveModeState{Enabled: true})

	// assert
	assert.False(t, rendered.Enabled)
	assert.False(t, binding.Value().Enabled)
	assert.False(t, binding.Value().Enabled)
	assert.True(t, binding.Render().Enabled)
}

func Test_UseLiveMode_SharesOneSubscription(t *testing.T) {
	// setup
	store := fakestore.New()
	qs, err := querystore.New(store)
	assert.NoError(t, err)

	// act
	first := qs.UseLiveMode()
	second := qs.UseLiveMode()
	third := qs.UseLiveMode()

	// assert
	assert.Equal(t, 1, store.Live().Subscriptions())
	assert.Equal(t, 1, store.Live().Active())

	// act
	first.Close()
	second.Close()
	third.Close()
	third.Close()

	// assert
	assert.Equal(t, 1, store.Live().Active())

	// act
	qs.Close()

	// assert
	assert.Equal(t, 0, store.Live().Active())
	assert.Equal(t, loader.LiveModeState{}, qs.UseLiveMode().Value())
	assert.Equal(t, 1, store.Live().Subscriptions())
}

func Test_UseLiveMode_NotifiesOpenBindingsOnly(t *testing.T) {
	// setup
	store := fakestore.New()
	queue := loader.NewTransitionQueue()
	qs := newQueryStore(t, store, querystore.WithScheduler(queue.Schedule))
	var first, second []bool

	firstBinding := qs.UseLiveMode(querystore.LiveModeOptions{
		OnChange: func(s loader.LiveModeState) { first = append(first, s.Enabled) },
	})
	defer firstBinding.Close()

	secondBinding := qs.UseLiveMode(querystore.LiveModeOptions{
		OnChange: func(s loader.LiveModeState) { second = append(second, s.Enabled) },
	})

	// act
	store.Live().Set(loader.LiveModeState{Enabled: true})
	secondBinding.Close()
	queue.Flush()
	store.Live().Set(loader.LiveModeState{Enabled: false})
	queue.Flush()

	// assert
	assert.Equal(t, []bool{true, false}, first)
	assert.Empty(t, second)
}
