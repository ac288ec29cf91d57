package corestore

import (
	"errors"
	"time"

	"github.com/AntonStoeckl/live-query-loader-go/loader"
)

// ErrNegativeCacheTTL is returned when a negative cache TTL is configured.
var ErrNegativeCacheTTL = errors.New("cache ttl must not be negative")

// ErrInvalidPerspective is returned when an unknown default perspective is configured.
var ErrInvalidPerspective = errors.New("perspective is not valid")

// Option defines a functional option for configuring Store.
type Option func(*Store) error

// WithLogger sets the logger for the Store.
// The logger will receive messages at different levels based on the logger's configured level:
//
// Debug level: stream lifecycle, cache hits and misses
// Info level: fetch durations, live mode changes
// Warn level: persistent cache and listen failures that do not fail a fetch
// Error level: failed fetches.
func WithLogger(logger loader.Logger) Option {
	return func(s *Store) error {
		s.logger = logger
		return nil
	}
}

// WithContextualLogger sets the contextual logger for the Store.
func WithContextualLogger(logger loader.ContextualLogger) Option {
	return func(s *Store) error {
		s.contextualLogger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector for the Store.
// It receives fetch durations, cache hit/miss counters, active stream counts and fetch errors.
func WithMetrics(collector loader.MetricsCollector) Option {
	return func(s *Store) error {
		s.metricsCollector = collector
		return nil
	}
}

// WithTracing sets the tracing collector for the Store.
func WithTracing(collector loader.TracingCollector) Option {
	return func(s *Store) error {
		s.tracingCollector = collector
		return nil
	}
}

// WithMutationSource enables live refetching: while live mode is enabled,
// each active query stream listens for mutations and refetches drafts on every event.
func WithMutationSource(source loader.MutationSource) Option {
	return func(s *Store) error {
		s.mutations = source
		return nil
	}
}

// WithCacheBackend adds a persistent second-level cache behind the in-memory result cache.
func WithCacheBackend(backend loader.CacheBackend) Option {
	return func(s *Store) error {
		s.cache.backend = backend
		return nil
	}
}

// WithCacheTTL expires in-memory cache entries after ttl. Zero keeps entries until invalidated.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Store) error {
		if ttl < 0 {
			return ErrNegativeCacheTTL
		}

		s.cache.ttl = ttl

		return nil
	}
}

// WithSourceMaps controls whether result source maps are requested. Enabled by default.
func WithSourceMaps(enabled bool) Option {
	return func(s *Store) error {
		s.cache.sourceMaps = enabled
		return nil
	}
}

// WithPerspective sets the perspective used for cached (non-live) fetches.
func WithPerspective(perspective string) Option {
	return func(s *Store) error {
		switch perspective {
		case loader.PerspectiveRaw, loader.PerspectivePublished, loader.PerspectivePreviewDrafts:
			s.cache.perspective = perspective
			return nil
		default:
			return ErrInvalidPerspective
		}
	}
}

// WithInitialLiveMode gives the live-mode flag a value at construction time.
// Without it, the flag is undefined until SetLiveMode or EnableLiveMode is called.
func WithInitialLiveMode(state loader.LiveModeState) Option {
	return func(s *Store) error {
		s.live.Set(state)
		return nil
	}
}

// WithClock overrides the time source used for cache expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) error {
		s.cache.now = now
		return nil
	}
}
