package querystore

import (
	"context"
	"errors"

	"github.com/AntonStoeckl/live-query-loader-go/loader"
)

// ErrNilScheduler is returned when a nil default scheduler is configured.
var ErrNilScheduler = errors.New("nil scheduler supplied")

// Option defines a functional option for configuring QueryStore.
type Option func(*QueryStore) error

// WithScheduler sets the default scheduler of query bindings that do not bring their own.
// Without it, updates are applied immediately.
func WithScheduler(scheduler loader.Scheduler) Option {
	return func(qs *QueryStore) error {
		if scheduler == nil {
			return ErrNilScheduler
		}

		qs.scheduler = scheduler

		return nil
	}
}

// WithBrowserDetector adds a check that reports whether a context belongs to browser rendering.
// One-shot queries are refused when either the detector or the context marker
// (loader.WithBrowserEnvironment) reports a browser document.
func WithBrowserDetector(detector func(ctx context.Context) bool) Option {
	return func(qs *QueryStore) error {
		qs.browserDetector = detector
		return nil
	}
}

// WithLogger sets the logger for the QueryStore.
//
// Debug level: subscriptions established and released
// Warn level: one-shot queries refused in a browser context
// Error level: failed one-shot queries.
func WithLogger(logger loader.Logger) Option {
	return func(qs *QueryStore) error {
		qs.logger = logger
		return nil
	}
}

// WithContextualLogger sets the contextual logger for the QueryStore.
func WithContextualLogger(logger loader.ContextualLogger) Option {
	return func(qs *QueryStore) error {
		qs.contextualLogger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector for the QueryStore.
func WithMetrics(collector loader.MetricsCollector) Option {
	return func(qs *QueryStore) error {
		qs.metricsCollector = collector
		return nil
	}
}

// WithTracing sets the tracing collector for the QueryStore.
func WithTracing(collector loader.TracingCollector) Option {
	return func(qs *QueryStore) error {
		qs.tracingCollector = collector
		return nil
	}
}
