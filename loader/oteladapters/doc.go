// Package oteladapters implements the loader observability interfaces on top of OpenTelemetry.
//
// SlogBridgeLogger and OTelLogger implement loader.Logger and loader.ContextualLogger,
// MetricsCollector implements loader.ContextualMetricsCollector,
// TracingCollector implements loader.TracingCollector.
// Each is passed to corestore, querystore or pgcache through their WithLogger,
// WithContextualLogger, WithMetrics and WithTracing options.
package oteladapters
