package pgcache

import (
	"time"

	"github.com/AntonStoeckl/live-query-loader-go/loader"
)

// Option defines a functional option for configuring Cache.
type Option func(*Cache) error

// WithTableName sets the table name for the Cache.
func WithTableName(tableName string) Option {
	return func(c *Cache) error {
		if tableName == "" {
			return loader.ErrEmptyCacheTableName
		}

		c.tableName = tableName

		return nil
	}
}

// WithLogger sets the logger for the Cache.
// The logger will receive messages at different levels based on the logger's configured level:
//
// Debug level: SQL statements with execution timing (development use)
// Info level: rows deleted by DeleteExpired, migrations
// Warn level: cleanup failures such as closing rows
// Error level: failed loads and saves.
func WithLogger(logger loader.Logger) Option {
	return func(c *Cache) error {
		c.logger = logger
		return nil
	}
}

// WithContextualLogger sets the contextual logger for the Cache.
func WithContextualLogger(logger loader.ContextualLogger) Option {
	return func(c *Cache) error {
		c.contextualLogger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector for the Cache.
func WithMetrics(collector loader.MetricsCollector) Option {
	return func(c *Cache) error {
		c.metricsCollector = collector
		return nil
	}
}

// WithTracing sets the tracing collector for the Cache.
func WithTracing(collector loader.TracingCollector) Option {
	return func(c *Cache) error {
		c.tracingCollector = collector
		return nil
	}
}

// WithClock replaces time.Now for fetched_at timestamps and expiry cutoffs.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) error {
		if now != nil {
			c.now = now
		}

		return nil
	}
}
