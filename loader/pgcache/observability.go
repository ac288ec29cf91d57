package pgcache

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/AntonStoeckl/live-query-loader-go/loader"
)

const (
	logMsgBuildQueryFailed  = "failed to build sql statement"
	logMsgDBQueryFailed     = "database query execution failed"
	logMsgDBExecFailed      = "database execution failed"
	logMsgCloseRowsFailed   = "failed to close database rows"
	logMsgScanRowFailed     = "failed to scan database row"
	logMsgSQLExecuted       = "executed sql for: "
	logMsgResultLoaded      = "cached result loaded"
	logMsgResultSaved       = "cached result saved"
	logMsgExpiredDeleted    = "expired cached results deleted"
	logMsgMigrated          = "cache table ensured"
	logAttrError            = "error"
	logAttrQuery            = "query"
	logAttrTable            = "table"
	logAttrFound            = "found"
	logAttrRowsAffected     = "rows_affected"
	logAttrDurationMS       = "duration_ms"
	metricOperationDuration = "pgcache_operation_duration_seconds"
	metricOperationErrors   = "pgcache_operation_errors_total"
	metricLoadHits          = "pgcache_load_hits_total"
	metricLoadMisses        = "pgcache_load_misses_total"
	spanNamePrefix          = "pgcache."
	spanAttrOperation       = "operation"
	spanAttrTable           = "table"
	spanAttrErrorType       = "error_type"
	spanAttrDurationMS      = "duration_ms"
	operationLoad           = "load"
	operationSave           = "save"
	operationDelete         = "delete"
	operationDeleteExpired  = "delete_expired"
	operationMigrate        = "migrate"
	statusSuccess           = "success"
	statusError             = "error"
	errorTypeCanceled       = "canceled"
	errorTypeDatabase       = "database_error"
	labelOperation          = "operation"
	labelStatus             = "status"
)

// toMilliseconds converts a time.Duration to float64 milliseconds with 3 decimal places.
func toMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}

func (c *Cache) logDebug(ctx context.Context, msg string, args ...any) {
	if c.contextualLogger != nil {
		c.contextualLogger.DebugContext(ctx, msg, args...)
		return
	}

	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}

func (c *Cache) logInfo(ctx context.Context, msg string, args ...any) {
	if c.contextualLogger != nil {
		c.contextualLogger.InfoContext(ctx, msg, args...)
		return
	}

	if c.logger != nil {
		c.logger.Info(msg, args...)
	}
}

func (c *Cache) logWarn(ctx context.Context, msg string, args ...any) {
	if c.contextualLogger != nil {
		c.contextualLogger.WarnContext(ctx, msg, args...)
		return
	}

	if c.logger != nil {
		c.logger.Warn(msg, args...)
	}
}

func (c *Cache) logError(ctx context.Context, msg string, args ...any) {
	if c.contextualLogger != nil {
		c.contextualLogger.ErrorContext(ctx, msg, args...)
		return
	}

	if c.logger != nil {
		c.logger.Error(msg, args...)
	}
}

// logSQL logs an executed statement at debug level.
func (c *Cache) logSQL(ctx context.Context, operation, sqlQuery string, duration time.Duration) {
	c.logDebug(ctx, logMsgSQLExecuted+operation,
		logAttrQuery, sqlQuery,
		logAttrDurationMS, toMilliseconds(duration))
}

// incrementCounter increments a counter metric, using the context-aware method if available.
func (c *Cache) incrementCounter(ctx context.Context, metric string, labels map[string]string) {
	if c.metricsCollector == nil {
		return
	}

	if contextual, ok := c.metricsCollector.(loader.ContextualMetricsCollector); ok {
		contextual.IncrementCounterContext(ctx, metric, labels)
		return
	}

	c.metricsCollector.IncrementCounter(metric, labels)
}

// recordDuration records a duration metric, using the context-aware method if available.
func (c *Cache) recordDuration(ctx context.Context, metric string, d time.Duration, labels map[string]string) {
	if c.metricsCollector == nil {
		return
	}

	if contextual, ok := c.metricsCollector.(loader.ContextualMetricsCollector); ok {
		contextual.RecordDurationContext(ctx, metric, d, labels)
		return
	}

	c.metricsCollector.RecordDuration(metric, d, labels)
}

// === Operation Observer ===

// operationObserver encapsulates span and metrics handling of a single database operation.
type operationObserver struct {
	c         *Cache
	ctx       context.Context
	span      loader.SpanContext
	operation string
	start     time.Time
}

func (c *Cache) startObserver(ctx context.Context, operation string) (*operationObserver, context.Context) {
	var span loader.SpanContext
	if c.tracingCollector != nil {
		ctx, span = c.tracingCollector.StartSpan(ctx, spanNamePrefix+operation, map[string]string{
			spanAttrOperation: operation,
			spanAttrTable:     c.tableName,
		})
	}

	return &operationObserver{c: c, ctx: ctx, span: span, operation: operation, start: time.Now()}, ctx
}

func (o *operationObserver) success() {
	duration := time.Since(o.start)

	o.c.recordDuration(o.ctx, metricOperationDuration, duration, map[string]string{
		labelOperation: o.operation,
		labelStatus:    statusSuccess,
	})

	if o.span != nil {
		o.span.AddAttribute(spanAttrDurationMS, fmt.Sprintf("%.2f", toMilliseconds(duration)))
		o.c.tracingCollector.FinishSpan(o.span, statusSuccess, nil)
	}
}

func (o *operationObserver) failure(err error) {
	duration := time.Since(o.start)

	errorType := errorTypeDatabase
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		errorType = errorTypeCanceled
	}

	o.c.recordDuration(o.ctx, metricOperationDuration, duration, map[string]string{
		labelOperation: o.operation,
		labelStatus:    statusError,
	})
	o.c.incrementCounter(o.ctx, metricOperationErrors, map[string]string{
		labelOperation:    o.operation,
		spanAttrErrorType: errorType,
	})

	if o.span != nil {
		o.span.AddAttribute(spanAttrErrorType, errorType)
		o.c.tracingCollector.FinishSpan(o.span, statusError, map[string]string{spanAttrErrorType: errorType})
	}
}
