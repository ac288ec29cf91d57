package querystore

import (
	"context"
	"time"

	"github.com/AntonStoeckl/live-query-loader-go/loader"
)

const (
	logMsgSubscribed          = "query subscription established"
	logMsgReleased            = "query subscription released"
	logMsgUnsafeContext       = "one-shot query refused in browser context"
	logMsgQueryFailed         = "one-shot query failed"
	logMsgQueryCompleted      = "one-shot query completed"
	logMsgSeedEncodingFailed  = "initial data could not be encoded"
	logAttrError              = "error"
	logAttrQuery              = "query"
	logAttrParams             = "params"
	logAttrDurationMS         = "duration_ms"
	metricQueryDuration       = "querystore_query_duration_seconds"
	metricUnsafeContextErrors = "querystore_unsafe_context_total"
	metricSubscriptions       = "querystore_subscriptions_total"
	spanNameQuery             = "querystore.query"
	spanAttrQuery             = "query"
	spanAttrErrorType         = "error_type"
	statusSuccess             = "success"
	statusError               = "error"
	errorTypeUnsafeContext    = "unsafe_context"
	errorTypeFetch            = "fetch_error"
	labelStatus               = "status"
)

func (qs *QueryStore) logDebug(msg string, args ...any) {
	if qs.logger != nil {
		qs.logger.Debug(msg, args...)
	}
}

func (qs *QueryStore) logInfoContext(ctx context.Context, msg string, args ...any) {
	if qs.contextualLogger != nil {
		qs.contextualLogger.InfoContext(ctx, msg, args...)
		return
	}

	if qs.logger != nil {
		qs.logger.Info(msg, args...)
	}
}

func (qs *QueryStore) logWarnContext(ctx context.Context, msg string, args ...any) {
	if qs.contextualLogger != nil {
		qs.contextualLogger.WarnContext(ctx, msg, args...)
		return
	}

	if qs.logger != nil {
		qs.logger.Warn(msg, args...)
	}
}

func (qs *QueryStore) logErrorContext(ctx context.Context, msg string, err error, args ...any) {
	allArgs := append([]any{logAttrError, err.Error()}, args...)

	if qs.contextualLogger != nil {
		qs.contextualLogger.ErrorContext(ctx, msg, allArgs...)
		return
	}

	if qs.logger != nil {
		qs.logger.Error(msg, allArgs...)
	}
}

func (qs *QueryStore) incrementCounter(ctx context.Context, metric string, labels map[string]string) {
	if qs.metricsCollector == nil {
		return
	}

	if contextual, ok := qs.metricsCollector.(loader.ContextualMetricsCollector); ok {
		contextual.IncrementCounterContext(ctx, metric, labels)
		return
	}

	qs.metricsCollector.IncrementCounter(metric, labels)
}

func (qs *QueryStore) recordDuration(ctx context.Context, metric string, d time.Duration, labels map[string]string) {
	if qs.metricsCollector == nil {
		return
	}

	if contextual, ok := qs.metricsCollector.(loader.ContextualMetricsCollector); ok {
		contextual.RecordDurationContext(ctx, metric, d, labels)
		return
	}

	qs.metricsCollector.RecordDuration(metric, d, labels)
}

// queryObserver encapsulates span, metrics and log handling of one one-shot query.
type queryObserver struct {
	qs    *QueryStore
	ctx   context.Context
	span  loader.SpanContext
	query string
	start time.Time
}

func (qs *QueryStore) startQueryObserver(ctx context.Context, query string) (*queryObserver, context.Context) {
	var span loader.SpanContext
	if qs.tracingCollector != nil {
		ctx, span = qs.tracingCollector.StartSpan(ctx, spanNameQuery, map[string]string{spanAttrQuery: query})
	}

	return &queryObserver{qs: qs, ctx: ctx, span: span, query: query, start: time.Now()}, ctx
}

func (o *queryObserver) success() {
	duration := time.Since(o.start)

	o.qs.recordDuration(o.ctx, metricQueryDuration, duration, map[string]string{labelStatus: statusSuccess})
	o.qs.logInfoContext(o.ctx, logMsgQueryCompleted, logAttrQuery, o.query, logAttrDurationMS, duration.Milliseconds())

	if o.span != nil {
		o.qs.tracingCollector.FinishSpan(o.span, statusSuccess, nil)
	}
}

func (o *queryObserver) refused(err error) {
	o.qs.incrementCounter(o.ctx, metricUnsafeContextErrors, nil)
	o.qs.logWarnContext(o.ctx, logMsgUnsafeContext, logAttrQuery, o.query, logAttrError, err.Error())

	if o.span != nil {
		o.span.AddAttribute(spanAttrErrorType, errorTypeUnsafeContext)
		o.qs.tracingCollector.FinishSpan(o.span, statusError, map[string]string{spanAttrErrorType: errorTypeUnsafeContext})
	}
}

func (o *queryObserver) failure(errorType string, err error) {
	o.qs.recordDuration(o.ctx, metricQueryDuration, time.Since(o.start), map[string]string{labelStatus: statusError})
	o.qs.logErrorContext(o.ctx, logMsgQueryFailed, err, logAttrQuery, o.query)

	if o.span != nil {
		o.span.AddAttribute(spanAttrErrorType, errorType)
		o.qs.tracingCollector.FinishSpan(o.span, statusError, map[string]string{spanAttrErrorType: errorType})
	}
}
