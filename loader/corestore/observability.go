package corestore

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/AntonStoeckl/live-query-loader-go/loader"
)

const (
	logMsgStreamStarted      = "query stream started"
	logMsgStreamStopped      = "query stream stopped"
	logMsgFetchCompleted     = "fetch completed"
	logMsgFetchFailed        = "fetch failed"
	logMsgCacheHit           = "result cache hit"
	logMsgBackendLoadFailed  = "persistent cache load failed"
	logMsgBackendSaveFailed  = "persistent cache save failed"
	logMsgBackendOutdated    = "persisted result outdated"
	logMsgListenFailed       = "listening for mutations failed"
	logMsgMutationReceived   = "mutation received"
	logMsgLiveModeChanged    = "live mode changed"
	logMsgInvalidKey         = "cache key rejected"
	logAttrError             = "error"
	logAttrQuery             = "query"
	logAttrStreamID          = "stream_id"
	logAttrDurationMS        = "duration_ms"
	logAttrPerspective       = "perspective"
	logAttrSource            = "source"
	logAttrDocumentID        = "document_id"
	logAttrTransition        = "transition"
	logAttrLiveEnabled       = "live_enabled"
	metricFetchDuration      = "corestore_fetch_duration_seconds"
	metricCacheHits          = "corestore_cache_hits_total"
	metricCacheMisses        = "corestore_cache_misses_total"
	metricFetchErrors        = "corestore_fetch_errors_total"
	metricActiveStreams      = "corestore_active_streams"
	metricMutationsReceived  = "corestore_mutations_received_total"
	spanNameFetch            = "corestore.fetch"
	spanAttrOperation        = "operation"
	spanAttrPerspective      = "perspective"
	spanAttrSource           = "source"
	spanAttrErrorType        = "error_type"
	spanAttrDurationMS       = "duration_ms"
	operationFetch           = "fetch"
	operationLiveFetch       = "live_fetch"
	statusSuccess            = "success"
	statusError              = "error"
	sourceMemory             = "memory"
	sourceBackend            = "backend"
	sourceFetcher            = "fetcher"
	errorTypeFetch           = "fetch_error"
	errorTypeCanceled        = "canceled"
	labelOperation           = "operation"
	labelStatus              = "status"
	labelSource              = "source"
)

// toMilliseconds converts a time.Duration to float64 milliseconds with 3 decimal places.
func toMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}

func (s *Store) logDebug(ctx context.Context, msg string, args ...any) {
	if s.contextualLogger != nil {
		s.contextualLogger.DebugContext(ctx, msg, args...)
		return
	}

	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

func (s *Store) logInfo(ctx context.Context, msg string, args ...any) {
	if s.contextualLogger != nil {
		s.contextualLogger.InfoContext(ctx, msg, args...)
		return
	}

	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

func (s *Store) logWarn(ctx context.Context, msg string, err error, args ...any) {
	allArgs := append([]any{logAttrError, err.Error()}, args...)

	if s.contextualLogger != nil {
		s.contextualLogger.WarnContext(ctx, msg, allArgs...)
		return
	}

	if s.logger != nil {
		s.logger.Warn(msg, allArgs...)
	}
}

func (s *Store) logError(ctx context.Context, msg string, err error, args ...any) {
	allArgs := append([]any{logAttrError, err.Error()}, args...)

	if s.contextualLogger != nil {
		s.contextualLogger.ErrorContext(ctx, msg, allArgs...)
		return
	}

	if s.logger != nil {
		s.logger.Error(msg, allArgs...)
	}
}

// recordDuration records a duration metric, using the context-aware method if available.
func (s *Store) recordDuration(ctx context.Context, metric string, d time.Duration, labels map[string]string) {
	if s.metricsCollector == nil {
		return
	}

	if contextual, ok := s.metricsCollector.(loader.ContextualMetricsCollector); ok {
		contextual.RecordDurationContext(ctx, metric, d, labels)
		return
	}

	s.metricsCollector.RecordDuration(metric, d, labels)
}

// incrementCounter increments a counter metric, using the context-aware method if available.
func (s *Store) incrementCounter(ctx context.Context, metric string, labels map[string]string) {
	if s.metricsCollector == nil {
		return
	}

	if contextual, ok := s.metricsCollector.(loader.ContextualMetricsCollector); ok {
		contextual.IncrementCounterContext(ctx, metric, labels)
		return
	}

	s.metricsCollector.IncrementCounter(metric, labels)
}

func (s *Store) recordActiveStreams(count int) {
	if s.metricsCollector != nil {
		s.metricsCollector.RecordValue(metricActiveStreams, float64(count), nil)
	}
}

// === Fetch Observer ===

// fetchObserver encapsulates span, metrics and log handling of a single fetch.
type fetchObserver struct {
	s         *Store
	ctx       context.Context
	span      loader.SpanContext
	operation string
	query     string
	start     time.Time
}

func (s *Store) startFetchObserver(ctx context.Context, operation, query, perspective string) (*fetchObserver, context.Context) {
	var span loader.SpanContext
	if s.tracingCollector != nil {
		ctx, span = s.tracingCollector.StartSpan(ctx, spanNameFetch, map[string]string{
			spanAttrOperation:   operation,
			spanAttrPerspective: perspective,
		})
	}

	return &fetchObserver{s: s, ctx: ctx, span: span, operation: operation, query: query, start: time.Now()}, ctx
}

func (o *fetchObserver) success(source string) {
	duration := time.Since(o.start)

	o.s.recordDuration(o.ctx, metricFetchDuration, duration, map[string]string{
		labelOperation: o.operation,
		labelStatus:    statusSuccess,
		labelSource:    source,
	})

	if source == sourceFetcher {
		o.s.logInfo(o.ctx, logMsgFetchCompleted, logAttrQuery, o.query, logAttrDurationMS, toMilliseconds(duration))
	}

	if o.span != nil {
		o.span.AddAttribute(spanAttrSource, source)
		o.span.AddAttribute(spanAttrDurationMS, fmt.Sprintf("%.2f", toMilliseconds(duration)))
		o.s.tracingCollector.FinishSpan(o.span, statusSuccess, map[string]string{spanAttrSource: source})
	}
}

func (o *fetchObserver) failure(err error) {
	duration := time.Since(o.start)

	errorType := errorTypeFetch
	if o.ctx.Err() != nil {
		errorType = errorTypeCanceled
	}

	o.s.recordDuration(o.ctx, metricFetchDuration, duration, map[string]string{
		labelOperation: o.operation,
		labelStatus:    statusError,
		labelSource:    sourceFetcher,
	})
	o.s.incrementCounter(o.ctx, metricFetchErrors, map[string]string{
		labelOperation:    o.operation,
		spanAttrErrorType: errorType,
	})

	if errorType != errorTypeCanceled {
		o.s.logError(o.ctx, logMsgFetchFailed, err, logAttrQuery, o.query, logAttrDurationMS, toMilliseconds(duration))
	}

	if o.span != nil {
		o.span.AddAttribute(spanAttrErrorType, errorType)
		o.s.tracingCollector.FinishSpan(o.span, statusError, map[string]string{spanAttrErrorType: errorType})
	}
}
