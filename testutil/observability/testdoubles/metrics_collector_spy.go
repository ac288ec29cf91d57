package testdoubles

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/AntonStoeckl/live-query-loader-go/loader"
)

// Metric kinds recorded by MetricsCollectorSpy.
const (
	KindDuration = "duration"
	KindCounter  = "counter"
	KindValue    = "value"
)

// SpyMetricRecord represents a recorded metric call.
type SpyMetricRecord struct {
	Kind        string
	Metric      string
	Duration    time.Duration
	Value       float64
	Labels      map[string]string
	WithContext bool
}

// MetricsCollectorSpy captures calls to loader.ContextualMetricsCollector.
type MetricsCollectorSpy struct {
	mu          sync.Mutex
	records     []SpyMetricRecord
	recordCalls bool
}

// NewMetricsCollectorSpy creates a MetricsCollectorSpy.
// Set recordCalls to true to capture all calls for inspection in tests.
func NewMetricsCollectorSpy(recordCalls bool) *MetricsCollectorSpy {
	return &MetricsCollectorSpy{recordCalls: recordCalls}
}

func (s *MetricsCollectorSpy) add(record SpyMetricRecord) {
	if !s.recordCalls {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record.Labels = maps.Clone(record.Labels)
	s.records = append(s.records, record)
}

func (s *MetricsCollectorSpy) RecordDuration(metric string, duration time.Duration, labels map[string]string) {
	s.add(SpyMetricRecord{Kind: KindDuration, Metric: metric, Duration: duration, Labels: labels})
}

func (s *MetricsCollectorSpy) IncrementCounter(metric string, labels map[string]string) {
	s.add(SpyMetricRecord{Kind: KindCounter, Metric: metric, Labels: labels})
}

func (s *MetricsCollectorSpy) RecordValue(metric string, value float64, labels map[string]string) {
	s.add(SpyMetricRecord{Kind: KindValue, Metric: metric, Value: value, Labels: labels})
}

func (s *MetricsCollectorSpy) RecordDurationContext(
	_ context.Context,
	metric string,
	duration time.Duration,
	labels map[string]string,
) {
	s.add(SpyMetricRecord{Kind: KindDuration, Metric: metric, Duration: duration, Labels: labels, WithContext: true})
}

func (s *MetricsCollectorSpy) IncrementCounterContext(_ context.Context, metric string, labels map[string]string) {
	s.add(SpyMetricRecord{Kind: KindCounter, Metric: metric, Labels: labels, WithContext: true})
}

func (s *MetricsCollectorSpy) RecordValueContext(
	_ context.Context,
	metric string,
	value float64,
	labels map[string]string,
) {
	s.add(SpyMetricRecord{Kind: KindValue, Metric: metric, Value: value, Labels: labels, WithContext: true})
}

// Records returns a copy of all recorded calls.
func (s *MetricsCollectorSpy) Records() []SpyMetricRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]SpyMetricRecord(nil), s.records...)
}

// Reset clears all recorded calls.
func (s *MetricsCollectorSpy) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = nil
}

// Count returns how many calls of kind were recorded for metric.
func (s *MetricsCollectorSpy) Count(kind, metric string) int {
	count := 0
	for _, record := range s.Records() {
		if record.Kind == kind && record.Metric == metric {
			count++
		}
	}

	return count
}

// HasDurationRecord checks if a duration was recorded for metric.
func (s *MetricsCollectorSpy) HasDurationRecord(metric string) bool {
	return s.Count(KindDuration, metric) > 0
}

// HasCounterRecord checks if a counter was incremented for metric.
func (s *MetricsCollectorSpy) HasCounterRecord(metric string) bool {
	return s.Count(KindCounter, metric) > 0
}

// HasValueRecord checks if a value was recorded for metric.
func (s *MetricsCollectorSpy) HasValueRecord(metric string) bool {
	return s.Count(KindValue, metric) > 0
}

// MetricRecordMatcher provides a fluent interface for checking metric records.
type MetricRecordMatcher struct {
	candidates []SpyMetricRecord
}

// HasRecordForMetric starts a fluent chain over all records of kind for metric.
func (s *MetricsCollectorSpy) HasRecordForMetric(kind, metric string) *MetricRecordMatcher {
	m := &MetricRecordMatcher{}
	for _, record := range s.Records() {
		if record.Kind == kind && record.Metric == metric {
			m.candidates = append(m.candidates, record)
		}
	}

	return m
}

// WithLabel keeps only records carrying label key with value.
func (m *MetricRecordMatcher) WithLabel(key, value string) *MetricRecordMatcher {
	kept := m.candidates[:0:0]
	for _, record := range m.candidates {
		if record.Labels[key] == value {
			kept = append(kept, record)
		}
	}
	m.candidates = kept

	return m
}

// Assert returns true if at least one record matched the chain.
func (m *MetricRecordMatcher) Assert() bool {
	return len(m.candidates) > 0
}

var _ loader.ContextualMetricsCollector = (*MetricsCollectorSpy)(nil)
