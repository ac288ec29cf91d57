package testdoubles

import (
	"context"
	"maps"
	"sync"

	"github.com/AntonStoeckl/live-query-loader-go/loader"
)

// SpySpanContext is the loader.SpanContext handed out by TracingCollectorSpy.
type SpySpanContext struct {
	mu         sync.Mutex
	status     string
	attributes map[string]string
}

func (c *SpySpanContext) SetStatus(status string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.status = status
}

func (c *SpySpanContext) AddAttribute(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.attributes == nil {
		c.attributes = make(map[string]string)
	}
	c.attributes[key] = value
}

// Status returns the last status set on the span.
func (c *SpySpanContext) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.status
}

// Attributes returns a copy of the attributes added to the span.
func (c *SpySpanContext) Attributes() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return maps.Clone(c.attributes)
}

// SpySpanRecord represents one started span.
type SpySpanRecord struct {
	Name            string
	StartAttributes map[string]string
	Finished        bool
	Status          string
	EndAttributes   map[string]string
	Span            *SpySpanContext
}

// TracingCollectorSpy captures calls to loader.TracingCollector.
type TracingCollectorSpy struct {
	mu      sync.Mutex
	records []SpySpanRecord
}

// NewTracingCollectorSpy creates an empty TracingCollectorSpy.
func NewTracingCollectorSpy() *TracingCollectorSpy {
	return &TracingCollectorSpy{}
}

func (s *TracingCollectorSpy) StartSpan(
	ctx context.Context,
	name string,
	attrs map[string]string,
) (context.Context, loader.SpanContext) {
	s.mu.Lock()
	defer s.mu.Unlock()

	span := &SpySpanContext{}
	s.records = append(s.records, SpySpanRecord{
		Name:            name,
		StartAttributes: maps.Clone(attrs),
		Span:            span,
	})

	return ctx, span
}

func (s *TracingCollectorSpy) FinishSpan(spanCtx loader.SpanContext, status string, attrs map[string]string) {
	span, ok := spanCtx.(*SpySpanContext)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.records {
		if s.records[i].Span == span {
			s.records[i].Finished = true
			s.records[i].Status = status
			s.records[i].EndAttributes = maps.Clone(attrs)

			return
		}
	}
}

// Records returns a copy of all span records.
func (s *TracingCollectorSpy) Records() []SpySpanRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]SpySpanRecord(nil), s.records...)
}

// Find returns the first span with name.
func (s *TracingCollectorSpy) Find(name string) (SpySpanRecord, bool) {
	for _, record := range s.Records() {
		if record.Name == name {
			return record, true
		}
	}

	return SpySpanRecord{}, false
}

// CountSpans counts spans started with name.
func (s *TracingCollectorSpy) CountSpans(name string) int {
	count := 0
	for _, record := range s.Records() {
		if record.Name == name {
			count++
		}
	}

	return count
}

var _ loader.TracingCollector = (*TracingCollectorSpy)(nil)
