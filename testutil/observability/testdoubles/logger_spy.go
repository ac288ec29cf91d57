package testdoubles

import (
	"context"
	"sync"

	"github.com/AntonStoeckl/live-query-loader-go/loader"
)

// Log levels recorded by LoggerSpy.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// SpyLogRecord represents a recorded log call.
type SpyLogRecord struct {
	Level   string
	Message string
	Args    []any
	Context context.Context // nil for calls through the plain Logger methods
}

// Attr returns the value logged for key.
func (r SpyLogRecord) Attr(key string) (any, bool) {
	for i := 0; i+1 < len(r.Args); i += 2 {
		if k, ok := r.Args[i].(string); ok && k == key {
			return r.Args[i+1], true
		}
	}

	return nil, false
}

// LoggerSpy captures calls to both loader.Logger and loader.ContextualLogger.
type LoggerSpy struct {
	mu      sync.Mutex
	records []SpyLogRecord
}

// NewLoggerSpy creates an empty LoggerSpy.
func NewLoggerSpy() *LoggerSpy {
	return &LoggerSpy{}
}

func (s *LoggerSpy) record(ctx context.Context, level, msg string, args []any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, SpyLogRecord{
		Level:   level,
		Message: msg,
		Args:    append([]any(nil), args...),
		Context: ctx,
	})
}

func (s *LoggerSpy) Debug(msg string, args ...any) { s.record(nil, LevelDebug, msg, args) }
func (s *LoggerSpy) Info(msg string, args ...any)  { s.record(nil, LevelInfo, msg, args) } 
func (s *LoggerSpy) Warn(msg string, args ...any)  { s.record(nil, LevelWarn, msg, args) } 
func (s *LoggerSpy) Error(msg string, args ...any) { s.record(nil, LevelError, msg, args) }

func (s *LoggerSpy) DebugContext(ctx context.Context, msg string, args ...any) {
	s.record(ctx, LevelDebug, msg, args)
}

func (s *LoggerSpy) InfoContext(ctx context.Context, msg string, args ...any) {
	s.record(ctx, LevelInfo, msg, args)
}

func (s *LoggerSpy) WarnContext(ctx context.Context, msg string, args ...any) {
	s.record(ctx, LevelWarn, msg, args)
}

func (s *LoggerSpy) ErrorContext(ctx context.Context, msg string, args ...any) {
	s.record(ctx, LevelError, msg, args)
}

// Records returns a copy of all recorded calls.
func (s *LoggerSpy) Records() []SpyLogRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]SpyLogRecord(nil), s.records...)
}

// Reset clears all recorded calls.
func (s *LoggerSpy) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = nil
}

// Find returns the first record with the given level and message.
func (s *LoggerSpy) Find(level, message string) (SpyLogRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, record := range s.records {
		if record.Level == level && record.Message == message {
			return record, true
		}
	}

	return SpyLogRecord{}, false
}

// HasDebugLog checks if a debug log with the specified message exists.
func (s *LoggerSpy) HasDebugLog(message string) bool {
	_, ok := s.Find(LevelDebug, message)
	return ok
}

// HasInfoLog checks if an info log with the specified message exists.
func (s *LoggerSpy) HasInfoLog(message string) bool {
	_, ok := s.Find(LevelInfo, message)
	return ok
}

// HasWarnLog checks if a warn log with the specified message exists.
func (s *LoggerSpy) HasWarnLog(message string) bool {
	_, ok := s.Find(LevelWarn, message)
	return ok
}

// HasErrorLog checks if an error log with the specified message exists.
func (s *LoggerSpy) HasErrorLog(message string) bool {
	_, ok := s.Find(LevelError, message)
	return ok
}

var (
	_ loader.Logger           = (*LoggerSpy)(nil)
	_ loader.ContextualLogger = (*LoggerSpy)(nil)
)
