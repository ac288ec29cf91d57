package loader

import (
	"errors"
)

var ErrEmptyQuery = errors.New("query must not be empty")
var ErrNilExternalStore = errors.New("nil external store supplied")
var ErrNilFetcher = errors.New("nil fetcher supplied")
var ErrNilDatabaseConnection = errors.New("nil database connection supplied")
var ErrEmptyCacheTableName = errors.New("empty cache table name supplied")
var ErrInvalidHostConfig = errors.New("invalid host configuration")

var (
	// ErrEncodingParamsFailed is returned when query parameters can't be serialized to JSON.
	ErrEncodingParamsFailed = errors.New("encoding query params failed")

	// ErrInvalidCacheKey is returned when a serialized cache key can't be parsed back.
	ErrInvalidCacheKey = errors.New("cache key is not valid")

	// ErrDecodingResultFailed is returned when a query result can't be decoded into the requested type.
	ErrDecodingResultFailed = errors.New("decoding query result failed")

	// ErrFetchingResultFailed is returned when the fetcher could not produce a result.
	ErrFetchingResultFailed = errors.New("fetching query result failed")

	// ErrBuildingQueryFailed is returned when building a SQL statement fails.
	ErrBuildingQueryFailed = errors.New("building query failed")

	// ErrLoadingCachedResultFailed is returned when a persisted result could not be loaded.
	ErrLoadingCachedResultFailed = errors.New("loading cached result failed")

	// ErrSavingCachedResultFailed is returned when a result could not be persisted.
	ErrSavingCachedResultFailed = errors.New("saving cached result failed")

	// ErrDeletingCachedResultFailed is returned when persisted results could not be deleted.
	ErrDeletingCachedResultFailed = errors.New("deleting cached result failed")
)

// ErrUnsafeContext is matched by every UnsafeContextError via errors.Is.
var ErrUnsafeContext = errors.New("query called from a browser document context")

const unsafeContextGuidance = "Cannot use `query` in a browser environment, you should use it inside a loader, " +
	"a server-side data loading handler, or a server-rendered component."

// UnsafeContextError is returned by the one-shot query when it is invoked from a
// browser document context. It is raised before any cache or network access.
type UnsafeContextError struct {
	Guidance string
}

// NewUnsafeContextError builds an UnsafeContextError with the default guidance.
func NewUnsafeContextError() *UnsafeContextError {
	return &UnsafeContextError{Guidance: unsafeContextGuidance}
}

func (e *UnsafeContextError) Error() string {
	if e == nil || e.Guidance == "" {
		return ErrUnsafeContext.Error()
	}

	return ErrUnsafeContext.Error() + ": " + e.Guidance
}

// Is makes errors.Is(err, ErrUnsafeContext) work.
func (e *UnsafeContextError) Is(target error) bool {
	return target == ErrUnsafeContext
}

// StreamError wraps a failure that is delivered as snapshot data instead of being returned or thrown.
type StreamError struct {
	Query string
	Cause error
}

func (e *StreamError) Error() string {
	if e.Cause == nil {
		return "query stream failed"
	}

	return "query stream failed: " + e.Cause.Error()
}

func (e *StreamError) Unwrap() error {
	return e.Cause
}
