package loader

import (
	jsoniter "github.com/json-iterator/go"
)

// SourceMap is an opaque content source map as returned by the content API.
// A nil SourceMap means "undefined".
type SourceMap = jsoniter.RawMessage

// RawSnapshot is the untyped query result state pushed by an ExternalStore.
// A nil Data means "undefined".
type RawSnapshot struct {
	Loading   bool
	Data      jsoniter.RawMessage
	Error     error
	SourceMap SourceMap
}

// Snapshot is the typed query result state owned by a query binding.
//
// While Loading is true, Data and SourceMap hold the hydration seeds (or nil).
// Once Loading is false, exactly one of Data and Error is set.
type Snapshot[R any] struct {
	Loading   bool
	Data      *R
	Error     error
	SourceMap SourceMap
}

// LoadingRawSnapshot builds the placeholder snapshot for a query that has not produced a result yet.
func LoadingRawSnapshot(initialData jsoniter.RawMessage, initialSourceMap SourceMap) RawSnapshot {
	return RawSnapshot{
		Loading:   true,
		Data:      initialData,
		SourceMap: initialSourceMap,
	}
}

// LiveModeState describes whether the consumer is in "live preview" mode.
type LiveModeState struct {
	Enabled      bool
	Connected    bool
	StudioOrigin string
}

// Envelope is the result of a cache-backed fetch: the query result plus its optional source map.
type Envelope struct {
	Result    jsoniter.RawMessage
	SourceMap SourceMap
}

// Perspective values understood by the content API.
const (
	PerspectiveRaw           = "raw"
	PerspectivePublished     = "published"
	PerspectivePreviewDrafts = "previewDrafts"
)

// FetchRequest is a single query execution request handed to a Fetcher.
type FetchRequest struct {
	Query           string
	Params          QueryParams
	Perspective     string
	ResultSourceMap bool
}

// MutationEvent is a change notification for documents matched by a listened query.
type MutationEvent struct {
	Type       string
	EventID    string
	DocumentID string
	Transition string
}
