package loader

import (
	"errors"

	jsoniter "github.com/json-iterator/go"
)

// QueryParams maps query parameter names to scalar or JSON values.
type QueryParams = map[string]any

// DefaultParams is the shared empty parameter mapping used whenever no params are supplied.
// It must never be mutated.
var DefaultParams = QueryParams{}

// canonicalJSON sorts object keys at every nesting level and does not HTML-escape,
// so structurally equal params serialize to identical bytes.
var canonicalJSON = jsoniter.Config{
	SortMapKeys:            true,
	EscapeHTML:             false,
	ValidateJsonRawMessage: true,
}.Froze()

type cacheKeyDocument struct {
	Query  string      `json:"query"`
	Params QueryParams `json:"params"`
}

// CanonicalParams returns the canonical serialization of params, used as the subscription identity key.
// nil params serialize like DefaultParams.
func CanonicalParams(params QueryParams) (string, error) {
	if params == nil {
		params = DefaultParams
	}

	b, err := canonicalJSON.Marshal(params)
	if err != nil {
		return "", errors.Join(ErrEncodingParamsFailed, err)
	}

	return string(b), nil
}

// ParseCanonicalParams decodes a canonical params key back into a QueryParams mapping.
func ParseCanonicalParams(key string) (QueryParams, error) {
	params := QueryParams{}
	if err := canonicalJSON.UnmarshalFromString(key, &params); err != nil {
		return nil, errors.Join(ErrInvalidCacheKey, err)
	}

	return params, nil
}

// CacheKey serializes (query, params) into the key format expected by ResultCache.Fetch.
func CacheKey(query string, params QueryParams) (string, error) {
	if params == nil {
		params = DefaultParams
	}

	b, err := canonicalJSON.Marshal(cacheKeyDocument{Query: query, Params: params})
	if err != nil {
		return "", errors.Join(ErrEncodingParamsFailed, err)
	}

	return string(b), nil
}

// ParseCacheKey is the inverse of CacheKey.
func ParseCacheKey(key string) (string, QueryParams, error) {
	var doc cacheKeyDocument
	if err := canonicalJSON.UnmarshalFromString(key, &doc); err != nil {
		return "", nil, errors.Join(ErrInvalidCacheKey, err)
	}

	if doc.Query == "" {
		return "", nil, errors.Join(ErrInvalidCacheKey, ErrEmptyQuery)
	}

	if doc.Params == nil {
		doc.Params = QueryParams{}
	}

	return doc.Query, doc.Params, nil
}

// Encode serializes v with the canonical configuration.
func Encode(v any) (jsoniter.RawMessage, error) {
	b, err := canonicalJSON.Marshal(v)
	if err != nil {
		return nil, errors.Join(ErrEncodingParamsFailed, err)
	}

	return b, nil
}

// Decode deserializes data into a new R.
func Decode[R any](data jsoniter.RawMessage) (*R, error) {
	out := new(R)
	if len(data) == 0 {
		return out, nil
	}

	if err := canonicalJSON.Unmarshal(data, out); err != nil {
		return nil, errors.Join(ErrDecodingResultFailed, err)
	}

	return out, nil
}
