package main

import (
	"errors"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/AntonStoeckl/live-query-loader-go/loader"
)

var errInvalidParam = errors.New("query parameter must look like name=value")

// parseParams turns repeated name=value flags into query params.
// Values that parse as JSON keep their JSON type, anything else is a string.
func parseParams(pairs []string) (loader.QueryParams, error) {
	params := loader.QueryParams{}

	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: %q", errInvalidParam, pair)
		}

		var value any
		if err := jsoniter.UnmarshalFromString(raw, &value); err != nil {
			value = raw
		}

		params[name] = value
	}

	return params, nil
}
