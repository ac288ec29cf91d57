package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/live-query-loader-go/loader"
)

func Test_parseParams_KeepsJSONTypes(t *testing.T) {
	// act
	params, err := parseParams([]string{
		`slug=hello`,
		`quoted="hello"`,
		`limit=10`,
		`draft=false`,
		`tags=["a","b"]`,
		`empty=`,
		`expr=a=b`,
	})

	// assert
	require.NoError(t, err)
	assert.Equal(t, loader.QueryParams{
		"slug":   "hello",
		"quoted": "hello",
		"limit":  float64(10),
		"draft":  false,
		"tags":   []any{"a", "b"},
		"empty":  "",
		"expr":   "a=b",
	}, params)
}

func Test_parseParams_When_PairIsMalformed_Fails(t *testing.T) {
	for _, pair := range []string{"noequals", "=value"} {
		t.Run(pair, func(t *testing.T) {
			_, err := parseParams([]string{pair})

			assert.ErrorIs(t, err, errInvalidParam)
		})
	}
}

func Test_parseParams_When_NoPairs_ReturnsEmptyParams(t *testing.T) {
	params, err := parseParams(nil)

	require.NoError(t, err)
	assert.Empty(t, params)
}
