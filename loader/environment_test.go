package loader_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AntonStoeckl/live-query-loader-go/loader"
)

func Test_GetRenderEnvironment(t *testing.T) {
	tests := []struct {
		name     string
		ctx      context.Context
		expected loader.RenderEnvironment
	}{
		{name: "default is server", ctx: context.Background(), expected: loader.ServerEnvironment},
		{name: "nil context is server", ctx: nil, expected: loader.ServerEnvironment},
		{name: "browser", ctx: loader.WithBrowserEnvironment(context.Background()), expected: loader.BrowserEnvironment},
		{
			name:     "server overrides browser",
			ctx:      loader.WithServerEnvironment(loader.WithBrowserEnvironment(context.Background())),
			expected: loader.ServerEnvironment,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, loader.GetRenderEnvironment(tt.ctx))
		})
	}
}

func Test_HasDocument(t *testing.T) {
	assert.False(t, loader.HasDocument(context.Background()))
	assert.True(t, loader.HasDocument(loader.WithBrowserEnvironment(context.Background())))
}

func Test_RenderEnvironment_String(t *testing.T) {
	assert.Equal(t, "server", loader.ServerEnvironment.String())
	assert.Equal(t, "browser", loader.BrowserEnvironment.String())
	assert.Equal(t, "unknown", loader.RenderEnvironment(42).String())
}
