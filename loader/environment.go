package loader

import "context"

// RenderEnvironment tells whether code runs on the server or inside a browser document.
type RenderEnvironment int

const (
	// ServerEnvironment is the default: server-side data loading where one-shot queries are allowed.
	ServerEnvironment RenderEnvironment = iota

	// BrowserEnvironment marks client rendering with a browser document available.
	// One-shot queries are refused there.
	BrowserEnvironment
)

// contextKey is a private type to prevent context key collisions.
type contextKey string

// RenderEnvironmentKey is the context key used to store the render environment.
const RenderEnvironmentKey contextKey = "loader.render_environment"

// WithBrowserEnvironment returns a context that signals a browser document is present.
//
// Example usage:
//
//	ctx = loader.WithBrowserEnvironment(ctx)
//	_, err := qs.QueryRaw(ctx, query, nil) // err matches loader.ErrUnsafeContext
func WithBrowserEnvironment(ctx context.Context) context.Context {
	return context.WithValue(ctx, RenderEnvironmentKey, BrowserEnvironment)
}

// WithServerEnvironment returns a context that signals server-side execution.
func WithServerEnvironment(ctx context.Context) context.Context {
	return context.WithValue(ctx, RenderEnvironmentKey, ServerEnvironment)
}

// GetRenderEnvironment extracts the render environment from the context.
// If none is set, it returns ServerEnvironment.
func GetRenderEnvironment(ctx context.Context) RenderEnvironment {
	if ctx == nil {
		return ServerEnvironment
	}

	if env, ok := ctx.Value(RenderEnvironmentKey).(RenderEnvironment); ok {
		return env
	}

	return ServerEnvironment
}

// HasDocument reports whether ctx carries a browser document context.
func HasDocument(ctx context.Context) bool {
	return GetRenderEnvironment(ctx) == BrowserEnvironment
}

// String provides a string representation of RenderEnvironment for logging and debugging.
func (e RenderEnvironment) String() string {
	switch e {
	case ServerEnvironment:
		return "server"
	case BrowserEnvironment:
		return "browser"
	default:
		return "unknown"
	}
}
