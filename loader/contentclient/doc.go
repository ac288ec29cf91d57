// Package contentclient is a small HTTP client for the content query API.
//
// Client implements loader.Fetcher against the query endpoint and loader.MutationSource
// against the listen endpoint (server-sent events). Requests go through an
// OpenTelemetry-instrumented transport unless WithHTTPClient supplies another client.
package contentclient
