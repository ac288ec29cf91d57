// Package testdoubles provides spies for the loader observability interfaces.
//
// The spies record every call so tests can assert on log messages, metric names
// and labels, and span lifecycles without a real telemetry backend.
package testdoubles
