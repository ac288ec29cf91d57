package main

import (
	"context"
	"errors"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/AntonStoeckl/live-query-loader-go/loader/oteladapters"
)

const instrumentationName = "github.com/AntonStoeckl/live-query-loader-go/cmd/queryloader"

// telemetry holds the collectors handed to the stores. Both are nil when tracing is off.
type telemetry struct {
	tracing  *oteladapters.TracingCollector
	metrics  *oteladapters.MetricsCollector
	shutdown func(context.Context) error
}

// setupTelemetry installs a global tracer provider exporting to w, so the content client's
// HTTP spans and the loader's spans end up in the same trace.
func setupTelemetry(enabled bool, w io.Writer) (telemetry, error) {
	if !enabled {
		return telemetry{shutdown: func(context.Context) error { return nil }}, nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return telemetry{}, err
	}

	tracerProvider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	meterProvider := sdkmetric.NewMeterProvider()
	otel.SetTracerProvider(tracerProvider)
	otel.SetMeterProvider(meterProvider)

	return telemetry{
		tracing: oteladapters.NewTracingCollector(tracerProvider.Tracer(instrumentationName)),
		metrics: oteladapters.NewMetricsCollector(meterProvider.Meter(instrumentationName)),
		shutdown: func(ctx context.Context) error {
			return errors.Join(tracerProvider.Shutdown(ctx), meterProvider.Shutdown(ctx))
		},
	}, nil
}
