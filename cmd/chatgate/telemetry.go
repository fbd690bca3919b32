package main

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/ineyio/chatgate"
)

// setupTelemetry installs an OTLP-exporting meter provider as the global
// provider and returns it with its shutdown func. Without an endpoint the
// current global provider is returned unchanged.
func setupTelemetry(ctx context.Context, cfg chatgate.TelemetryConfig) (metric.MeterProvider, func(context.Context) error, error) {
	if cfg.OTLPEndpoint == "" {
		return otel.GetMeterProvider(), func(context.Context) error { return nil }, nil
	}

	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry: create metric exporter: %w", err)
	}

	mp := newMeterProvider(cfg, sdkmetric.NewPeriodicReader(exporter,
		sdkmetric.WithInterval(cfg.Interval),
	))
	otel.SetMeterProvider(mp)

	return mp, mp.Shutdown, nil
}

func newMeterProvider(cfg chatgate.TelemetryConfig, reader sdkmetric.Reader) *sdkmetric.MeterProvider {
	res := resource.NewSchemaless(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(version),
	)
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
}
