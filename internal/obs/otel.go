package obs

import (
	"context"
	"errors"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// Setup installs OTLP-backed global log and metric providers when
// OTEL_EXPORTER_OTLP_ENDPOINT is set, so otelslog loggers and otel
// meters export telemetry. Without an endpoint it is a no-op and the
// globals stay at their defaults. The returned shutdown flushes and
// stops the providers.
func Setup(ctx context.Context, service string) (func(context.Context) error, error) {
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") == "" {
		return func(context.Context) error { return nil }, nil
	}

	res := resource.NewSchemaless(attribute.String("service.name", service))

	logExp, err := otlploggrpc.New(ctx)
	if err != nil {
		return nil, err
	}
	logProvider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)),
		sdklog.WithResource(res),
	)
	global.SetLoggerProvider(logProvider)

	metricExp, err := otlpmetricgrpc.New(ctx)
	if err != nil {
		shutdownErr := logProvider.Shutdown(ctx)
		return nil, errors.Join(err, shutdownErr)
	}
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(meterProvider)

	return func(ctx context.Context) error {
		return errors.Join(meterProvider.Shutdown(ctx), logProvider.Shutdown(ctx))
	}, nil
}
