// Package telemetry installs the OpenTelemetry meter provider the
// coordinator's counters report to.
package telemetry

import (
	"context"
	"fmt"

	"github.com/dkeye/callsignal/internal/config"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Shutdown flushes and stops the meter provider.
type Shutdown func(context.Context) error

// NewMeterProvider builds an SDK provider around reader. Tests pass a
// manual reader; Init passes a periodic OTLP one.
func NewMeterProvider(ctx context.Context, serviceName string, reader sdkmetric.Reader) (*sdkmetric.MeterProvider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	), nil
}

// Init exports metrics over OTLP/gRPC to cfg.OTLPEndpoint and makes the
// provider global. With no endpoint nothing is installed and counters
// stay no-ops.
func Init(ctx context.Context, cfg config.MetricsConfig) (Shutdown, error) {
	if cfg.OTLPEndpoint == "" {
		log.Info().Str("module", "telemetry").Msg("metrics export disabled")
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	mp, err := NewMeterProvider(ctx, cfg.ServiceName,
		sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.Interval)))
	if err != nil {
		return nil, err
	}
	otel.SetMeterProvider(mp)

	log.Info().Str("module", "telemetry").Str("endpoint", cfg.OTLPEndpoint).
		Str("service", cfg.ServiceName).Dur("interval", cfg.Interval).Msg("OpenTelemetry metrics initialized")
	return mp.Shutdown, nil
}
