package instrumentation

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config controls the telemetry provider.
type Config struct {
	// Enabled turns metric collection on. Disabled means every recorder is
	// a no-op and no exporter is started.
	Enabled bool

	ServiceName    string
	ServiceVersion string
}

// ConfigFromEnv builds a Config from WORKSPACE_CLI_METRICS.
func ConfigFromEnv(serviceName, serviceVersion string) Config {
	return Config{
		Enabled:        os.Getenv("WORKSPACE_CLI_METRICS") == "true",
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
	}
}

// Provider encapsulates the OpenTelemetry meter provider. A short-lived CLI
// has nothing to scrape, so metrics are exported to stdout on shutdown for
// debugging runs.
type Provider struct {
	meterProvider *sdkmetric.MeterProvider
	metrics       *Metrics
	enabled       bool
}

// NewProvider creates a provider. With Enabled false it returns a no-op
// provider whose Metrics record nothing.
func NewProvider(ctx context.Context, config Config) (*Provider, error) {
	if !config.Enabled {
		return &Provider{metrics: &Metrics{}}, nil
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(config.ServiceName),
		semconv.ServiceVersion(config.ServiceVersion),
		attribute.String("process.runtime", "cli"),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := stdoutmetric.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout metric exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
	)
	otel.SetMeterProvider(mp)

	metrics, err := NewMetrics(mp.Meter(config.ServiceName))
	if err != nil {
		_ = mp.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create metrics recorder: %w", err)
	}

	return &Provider{
		meterProvider: mp,
		metrics:       metrics,
		enabled:       true,
	}, nil
}

// Metrics returns the recorder. Never nil.
func (p *Provider) Metrics() *Metrics {
	return p.metrics
}

// Enabled reports whether telemetry collection is active.
func (p *Provider) Enabled() bool {
	return p.enabled
}

// Shutdown flushes pending metrics.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.meterProvider == nil {
		return nil
	}
	return p.meterProvider.Shutdown(ctx)
}
