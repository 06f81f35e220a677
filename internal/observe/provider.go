// Package observe exposes the loopback counters as OpenTelemetry metrics.
// A Prometheus exporter bridge backs the /metrics endpoint of the status
// server. Tests pass their own [metric.MeterProvider] to [RegisterEngine].
package observe

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const serviceName = "delayloop"

// Provider owns the meter provider and the Prometheus registry it exports to
type Provider struct {
	registry *prometheus.Registry
	mp       *sdkmetric.MeterProvider
}

// NewProvider builds a meter provider exporting to a private Prometheus
// registry. Nothing is registered globally, so several providers can coexist
// in one process.
func NewProvider(version string) (*Provider, error) {
	res, err := resource.Merge(
		resource.Default(),
		// Must stay schemaless: resource.Default carries the SDK's schema URL
		// and Merge rejects a different one.
		resource.NewSchemaless(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	exporter, err := promexporter.New(promexporter.WithRegisterer(registry))
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	return &Provider{registry: registry, mp: mp}, nil
}

// MeterProvider returns the provider instruments are created from
func (p *Provider) MeterProvider() metric.MeterProvider {
	return p.mp
}

// Handler serves the registry in the Prometheus text format
func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the meter provider
func (p *Provider) Shutdown(ctx context.Context) error {
	if err := p.mp.Shutdown(ctx); err != nil && !errors.Is(err, sdkmetric.ErrReaderShutdown) {
		return err
	}
	return nil
}
