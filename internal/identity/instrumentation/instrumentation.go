// Package instrumentation exposes engine metrics through OpenTelemetry with a Prometheus exporter.
package instrumentation

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "github.com/aussiebroadwan/nativeid/identity"

type Config struct {
	ServiceName string

	// Enabled controls whether instruments record. When false a no-op provider is used.
	Enabled bool
}

type Instrumentation struct {
	provider metric.MeterProvider
	registry *prometheus.Registry
	metrics  *Metrics

	shutdown     func(context.Context) error
	shutdownOnce sync.Once
}

// New builds a meter provider exporting to a dedicated Prometheus registry.
func New(cfg Config) (*Instrumentation, error) {
	if !cfg.Enabled {
		return newWithProvider(noop.NewMeterProvider(), nil, nil)
	}

	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	return newWithProvider(provider, registry, provider.Shutdown)
}

// NewWithReader wires the SDK to an arbitrary reader, e.g. a ManualReader in tests.
func NewWithReader(reader sdkmetric.Reader) (*Instrumentation, error) {
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return newWithProvider(provider, nil, provider.Shutdown)
}

func newWithProvider(p metric.MeterProvider, reg *prometheus.Registry, shutdown func(context.Context) error) (*Instrumentation, error) {
	m, err := newMetrics(p.Meter(meterName))
	if err != nil {
		return nil, err
	}
	return &Instrumentation{provider: p, registry: reg, metrics: m, shutdown: shutdown}, nil
}

func (i *Instrumentation) Metrics() *Metrics { return i.metrics }

func (i *Instrumentation) MeterProvider() metric.MeterProvider { return i.provider }

// Handler serves the Prometheus exposition format, or 404 when metrics are disabled.
func (i *Instrumentation) Handler() http.Handler {
	if i.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(i.registry, promhttp.HandlerOpts{})
}

func (i *Instrumentation) Shutdown(ctx context.Context) error {
	var err error
	i.shutdownOnce.Do(func() {
		if i.shutdown != nil {
			err = i.shutdown(ctx)
		}
	})
	return err
}
