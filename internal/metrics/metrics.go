package metrics

import (
	"context"
	"fmt"
	"net/http"
	"reflect"

	prometheus2 "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	api "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

// DefaultEndpoint is where the Prometheus handler is mounted.
const DefaultEndpoint = "/metrics"

// Metrics owns the meter provider and the Prometheus registry it exports to.
type Metrics struct {
	Meter    api.Meter
	Endpoint string

	provider *metric.MeterProvider
	registry *prometheus2.Registry
}

// New creates a meter provider backed by a private Prometheus registry, so
// several instances can live in one process (tests).
func New(endpoint string) (*Metrics, error) {
	registry := prometheus2.NewRegistry()

	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("prometheus exporter: %w", err)
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))

	pkg := reflect.TypeOf(Metrics{}).PkgPath()
	meter := provider.Meter(pkg)

	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	return &Metrics{
		Meter:    meter,
		Endpoint: endpoint,
		provider: provider,
		registry: registry,
	}, nil
}

// Handler serves the collected metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Shutdown flushes and stops the meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if err := m.provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("meter provider: %w", err)
	}
	return nil
}
