package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// NewPrometheusReader creates a Prometheus exporter usable as an OTel
// sdkmetric.Reader and the registry it populates. Pass the reader to
// sdkmetric.WithReader on the MeterProvider that produces the instruments
// you want scraped, and pass the registry to PrometheusHandler to serve
// exactly those readings — the two must come from the same call so the
// scrape endpoint isn't reading an empty, disconnected registry.
func NewPrometheusReader() (sdkmetric.Reader, *prometheus.Registry, error) {
	registry := prometheus.NewRegistry()

	exporter, err := promexporter.New(
		promexporter.WithRegisterer(registry),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	return exporter, registry, nil
}

// PrometheusHandler returns an [http.Handler] serving the /metrics scrape
// endpoint for the instruments collected into registry.
func PrometheusHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
