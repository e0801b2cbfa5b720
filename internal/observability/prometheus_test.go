package observability_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/Candlest/seele/internal/observability"
)

func TestPrometheusHandler_ServesMetrics(t *testing.T) {
	t.Parallel()

	_, registry, err := observability.NewPrometheusReader()
	require.NoError(t, err)

	handler := observability.PrometheusHandler(registry)

	req := httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	// Prometheus exposition format uses text/plain with version parameter.
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
}

func TestPrometheusHandler_ContainsTargetInfo(t *testing.T) {
	t.Parallel()

	_, registry, err := observability.NewPrometheusReader()
	require.NoError(t, err)

	handler := observability.PrometheusHandler(registry)

	req := httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	// The OTel Prometheus exporter includes target_info with SDK metadata.
	body := rec.Body.String()
	assert.Contains(t, body, "target_info")
}

// TestPrometheusHandler_ReflectsRecordedInstrument guards against the
// reader and the registry coming from two unrelated calls: an instrument
// recorded through a MeterProvider built with the reader must show up when
// scraping the matching registry.
func TestPrometheusHandler_ReflectsRecordedInstrument(t *testing.T) {
	t.Parallel()

	reader, registry, err := observability.NewPrometheusReader()
	require.NoError(t, err)

	meterProvider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = meterProvider.Shutdown(context.Background()) })

	counter, err := meterProvider.Meter("seele.test").Int64Counter("seele_test_hits_total")
	require.NoError(t, err)

	counter.Add(context.Background(), 1)

	handler := observability.PrometheusHandler(registry)

	req := httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Contains(t, rec.Body.String(), "seele_test_hits_total")
}
