package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

func TestMetricsMiddleware_RecordsRouteTemplates(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))

	m := &HTTPMetrics{meter: mp.Meter(httpInstrumentationName), logger: zap.NewNop()}
	m.init()

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/api/v1/tenants/:tenant", func(c echo.Context) error {
		return c.String(http.StatusOK, c.Param("tenant"))
	})

	for _, path := range []string{"/api/v1/tenants/acme", "/api/v1/tenants/globex"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var requests *metricdata.Sum[int64]
	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, mt := range sm.Metrics {
			names[mt.Name] = true
			if mt.Name == "orgrag.http.requests_total" {
				sum, ok := mt.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				requests = &sum
			}
		}
	}

	assert.True(t, names["orgrag.http.request_duration_seconds"])
	assert.True(t, names["orgrag.http.response_size_bytes"])
	assert.True(t, names["orgrag.http.active_requests"])
	require.NotNil(t, requests)
	require.Len(t, requests.DataPoints, 1, "both tenants share one route label")

	dp := requests.DataPoints[0]
	assert.EqualValues(t, 2, dp.Value)
	route, ok := dp.Attributes.Value(attribute.Key("route"))
	require.True(t, ok)
	assert.Equal(t, "/api/v1/tenants/:tenant", route.AsString())
}

func TestRouteLabel(t *testing.T) {
	assert.Equal(t, "unmatched", routeLabel(""))
	assert.Equal(t, "/health", routeLabel("/health"))
}
