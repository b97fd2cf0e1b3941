package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsConfig toggles the Prometheus scrape endpoint.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

var meterProvider *sdkmetric.MeterProvider

// InitMetrics installs a Prometheus-backed MeterProvider and returns an
// http.Handler to mount at cfg.Path ("/metrics" if empty). Returns nil,
// nil when disabled.
func InitMetrics(cfg MetricsConfig) (http.Handler, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	exporter, err := prometheus.New()
	if err != nil {
		return nil, err
	}
	meterProvider = sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	return promhttp.Handler(), nil
}

// Meter returns a named meter against whatever provider is installed;
// nil provider (metrics disabled) yields a meter from otel's no-op
// MeterProvider.
func Meter(name string) metric.Meter {
	if meterProvider == nil {
		return noop.NewMeterProvider().Meter(name)
	}
	return meterProvider.Meter(name)
}

// ShutdownMetrics flushes and closes the meter provider, if installed.
func ShutdownMetrics(ctx context.Context) error {
	if meterProvider == nil {
		return nil
	}
	return meterProvider.Shutdown(ctx)
}
