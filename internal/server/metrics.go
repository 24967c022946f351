package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsHandler exposes registry. A failing collector drops its own series
// rather than failing the scrape, and scrape counts land in the same registry.
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
		Registry:      registry,
	})
	return promhttp.InstrumentMetricHandler(registry, handler)
}
