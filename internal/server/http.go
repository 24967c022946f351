package server

import (
	"context"
	"net/http"
	"time"

	"github.com/joshp123/homesafe/internal/core"
	"github.com/prometheus/client_golang/prometheus"
)

// HTTPServer serves health, metrics, and dashboards.
type HTTPServer struct {
	Server *http.Server
}

func NewHTTPServer(addr string, handler http.Handler) *HTTPServer {
	return &HTTPServer{Server: &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}}
}

func (s *HTTPServer) ListenAndServe() error {
	return s.Server.ListenAndServe()
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.Server.Shutdown(ctx)
}

// NewMux wires /health, /metrics, /dashboards/ and plugin HTTP handlers.
func NewMux(plugins []core.Plugin, registry *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/health", HealthHandler(plugins))
	mux.Handle("/metrics", MetricsHandler(registry))
	mux.Handle("/dashboards/", DashboardsHandler(core.DashboardsMap(plugins)))
	for _, p := range plugins {
		if registrant, ok := p.(core.HTTPRegistrant); ok {
			registrant.RegisterHTTP(mux)
		}
	}
	return mux
}
