// Package metrics wires together the process-wide Prometheus registry
// and exposes the /metrics HTTP handler. Individual subsystems
// (internal/walog, internal/ingest) own their own counters and
// register against the Registerer handed to them at construction.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles a Prometheus registry with its HTTP handler.
type Registry struct {
	*prometheus.Registry
}

// New creates a registry pre-populated with the standard Go runtime
// and process collectors.
func New() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Registry{Registry: reg}
}

// Handler returns the HTTP handler serving this registry's metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.Registry, promhttp.HandlerOpts{})
}
