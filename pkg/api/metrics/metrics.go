// Package metrics provides the HTTP handler exposing Pi Manager's Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/henningd/pi-manager/pkg/metrics"
)

// Handler is an HTTP handle for serving metric data.
type Handler struct {
	Path    string
	Handle  http.Handler
	Metrics *metrics.Metrics
}

// New is a factory function creating a new Metrics instance.
// It serves the default Prometheus registry, where metrics.Default registers.
func New() *Handler {
	return &Handler{
		Path:    "GET /metrics",
		Handle:  promhttp.Handler(),
		Metrics: metrics.Default(),
	}
}
