// Package metrics serves the console's Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voltgrid/opsconsole/pkg/application"
)

const defaultPath = "/debug/prometheus"

// PrometheusController serves the change request governance metrics on
// GET <path>, next to the Go runtime and process collectors:
//
//	governance_change_requests_transitions_total  entity_type, transition, result
//	governance_change_requests_rejections_total   reason
//	governance_apply_duration_seconds
//	governance_api_requests_total                 endpoint, result
//	governance_api_latency_seconds                endpoint
type PrometheusController struct {
	path     string
	gatherer prometheus.Gatherer
}

func NewPrometheusController(path string) application.Controller {
	return NewPrometheusControllerFor(path, prometheus.DefaultGatherer)
}

// NewPrometheusControllerFor serves gatherer instead of the default registry.
func NewPrometheusControllerFor(path string, gatherer prometheus.Gatherer) application.Controller {
	if path == "" {
		path = defaultPath
	}
	return &PrometheusController{path: path, gatherer: gatherer}
}

func (c *PrometheusController) Key() string {
	return c.path
}

func (c *PrometheusController) Register(r *mux.Router) {
	handler := promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{EnableOpenMetrics: true})
	r.Handle(c.path, handler).Methods(http.MethodGet)
}
