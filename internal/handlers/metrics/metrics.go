// Package metrics implements the Prometheus façade (spec.md §6, §7):
// per-command error counters, a frame-rate gauge, and a subscriber-drop
// counter, exposed at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the gateway's exported metrics.
type Registry struct {
	CommandErrors   *prometheus.CounterVec
	FrameRate       prometheus.Gauge
	SubscriberDrops prometheus.Counter
}

// NewRegistry constructs and registers the gateway's metrics on reg (pass
// prometheus.DefaultRegisterer in production, a fresh registry in tests).
func NewRegistry(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		CommandErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dmxgateway",
			Name:      "command_errors_total",
			Help:      "Count of remote command errors by command name and status.",
		}, []string{"command", "status"}),
		FrameRate: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "dmxgateway",
			Name:      "frame_rate_fps",
			Help:      "Last observed frame rate reported by the real-time engine.",
		}),
		SubscriberDrops: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dmxgateway",
			Name:      "subscriber_drops_total",
			Help:      "Count of broadcast deltas dropped due to a full subscriber queue.",
		}),
	}
}

// Handler returns the promhttp handler to mount at /metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
