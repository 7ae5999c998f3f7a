// Package metrics exposes pipeline health on the API mux for Prometheus
// scraping.
package metrics

import (
	"github.com/campipe/campipe/internal/api"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pipelineState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "campipe_pipeline_state",
		Help: "Current pipeline state (1 for the active state, 0 otherwise)",
	}, []string{"camera", "state"})

	pipelineEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campipe_pipeline_events_total",
		Help: "Pipeline lifecycle notifications by type",
	}, []string{"camera", "event"})

	packetsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campipe_packets_dropped_total",
		Help: "Packets discarded by the drop-on-latency policy",
	}, []string{"camera"})
)

var states = []string{
	"idle", "starting", "playing", "paused", "stopping", "stopped", "error",
}

func Init() {
	api.HandleFunc("metrics", promhttp.Handler().ServeHTTP)
}

// SetState - mark the camera's active state, clearing the others
func SetState(camera, state string) {
	for _, s := range states {
		v := 0.0
		if s == state {
			v = 1.0
		}
		pipelineState.WithLabelValues(camera, s).Set(v)
	}
}

func Event(camera, event string) {
	pipelineEvents.WithLabelValues(camera, event).Inc()
}

func DroppedAdd(camera string, n uint64) {
	packetsDropped.WithLabelValues(camera).Add(float64(n))
}

// RemoveCamera - drop all series for a deleted pipeline
func RemoveCamera(camera string) {
	pipelineState.DeletePartialMatch(prometheus.Labels{"camera": camera})
	pipelineEvents.DeletePartialMatch(prometheus.Labels{"camera": camera})
	packetsDropped.DeletePartialMatch(prometheus.Labels{"camera": camera})
}
