// Package metrics exposes Prometheus counters for relayed and dropped
// analytics calls.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Recorder struct {
	registry *prometheus.Registry
	calls    *prometheus.CounterVec
	dropped  *prometheus.CounterVec
}

func New() *Recorder {
	registry := prometheus.NewRegistry()

	r := &Recorder{
		registry: registry,
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "analytical_calls_total",
			Help: "Analytics calls accepted by the relay, by provider and operation.",
		}, []string{"provider", "operation"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "analytical_dropped_calls_total",
			Help: "Analytics calls a provider discarded because the vendor cannot represent their input.",
		}, []string{"provider", "operation"}),
	}

	registry.MustRegister(
		r.calls,
		r.dropped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Recorder) Called(provider string, operation string) {
	r.calls.WithLabelValues(provider, operation).Inc()
}

// Dropped satisfies analytics.DropRecorder.
func (r *Recorder) Dropped(provider string, operation string) {
	r.dropped.WithLabelValues(provider, operation).Inc()
}

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
