// Package metrics exposes service counters and timings to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/uktrade/tamato/internal/app"
	"github.com/uktrade/tamato/internal/domain"
)

const namespace = "tamato"

var _ app.Metrics = (*Recorder)(nil)

// Recorder implements app.Metrics over a private registry.
type Recorder struct {
	registry    *prometheus.Registry
	transitions *prometheus.CounterVec
	versions    *prometheus.CounterVec
	queries     *prometheus.HistogramVec
}

// New registers the service collectors plus Go and process collectors.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workbasket_transitions_total",
			Help:      "Workbasket status transitions by source and target status.",
		}, []string{"from", "to"}),
		versions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "versions_recorded_total",
			Help:      "Versions recorded by kind and update type.",
		}, []string{"kind", "update_type"}),
		queries: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Version query latency by lens.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"lens"}),
	}
	r.registry.MustRegister(
		r.transitions,
		r.versions,
		r.queries,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// ObserveTransition counts one workbasket transition.
func (r *Recorder) ObserveTransition(from, to domain.WorkbasketStatus) {
	r.transitions.WithLabelValues(string(from), string(to)).Inc()
}

// ObserveVersions counts recorded versions.
func (r *Recorder) ObserveVersions(kind domain.Kind, update domain.UpdateType, n int) {
	r.versions.WithLabelValues(string(kind), string(update)).Add(float64(n))
}

// ObserveQuery records one query duration.
func (r *Recorder) ObserveQuery(lens string, seconds float64) {
	r.queries.WithLabelValues(lens).Observe(seconds)
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
