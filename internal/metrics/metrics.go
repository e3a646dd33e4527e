// Package metrics exposes Prometheus metrics for the supervisor.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the daemon's metrics.
type Registry struct {
	reg *prometheus.Registry

	// ConnectivityState is a one-hot gauge vector over the supervisor
	// states; exactly one label carries 1 at any time.
	ConnectivityState *prometheus.GaugeVec
	Transitions       *prometheus.CounterVec
	ProbeFailures     prometheus.Counter
	JoinAttempts      *prometheus.CounterVec
	APStarts          *prometheus.CounterVec
	TickPanics        prometheus.Counter
}

// NewRegistry creates and registers all metrics.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Registry{
		reg: reg,
		ConnectivityState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "netkeeper_connectivity_state",
			Help: "Current supervisor state (one-hot over the state label).",
		}, []string{"state"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netkeeper_transitions_total",
			Help: "State transitions performed by the supervisor.",
		}, []string{"from", "to"}),
		ProbeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netkeeper_probe_failures_total",
			Help: "Connectivity probes that reported not connected.",
		}),
		JoinAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netkeeper_join_attempts_total",
			Help: "Join attempts by result.",
		}, []string{"result"}),
		APStarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netkeeper_ap_starts_total",
			Help: "Access point start attempts by result.",
		}, []string{"result"}),
		TickPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netkeeper_tick_panics_total",
			Help: "Panics recovered at the tick boundary.",
		}),
	}

	reg.MustRegister(
		r.ConnectivityState,
		r.Transitions,
		r.ProbeFailures,
		r.JoinAttempts,
		r.APStarts,
		r.TickPanics,
	)
	return r
}

// SetState sets the one-hot connectivity state gauge.
func (r *Registry) SetState(current string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1.0
		}
		r.ConnectivityState.WithLabelValues(s).Set(v)
	}
}

// Handler returns the /metrics HTTP handler.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
