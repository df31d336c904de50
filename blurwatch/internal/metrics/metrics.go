// Package metrics counts what the page controllers do, on a private
// Prometheus registry served by the control API.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hazyhaar/blurkit/blurwatch/dom"
	"github.com/hazyhaar/blurkit/blurwatch/mutation"
)

// Metrics implements the controller metrics interface.
type Metrics struct {
	reg       *prometheus.Registry
	forwarded *prometheus.CounterVec
	commands  *prometheus.CounterVec
	matched   *prometheus.CounterVec
	observer  *prometheus.CounterVec
	observing prometheus.Gauge
	sinkErrs  *prometheus.CounterVec
}

// New registers the blurwatch collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		forwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blurwatch",
			Name:      "nodes_forwarded_total",
			Help:      "Elements handed to the processing pipeline.",
		}, []string{"kind"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blurwatch",
			Name:      "commands_total",
			Help:      "Inbound commands handled.",
		}, []string{"type"}),
		matched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blurwatch",
			Name:      "command_videos_total",
			Help:      "Videos suspended or resumed by commands.",
		}, []string{"type"}),
		observer: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blurwatch",
			Name:      "observer_transitions_total",
			Help:      "Observer state transitions.",
		}, []string{"state"}),
		observing: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "blurwatch",
			Name:      "pages_observing",
			Help:      "Pages whose observer is attached.",
		}),
		sinkErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blurwatch",
			Name:      "sink_errors_total",
			Help:      "Failed sink deliveries.",
		}, []string{"type"}),
	}
	m.reg.MustRegister(m.forwarded, m.commands, m.matched, m.observer, m.observing, m.sinkErrs)
	return m
}

func (m *Metrics) NodeForwarded(kind dom.Kind) {
	m.forwarded.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) ObserverState(observing bool) {
	if observing {
		m.observer.WithLabelValues("observing").Inc()
		m.observing.Inc()
		return
	}
	m.observer.WithLabelValues("disconnected").Inc()
	m.observing.Dec()
}

func (m *Metrics) CommandHandled(t mutation.CommandType, matched int) {
	m.commands.WithLabelValues(string(t)).Inc()
	m.matched.WithLabelValues(string(t)).Add(float64(matched))
}

// SinkError counts a failed delivery of the given envelope type.
func (m *Metrics) SinkError(typ string) {
	m.sinkErrs.WithLabelValues(typ).Inc()
}

// Registry exposes the registry, for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
