// Package metrics exposes Prometheus collectors for the device bridge.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ConnectedDevices = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dongled_connected_devices",
			Help: "Devices currently holding a live channel.",
		},
	)

	PendingCommands = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dongled_pending_commands",
			Help: "Commands sent to devices and awaiting a reply.",
		},
	)

	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dongled_commands_total",
			Help: "Dispatched commands by method and outcome.",
		},
		[]string{"method", "outcome"},
	)

	CommandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dongled_command_duration_seconds",
			Help:    "Time from send to resolution of a device command.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method"},
	)

	PairingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dongled_pairings_total",
			Help: "Pairing attempts by outcome.",
		},
		[]string{"outcome"},
	)

	ActionLogDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dongled_action_log_dropped_total",
			Help: "Audit writes dropped because the queue was full or the store failed.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		ConnectedDevices,
		PendingCommands,
		CommandsTotal,
		CommandDuration,
		PairingsTotal,
		ActionLogDropped,
	)
}

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
