// Package metrics holds the prometheus collectors shared by the node and
// central processes.
package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MeasurementsAccepted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meteomesh_measurements_accepted_total",
			Help: "Measurements accepted by ingress.",
		},
		[]string{"station_type", "source"},
	)
	MeasurementsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meteomesh_measurements_rejected_total",
			Help: "Measurements rejected by ingress.",
		},
		[]string{"reason"},
	)
	CommandsIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meteomesh_commands_issued_total",
			Help: "Control commands issued by the rule engine.",
		},
		[]string{"action"},
	)
	CommandsDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "meteomesh_commands_delivered_total",
		Help: "Control commands written to station streams.",
	})
	CommandStreams = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "meteomesh_command_streams",
		Help: "Open station command streams.",
	})
	PendingCommands = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "meteomesh_pending_commands",
		Help: "Commands held in the delivery queue.",
	}, func() float64 {
		if f := pendingSource.Load(); f != nil {
			return float64((*f)())
		}
		return 0
	})
	PersistenceFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meteomesh_persistence_failures_total",
			Help: "Durable writes that failed after the in-memory change was applied.",
		},
		[]string{"kind"},
	)
	HeartbeatsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meteomesh_heartbeats_sent_total",
			Help: "Heartbeats sent to the central server.",
		},
		[]string{"result"},
	)

	NodesKnown = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "meteomesh_nodes_known",
		Help: "Nodes registered with the central server.",
	})
	NodesOnline = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "meteomesh_nodes_online",
		Help: "Nodes currently considered online.",
	})
	NodeQueryFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meteomesh_node_query_failures_total",
			Help: "Failed RPCs from the central server to a node.",
		},
		[]string{"node_id", "method"},
	)
)

func init() {
	prometheus.MustRegister(
		MeasurementsAccepted,
		MeasurementsRejected,
		CommandsIssued,
		CommandsDelivered,
		CommandStreams,
		PendingCommands,
		PersistenceFailures,
		HeartbeatsSent,
		NodesKnown,
		NodesOnline,
		NodeQueryFailures,
	)
}

var pendingSource atomic.Pointer[func() int]

// SetPendingSource makes PendingCommands report f.
func SetPendingSource(f func() int) {
	pendingSource.Store(&f)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
