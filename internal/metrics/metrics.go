// Package metrics holds the process-wide Prometheus registry and the
// counters/gauges every other component updates. Updating a metric never
// takes the store guard; call sites already hold or have just released it.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "redis_connections_total",
		Help: "Accepted TCP connections.",
	})

	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "redis_connections_active",
		Help: "Currently open client connections.",
	})

	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "redis_commands_total",
		Help: "Commands executed, labeled by uppercased verb.",
	}, []string{"command"})

	ReplicasConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "redis_replicas_connected",
		Help: "Replicas currently registered in the store.",
	})

	ReplicaAckOffset = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "redis_replica_ack_offset",
		Help: "Last acknowledged byte offset per replica.",
	}, []string{"peer"})

	WaitOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "redis_wait_outcomes_total",
		Help: "WAIT calls labeled by outcome.",
	}, []string{"outcome"})

	RDBKeysLoaded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "redis_rdb_keys_loaded",
		Help: "Number of hash-table entries materialized from the snapshot at boot.",
	})
)

// Handler returns the HTTP handler to mount at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
