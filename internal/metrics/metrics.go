// Package metrics exposes the relay's Prometheus collectors. All
// collectors register on the default registry; the router serves them
// on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "syncrelay"

var (
	SessionsLive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_live",
		Help:      "Number of sessions currently held in the registry.",
	})

	ConnectionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connections_open",
		Help:      "Number of WebSocket connections currently open.",
	})

	FramesRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_relayed_total",
		Help:      "Total inbound frames merged and fanned out.",
	})

	BytesRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bytes_relayed_total",
		Help:      "Total payload bytes accepted from clients.",
	})

	PeersDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "backpressure_drops_total",
		Help:      "Connections kicked because their outbound queue was full.",
	})

	IdleClosed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "idle_closed_total",
		Help:      "Connections closed by the liveness timeout.",
	})
)
