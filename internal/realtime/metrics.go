// internal/realtime/metrics.go

package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	framesReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_frames_received_total",
			Help: "Total number of inbound frames by type",
		},
		[]string{"type"},
	)

	framesMalformedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_frames_malformed_total",
			Help: "Total number of inbound frames dropped as unparseable",
		},
	)

	reconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_reconnects_total",
			Help: "Total number of successful reconnects after a transport drop",
		},
	)

	publishesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_publishes_total",
			Help: "Total number of outbound publishes",
		},
		[]string{"result"},
	)

	wireSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_wire_subscriptions",
			Help: "Number of currently active wire-level subscriptions",
		},
	)

	connectionUp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_connection_up",
			Help: "1 while the transport session is connected",
		},
	)
)
