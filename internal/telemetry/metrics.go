// Package telemetry exposes relay metrics for Prometheus.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

//nolint:gochecknoglobals // collectors are registered once with the default registry
var (
	EventsRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_events_total",
		Help: "Outbound events relayed, by event type.",
	}, []string{"event"})

	Deliveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_deliveries_total",
		Help: "Frames enqueued to individual connections.",
	})

	DeliveriesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_deliveries_dropped_total",
		Help: "Frames not enqueued, by reason.",
	}, []string{"reason"})

	MalformedEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_malformed_events_total",
		Help: "Inbound events rejected before dispatch.",
	})

	AuthFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_auth_failures_total",
		Help: "Rejected connection attempts.",
	})

	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_connections",
		Help: "Live connections.",
	})

	OnlineUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_online_users",
		Help: "Users with at least one live connection.",
	})
)

// Handler exposes Prometheus metrics at /metrics
func Handler() http.Handler {
	return promhttp.Handler()
}
