// Package metrics provides Prometheus instrumentation for the marketplace
// services. It exposes gauges for connection and presence counts, counters
// for realtime and payment throughput, and histograms for latency tracking.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "marketplace_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// OnlineUsers tracks the current number of users with a live connection.
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "marketplace_online_users",
		Help: "Current number of online users",
	})

	// EventsTotal counts realtime events processed, labeled by
	// type: "typing", "message_read", "ping", or "ignored".
	EventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_events_total",
		Help: "Total number of realtime events processed",
	}, []string{"type"})

	// PushesTotal counts server pushes to clients, labeled by delivery
	// outcome: "delivered" or "offline".
	PushesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_pushes_total",
		Help: "Total number of server pushes to clients",
	}, []string{"outcome"})

	// PaymentsTotal counts payment lifecycle transitions, labeled by provider
	// and status ("initiated", "completed", "failed", "rejected").
	PaymentsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_payments_total",
		Help: "Total number of payment lifecycle transitions",
	}, []string{"provider", "status"})

	// CallbackLatency records payment callback processing latency in seconds.
	CallbackLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "marketplace_callback_latency_seconds",
		Help:    "Payment callback processing latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		OnlineUsers,
		EventsTotal,
		PushesTotal,
		PaymentsTotal,
		CallbackLatency,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
