package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livechat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "livechat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Relay metrics
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "livechat_connections_active",
			Help: "Admitted connections currently open",
		},
	)

	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "livechat_sessions_active",
			Help: "Sessions held in the registry",
		},
	)

	AdmissionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livechat_admissions_rejected_total",
			Help: "Connection admissions rejected",
		},
		[]string{"reason"},
	)

	MessagesRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livechat_messages_routed_total",
			Help: "Messages persisted and broadcast",
		},
		[]string{"sender"}, // "visitor" or "admin"
	)

	PersistenceFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "livechat_persistence_failures_total",
			Help: "Messages rejected because the store append failed",
		},
	)

	SessionsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livechat_sessions_closed_total",
			Help: "Sessions closed",
		},
		[]string{"reason"},
	)

	OutboundDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "livechat_outbound_overflow_total",
			Help: "Connections dropped because their outbound buffer was full",
		},
	)

	// Infrastructure metrics
	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "livechat_store_latency_seconds",
			Help:    "Message store operation latency",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .5},
		},
		[]string{"op"},
	)

	StoreDurable = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "livechat_store_durable",
			Help: "1 when messages are persisted durably, 0 in in-memory fallback mode",
		},
	)
)
