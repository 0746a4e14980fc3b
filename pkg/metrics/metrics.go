package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dupahar_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dupahar_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	MessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dupahar_messages_sent_total",
			Help: "Total messages sent",
		},
	)

	ReactionsToggled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dupahar_reactions_toggled_total",
			Help: "Total reaction toggles",
		},
		[]string{"result"}, // "added" or "removed"
	)

	ConversationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dupahar_conversations_created_total",
			Help: "Total conversations created",
		},
		[]string{"kind"}, // "direct" or "group"
	)

	// Realtime metrics
	GatewayConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dupahar_gateway_connections",
			Help: "Open websocket connections on this gateway",
		},
	)

	CommandsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dupahar_commands_processed_total",
			Help: "Commands applied by messaging workers",
		},
		[]string{"type", "result"},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dupahar_events_published_total",
			Help: "Events written to the event topic",
		},
		[]string{"type"},
	)
)
