// Package metrics holds the prometheus collectors for the notification pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhooksReceived counts inbound webhook calls by kind and outcome
	// (accepted, invalid, unauthorized, forbidden, not_found, conflict, error).
	WebhooksReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bizdash_webhooks_received_total",
			Help: "Inbound webhook calls by resource kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	NotificationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bizdash_notifications_created_total",
			Help: "Notifications persisted, by type",
		},
		[]string{"type"},
	)

	RealtimeConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bizdash_realtime_connections",
			Help: "Currently connected realtime clients",
		},
	)

	RealtimeEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bizdash_realtime_events_published_total",
			Help: "Events fanned out to tenant rooms",
		},
		[]string{"event"},
	)

	RealtimeEventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bizdash_realtime_events_dropped_total",
			Help: "Events not delivered (empty room, full buffer, slow client)",
		},
		[]string{"reason"},
	)

	NotificationAcks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bizdash_notification_acks_total",
			Help: "notification-received acknowledgements from clients",
		},
	)

	CallbackDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bizdash_callback_deliveries_total",
			Help: "Outbound callback deliveries by outcome",
		},
		[]string{"outcome"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bizdash_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "status"},
	)
)
