// Package metrics exposes Prometheus instrumentation for the sync core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SendsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "klasa_message_sends_total",
		Help: "Optimistic sends accepted by the delivery coordinator.",
	})

	SendRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "klasa_message_send_retries_total",
		Help: "Store create attempts beyond the first, per message.",
	})

	SendFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "klasa_message_send_failures_total",
		Help: "Sends that ended in the failed state after retries were exhausted.",
	})

	FeedEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "klasa_feed_events_total",
		Help: "Change-feed events forwarded to conversation listeners.",
	}, []string{"type"})

	ActiveSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "klasa_active_subscriptions",
		Help: "Open change-feed subscriptions, one per active conversation.",
	})

	BadgeNotificationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "klasa_badge_notifications_total",
		Help: "Badge bus dispatches (new-message and messages-read).",
	})
)
