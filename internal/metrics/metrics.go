package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Message store
	MessagesAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peerchat_messages_appended_total",
			Help: "Total messages committed to the store",
		},
		[]string{"recipient_kind"}, // "broadcast" or "directed"
	)

	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "peerchat_store_latency_seconds",
			Help:    "Message store operation latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"op"},
	)

	// Router
	RouterSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "peerchat_router_subscribers",
			Help: "Currently attached router subscribers",
		},
	)

	RouterDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peerchat_router_deliveries_total",
			Help: "Events handed to subscribers",
		},
		[]string{"kind"}, // "message", "notification", "presence"
	)

	RouterDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peerchat_router_dropped_total",
			Help: "Events dropped because a subscriber queue was full",
		},
		[]string{"kind"},
	)

	// Presence
	PresenceOnlineUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "peerchat_presence_online_users",
			Help: "Distinct users in the latest presence snapshot",
		},
	)

	PresenceSnapshots = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "peerchat_presence_snapshots_total",
			Help: "Presence snapshots published",
		},
	)

	PresenceExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "peerchat_presence_expired_total",
			Help: "Presence sessions removed for missing heartbeats",
		},
	)

	// Sessions
	SessionBackfills = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peerchat_session_backfills_total",
			Help: "View backfills by outcome",
		},
		[]string{"result"}, // "ok", "stale", "error"
	)

	SessionAttachRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "peerchat_session_attach_retries_total",
			Help: "Attach attempts retried after a transient failure",
		},
	)
)

// RecipientKind labels a message for metrics.
func RecipientKind(broadcast bool) string {
	if broadcast {
		return "broadcast"
	}
	return "directed"
}
