package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Realtime gateway metrics: connections, inbound events, calls, chat relay
var (
	// WebSocket lifecycle metrics
	WebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_websocket_connections",
		Help: "Current number of active WebSocket connections",
	})

	WebSocketConnectionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_websocket_connection_total",
		Help: "Total number of WebSocket connection attempts",
	}, []string{"status"}) // "accepted", "rejected_auth", "rejected_capacity", "upgrade_failed"

	WebSocketEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_websocket_events_total",
		Help: "Total number of inbound WebSocket events",
	}, []string{"event"})

	WebSocketFramesDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_websocket_frames_dropped_total",
		Help: "Total number of outbound frames dropped",
	}, []string{"reason"})

	EventPanicTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_event_panic_total",
		Help: "Total number of panics recovered inside event handlers",
	})

	AckFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_ack_failures_total",
		Help: "Total number of negative acknowledgements sent",
	}, []string{"event", "code"})

	// Call metrics
	CallOffersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_call_offers_total",
		Help: "Total number of call offers by outcome",
	}, []string{"outcome"}) // "relayed", "busy", "offline", "not_allowed"

	CallLogsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_call_logs_total",
		Help: "Total number of call log records by status",
	}, []string{"status", "result"}) // result: "written", "skipped", "failed"

	CallDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "realtime_call_duration_seconds",
		Help:    "Duration of completed calls",
		Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
	})

	ActiveCalls = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_active_calls",
		Help: "Current number of answered calls",
	})

	GraceTimersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_grace_timers_active",
		Help: "Current number of pending disconnect grace timers",
	})

	// Chat relay metrics
	ChatMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_chat_messages_total",
		Help: "Total number of chat actions by kind and result",
	}, []string{"action", "result"})

	// Rate limiting metrics
	RateLimitDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_rate_limit_decisions_total",
		Help: "Total number of rate limit decisions",
	}, []string{"action", "decision"})

	RateLimitFallbackTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_rate_limit_fallback_total",
		Help: "Total number of limiter checks served by the in-process counter after a store failure",
	})

	RateLimitBuckets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_rate_limit_buckets",
		Help: "Current number of in-process rate limit buckets",
	})

	// Redis metrics
	RedisDegradedMode = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "redis_degraded_mode",
		Help: "Indicates if Redis is in degraded mode (1 = degraded, 0 = healthy)",
	})

	RedisHealthCheckTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "redis_health_check_total",
		Help: "Total number of Redis health checks",
	})
)
