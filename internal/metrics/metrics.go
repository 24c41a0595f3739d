package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	AuthLoginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_logins_total",
			Help: "Total number of login attempts by principal kind and result.",
		},
		[]string{"kind", "result"},
	)

	AuthLockoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "auth_lockouts_total",
			Help: "Total number of accounts locked after repeated failures.",
		},
	)

	TokensIssuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_tokens_issued_total",
			Help: "Total number of tokens issued.",
		},
		[]string{"flow", "type"},
	)

	OfferTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "negotiation_offer_transitions_total",
			Help: "Total number of offers created or moved to a terminal status.",
		},
		[]string{"status"},
	)

	OffersExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "negotiation_offers_expired_total",
			Help: "Total number of pending offers rejected by the expiry sweep.",
		},
	)

	ScheduledRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_task_runs_total",
			Help: "Total number of scheduled task runs by task and result.",
		},
		[]string{"task", "result"},
	)

	WSConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_connections",
			Help: "Number of live websocket connections.",
		},
	)
)

// MustRegister registers every collector with reg.
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDurationSeconds,
		AuthLoginsTotal,
		AuthLockoutsTotal,
		TokensIssuedTotal,
		OfferTransitionsTotal,
		OffersExpiredTotal,
		ScheduledRunsTotal,
		WSConnections,
	)
}
