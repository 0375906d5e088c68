package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vatbot_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vatbot_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	UsageConsumedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vatbot_usage_consumed_total",
			Help: "Total usage units consumed, by plan.",
		},
		[]string{"plan"},
	)

	UsageRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vatbot_usage_rejected_total",
			Help: "Requests rejected for exceeding the plan limit, by check stage.",
		},
		[]string{"stage"},
	)

	UsageStoreErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vatbot_usage_store_errors_total",
			Help: "Counter store failures, by operation.",
		},
		[]string{"op"},
	)

	ChatRepliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vatbot_chat_replies_total",
			Help: "Chat replies by outcome.",
		},
		[]string{"status"},
	)

	BillingEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vatbot_billing_webhook_events_total",
			Help: "Billing webhook events by type and outcome.",
		},
		[]string{"type", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		UsageConsumedTotal,
		UsageRejectedTotal,
		UsageStoreErrorsTotal,
		ChatRepliesTotal,
		BillingEventsTotal,
	)
}
