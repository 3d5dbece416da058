package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		PaymentVerifyRequests,
		WebhookEventsTotal,
		ReconcileRunsTotal,
	)
}

var (
	// Count of verify calls grouped by result.
	// result: completed|already_completed|not_paid|not_found|error
	PaymentVerifyRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_verify_requests_total",
			Help: "Count of checkout session verifications by result.",
		},
		[]string{"result"},
	)

	// Provider webhook deliveries grouped by event type and handling result.
	// result: handled|ignored|rejected|error
	WebhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_webhook_events_total",
			Help: "Provider webhook events by type and handling result.",
		},
		[]string{"type", "result"},
	)

	// Reconciler outcomes per stale pending payment.
	// outcome: completed|cancelled|still_open|error
	ReconcileRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_reconcile_total",
			Help: "Stale pending payments examined by the reconciler, by outcome.",
		},
		[]string{"outcome"},
	)
)

func IncVerify(result string) {
	PaymentVerifyRequests.WithLabelValues(norm(result)).Inc()
}

func IncWebhook(eventType, result string) {
	WebhookEventsTotal.WithLabelValues(norm(eventType), norm(result)).Inc()
}

func IncReconcile(outcome string) {
	ReconcileRunsTotal.WithLabelValues(norm(outcome)).Inc()
}
