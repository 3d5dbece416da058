package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		paymentsTotal,
		paymentsRevenueTotal,
		refundsTotal,
		refundedAmountTotal,
	)
}

var (
	paymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_total",
			Help: "Payment state transitions by status (initiated/completed/failed/cancelled/refunded).",
		},
		[]string{"status"},
	)

	paymentsRevenueTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_revenue_minor_total",
			Help: "Value of completed payments in minor units, labeled by currency.",
		},
		[]string{"currency"},
	)

	refundsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_refunds_total",
			Help: "Refunds issued, labeled by kind (partial/full).",
		},
		[]string{"kind"},
	)

	refundedAmountTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_refunded_minor_total",
			Help: "Refunded value in minor units, labeled by currency.",
		},
		[]string{"currency"},
	)
)

func IncPayment(status string) {
	paymentsTotal.WithLabelValues(norm(status)).Inc()
}

func AddPaymentRevenue(currency string, amount int64) {
	paymentsRevenueTotal.WithLabelValues(norm(currency)).Add(float64(amount))
}

func ObserveRefund(currency string, amount int64, full bool) {
	kind := "partial"
	if full {
		kind = "full"
	}
	refundsTotal.WithLabelValues(kind).Inc()
	refundedAmountTotal.WithLabelValues(norm(currency)).Add(float64(amount))
}
