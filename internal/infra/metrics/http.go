package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(httpRequestDuration) }

var httpRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests by route pattern and status code.",
		Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	},
	[]string{"route", "code"},
)

func ObserveHTTP(route string, code int, seconds float64) {
	if route == "" {
		route = "unmatched"
	}
	httpRequestDuration.WithLabelValues(route, strconv.Itoa(code)).Observe(seconds)
}
