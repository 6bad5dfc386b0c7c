package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wwb",
			Subsystem: "chat_proxy",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wwb",
			Subsystem: "chat_proxy",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"method", "route"},
	)

	upstreamFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wwb",
			Subsystem: "chat_proxy",
			Name:      "upstream_failures_total",
			Help:      "Upstream calls that returned an error",
		},
		[]string{"endpoint", "status"},
	)
)
