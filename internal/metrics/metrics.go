// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SamplesAccepted counts telemetry samples accepted by ingestion, by
	// channel.
	SamplesAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lumitrack_samples_accepted_total",
		Help: "Telemetry samples accepted by ingestion.",
	}, []string{"channel"})

	// SamplesRejected counts telemetry records rejected by ingestion.
	SamplesRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lumitrack_samples_rejected_total",
		Help: "Telemetry records rejected by ingestion validation.",
	})

	// SessionsIssued counts sessions minted by login and SSO.
	SessionsIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lumitrack_sessions_issued_total",
		Help: "Sessions issued.",
	})

	// SessionsRevoked counts explicit logouts.
	SessionsRevoked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lumitrack_sessions_revoked_total",
		Help: "Sessions revoked by logout.",
	})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lumitrack_http_request_duration_seconds",
		Help:    "HTTP request latency by method, route and status class.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// Handler returns the /metrics endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRequest records one handled HTTP request.
func ObserveRequest(method, route string, status int, elapsed time.Duration) {
	requestDuration.WithLabelValues(method, route, statusBucket(status)).Observe(elapsed.Seconds())
}

func statusBucket(code int) string {
	if code < 100 || code > 599 {
		return "other"
	}
	return strconv.Itoa(code/100) + "xx"
}
