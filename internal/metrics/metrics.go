// Package metrics provides Prometheus instrumentation for the Limen server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "limen"

var (
	// HTTPRequestsTotal counts HTTP requests by method, route pattern, and status bucket.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, route pattern, and status class.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and route pattern.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// RiskAssessmentsTotal counts risk evaluations by recommendation.
	RiskAssessmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_assessments_total",
			Help:      "Risk assessments computed, by recommendation.",
		},
		[]string{"recommendation"},
	)

	// TransitionsTotal counts lifecycle transitions by action and resulting status.
	TransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_transitions_total",
			Help:      "Access request state changes by action and resulting status.",
		},
		[]string{"action", "status"},
	)

	// OverridesTotal counts approvals that overrode a DENY recommendation.
	OverridesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "risk_overrides_total",
		Help:      "Approvals granted against a DENY recommendation.",
	})

	// SweepExpiredTotal counts grants expired by the background sweeper.
	SweepExpiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sweep_expired_total",
		Help:      "Access grants automatically expired.",
	})

	// SweepPrunedTotal counts stale requests deleted by the sweeper.
	SweepPrunedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sweep_pruned_total",
		Help:      "Stale pending or denied requests deleted.",
	})

	// PendingRequests tracks the pending queue size seen at the last dashboard read.
	PendingRequests = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pending_requests",
		Help:      "Pending access requests at the last dashboard evaluation.",
	})

	// ActiveSessions tracks live grants seen at the last dashboard read.
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_sessions",
		Help:      "Active access grants at the last dashboard evaluation.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		RiskAssessmentsTotal,
		TransitionsTotal,
		OverridesTotal,
		SweepExpiredTotal,
		SweepPrunedTotal,
		PendingRequests,
		ActiveSessions,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request count and latency.  It must wrap the ServeMux
// directly so the matched route pattern is visible after dispatch.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		timer := prometheus.NewTimer(prometheus.ObserverFunc(func(v float64) {
			HTTPRequestDuration.WithLabelValues(r.Method, routeLabel(r)).Observe(v)
		}))

		next.ServeHTTP(rec, r)

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(r.Method, routeLabel(r), statusBucket(rec.status)).Inc()
	})
}

// routeLabel uses the matched pattern rather than the raw path to keep
// label cardinality bounded.
func routeLabel(r *http.Request) string {
	if r.Pattern != "" {
		return r.Pattern
	}
	return "unmatched"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// statusBucket groups HTTP status codes into classes (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
