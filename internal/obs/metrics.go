package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Decision-engine metrics.
var (
	accessDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_decisions_total",
			Help: "Authorization decisions by outcome and reason.",
		},
		[]string{"outcome", "reason"},
	)

	accessDecisionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "access_decision_duration_seconds",
			Help:    "End-to-end authorization decision latency, audit write included.",
			Buckets: prometheus.DefBuckets,
		},
	)

	authAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_attempts_total",
			Help: "Authentication attempts by result.",
		},
		[]string{"result"},
	)

	permissionCacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "permission_cache_lookups_total",
			Help: "Permission resolver cache lookups by result.",
		},
		[]string{"result"},
	)

	auditWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_write_failures_total",
			Help: "Audit entries that could not be durably written.",
		},
	)
)

// Init registers all metric families in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		accessDecisions, accessDecisionDuration,
		authAttempts, permissionCacheLookups, auditWriteFailures,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveDecision records one authorization decision.
func ObserveDecision(granted bool, reason string, elapsed time.Duration) {
	outcome := "denied"
	if granted {
		outcome = "granted"
	}
	accessDecisions.WithLabelValues(outcome, reason).Inc()
	accessDecisionDuration.Observe(elapsed.Seconds())
}

// ObserveAuthAttempt records one authentication attempt by result label
// ("success", "locked", "inactive", ...).
func ObserveAuthAttempt(result string) {
	authAttempts.WithLabelValues(result).Inc()
}

// ObserveCacheLookup records a resolver cache hit or miss.
func ObserveCacheLookup(hit bool) {
	if hit {
		permissionCacheLookups.WithLabelValues("hit").Inc()
		return
	}
	permissionCacheLookups.WithLabelValues("miss").Inc()
}

// ObserveAuditFailure records a failed durable audit write.
func ObserveAuditFailure() {
	auditWriteFailures.Inc()
}

// CanonicalPath collapses path parameters to keep metric label cardinality
// bounded: /v1/users/<id>/roles becomes /v1/users/:id/roles. Query strings
// are stripped.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	parts := strings.Split(path, "/")
	// /v1/users/:id[/roles[/:id]|/grants[/:id]], /v1/roles/:id/permissions
	if len(parts) >= 4 && parts[1] == "v1" {
		switch parts[2] {
		case "users", "roles":
			tail := parts[4:]
			sub := ""
			if len(tail) > 0 {
				sub = tail[0]
			}
			known := len(tail) == 0 ||
				(len(tail) == 1 && (sub == "roles" || sub == "grants" || sub == "permissions")) ||
				(len(tail) == 2 && (sub == "roles" || sub == "grants") && tail[1] != "")
			if known && parts[3] != "" {
				parts[3] = ":id"
				if len(tail) == 2 {
					parts[5] = ":id"
				}
				return strings.Join(parts, "/")
			}
		}
	}
	return path
}

// Instrument wraps an HTTP handler with RPS/latency/in-flight metrics.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter captures the response code for instrumentation.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
