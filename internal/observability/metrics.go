package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devsession",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "devsession",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	loginAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devsession",
			Subsystem: "login",
			Name:      "attempts_total",
			Help:      "Login requests sent (initiator) or received (acceptor).",
		},
		[]string{"role"},
	)
	loginResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devsession",
			Subsystem: "login",
			Name:      "results_total",
			Help:      "Login outcomes by result code.",
		},
		[]string{"role", "code"},
	)
	loginRoundTrip = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "devsession",
			Subsystem: "login",
			Name:      "round_trip_seconds",
			Help:      "Time from login request to login response.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"role"},
	)
	sessionEnds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devsession",
			Subsystem: "session",
			Name:      "ends_total",
			Help:      "Session terminations by reason.",
		},
		[]string{"role", "reason"},
	)
	liveSessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "devsession",
			Subsystem: "session",
			Name:      "live",
			Help:      "Sessions currently present in the registry.",
		},
		[]string{"role"},
	)
	transportFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devsession",
			Subsystem: "transport",
			Name:      "failures_total",
			Help:      "Transactions failed below the session layer.",
		},
		[]string{"status"},
	)
	heartbeatProbes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devsession",
			Subsystem: "heartbeat",
			Name:      "probes_total",
			Help:      "Heartbeat probes by result.",
		},
		[]string{"result"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			loginAttempts,
			loginResults,
			loginRoundTrip,
			sessionEnds,
			liveSessions,
			transportFailures,
			heartbeatProbes,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordLoginAttempt(role string) {
	RegisterMetrics()
	loginAttempts.WithLabelValues(role).Inc()
}

func RecordLoginResult(role, code string) {
	RegisterMetrics()
	loginResults.WithLabelValues(role, code).Inc()
}

func RecordLoginRoundTrip(role string, d time.Duration) {
	RegisterMetrics()
	loginRoundTrip.WithLabelValues(role).Observe(d.Seconds())
}

func RecordSessionEnd(role, reason string) {
	RegisterMetrics()
	sessionEnds.WithLabelValues(role, reason).Inc()
}

func SetLiveSessions(role string, n int) {
	RegisterMetrics()
	liveSessions.WithLabelValues(role).Set(float64(n))
}

func RecordTransportFailure(status uint32) {
	RegisterMetrics()
	transportFailures.WithLabelValues(strconv.FormatUint(uint64(status), 10)).Inc()
}

func RecordHeartbeat(result string) {
	RegisterMetrics()
	heartbeatProbes.WithLabelValues(result).Inc()
}
