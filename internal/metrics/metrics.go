package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all eventsite metrics
const namespace = "eventsite"

// Registry is the global Prometheus registry for all metrics
var Registry = prometheus.NewRegistry()

// AppInfo is a gauge that exposes application version information as labels
var AppInfo = promauto.With(Registry).NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "app_info",
		Help:      "Application version information (always set to 1, version info in labels)",
	},
	[]string{"version", "commit", "build_date"},
)

// HealthStatus tracks overall health as seen by /health
// Values: 0 = unhealthy, 1 = degraded, 2 = healthy
var HealthStatus = promauto.With(Registry).NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "health_status",
		Help:      "Overall server health status (0=unhealthy, 1=degraded, 2=healthy)",
	},
)

// Upstream API metrics

// UpstreamRequestsTotal counts requests to the event API by endpoint and outcome
var UpstreamRequestsTotal = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upstream_requests_total",
		Help:      "Total number of requests sent to the upstream event API",
	},
	[]string{"endpoint", "status"}, // status: HTTP code, "error" for transport failures
)

// UpstreamRequestDuration tracks upstream latency per endpoint, retries included
var UpstreamRequestDuration = promauto.With(Registry).NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "upstream_request_duration_seconds",
		Help:      "Upstream event API request latency in seconds",
		Buckets:   []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	},
	[]string{"endpoint"},
)

// UpstreamRetriesTotal counts retried upstream attempts
var UpstreamRetriesTotal = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upstream_retries_total",
		Help:      "Total number of retried upstream requests",
	},
	[]string{"endpoint"},
)

// Homepage aggregation metrics

// HomepageSnapshotsTotal counts served snapshots by render phase and where they came from
var HomepageSnapshotsTotal = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "homepage_snapshots_total",
		Help:      "Total number of homepage snapshots served",
	},
	[]string{"phase", "source"}, // phase: server|client, source: cache|upstream|shared|abandoned
)

// HomepageAggregationDuration tracks full fan-out duration
var HomepageAggregationDuration = promauto.With(Registry).NewHistogram(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "homepage_aggregation_duration_seconds",
		Help:      "Duration of a complete homepage aggregation in seconds",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
	},
)

// HomepageUpstreamFailuresTotal counts upstream calls that degraded a snapshot
var HomepageUpstreamFailuresTotal = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "homepage_upstream_failures_total",
		Help:      "Total number of failed upstream calls during homepage aggregation",
	},
	[]string{"call"},
)

// HomepageAggregationPanicsTotal counts structural failures replaced by an empty snapshot
var HomepageAggregationPanicsTotal = promauto.With(Registry).NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "homepage_aggregation_panics_total",
		Help:      "Total number of homepage aggregations that failed structurally",
	},
)

// Session and auth metrics

// SessionsActive tracks the number of live browser sessions
var SessionsActive = promauto.With(Registry).NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Current number of live sessions",
	},
)

// OTPRequestsTotal counts OTP flow steps by outcome
var OTPRequestsTotal = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "otp_requests_total",
		Help:      "Total number of OTP flow requests",
	},
	[]string{"step", "outcome"}, // step: check_phone|request|verify|profile, outcome: success|cooldown|rejected|error
)

// Init registers runtime collectors and sets version information
func Init(version, commit, buildDate string) {
	// Register default Go metrics (memory, goroutines, GC, etc.)
	Registry.MustRegister(collectors.NewGoCollector())

	// Register process metrics (CPU, memory, file descriptors)
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	AppInfo.WithLabelValues(version, commit, buildDate).Set(1)
}
