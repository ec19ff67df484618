// Package metrics provides Prometheus metrics collection for the asset server.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Request outcomes recorded by the embed handler.
const (
	OutcomeOK               = "ok"
	OutcomeNotModified      = "not_modified"
	OutcomeMethodNotAllowed = "method_not_allowed"
	OutcomeFallback         = "fallback"
)

var (
	// Request metrics
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "embedserve_requests_total",
			Help: "Total number of asset requests by mount and outcome",
		},
		[]string{"mount", "outcome"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "embedserve_request_duration_seconds",
			Help:    "Asset request handling duration in seconds",
			Buckets: []float64{.00005, .0001, .0005, .001, .005, .01, .05, .1},
		},
		[]string{"mount", "outcome"},
	)

	ResponseBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "embedserve_response_bytes_total",
			Help: "Total asset bytes written by mount",
		},
		[]string{"mount"},
	)

	// Asset set metrics
	LoadedAssets = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "embedserve_loaded_assets",
			Help: "Number of assets loaded per mount",
		},
		[]string{"mount"},
	)

	LoadedBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "embedserve_loaded_bytes",
			Help: "Total size of assets loaded per mount in bytes",
		},
		[]string{"mount"},
	)

	// Source metrics
	SourceLoadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "embedserve_source_load_duration_seconds",
			Help:    "Time taken to load an asset source in seconds",
			Buckets: []float64{.001, .01, .1, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"kind"},
	)

	SourceErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "embedserve_source_errors_total",
			Help: "Total number of asset source load failures by kind",
		},
		[]string{"kind"},
	)

	// Active requests
	ActiveRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "embedserve_active_requests",
			Help: "Number of currently active requests",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		ResponseBytes,
		LoadedAssets,
		LoadedBytes,
		SourceLoadDuration,
		SourceErrors,
		ActiveRequests,
	)
}

// Handler returns an HTTP handler for the Prometheus /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest tracks a handled asset request.
func RecordRequest(mount, outcome string, duration time.Duration) {
	RequestsTotal.WithLabelValues(mountLabel(mount), outcome).Inc()
	RequestDuration.WithLabelValues(mountLabel(mount), outcome).Observe(duration.Seconds())
}

// RecordBytes adds n to the bytes written for mount.
func RecordBytes(mount string, n int) {
	ResponseBytes.WithLabelValues(mountLabel(mount)).Add(float64(n))
}

// UpdateAssetSet records the size of the set loaded for mount.
func UpdateAssetSet(mount string, count int, sizeBytes int64) {
	LoadedAssets.WithLabelValues(mountLabel(mount)).Set(float64(count))
	LoadedBytes.WithLabelValues(mountLabel(mount)).Set(float64(sizeBytes))
}

// RecordSourceLoad tracks how long loading a source of the given kind took.
func RecordSourceLoad(kind string, duration time.Duration) {
	SourceLoadDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordSourceError increments the source error counter.
func RecordSourceError(kind string) {
	SourceErrors.WithLabelValues(kind).Inc()
}

// IncrementActiveRequests increments the active request counter.
func IncrementActiveRequests() {
	ActiveRequests.Inc()
}

// DecrementActiveRequests decrements the active request counter.
func DecrementActiveRequests() {
	ActiveRequests.Dec()
}

// Middleware tracks active requests. The metrics endpoint itself is not counted.
func Middleware(metricsPath string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == metricsPath {
				next.ServeHTTP(w, r)
				return
			}
			IncrementActiveRequests()
			defer DecrementActiveRequests()
			next.ServeHTTP(w, r)
		})
	}
}

// mountLabel renders the root mount as "/" so it is visible in dashboards.
func mountLabel(mount string) string {
	if mount == "" {
		return "/"
	}
	return mount
}
