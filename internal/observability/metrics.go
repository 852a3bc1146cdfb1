package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// Ops HTTP request rate. Only populated when METRICS_ADDR is set.
	HTTPRequestsTotal *prometheus.CounterVec

	// Ops HTTP latency per request.
	HTTPRequestDuration *prometheus.HistogramVec

	// ETL cycles by outcome (inserted, duplicate, failed). Watch for: failed rising while inserted flat.
	CyclesTotal *prometheus.CounterVec

	// Failed cycles by stage (extract, transform, load) and error category.
	CycleFailuresTotal *prometheus.CounterVec

	// Wall time of a whole cycle. Bounded in practice by the upstream timeout.
	CycleDuration prometheus.Histogram

	// Open-Meteo call rate by status label. Watch for: error vs success ratio.
	WeatherAPICallsTotal *prometheus.CounterVec

	// Upstream latency per request. Watch for: p99 near the 10s client timeout.
	WeatherAPIDuration *prometheus.HistogramVec

	// Store connection attempts during bootstrap, by result. Many "error" = store slow to come up.
	DBConnectAttemptsTotal *prometheus.CounterVec

	// Unix seconds of the newest observation written. Watch for: staleness beyond two intervals.
	LastObservationTimestamp prometheus.Gauge
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of ops HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "Ops HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "etlCyclesTotal",
			Help: "Total number of ETL cycles by outcome",
		},
		[]string{"outcome"},
	)
	CycleFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "etlCycleFailuresTotal",
			Help: "Failed ETL cycles by stage and error category",
		},
		[]string{"stage", "category"},
	)
	CycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "etlCycleDurationSeconds",
			Help:    "ETL cycle duration in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 20},
		},
	)
	WeatherAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiCallsTotal",
			Help: "Total number of Open-Meteo API calls",
		},
		[]string{"status"},
	)
	WeatherAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weatherApiDurationSeconds",
			Help:    "Open-Meteo API latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"status"},
	)
	DBConnectAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbConnectAttemptsTotal",
			Help: "Store connection attempts by result",
		},
		[]string{"result"},
	)
	LastObservationTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lastObservationTimestampSeconds",
			Help: "Observation time (unix seconds) of the most recently inserted row",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration,
		CyclesTotal, CycleFailuresTotal, CycleDuration,
		WeatherAPICallsTotal, WeatherAPIDuration,
		DBConnectAttemptsTotal, LastObservationTimestamp,
	)
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
